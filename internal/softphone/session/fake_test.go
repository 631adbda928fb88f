package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/agentphone/internal/softphone/credential"
	"github.com/sebas/agentphone/internal/softphone/transport"
)

const waitTimeout = 2 * time.Second

type fakeCall struct {
	id, from, to string

	mu           sync.Mutex
	muted        bool
	status       transport.Status
	accepted     int
	rejected     int
	disconnected int
	acceptErr    error
}

func newFakeCall(id, from, to string) *fakeCall {
	return &fakeCall{id: id, from: from, to: to, status: transport.StatusPending}
}

func (f *fakeCall) ID() string   { return f.id }
func (f *fakeCall) From() string { return f.from }
func (f *fakeCall) To() string   { return f.to }

func (f *fakeCall) Accept(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.status = transport.StatusOpen
	return nil
}

func (f *fakeCall) Reject(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected++
	f.status = transport.StatusClosed
	return nil
}

func (f *fakeCall) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	f.status = transport.StatusClosed
	return nil
}

func (f *fakeCall) Mute(m bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
	return nil
}

func (f *fakeCall) IsMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeCall) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCall) counts() (accepted, rejected, disconnected int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted, f.rejected, f.disconnected
}

type fakeTransport struct {
	listener transport.Listener

	mu          sync.Mutex
	registerErr error
	connectErr  error
	connects    []transport.ConnectParams
	lastCall    *fakeCall
	destroyed   int
	noRegister  bool

	// When hold is set, Connect signals dialed and then waits for hold
	// to be closed before returning.
	hold   chan struct{}
	dialed chan *fakeCall
}

func (f *fakeTransport) Register(context.Context) error {
	f.mu.Lock()
	err, skip := f.registerErr, f.noRegister
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !skip {
		f.listener.OnRegistered()
	}
	return nil
}

func (f *fakeTransport) Connect(_ context.Context, p transport.ConnectParams) (transport.Call, error) {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return nil, f.connectErr
	}
	f.connects = append(f.connects, p)
	call := newFakeCall(p.CallID, "1001", p.To)
	call.status = transport.StatusConnecting
	f.lastCall = call
	hold, dialed := f.hold, f.dialed
	f.mu.Unlock()

	if hold != nil {
		dialed <- call
		<-hold
	}
	return call, nil
}

// holdConnect makes the next Connect block until the returned release
// function is called.
func (f *fakeTransport) holdConnect(t *testing.T) (release func()) {
	t.Helper()
	hold := make(chan struct{})
	f.mu.Lock()
	f.hold = hold
	f.dialed = make(chan *fakeCall, 1)
	f.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(hold) }) }
	t.Cleanup(release)
	return release
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

func (f *fakeTransport) outbound() *fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCall
}

func (f *fakeTransport) event(c transport.Call, ev transport.CallEvent) {
	if fc, ok := c.(*fakeCall); ok && ev == transport.EventAccept {
		fc.mu.Lock()
		fc.status = transport.StatusOpen
		fc.mu.Unlock()
	}
	f.listener.OnCallEvent(c, ev, nil)
}

type errProvider struct{ err error }

func (p errProvider) Token(context.Context) (string, error) { return "", p.err }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	incoming chan IncomingCallNotice
	states   chan CallState
	ready    chan struct{}
	errs     chan error
	ended    chan EndedCall
}

func newRecorder() *recorder {
	return &recorder{
		incoming: make(chan IncomingCallNotice, 100),
		states:   make(chan CallState, 1000),
		ready:    make(chan struct{}, 10),
		errs:     make(chan error, 10),
		ended:    make(chan EndedCall, 10),
	}
}

func (r *recorder) OnIncomingCall(n IncomingCallNotice) { r.incoming <- n }
func (r *recorder) OnCallStateChange(s CallState)       { r.states <- s }
func (r *recorder) OnDeviceReady()                      { r.ready <- struct{}{} }
func (r *recorder) OnDeviceError(err error)             { r.errs <- err }
func (r *recorder) OnCallEnded(c EndedCall)             { r.ended <- c }

func receive[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting for %s", what)
		return zero
	}
}

func expectNone[T any](t *testing.T, ch chan T, what string, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %+v", what, v)
	case <-time.After(wait):
	}
}

// waitState reads states until one satisfies match.
func waitState(t *testing.T, r *recorder, what string, match func(CallState) bool) CallState {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.states:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state: %s", what)
			return CallState{}
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", what)
}

// newReady returns an initialized coordinator whose device is Ready.
func newReady(t *testing.T, opts ...Option) (*Coordinator, *fakeTransport, *recorder) {
	t.Helper()
	ft := &fakeTransport{}
	factory := func(token string, l transport.Listener) (transport.Transport, error) {
		if token != "tok" {
			return nil, errors.New("bad token")
		}
		ft.listener = l
		return ft, nil
	}
	c := New(credential.Static("tok"), factory, opts...)
	rec := newRecorder()
	c.Subscribe(rec)
	t.Cleanup(func() { c.Destroy() })

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	receive(t, rec.ready, "device ready")
	return c, ft, rec
}

// assertIdle checks the cleared-session invariant.
func assertIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call != nil || c.dial != nil {
		t.Error("call handle survived a terminal transition")
	}
	if !c.startedAt.IsZero() {
		t.Error("callStartedAt survived a terminal transition")
	}
	if c.phase != PhaseIdle {
		t.Errorf("phase = %s, want Idle", c.phase)
	}
	if c.ringTimer != nil || c.tickerStop != nil {
		t.Error("timer survived a terminal transition")
	}
	if c.incoming != nil {
		t.Error("incoming notice survived a terminal transition")
	}
}
