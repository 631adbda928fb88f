// Package session coordinates one softphone endpoint and the single call
// it may carry at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/agentphone/internal/softphone/credential"
	"github.com/sebas/agentphone/internal/softphone/phone"
	"github.com/sebas/agentphone/internal/softphone/transport"
)

// teardownTimeout bounds transport calls made without a caller context.
const teardownTimeout = 5 * time.Second

// Coordinator owns the transport and serializes call control against the
// one tracked call. State changes happen under mu; transport I/O never does.
type Coordinator struct {
	provider credential.Provider
	factory  transport.Factory

	ringTimeout  time.Duration
	tickInterval time.Duration
	clock        Clock
	autoAnswer   bool
	callerID     string
	log          *slog.Logger

	events *broadcaster

	mu           sync.Mutex
	tr           transport.Transport
	device       DeviceState
	initializing bool
	readyFired   bool
	destroyed    bool

	// Current call. dial is set while an outbound Connect is in flight
	// and no call handle exists yet.
	call       transport.Call
	dial       *pendingDial
	phase      Phase
	direction  Direction
	muted      bool
	createdAt  time.Time
	startedAt  time.Time
	incoming   *IncomingCallNotice
	gen        uint64
	ringTimer  *time.Timer
	tickerStop chan struct{}
}

// pendingDial is an outbound call whose Connect has not returned.
type pendingDial struct {
	id string
	to string
	// adopted is set once a transport event handed over the call handle.
	adopted bool
}

// New creates a coordinator. No I/O happens until Init.
func New(provider credential.Provider, factory transport.Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:     provider,
		factory:      factory,
		ringTimeout:  DefaultRingTimeout,
		tickInterval: DefaultTickInterval,
		clock:        time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = newBroadcaster(c.log)
	return c
}

// Subscribe registers an observer for every session event. The returned
// function removes it.
func (c *Coordinator) Subscribe(o Observer) (unsubscribe func()) {
	return c.events.subscribe(o)
}

// Init fetches a capability token and starts transport registration. The
// device moves to Registering on success; Ready or Error follows when the
// registrar answers. Failures are also reported through OnDeviceError.
// A credential failure leaves the device Uninitialized and a device
// failure leaves it Failed; Init may be called again from either.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.initializing || (c.device != DeviceUninitialized && c.device != DeviceFailed) {
		c.mu.Unlock()
		return ErrInitialized
	}
	c.initializing = true
	stale := c.tr
	c.tr = nil
	c.readyFired = false
	c.mu.Unlock()

	if stale != nil {
		c.log.Info("[Session] Releasing failed transport before retry")
		if err := stale.Destroy(); err != nil {
			c.log.Warn("[Session] Destroy of failed transport failed", "error", err)
		}
	}

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	c.log.Info("[Session] Fetching capability token")
	token, err := c.provider.Token(ctx)
	if err != nil {
		cerr := &CredentialError{Err: err}
		c.log.Error("[Session] Token fetch failed", "error", err)
		c.mu.Lock()
		c.emitDeviceError(cerr)
		c.mu.Unlock()
		return cerr
	}

	tr, err := c.factory(token, &listener{c: c})
	if err != nil {
		return c.failDevice("create", err)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		_ = tr.Destroy()
		return ErrDestroyed
	}
	c.tr = tr
	c.device = DeviceRegistering
	c.mu.Unlock()

	c.log.Info("[Session] Registering device")
	if err := tr.Register(ctx); err != nil {
		return c.failDevice("register", err)
	}
	return nil
}

func (c *Coordinator) failDevice(op string, err error) error {
	derr := &DeviceError{Op: op, Err: err}
	c.log.Error("[Session] Device failure", "op", op, "error", err)
	c.mu.Lock()
	if !c.destroyed {
		c.device = DeviceFailed
	}
	c.emitDeviceError(derr)
	c.mu.Unlock()
	return derr
}

// Answer accepts the ringing inbound call.
func (c *Coordinator) Answer(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.call == nil || c.phase != PhaseRinging {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	call, gen := c.call, c.gen
	c.stopRingTimerLocked()
	c.incoming = nil
	c.phase = PhaseConnecting
	c.emitStateLocked()
	c.mu.Unlock()

	c.log.Info("[Session] Answering call", "call_id", call.ID())
	if err := call.Accept(ctx); err != nil {
		c.mu.Lock()
		if c.gen == gen && c.call != nil {
			c.clearLocked(ReasonFailed)
		}
		c.mu.Unlock()
		return fmt.Errorf("accept call: %w", err)
	}
	return nil
}

// Reject declines the ringing inbound call.
func (c *Coordinator) Reject(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.call == nil || c.phase != PhaseRinging {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	call := c.call
	c.clearLocked(ReasonRejected)
	c.mu.Unlock()

	c.log.Info("[Session] Rejecting call", "call_id", call.ID())
	if err := call.Reject(ctx); err != nil {
		return fmt.Errorf("reject call: %w", err)
	}
	return nil
}

// End hangs up a connecting or connected call. While an outbound Connect
// is still in flight the session clears at once and the call is hung up
// as soon as the transport returns it.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.phase != PhaseConnecting && c.phase != PhaseConnected {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	if c.call == nil {
		if c.dial == nil {
			c.mu.Unlock()
			return ErrNoActiveCall
		}
		id := c.dial.id
		c.clearLocked(ReasonLocalHangup)
		c.mu.Unlock()
		c.log.Info("[Session] Ending call before connect returned", "call_id", id)
		return nil
	}
	call := c.call
	c.clearLocked(ReasonLocalHangup)
	c.mu.Unlock()

	c.log.Info("[Session] Ending call", "call_id", call.ID())
	if err := call.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect call: %w", err)
	}
	return nil
}

// ToggleMute flips the mute state of the connected call and returns the
// state reported by the call afterwards.
func (c *Coordinator) ToggleMute(_ context.Context) (bool, error) {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return false, err
	}
	if c.call == nil || c.phase != PhaseConnected {
		c.mu.Unlock()
		return false, ErrNoActiveCall
	}
	call, gen := c.call, c.gen
	c.mu.Unlock()

	if err := call.Mute(!call.IsMuted()); err != nil {
		return call.IsMuted(), fmt.Errorf("mute call: %w", err)
	}
	muted := call.IsMuted()

	c.mu.Lock()
	if c.gen == gen && c.call != nil {
		c.muted = muted
		c.emitStateLocked()
	}
	c.mu.Unlock()

	c.log.Info("[Session] Mute toggled", "call_id", call.ID(), "muted", muted)
	return muted, nil
}

// MakeCall places an outbound call. It returns once the transport has
// started the call; Connected follows on the transport's accept event.
func (c *Coordinator) MakeCall(ctx context.Context, number string) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.call != nil || c.dial != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	to, err := phone.Normalize(number)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.device != DeviceReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.call != nil || c.dial != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	tr := c.tr
	c.gen++
	gen := c.gen
	d := &pendingDial{id: uuid.NewString(), to: to}
	c.dial = d
	c.phase = PhaseConnecting
	c.direction = DirectionOutbound
	c.muted = false
	c.createdAt = c.clock()
	c.emitStateLocked()
	c.mu.Unlock()

	c.log.Info("[Session] Placing call", "call_id", d.id, "to", to)
	call, err := tr.Connect(ctx, transport.ConnectParams{CallID: d.id, To: to, CallerID: c.callerID})

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.gen == gen {
			c.resetLocked()
			c.emitStateLocked()
		}
		return fmt.Errorf("connect: %w", err)
	}
	if c.gen != gen {
		// Cleared while dialing. A handle nobody adopted is still live.
		if !d.adopted {
			c.log.Info("[Session] Hanging up call cleared while dialing", "call_id", call.ID())
			go c.release(call, PhaseConnecting)
		}
		if c.destroyed {
			return ErrDestroyed
		}
		return nil
	}
	switch {
	case c.call == nil:
		c.adoptLocked(call)
	case c.call != call:
		c.log.Warn("[Session] Connect returned a second handle, hanging it up",
			"call_id", call.ID(),
			"tracked", c.call.ID(),
		)
		go c.release(call, PhaseConnecting)
	}
	return nil
}

// ToggleHold is not supported by the transport. It always reports false.
func (c *Coordinator) ToggleHold(_ context.Context) (bool, error) {
	c.log.Warn("[Session] Hold requested but not supported by transport")
	return false, ErrHoldUnsupported
}

// State returns a snapshot of the session.
func (c *Coordinator) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// DeviceState returns the registration state.
func (c *Coordinator) DeviceState() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// HasActiveCall reports whether a call is ringing, connecting or connected.
func (c *Coordinator) HasActiveCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call != nil || c.dial != nil
}

// Incoming returns the pending incoming-call notice, if any.
func (c *Coordinator) Incoming() (IncomingCallNotice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming == nil {
		return IncomingCallNotice{}, false
	}
	return *c.incoming, true
}

// Destroy hangs up any live call and releases the transport. It is safe
// to call more than once and before Init.
func (c *Coordinator) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	call, phase := c.call, c.phase
	if call != nil || c.dial != nil {
		c.clearLocked(ReasonShutdown)
	}
	tr := c.tr
	c.tr = nil
	c.device = DeviceUninitialized
	c.mu.Unlock()

	var errs []error
	if call != nil {
		if err := c.hangup(call, phase); err != nil {
			errs = append(errs, err)
		}
	}
	if tr != nil {
		if err := tr.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy transport: %w", err))
		}
	}
	c.events.close()
	c.log.Info("[Session] Coordinator destroyed")
	return errors.Join(errs...)
}

// release hangs up an untracked call in the background.
func (c *Coordinator) release(call transport.Call, phase Phase) {
	if err := c.hangup(call, phase); err != nil {
		c.log.Warn("[Session] Hangup of untracked call failed", "call_id", call.ID(), "error", err)
	}
}

// hangup releases a call that is no longer tracked.
func (c *Coordinator) hangup(call transport.Call, phase Phase) error {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if phase == PhaseRinging {
		return call.Reject(ctx)
	}
	return call.Disconnect(ctx)
}

func (c *Coordinator) readyLocked() error {
	if c.destroyed {
		return ErrDestroyed
	}
	if c.device != DeviceReady {
		return ErrNotReady
	}
	return nil
}

// adoptLocked makes call the tracked outbound call.
func (c *Coordinator) adoptLocked(call transport.Call) {
	if c.dial != nil {
		c.dial.adopted = true
	}
	c.call = call
	c.dial = nil
	c.emitStateLocked()
}

// clearLocked ends the tracked call: timers stop, fields reset, and
// observers get the idle state followed by the call summary.
func (c *Coordinator) clearLocked(reason EndReason) {
	now := c.clock()
	ended := EndedCall{
		Direction:  c.direction,
		CreatedAt:  c.createdAt,
		AnsweredAt: c.startedAt,
		EndedAt:    now,
		Reason:     reason,
	}
	if c.call != nil {
		ended.ID = c.call.ID()
		ended.From = c.call.From()
		ended.To = c.call.To()
	} else if c.dial != nil {
		ended.ID = c.dial.id
		ended.To = c.dial.to
	}
	if !c.startedAt.IsZero() {
		ended.TalkSeconds = int(now.Sub(c.startedAt) / time.Second)
	}

	c.resetLocked()
	c.log.Info("[Session] Call ended",
		"call_id", ended.ID,
		"direction", ended.Direction,
		"reason", reason,
		"talk_seconds", ended.TalkSeconds,
	)
	c.emitStateLocked()
	c.events.publish("call_ended", func(o Observer) { o.OnCallEnded(ended) })
}

// resetLocked returns every call field to idle and stops timers.
func (c *Coordinator) resetLocked() {
	c.stopRingTimerLocked()
	c.stopTickerLocked()
	c.gen++
	c.call = nil
	c.dial = nil
	c.phase = PhaseIdle
	c.direction = ""
	c.muted = false
	c.createdAt = time.Time{}
	c.startedAt = time.Time{}
	c.incoming = nil
}

func (c *Coordinator) snapshotLocked() CallState {
	s := CallState{
		Phase:       c.phase,
		IsConnected: c.phase == PhaseConnected,
		IsRinging:   c.phase == PhaseRinging,
		Direction:   c.direction,
	}
	if c.call != nil {
		s.CallID = c.call.ID()
		s.From = c.call.From()
		s.To = c.call.To()
		s.Status = c.call.Status()
		s.IsMuted = c.muted
	} else if c.dial != nil {
		s.CallID = c.dial.id
		s.To = c.dial.to
		s.Status = transport.StatusPending
	}
	if !c.startedAt.IsZero() {
		if d := c.clock().Sub(c.startedAt); d > 0 {
			s.Duration = int(d / time.Second)
		}
	}
	return s
}

func (c *Coordinator) emitStateLocked() {
	s := c.snapshotLocked()
	c.events.publish("call_state", func(o Observer) { o.OnCallStateChange(s) })
}

func (c *Coordinator) emitDeviceError(err error) {
	c.events.publish("device_error", func(o Observer) { o.OnDeviceError(err) })
}

func (c *Coordinator) startRingTimerLocked() {
	gen := c.gen
	c.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(gen) })
}

func (c *Coordinator) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *Coordinator) ringExpired(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseRinging || c.call == nil {
		c.mu.Unlock()
		return
	}
	call := c.call
	c.log.Info("[Session] Ring timeout", "call_id", call.ID(), "timeout", c.ringTimeout)
	c.clearLocked(ReasonTimeout)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := call.Reject(ctx); err != nil {
		c.log.Warn("[Session] Reject after ring timeout failed", "call_id", call.ID(), "error", err)
	}
}

func (c *Coordinator) startTickerLocked() {
	c.stopTickerLocked()
	stop := make(chan struct{})
	c.tickerStop = stop
	gen := c.gen
	interval := c.tickInterval
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.mu.Lock()
				if c.gen == gen && c.phase == PhaseConnected {
					c.emitStateLocked()
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Coordinator) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}
