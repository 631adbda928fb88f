package session

import (
	"log/slog"
	"sync"
)

// Observer receives session events. Each observer has its own dispatch
// goroutine and sees events in the order they occurred, so an observer
// may call back into the Coordinator and a slow one does not hold up
// the others.
type Observer interface {
	OnIncomingCall(notice IncomingCallNotice)
	OnCallStateChange(state CallState)
	OnDeviceReady()
	OnDeviceError(err error)
	OnCallEnded(call EndedCall)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	IncomingCall    func(IncomingCallNotice)
	CallStateChange func(CallState)
	DeviceReady     func()
	DeviceError     func(error)
	CallEnded       func(EndedCall)
}

func (f ObserverFuncs) OnIncomingCall(n IncomingCallNotice) {
	if f.IncomingCall != nil {
		f.IncomingCall(n)
	}
}

func (f ObserverFuncs) OnCallStateChange(s CallState) {
	if f.CallStateChange != nil {
		f.CallStateChange(s)
	}
}

func (f ObserverFuncs) OnDeviceReady() {
	if f.DeviceReady != nil {
		f.DeviceReady()
	}
}

func (f ObserverFuncs) OnDeviceError(err error) {
	if f.DeviceError != nil {
		f.DeviceError(err)
	}
}

func (f ObserverFuncs) OnCallEnded(c EndedCall) {
	if f.CallEnded != nil {
		f.CallEnded(c)
	}
}

// DefaultObserverQueue is how many undelivered events one observer may
// have before further events for it are dropped.
const DefaultObserverQueue = 1024

// subscriber owns the queue and goroutine of one observer.
type subscriber struct {
	id  uint64
	o   Observer
	log *slog.Logger

	mu      sync.Mutex
	queue   []delivery
	limit   int
	dropped int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type delivery struct {
	event string
	fn    func(Observer)
}

func newSubscriber(id uint64, o Observer, limit int, log *slog.Logger) *subscriber {
	s := &subscriber{
		id:    id,
		o:     o,
		log:   log,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// push queues one event. It never blocks.
func (s *subscriber) push(d delivery) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.log.Warn("[Session] Observer queue full, dropping event",
			"observer", s.id,
			"event", d.event,
			"dropped", dropped,
		)
		return
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, d := range batch {
			s.deliver(d)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-s.wake
	}
}

func (s *subscriber) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("[Session] Observer panicked", "observer", s.id, "event", d.event, "panic", r)
		}
	}()
	d.fn(s.o)
}

// stop accepts no more events. With drain set, queued events are still
// delivered; otherwise they are discarded.
func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if !drain {
		s.queue = nil
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// broadcaster fans events out to per-observer queues.
type broadcaster struct {
	log   *slog.Logger
	limit int

	mu     sync.Mutex
	subs   []*subscriber
	nextID uint64
	closed bool
}

func newBroadcaster(log *slog.Logger) *broadcaster {
	return &broadcaster{log: log, limit: DefaultObserverQueue}
}

func (b *broadcaster) subscribe(o Observer) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	sub := newSubscriber(b.nextID, o, b.limit, b.log)
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			sub.stop(false)
		})
	}
}

// publish queues fn for every current subscriber. It never blocks.
func (b *broadcaster) publish(event string, fn func(Observer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(delivery{event: event, fn: fn})
	}
}

// close stops accepting events. Queued events are still delivered.
func (b *broadcaster) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}
}
