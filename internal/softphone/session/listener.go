package session

import (
	"context"

	"github.com/sebas/agentphone/internal/softphone/transport"
)

// listener receives transport events on behalf of a Coordinator.
type listener struct {
	c *Coordinator
}

func (l *listener) OnRegistered() {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.readyFired {
		return
	}
	c.readyFired = true
	c.device = DeviceReady
	c.log.Info("[Session] Device ready")
	c.events.publish("device_ready", func(o Observer) { o.OnDeviceReady() })
}

func (l *listener) OnRegistrationError(err error) {
	c := l.c
	c.log.Error("[Session] Registration failed", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.device = DeviceFailed
	c.emitDeviceError(&DeviceError{Op: "register", Err: err})
}

func (l *listener) OnError(err error) {
	c := l.c
	c.log.Error("[Session] Transport error", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.emitDeviceError(&DeviceError{Op: "transport", Err: err})
}

func (l *listener) OnIncoming(call transport.Call) {
	c := l.c
	c.mu.Lock()
	if c.destroyed || c.device != DeviceReady || c.call != nil || c.dial != nil {
		c.mu.Unlock()
		c.log.Info("[Session] Declining incoming call, line busy",
			"call_id", call.ID(),
			"from", call.From(),
		)
		go l.decline(call)
		return
	}

	c.gen++
	c.call = call
	c.phase = PhaseRinging
	c.direction = DirectionInbound
	c.muted = false
	c.createdAt = c.clock()
	notice := IncomingCallNotice{
		CallID:    call.ID(),
		From:      call.From(),
		To:        call.To(),
		Timestamp: c.createdAt,
	}
	c.incoming = &notice
	c.startRingTimerLocked()

	c.log.Info("[Session] Incoming call", "call_id", notice.CallID, "from", notice.From, "to", notice.To)
	c.events.publish("incoming_call", func(o Observer) { o.OnIncomingCall(notice) })
	c.emitStateLocked()
	autoAnswer := c.autoAnswer
	c.mu.Unlock()

	if autoAnswer {
		go func() {
			if err := c.Answer(context.Background()); err != nil {
				c.log.Warn("[Session] Auto-answer failed", "call_id", notice.CallID, "error", err)
			}
		}()
	}
}

func (l *listener) decline(call transport.Call) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := call.Reject(ctx); err != nil {
		l.c.log.Warn("[Session] Decline failed", "call_id", call.ID(), "error", err)
	}
}

func (l *listener) OnCallEvent(call transport.Call, event transport.CallEvent, err error) {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	// An outbound call may report progress before Connect has returned.
	if c.call == nil && c.dial != nil && c.dial.id == call.ID() {
		c.adoptLocked(call)
	}
	if c.call == nil || c.call.ID() != call.ID() {
		c.log.Debug("[Session] Ignoring event for untracked call",
			"call_id", call.ID(),
			"event", event.String(),
		)
		return
	}

	if err != nil {
		c.log.Warn("[Session] Call event error", "call_id", call.ID(), "event", event.String(), "error", err)
	}

	switch event {
	case transport.EventRinging:
		c.emitStateLocked()

	case transport.EventAccept:
		if c.phase != PhaseConnecting {
			return
		}
		c.stopRingTimerLocked()
		c.phase = PhaseConnected
		c.startedAt = c.clock()
		c.muted = call.IsMuted()
		c.startTickerLocked()
		c.log.Info("[Session] Call connected", "call_id", call.ID(), "direction", c.direction)
		c.emitStateLocked()

	case transport.EventDisconnect:
		c.clearLocked(ReasonRemoteHangup)

	case transport.EventCancel:
		c.clearLocked(ReasonCanceled)

	case transport.EventReject:
		c.clearLocked(ReasonDeclined)
	}
}
