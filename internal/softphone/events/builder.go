package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/sebas/agentphone/internal/softphone/session"
)

// Builder constructs events with consistent defaults.
type Builder struct {
	agent  string
	prefix string
	now    func() time.Time
}

// NewBuilder creates an event builder for one agent.
func NewBuilder(agent string) *Builder {
	return &Builder{agent: agent, prefix: DefaultPrefix, now: time.Now}
}

// WithPrefix sets the topic root for all events.
func (b *Builder) WithPrefix(prefix string) *Builder {
	if prefix != "" {
		b.prefix = prefix
	}
	return b
}

func (b *Builder) newBase(t EventType, callID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: t,
		EventTime: b.now().UTC(),
		Agent:     b.agent,
		CallID:    callID,
		prefix:    b.prefix,
	}
}

// Incoming builds a call.incoming event.
func (b *Builder) Incoming(n session.IncomingCallNotice) *CallIncomingEvent {
	return &CallIncomingEvent{
		BaseEvent: b.newBase(CallIncoming, n.CallID),
		From:      n.From,
		To:        n.To,
	}
}

// State builds a call.state event. Idle states carry no call ID and are
// published on the device topic.
func (b *Builder) State(st session.CallState) *CallStateEvent {
	return &CallStateEvent{
		BaseEvent: b.newBase(CallState, st.CallID),
		State:     st,
	}
}

// Ended builds a call.ended event.
func (b *Builder) Ended(c session.EndedCall) *CallEndedEvent {
	return &CallEndedEvent{
		BaseEvent:   b.newBase(CallEnded, c.ID),
		Direction:   c.Direction,
		From:        c.From,
		To:          c.To,
		Reason:      c.Reason,
		Disposition: DispositionFor(c),
		Answered:    c.Answered(),
		CreatedAt:   c.CreatedAt,
		AnsweredAt:  c.AnsweredAt,
		EndedAt:     c.EndedAt,
		TalkSeconds: c.TalkSeconds,
	}
}

// Ready builds a device.ready event.
func (b *Builder) Ready() *DeviceReadyEvent {
	return &DeviceReadyEvent{BaseEvent: b.newBase(DeviceReady, "")}
}

// Error builds a device.error event.
func (b *Builder) Error(err error) *DeviceErrorEvent {
	e := &DeviceErrorEvent{BaseEvent: b.newBase(DeviceError, "")}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
