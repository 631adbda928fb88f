// Package events defines the softphone's outbound event stream and
// publishes it to MQTT.
package events

import (
	"encoding/json"
	"time"

	"github.com/sebas/agentphone/internal/softphone/session"
)

// EventType identifies the type of event
type EventType string

const (
	// CallIncoming fires when an inbound call starts ringing
	CallIncoming EventType = "call.incoming"
	// CallState fires on every call state change, including duration ticks
	CallState EventType = "call.state"
	// CallEnded fires once per call when it leaves the session
	CallEnded EventType = "call.ended"
	// DeviceReady fires when the phone registered
	DeviceReady EventType = "device.ready"
	// DeviceError fires on credential, registration or transport failures
	DeviceError EventType = "device.error"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	// Topic returns the MQTT topic this event publishes to
	Topic() string
	Timestamp() time.Time
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is unique per event instance (for deduplication)
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	// Agent is the SIP username of the phone
	Agent string `json:"agent"`
	// CallID is empty for device events
	CallID string `json:"call_id,omitempty"`

	prefix string
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }

func (e *BaseEvent) Topic() string {
	if e.CallID == "" {
		return DeviceTopic(e.prefix, e.Agent, SuffixFor(e.EventType))
	}
	return CallTopic(e.prefix, e.Agent, e.CallID, SuffixFor(e.EventType))
}

// CallIncomingEvent announces a ringing inbound call
type CallIncomingEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// CallStateEvent carries the full call state
type CallStateEvent struct {
	BaseEvent
	State session.CallState `json:"state"`
}

// CallEndedEvent is the per-call record
type CallEndedEvent struct {
	BaseEvent
	Direction   session.Direction `json:"direction"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Reason      session.EndReason `json:"reason"`
	Disposition string            `json:"disposition"`
	Answered    bool              `json:"answered"`
	CreatedAt   time.Time         `json:"created_at"`
	AnsweredAt  time.Time         `json:"answered_at,omitzero"`
	EndedAt     time.Time         `json:"ended_at"`
	TalkSeconds int               `json:"talk_seconds"`
}

// DeviceReadyEvent fires on registration
type DeviceReadyEvent struct {
	BaseEvent
}

// DeviceErrorEvent carries a device failure
type DeviceErrorEvent struct {
	BaseEvent
	Error string `json:"error"`
}

// Dispositions for ended calls
const (
	DispositionAnswered = "ANSWERED"
	DispositionNoAnswer = "NO_ANSWER"
	DispositionBusy     = "BUSY"
	DispositionFailed   = "FAILED"
	DispositionCanceled = "CANCELED"
)

// DispositionFor maps an ended call to its disposition code.
func DispositionFor(c session.EndedCall) string {
	if c.Answered() {
		return DispositionAnswered
	}
	switch c.Reason {
	case session.ReasonRejected, session.ReasonDeclined:
		return DispositionBusy
	case session.ReasonCanceled, session.ReasonLocalHangup:
		return DispositionCanceled
	case session.ReasonTimeout, session.ReasonRemoteHangup:
		return DispositionNoAnswer
	default:
		return DispositionFailed
	}
}

// Marshal encodes an event as its JSON payload.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
