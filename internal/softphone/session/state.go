package session

import (
	"fmt"
	"time"

	"github.com/sebas/agentphone/internal/softphone/transport"
)

// DeviceState is the registration state of the softphone endpoint.
type DeviceState int

const (
	// DeviceUninitialized is the state before Init and after Destroy
	DeviceUninitialized DeviceState = iota
	// DeviceRegistering is after the transport was created, awaiting the registrar
	DeviceRegistering
	// DeviceReady means calls can be placed and received
	DeviceReady
	// DeviceFailed means registration or the transport failed
	DeviceFailed
)

// String returns the string representation of the device state
func (s DeviceState) String() string {
	switch s {
	case DeviceUninitialized:
		return "Uninitialized"
	case DeviceRegistering:
		return "Registering"
	case DeviceReady:
		return "Ready"
	case DeviceFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *DeviceState) UnmarshalText(b []byte) error {
	for v := DeviceUninitialized; v <= DeviceFailed; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown device state %q", b)
}

// Phase is the lifecycle position of the single tracked call.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseConnecting
	PhaseConnected
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseRinging:
		return "Ringing"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// MarshalText renders the phase by name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	for v := PhaseIdle; v <= PhaseConnected; v++ {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Direction of a call. Empty when no call is tracked.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallState is a point-in-time view of the session, rebuilt on every
// tick and call event.
type CallState struct {
	CallID      string           `json:"call_id,omitempty"`
	Phase       Phase            `json:"phase"`
	IsConnected bool             `json:"is_connected"`
	IsRinging   bool             `json:"is_ringing"`
	IsMuted     bool             `json:"is_muted"`
	IsOnHold    bool             `json:"is_on_hold"`
	Duration    int              `json:"duration"` // seconds since connect
	Direction   Direction        `json:"direction,omitempty"`
	Status      transport.Status `json:"status,omitempty"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
}

// IncomingCallNotice announces a ringing inbound call.
type IncomingCallNotice struct {
	CallID    string    `json:"call_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// EndReason explains why a call left the session
type EndReason string

const (
	// ReasonLocalHangup means End was called
	ReasonLocalHangup EndReason = "local_hangup"
	// ReasonRemoteHangup means the far end disconnected
	ReasonRemoteHangup EndReason = "remote_hangup"
	// ReasonRejected means Reject was called on a ringing call
	ReasonRejected EndReason = "rejected"
	// ReasonDeclined means the far end refused an outbound call
	ReasonDeclined EndReason = "declined"
	// ReasonCanceled means the caller gave up before answer
	ReasonCanceled EndReason = "canceled"
	// ReasonTimeout means a ringing call was not answered in time
	ReasonTimeout EndReason = "timeout"
	// ReasonFailed means a transport operation on the call failed
	ReasonFailed EndReason = "failed"
	// ReasonShutdown means the coordinator was destroyed with the call live
	ReasonShutdown EndReason = "shutdown"
)

// EndedCall summarizes a call once it has been cleared from the session.
type EndedCall struct {
	ID          string    `json:"id"`
	Direction   Direction `json:"direction"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	CreatedAt   time.Time `json:"created_at"`
	AnsweredAt  time.Time `json:"answered_at,omitzero"`
	EndedAt     time.Time `json:"ended_at"`
	Reason      EndReason `json:"reason"`
	TalkSeconds int       `json:"talk_seconds"`
}

// Answered reports whether the call ever reached Connected.
func (e EndedCall) Answered() bool {
	return !e.AnsweredAt.IsZero()
}
