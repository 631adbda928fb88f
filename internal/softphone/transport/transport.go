// Package transport defines the contract between the call session
// coordinator and the signaling stack that carries calls.
package transport

import (
	"context"
)

// Status is the signaling-level status of a call leg.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// CallEvent is a lifecycle event reported for a call leg.
type CallEvent int

const (
	EventRinging CallEvent = iota
	EventAccept
	EventDisconnect
	EventCancel
	EventReject
)

// String returns the event name.
func (e CallEvent) String() string {
	switch e {
	case EventRinging:
		return "ringing"
	case EventAccept:
		return "accept"
	case EventDisconnect:
		return "disconnect"
	case EventCancel:
		return "cancel"
	case EventReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends the call.
func (e CallEvent) Terminal() bool {
	return e == EventDisconnect || e == EventCancel || e == EventReject
}

// Call is one call leg owned by the transport.
type Call interface {
	ID() string
	From() string
	To() string
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Mute(muted bool) error
	IsMuted() bool
	Status() Status
}

// ConnectParams describes an outbound call.
type ConnectParams struct {
	// CallID identifies the new leg in every event reported for it. The
	// transport picks one when empty.
	CallID   string
	To       string
	CallerID string
}

// Transport is a registered endpoint able to place and receive calls.
type Transport interface {
	// Register starts registration. The outcome is reported through the
	// Listener, not the return value; an error means the attempt could
	// not be started at all.
	Register(ctx context.Context) error
	Connect(ctx context.Context, params ConnectParams) (Call, error)
	Destroy() error
}

// Listener receives asynchronous transport events.
type Listener interface {
	OnRegistered()
	OnRegistrationError(err error)
	OnError(err error)
	OnIncoming(call Call)
	OnCallEvent(call Call, event CallEvent, err error)
}

// Factory builds a transport authorized by the given capability token.
type Factory func(token string, l Listener) (Transport, error)
