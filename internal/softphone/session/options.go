package session

import (
	"log/slog"
	"time"
)

const (
	// DefaultRingTimeout is how long an unanswered inbound call may ring.
	DefaultRingTimeout = 30 * time.Second
	// DefaultTickInterval is the duration refresh period while connected.
	DefaultTickInterval = time.Second
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRingTimeout sets how long an inbound call rings before it is rejected.
func WithRingTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ringTimeout = d
		}
	}
}

// WithTickInterval sets how often state is re-published while connected.
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithClock sets the time source used for timestamps and durations.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAutoAnswer answers inbound calls as soon as they arrive.
func WithAutoAnswer(enabled bool) Option {
	return func(c *Coordinator) {
		c.autoAnswer = enabled
	}
}

// WithCallerID sets the number presented on outbound calls.
func WithCallerID(number string) Option {
	return func(c *Coordinator) {
		c.callerID = number
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}
