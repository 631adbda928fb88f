package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/agentphone/internal/softphone/session"
)

const writeTimeout = 5 * time.Second

// Recorder writes session events to the log.
type Recorder struct {
	store *Store
	log   *slog.Logger
	now   func() time.Time

	active string // call already marked active
}

// NewRecorder returns an observer feeding s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s, log: slog.Default(), now: time.Now}
}

func (r *Recorder) OnIncomingCall(session.IncomingCallNotice) {}
func (r *Recorder) OnDeviceReady()                            {}
func (r *Recorder) OnDeviceError(error)                       {}

// OnCallStateChange marks a call active the first time it connects.
// Observer callbacks run on a single goroutine, so active needs no lock.
func (r *Recorder) OnCallStateChange(st session.CallState) {
	if !st.IsConnected || st.CallID == r.active {
		return
	}
	r.active = st.CallID

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.MarkActive(ctx, st, r.now()); err != nil {
		r.log.Error("[History] Failed to mark call active", "call_id", st.CallID, "error", err)
	}
}

// OnCallEnded writes the final row.
func (r *Recorder) OnCallEnded(c session.EndedCall) {
	if c.ID == r.active {
		r.active = ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Record(ctx, c); err != nil {
		r.log.Error("[History] Failed to record call", "call_id", c.ID, "error", err)
		return
	}
	r.log.Debug("[History] Call recorded",
		"call_id", c.ID,
		"status", StatusFor(c),
		"talk_seconds", c.TalkSeconds,
	)
}

// Ensure Recorder implements session.Observer
var _ session.Observer = (*Recorder)(nil)
