package session

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestSlowObserverDoesNotDelayOthers(t *testing.T) {
	c, ft, fast := newReady(t)

	unblock := make(chan struct{})
	defer close(unblock)
	var slowSeen atomic.Int32
	c.Subscribe(ObserverFuncs{
		CallStateChange: func(CallState) {
			slowSeen.Add(1)
			<-unblock
		},
	})

	ft.listener.OnIncoming(newFakeCall("in-1", "+15559876543", "1001"))
	receive(t, fast.incoming, "incoming call")
	waitState(t, fast, "ringing", func(s CallState) bool { return s.IsRinging })

	start := time.Now()
	if err := c.Reject(context.Background()); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	waitState(t, fast, "idle", func(s CallState) bool { return s.Phase == PhaseIdle })
	receive(t, fast.ended, "call ended")
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("fast observer waited %s behind a blocked one", d)
	}
	if got := slowSeen.Load(); got != 1 {
		t.Errorf("blocked observer entered %d times, want 1", got)
	}
}

func TestObserverQueueLimit(t *testing.T) {
	b := newBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.limit = 3

	unblock := make(chan struct{})
	entered := make(chan struct{}, 1)
	var delivered atomic.Int32
	b.subscribe(ObserverFuncs{
		DeviceReady: func() {
			if delivered.Add(1) == 1 {
				entered <- struct{}{}
				<-unblock
			}
		},
	})

	ready := func(o Observer) { o.OnDeviceReady() }
	b.publish("device_ready", ready)
	receive(t, entered, "first delivery")

	for i := 0; i < 10; i++ {
		b.publish("device_ready", ready)
	}
	close(unblock)
	b.close()

	eventually(t, "queued events delivered", func() bool { return delivered.Load() == 4 })
	time.Sleep(20 * time.Millisecond)
	if got := delivered.Load(); got != 4 {
		t.Errorf("delivered = %d, want 4 (1 in flight + 3 queued)", got)
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := newBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := newRecorder()
	b.subscribe(rec)
	b.close()

	b.publish("device_ready", func(o Observer) { o.OnDeviceReady() })
	expectNone(t, rec.ready, "event after close", 30*time.Millisecond)

	b.subscribe(newRecorder())
	if len(b.subs) != 0 {
		t.Errorf("subscribe after close kept %d subscribers", len(b.subs))
	}
}
