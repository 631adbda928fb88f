package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/sebas/agentphone/internal/softphone/session"
)

const publishTimeout = 5 * time.Second

// Bridge publishes session events. Publish failures are logged and
// never reach the session.
type Bridge struct {
	pub     Publisher
	builder *Builder
	log     *slog.Logger
}

// NewBridge returns an observer publishing through pub.
func NewBridge(pub Publisher, builder *Builder) *Bridge {
	return &Bridge{pub: pub, builder: builder, log: slog.Default()}
}

func (b *Bridge) OnIncomingCall(n session.IncomingCallNotice) {
	b.publish(b.builder.Incoming(n))
}

func (b *Bridge) OnCallStateChange(st session.CallState) {
	b.publish(b.builder.State(st))
}

func (b *Bridge) OnDeviceReady() {
	b.publish(b.builder.Ready())
}

func (b *Bridge) OnDeviceError(err error) {
	b.publish(b.builder.Error(err))
}

func (b *Bridge) OnCallEnded(c session.EndedCall) {
	b.publish(b.builder.Ended(c))
}

func (b *Bridge) publish(e Event) {
	payload, err := Marshal(e)
	if err != nil {
		b.log.Error("[Events] Failed to encode event", "type", e.Type(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, e.Topic(), payload); err != nil {
		b.log.Warn("[Events] Publish failed", "topic", e.Topic(), "type", e.Type(), "error", err)
		return
	}
	b.log.Debug("[Events] Published", "topic", e.Topic(), "type", e.Type())
}

// Ensure Bridge implements session.Observer
var _ session.Observer = (*Bridge)(nil)
