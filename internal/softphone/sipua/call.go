package sipua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/agentphone/internal/softphone/media"
	"github.com/sebas/agentphone/internal/softphone/transport"
)

// call is one SIP dialog, inbound (UAS) or outbound (UAC).
type call struct {
	ua        *UA
	id        string
	from      string
	to        string
	inbound   bool
	createdAt time.Time

	mu     sync.Mutex
	status transport.Status
	muted  bool
	stream *media.Stream
	remote media.Remote
	codec  media.Codec

	// Inbound only.
	session    *sipgo.DialogServerSession
	settled    chan struct{} // final response sent or call ended
	acked      chan struct{} // ACK for our 2xx arrived
	settleOnce sync.Once
	ackOnce    sync.Once

	// Outbound only.
	invite     *sip.Request
	response   *sip.Response
	cseq       atomic.Uint32
	stopDial   context.CancelFunc
	localEnded bool
}

func newInbound(u *UA, req *sip.Request, session *sipgo.DialogServerSession, remote media.Remote, codec media.Codec) *call {
	c := &call{
		ua:        u,
		id:        req.CallID().Value(),
		inbound:   true,
		createdAt: time.Now(),
		status:    transport.StatusRinging,
		session:   session,
		settled:   make(chan struct{}),
		acked:     make(chan struct{}),
		remote:    remote,
		codec:     codec,
	}
	if from := req.From(); from != nil {
		c.from = from.Address.User
	}
	if to := req.To(); to != nil {
		c.to = to.Address.User
	}
	return c
}

func (c *call) ID() string   { return c.id }
func (c *call) From() string { return c.from }
func (c *call) To() string   { return c.to }

func (c *call) Status() transport.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Accept answers a ringing inbound call with a 200 OK carrying our SDP
// and starts media.
func (c *call) Accept(ctx context.Context) error {
	if !c.inbound {
		return fmt.Errorf("cannot accept an outbound call")
	}

	c.mu.Lock()
	if c.status != transport.StatusRinging {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("cannot accept call in status %s", status)
	}
	c.status = transport.StatusConnecting
	c.mu.Unlock()

	stream, err := c.ua.ports.Listen(c.ua.cfg.BindAddr)
	if err != nil {
		c.fail()
		return fmt.Errorf("allocate media: %w", err)
	}
	body, err := media.BuildAnswer(c.ua.cfg.AdvertiseAddr, stream.LocalPort(), c.codec)
	if err != nil {
		stream.Close()
		c.fail()
		return fmt.Errorf("build answer: %w", err)
	}
	if err := c.session.RespondSDP(body); err != nil {
		stream.Close()
		c.finish()
		return fmt.Errorf("send 200 OK: %w", err)
	}
	if err := c.startMedia(stream, c.remote, c.codec); err != nil {
		c.ua.log.Warn("[SIP] Media start failed", "call_id", c.id, "error", err)
	}
	c.settle()

	c.ua.log.Info("[SIP] Call answered",
		"call_id", c.id,
		"codec", c.codec.Name,
		"rtp_port", stream.LocalPort(),
	)
	c.ua.listener.OnCallEvent(c, transport.EventAccept, nil)
	return nil
}

// Reject declines a ringing inbound call with 486 Busy Here.
func (c *call) Reject(ctx context.Context) error {
	if !c.inbound {
		return c.Disconnect(ctx)
	}

	c.mu.Lock()
	if c.status != transport.StatusRinging {
		c.mu.Unlock()
		return nil
	}
	c.status = transport.StatusClosed
	c.mu.Unlock()

	err := c.session.Respond(486, "Busy Here", nil)
	c.cleanup()
	if err != nil {
		return fmt.Errorf("send 486: %w", err)
	}
	c.ua.log.Info("[SIP] Call rejected", "call_id", c.id)
	return nil
}

// Disconnect ends the call: BYE once answered, CANCEL while an outbound
// INVITE is pending.
func (c *call) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	status := c.status
	if status == transport.StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.localEnded = true
	stopDial := c.stopDial
	c.mu.Unlock()

	switch {
	case c.inbound && status == transport.StatusRinging:
		return c.Reject(ctx)

	case c.inbound:
		defer c.finish()
		// The dialog only accepts a BYE once our 200 OK is acknowledged.
		select {
		case <-c.acked:
		case <-ctx.Done():
			return fmt.Errorf("send BYE: no ACK for 200 OK: %w", ctx.Err())
		}
		if err := c.session.Bye(ctx); err != nil {
			return fmt.Errorf("send BYE: %w", err)
		}

	case status != transport.StatusOpen:
		// runInvite sends the CANCEL once its context ends.
		if stopDial != nil {
			stopDial()
		}
		return nil

	default:
		defer c.finish()
		bye, err := c.buildBYE()
		if err != nil {
			return err
		}
		res, err := c.ua.do(ctx, bye, sipgo.ClientRequestBuild)
		if err != nil {
			return fmt.Errorf("send BYE: %w", err)
		}
		if res.StatusCode >= 300 {
			return &ResponseError{Method: "BYE", Code: int(res.StatusCode), Reason: res.Reason}
		}
	}

	c.ua.log.Info("[SIP] Call hung up", "call_id", c.id)
	return nil
}

// Mute stops sending captured audio. The flag survives until media starts.
func (c *call) Mute(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == transport.StatusClosed {
		return ErrClosed
	}
	c.muted = muted
	if c.stream != nil {
		c.stream.Mute(muted)
	}
	return nil
}

func (c *call) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// hangup ends the call in whatever way its status allows.
func (c *call) hangup(ctx context.Context) error {
	if c.inbound && c.Status() == transport.StatusRinging {
		return c.Reject(ctx)
	}
	return c.Disconnect(ctx)
}

func (c *call) startMedia(stream *media.Stream, remote media.Remote, codec media.Codec) error {
	c.mu.Lock()
	c.stream = stream
	c.remote = remote
	c.codec = codec
	c.status = transport.StatusOpen
	stream.Mute(c.muted)
	c.mu.Unlock()

	if err := stream.SetRemote(remote, codec); err != nil {
		return err
	}
	stream.SetSource(media.Silence{})
	return stream.Start()
}

// finish marks the call closed, stops media and keeps the entry around
// briefly to absorb retransmissions.
func (c *call) finish() {
	c.mu.Lock()
	if c.status == transport.StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = transport.StatusClosed
	c.mu.Unlock()

	c.cleanup()
}

// fail ends an inbound call we could not answer with a 500.
func (c *call) fail() {
	if err := c.session.Respond(sip.StatusInternalServerError, "Server Error", nil); err != nil {
		c.ua.log.Debug("[SIP] Failed to send 500", "call_id", c.id, "error", err)
	}
	c.finish()
}

// cancelRinging closes an inbound call that is still ringing. It reports
// false once the call was answered, rejected or ended.
func (c *call) cancelRinging() bool {
	c.mu.Lock()
	if c.status != transport.StatusRinging {
		c.mu.Unlock()
		return false
	}
	c.status = transport.StatusClosed
	c.mu.Unlock()

	c.cleanup()
	return true
}

func (c *call) cleanup() {
	c.release()
	c.ua.calls.Expire(c.id, terminatedCallTTL)
	if c.settled != nil {
		c.settle()
	}
}

func (c *call) settle() {
	c.settleOnce.Do(func() { close(c.settled) })
}

func (c *call) ack() {
	c.ackOnce.Do(func() { close(c.acked) })
}

// release frees the media stream.
func (c *call) release() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		st := stream.Stats()
		stream.Close()
		c.ua.log.Debug("[SIP] Media closed",
			"call_id", c.id,
			"packets_sent", st.PacketsSent,
			"packets_received", st.PacketsReceived,
			"packets_lost", st.PacketsLost,
		)
	}
	if c.session != nil {
		c.session.Close()
	}
}

// buildBYE constructs the in-dialog BYE for an answered outbound call.
func (c *call) buildBYE() (*sip.Request, error) {
	c.mu.Lock()
	invite, res := c.invite, c.response
	c.mu.Unlock()
	if invite == nil || res == nil {
		return nil, fmt.Errorf("cannot build BYE: dialog not established")
	}

	recipient := invite.Recipient
	if contact := res.Contact(); contact != nil {
		recipient = contact.Address
	}
	bye := sip.NewRequest(sip.BYE, recipient)

	if len(res.GetHeaders("Record-Route")) > 0 {
		// Route set is the Record-Route list reversed for the UAC.
		hdrs := res.GetHeaders("Record-Route")
		for i := len(hdrs) - 1; i >= 0; i-- {
			bye.AppendHeader(sip.NewHeader("Route", hdrs[i].Value()))
		}
	}

	sip.CopyHeaders("From", invite, bye)
	if to := res.To(); to != nil {
		bye.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	sip.CopyHeaders("Call-ID", invite, bye)
	bye.AppendHeader(&sip.CSeqHeader{
		SeqNo:      c.cseq.Add(1),
		MethodName: sip.BYE,
	})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	dest := res.Source()
	if dest == "" {
		dest = c.ua.cfg.Registrar
	}
	bye.SetDestination(dest)
	return bye, nil
}

// Ensure call implements transport.Call
var _ transport.Call = (*call)(nil)
