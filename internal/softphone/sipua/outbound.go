package sipua

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/agentphone/internal/softphone/media"
	"github.com/sebas/agentphone/internal/softphone/transport"
)

// Connect places an outbound call through the registrar. The returned
// call is Connecting; progress arrives as call events.
func (u *UA) Connect(ctx context.Context, params transport.ConnectParams) (transport.Call, error) {
	if u.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if params.To == "" {
		return nil, fmt.Errorf("missing destination")
	}

	stream, err := u.ports.Listen(u.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("allocate media: %w", err)
	}
	offer, err := media.BuildOffer(u.cfg.AdvertiseAddr, stream.LocalPort())
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("build offer: %w", err)
	}

	callID := params.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	if _, ok := u.calls.Get(callID); ok {
		stream.Close()
		return nil, fmt.Errorf("call %s already exists", callID)
	}
	invite, err := u.buildINVITE(callID, params, offer)
	if err != nil {
		stream.Close()
		return nil, err
	}

	dialCtx, stop := context.WithTimeout(u.ctx, u.cfg.InviteTimeout)
	c := &call{
		ua:        u,
		id:        callID,
		from:      u.cfg.Username,
		to:        params.To,
		createdAt: time.Now(),
		status:    transport.StatusConnecting,
		stream:    stream,
		invite:    invite,
		stopDial:  stop,
	}
	u.calls.Put(callID, c, activeCallTTL)

	u.log.Info("[SIP] Placing call",
		"call_id", callID,
		"to", params.To,
		"rtp_port", stream.LocalPort(),
	)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer stop()
		u.runInvite(dialCtx, c, stream)
	}()
	return c, nil
}

func (u *UA) buildINVITE(callID string, params transport.ConnectParams, sdpBody []byte) (*sip.Request, error) {
	var target sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", params.To, u.cfg.Domain), &target); err != nil {
		return nil, fmt.Errorf("invalid target URI: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", newTag())
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: u.cfg.DisplayName,
		Address:     u.aor(),
		Params:      fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: target,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{
		SeqNo:      1,
		MethodName: sip.INVITE,
	})
	invite.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})

	if params.CallerID != "" {
		invite.AppendHeader(sip.NewHeader("P-Asserted-Identity",
			fmt.Sprintf("<sip:%s@%s>", params.CallerID, u.cfg.Domain)))
	}

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(sdpBody)
	invite.SetDestination(u.cfg.Registrar)
	return invite, nil
}

// runInvite drives the INVITE client transaction until the call is
// answered, fails or is canceled.
func (u *UA) runInvite(ctx context.Context, c *call, stream *media.Stream) {
	invite := c.invite
	authorized := false

	for {
		// The client bumps the CSeq of every (re)sent INVITE.
		tx, err := u.client.TransactionRequest(ctx, invite)
		if err != nil {
			u.endOutbound(c, fmt.Errorf("send INVITE: %w", err))
			return
		}
		c.cseq.Store(invite.CSeq().SeqNo)

		retry, done := u.awaitInvite(ctx, c, stream, invite, tx, authorized)
		tx.Terminate()
		if done {
			return
		}

		// Digest challenge: resend with credentials and a new branch.
		hdr, err := authorization(invite, retry, u.cfg.Username, u.token)
		if err != nil {
			u.endOutbound(c, err)
			return
		}
		invite.RemoveHeader("Via")
		invite.RemoveHeader(hdr.Name())
		invite.AppendHeader(hdr)
		authorized = true
	}
}

// awaitInvite consumes responses for one INVITE transaction. It returns
// the challenge to answer, or done when the call reached an outcome.
func (u *UA) awaitInvite(ctx context.Context, c *call, stream *media.Stream, invite *sip.Request, tx sip.ClientTransaction, authorized bool) (*sip.Response, bool) {
	ringing := false
	for {
		select {
		case <-ctx.Done():
			var err error
			switch {
			case c.endedLocally(), u.ctx.Err() != nil:
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				u.log.Info("[SIP] Call not answered in time", "call_id", c.id, "timeout", u.cfg.InviteTimeout)
				err = ErrNoAnswer
			default:
				err = ctx.Err()
			}
			u.sendCANCEL(invite)
			if res := u.finalAfterCancel(tx); res != nil && res.IsSuccess() {
				u.byeCrossedAnswer(c, invite, res)
			}
			u.endOutbound(c, err)
			return nil, true

		case res := <-tx.Responses():
			if res == nil {
				u.endOutbound(c, ErrNoResponse)
				return nil, true
			}

			switch {
			case res.StatusCode == 180 || res.StatusCode == 183:
				if !ringing {
					ringing = true
					c.setStatus(transport.StatusRinging)
					u.log.Info("[SIP] Remote ringing", "call_id", c.id, "status", res.StatusCode)
					u.listener.OnCallEvent(c, transport.EventRinging, nil)
				}

			case res.StatusCode < 200:

			case res.StatusCode < 300:
				u.answered(c, stream, invite, res)
				return nil, true

			case isChallenge(res) && !authorized:
				u.log.Debug("[SIP] INVITE challenged", "call_id", c.id, "status", res.StatusCode)
				return res, false

			default:
				u.log.Info("[SIP] Call failed",
					"call_id", c.id,
					"status", res.StatusCode,
					"reason", res.Reason,
				)
				u.endOutbound(c, &ResponseError{Method: "INVITE", Code: int(res.StatusCode), Reason: res.Reason})
				return nil, true
			}

		case <-tx.Done():
			u.endOutbound(c, ErrNoResponse)
			return nil, true
		}
	}
}

func (u *UA) answered(c *call, stream *media.Stream, invite *sip.Request, res *sip.Response) {
	c.mu.Lock()
	c.response = res
	c.mu.Unlock()

	if err := u.sendACK(invite, res); err != nil {
		u.log.Warn("[SIP] Failed to send ACK", "call_id", c.id, "error", err)
	}

	remote, err := media.ParseRemote(res.Body())
	var codec media.Codec
	if err == nil {
		codec, err = remote.Negotiate()
	}
	if err == nil {
		err = c.startMedia(stream, remote, codec)
	}
	if err != nil {
		u.log.Warn("[SIP] Answered call has unusable media", "call_id", c.id, "error", err)
		local := c.endedLocally()
		c.setStatus(transport.StatusOpen)
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		_ = c.Disconnect(ctx)
		cancel()
		if !local {
			u.listener.OnCallEvent(c, transport.EventReject, fmt.Errorf("media: %w", err))
		}
		return
	}

	if c.endedLocally() {
		// Hung up while the 200 OK was in flight.
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		_ = c.Disconnect(ctx)
		cancel()
		return
	}

	u.log.Info("[SIP] Call answered by remote", "call_id", c.id, "codec", codec.Name)
	u.listener.OnCallEvent(c, transport.EventAccept, nil)
}

// finalAfterCancel waits for the INVITE's final response once CANCEL is
// out. That is normally a 487, but a 2xx may already be on the wire.
func (u *UA) finalAfterCancel(tx sip.ClientTransaction) *sip.Response {
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return nil
			}
			if res.StatusCode >= 200 {
				return res
			}
		case <-tx.Done():
			return nil
		case <-timer.C:
			return nil
		}
	}
}

// byeCrossedAnswer confirms and immediately ends a dialog the remote
// answered after we canceled it.
func (u *UA) byeCrossedAnswer(c *call, invite *sip.Request, res *sip.Response) {
	c.mu.Lock()
	c.response = res
	c.mu.Unlock()

	if err := u.sendACK(invite, res); err != nil {
		u.log.Warn("[SIP] Failed to send ACK", "call_id", c.id, "error", err)
	}
	bye, err := c.buildBYE()
	if err != nil {
		u.log.Warn("[SIP] Cannot end answered call", "call_id", c.id, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := u.do(ctx, bye, sipgo.ClientRequestBuild); err != nil {
		u.log.Warn("[SIP] BYE after crossed answer failed", "call_id", c.id, "error", err)
		return
	}
	u.log.Info("[SIP] Answer crossed CANCEL, hung up", "call_id", c.id)
}

// endOutbound closes an unanswered outbound call. A nil err means the
// end was ours and nothing is reported.
func (u *UA) endOutbound(c *call, err error) {
	c.finish()
	if err == nil || c.endedLocally() {
		return
	}
	u.listener.OnCallEvent(c, transport.EventReject, err)
}

func (u *UA) sendACK(invite *sip.Request, res *sip.Response) error {
	requestURI := invite.Recipient
	if contact := res.Contact(); contact != nil {
		requestURI = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, requestURI)

	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := res.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	dest := res.Source()
	if dest == "" {
		dest = u.cfg.Registrar
	}
	ack.SetDestination(dest)

	if err := u.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// sendCANCEL cancels a pending INVITE. The response is awaited briefly
// and otherwise ignored.
func (u *UA) sendCANCEL(invite *sip.Request) {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.CANCEL,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)
	cancelReq.SetDestination(u.cfg.Registrar)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := u.do(ctx, cancelReq, sipgo.ClientRequestBuild)
	if err != nil {
		u.log.Debug("[SIP] CANCEL got no response", "call_id", invite.CallID().Value(), "error", err)
		return
	}
	u.log.Info("[SIP] CANCEL sent", "call_id", invite.CallID().Value(), "status", res.StatusCode)
}

func (c *call) setStatus(s transport.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != transport.StatusClosed {
		c.status = s
	}
}

func (c *call) endedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localEnded
}
