// Package sipua implements the softphone transport as a SIP user agent:
// it registers with the PBX, receives INVITEs and places calls.
package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/agentphone/internal/softphone/media"
	"github.com/sebas/agentphone/internal/softphone/store"
	"github.com/sebas/agentphone/internal/softphone/transport"
)

// UA is a registered SIP endpoint. It implements transport.Transport.
type UA struct {
	cfg      Config
	token    string
	listener transport.Listener
	log      *slog.Logger

	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	dialogUA *sipgo.DialogUA

	calls *store.TTL[string, *call]
	ports *media.PortRange

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	regOnce sync.Once

	regMu   sync.Mutex
	regID   string
	regCSeq uint32
	regTag  string
}

// Factory returns a transport.Factory building user agents from cfg.
func Factory(cfg Config) transport.Factory {
	return func(token string, l transport.Listener) (transport.Transport, error) {
		return New(cfg, token, l)
	}
}

// New creates the SIP stack. Nothing is sent until Register.
func New(cfg Config, token string, l transport.Listener) (*UA, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid SIP config: %w", err)
	}

	var ports *media.PortRange
	if cfg.RTPPortMin > 0 {
		r, err := media.NewPortRange(cfg.RTPPortMin, cfg.RTPPortMax)
		if err != nil {
			return nil, fmt.Errorf("invalid SIP config: %w", err)
		}
		ports = r
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("agentphone"))
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.AdvertiseAddr))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &UA{
		cfg:      cfg,
		token:    token,
		listener: l,
		log:      slog.Default(),
		ua:       ua,
		srv:      srv,
		client:   client,
		ports:    ports,
		ctx:      ctx,
		cancel:   cancel,
		regID:    uuid.NewString(),
		regTag:   newTag(),
	}
	u.dialogUA = &sipgo.DialogUA{
		Client:     client,
		ContactHDR: sip.ContactHeader{Address: u.contactURI()},
	}
	u.calls = store.NewTTL(sweepInterval, func(id string, c *call) {
		c.release()
		u.log.Debug("[SIP] Call entry evicted", "call_id", id)
	})

	srv.OnRequest(sip.INVITE, u.handleINVITE)
	srv.OnRequest(sip.ACK, u.handleACK)
	srv.OnRequest(sip.BYE, u.handleBYE)
	srv.OnRequest(sip.CANCEL, u.handleCANCEL)

	return u, nil
}

// Register starts the SIP listener and the registration loop. The
// outcome is reported through the listener.
func (u *UA) Register(ctx context.Context) error {
	if u.ctx.Err() != nil {
		return ErrClosed
	}
	started := false
	u.regOnce.Do(func() {
		started = true
		listenAddr := net.JoinHostPort(u.cfg.BindAddr, strconv.Itoa(u.cfg.Port))
		u.log.Info("[SIP] Starting listener", "addr", listenAddr)

		u.wg.Add(2)
		go func() {
			defer u.wg.Done()
			if err := u.srv.ListenAndServe(u.ctx, "udp", listenAddr); err != nil && u.ctx.Err() == nil {
				u.log.Error("[SIP] Listener stopped", "error", err)
				u.listener.OnError(fmt.Errorf("SIP listener: %w", err))
			}
		}()
		go func() {
			defer u.wg.Done()
			u.registrationLoop()
		}()
	})
	if !started {
		return fmt.Errorf("already registering")
	}
	return nil
}

// Destroy hangs up live calls, unregisters and stops the stack. Safe to
// call more than once.
func (u *UA) Destroy() error {
	u.once.Do(func() {
		for _, c := range u.calls.Values() {
			if c.Status() == transport.StatusClosed {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			if err := c.hangup(ctx); err != nil {
				u.log.Warn("[SIP] Hangup during shutdown failed", "call_id", c.id, "error", err)
			}
			cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		if err := u.unregister(ctx); err != nil {
			u.log.Debug("[SIP] Unregister failed", "error", err)
		}
		cancel()

		u.cancel()
		u.wg.Wait()
		u.calls.Close()
		u.ua.Close()
		u.log.Info("[SIP] User agent stopped")
	})
	return nil
}

func (u *UA) contactURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   u.cfg.Username,
		Host:   u.cfg.AdvertiseAddr,
		Port:   u.cfg.Port,
	}
}

func (u *UA) aor() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   u.cfg.Username,
		Host:   u.cfg.Domain,
	}
}

// do sends a request and waits for its final response. Without options
// the client fills missing headers and bumps an existing CSeq; in-dialog
// requests pass sipgo.ClientRequestBuild to keep theirs.
func (u *UA) do(ctx context.Context, req *sip.Request, opts ...sipgo.ClientRequestOption) (*sip.Response, error) {
	tx, err := u.client.TransactionRequest(ctx, req, opts...)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return nil, ErrNoResponse
			}
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, ErrNoResponse
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (u *UA) lookup(req *sip.Request) (*call, bool) {
	id := req.CallID()
	if id == nil {
		return nil, false
	}
	return u.calls.Get(id.Value())
}

func (u *UA) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	if existing, ok := u.calls.Get(callID); ok {
		// Re-INVITE or retransmission of a call we know.
		u.log.Debug("[SIP] INVITE for existing call", "call_id", callID, "status", existing.Status())
		res := sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil)
		_ = tx.Respond(res)
		return
	}

	remote, err := media.ParseRemote(req.Body())
	if err != nil {
		u.log.Warn("[SIP] Rejecting INVITE with bad SDP", "call_id", callID, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable - invalid SDP", nil))
		return
	}
	codec, err := remote.Negotiate()
	if err != nil {
		u.log.Warn("[SIP] Rejecting INVITE, no common codec", "call_id", callID, "formats", remote.Formats)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	session, err := u.dialogUA.ReadInvite(req, tx)
	if err != nil {
		u.log.Error("[SIP] Failed to create dialog", "call_id", callID, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Error", nil))
		return
	}

	c := newInbound(u, req, session, remote, codec)
	u.calls.Put(callID, c, activeCallTTL)

	// A CANCEL matching this transaction is answered with 487 by the
	// transaction layer and never reaches handleCANCEL. The callback runs
	// under the transaction lock.
	canceled := make(chan struct{}, 1)
	if stx, ok := tx.(*sip.ServerTx); ok {
		stx.OnCancel(func(*sip.Request) {
			select {
			case canceled <- struct{}{}:
			default:
			}
			go u.canceled(c)
		})
	}

	if err := session.Respond(sip.StatusRinging, "Ringing", nil); err != nil {
		u.log.Error("[SIP] Failed to send 180", "call_id", callID, "error", err)
		c.finish()
		return
	}

	u.log.Info("[SIP] Incoming call",
		"call_id", callID,
		"from", c.from,
		"to", c.to,
		"codec", codec.Name,
	)
	u.listener.OnIncoming(c)
	u.awaitAnswer(c, tx, canceled)
}

// awaitAnswer holds the INVITE handler until the call is settled and our
// final response is acknowledged. The server transaction is terminated
// as soon as the handler returns.
func (u *UA) awaitAnswer(c *call, tx sip.ServerTransaction, canceled <-chan struct{}) {
	select {
	case <-canceled:
		u.awaitCancelAck(tx)
		return
	case <-c.settled:
	case <-tx.Done():
		u.canceled(c)
		return
	case <-u.ctx.Done():
		return
	}

	if c.Status() == transport.StatusClosed {
		select {
		case <-canceled:
			u.awaitCancelAck(tx)
		default:
		}
		return
	}

	timer := time.NewTimer(terminatedCallTTL)
	defer timer.Stop()
	select {
	case <-c.acked:
	case req := <-tx.Acks():
		// ACK that reused the INVITE branch.
		if err := c.session.ReadAck(req, tx); err != nil {
			u.log.Debug("[SIP] ACK not matched", "call_id", c.id, "error", err)
			return
		}
		c.ack()
	case <-tx.Done():
	case <-u.ctx.Done():
	case <-timer.C:
		u.log.Warn("[SIP] No ACK for 200 OK", "call_id", c.id)
	}
}

// awaitCancelAck waits for the ACK to the 487 the transaction layer sent.
func (u *UA) awaitCancelAck(tx sip.ServerTransaction) {
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-tx.Acks():
	case <-tx.Done():
	case <-u.ctx.Done():
	case <-timer.C:
	}
}

// canceled ends a ringing inbound call the caller withdrew.
func (u *UA) canceled(c *call) {
	if !c.cancelRinging() {
		return
	}
	u.log.Info("[SIP] Caller canceled", "call_id", c.id)
	u.listener.OnCallEvent(c, transport.EventCancel, nil)
}

func (u *UA) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := u.lookup(req)
	if !ok || c.session == nil {
		return
	}
	if err := c.session.ReadAck(req, tx); err != nil {
		u.log.Debug("[SIP] ACK not matched", "call_id", c.id, "error", err)
		return
	}
	c.ack()
}

func (u *UA) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := u.lookup(req)
	if !ok || c.Status() == transport.StatusClosed {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}

	if c.session != nil {
		if err := c.session.ReadBye(req, tx); err != nil {
			u.log.Warn("[SIP] BYE handling failed", "call_id", c.id, "error", err)
			_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
		}
	} else {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	}

	u.log.Info("[SIP] Remote hangup", "call_id", c.id)
	c.finish()
	u.listener.OnCallEvent(c, transport.EventDisconnect, nil)
}

// handleCANCEL only sees CANCELs that matched no INVITE transaction.
func (u *UA) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	c, ok := u.lookup(req)
	if !ok || c.session == nil || c.Status() != transport.StatusRinging {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	if err := c.session.Respond(487, "Request Terminated", nil); err != nil {
		u.log.Debug("[SIP] Failed to send 487", "call_id", c.id, "error", err)
	}
	u.canceled(c)
}

func newTag() string {
	return uuid.NewString()[:8]
}

// Ensure UA implements transport.Transport
var _ transport.Transport = (*UA)(nil)
