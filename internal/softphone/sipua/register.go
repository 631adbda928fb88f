package sipua

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
)

// minRefresh keeps a tiny granted expiry from turning into a busy loop.
const minRefresh = 5 * time.Second

// registrationLoop registers once, reports the outcome and then keeps
// the binding fresh at half its granted lifetime until the UA closes.
func (u *UA) registrationLoop() {
	ctx, cancel := context.WithTimeout(u.ctx, requestTimeout*2)
	granted, err := u.register(ctx, u.cfg.Expires)
	cancel()
	if err != nil {
		if u.ctx.Err() != nil {
			return
		}
		u.log.Error("[SIP] Registration failed", "registrar", u.cfg.Registrar, "error", err)
		u.listener.OnRegistrationError(err)
		return
	}

	aor, contact := u.aor(), u.contactURI()
	u.log.Info("[SIP] Registered",
		"aor", aor.String(),
		"contact", contact.String(),
		"expires", granted,
	)
	u.listener.OnRegistered()

	for {
		wait := granted / 2
		if wait < minRefresh {
			wait = minRefresh
		}
		timer := time.NewTimer(wait)
		select {
		case <-u.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(u.ctx, requestTimeout*2)
		granted, err = u.register(ctx, u.cfg.Expires)
		cancel()
		if err != nil {
			if u.ctx.Err() != nil {
				return
			}
			u.log.Error("[SIP] Registration refresh failed", "error", err)
			u.listener.OnError(fmt.Errorf("registration refresh: %w", err))
			return
		}
		u.log.Debug("[SIP] Registration refreshed", "expires", granted)
	}
}

// unregister removes our binding with a zero-expiry REGISTER.
func (u *UA) unregister(ctx context.Context) error {
	_, err := u.register(ctx, 0)
	return err
}

// register sends a REGISTER, answering one digest challenge, and returns
// the expiry the registrar granted.
func (u *UA) register(ctx context.Context, expires time.Duration) (time.Duration, error) {
	req := u.buildREGISTER(expires, nil)
	res, err := u.do(ctx, req)
	if err != nil {
		return 0, err
	}

	if isChallenge(res) {
		auth, err := authorization(req, res, u.cfg.Username, u.token)
		if err != nil {
			return 0, err
		}
		req = u.buildREGISTER(expires, auth)
		res, err = u.do(ctx, req)
		if err != nil {
			return 0, err
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, &ResponseError{Method: "REGISTER", Code: int(res.StatusCode), Reason: res.Reason}
	}
	return grantedExpiry(res, expires), nil
}

func (u *UA) buildREGISTER(expires time.Duration, auth sip.Header) *sip.Request {
	recipient := sip.Uri{Scheme: "sip", Host: u.cfg.Domain}
	req := sip.NewRequest(sip.REGISTER, recipient)

	aor := u.aor()
	fromParams := sip.NewParams()
	fromParams.Add("tag", u.regTag)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: u.cfg.DisplayName,
		Address:     aor,
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: aor,
		Params:  sip.NewParams(),
	})

	u.regMu.Lock()
	u.regCSeq++
	seq := u.regCSeq
	u.regMu.Unlock()

	callID := sip.CallIDHeader(u.regID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      seq,
		MethodName: sip.REGISTER,
	})
	req.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	if auth != nil {
		req.AppendHeader(auth)
	}
	req.SetDestination(u.cfg.Registrar)
	return req
}

// grantedExpiry reads the binding lifetime from a 2xx REGISTER response:
// the Contact expires parameter wins over the Expires header.
func grantedExpiry(res *sip.Response, requested time.Duration) time.Duration {
	if contact := res.Contact(); contact != nil {
		if v, ok := contact.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return requested
}
