package sipua

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/agentphone/internal/softphone/transport"
)

func testConfig() Config {
	cfg := Config{
		Username:      "1001",
		DisplayName:   "Agent 1001",
		Domain:        "pbx.example.com",
		AdvertiseAddr: "192.0.2.5",
		Port:          5070,
	}
	cfg.setDefaults()
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := testConfig()
	if cfg.BindAddr != "0.0.0.0" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.Registrar != "pbx.example.com:5060" {
		t.Errorf("Registrar = %q", cfg.Registrar)
	}
	if cfg.Expires != time.Hour || cfg.InviteTimeout != time.Minute {
		t.Errorf("Expires = %v, InviteTimeout = %v", cfg.Expires, cfg.InviteTimeout)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	var cfg Config
	err := cfg.validate()
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"username", "domain", "advertise", "port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}, "tok", nil); err == nil {
		t.Error("expected error")
	}

	cfg := testConfig()
	cfg.RTPPortMin = 40000
	if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "RTP port range") {
		t.Errorf("half-open RTP range: err = %v", err)
	}
	cfg.RTPPortMax = 30000
	if _, err := New(cfg, "tok", nil); err == nil {
		t.Error("inverted RTP range accepted")
	}
}

func TestResponseError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &ResponseError{Method: "REGISTER", Code: 403, Reason: "Forbidden"})
	if !IsAuthFailure(err) {
		t.Error("403 should be an auth failure")
	}
	if IsAuthFailure(&ResponseError{Method: "INVITE", Code: 486, Reason: "Busy Here"}) {
		t.Error("486 is not an auth failure")
	}
	if IsAuthFailure(errors.New("boom")) {
		t.Error("plain error is not an auth failure")
	}
	if got := (&ResponseError{Method: "INVITE", Code: 404, Reason: "Not Found"}).Error(); got != "INVITE failed: 404 Not Found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAuthorization(t *testing.T) {
	u := &UA{cfg: testConfig(), regID: "reg-1", regTag: "abc"}
	req := u.buildREGISTER(time.Hour, nil)

	tests := []struct {
		name   string
		code   int
		header string
		want   string
	}{
		{"www", 401, "WWW-Authenticate", "Authorization"},
		{"proxy", 407, "Proxy-Authenticate", "Proxy-Authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sip.NewResponse(sip.StatusCode(tt.code), "Challenge")
			res.AppendHeader(sip.NewHeader(tt.header, `Digest realm="pbx", nonce="n0nce", algorithm=MD5`))
			if !isChallenge(res) {
				t.Fatal("isChallenge = false")
			}

			h, err := authorization(req, res, "1001", "secret-token")
			if err != nil {
				t.Fatalf("authorization: %v", err)
			}
			if h.Name() != tt.want {
				t.Errorf("header = %s, want %s", h.Name(), tt.want)
			}
			for _, part := range []string{`username="1001"`, `realm="pbx"`, `nonce="n0nce"`, "response="} {
				if !strings.Contains(h.Value(), part) {
					t.Errorf("credentials %q missing %s", h.Value(), part)
				}
			}
		})
	}
}

func TestAuthorizationMissingChallenge(t *testing.T) {
	u := &UA{cfg: testConfig()}
	req := u.buildREGISTER(time.Hour, nil)
	res := sip.NewResponse(401, "Unauthorized")
	if _, err := authorization(req, res, "1001", "x"); err == nil {
		t.Error("expected error without WWW-Authenticate")
	}
}

func TestBuildREGISTER(t *testing.T) {
	u := &UA{cfg: testConfig(), regID: "reg-1", regTag: "abc"}

	first := u.buildREGISTER(time.Hour, nil)
	second := u.buildREGISTER(0, sip.NewHeader("Authorization", "Digest x"))

	if first.Method != sip.REGISTER {
		t.Errorf("method = %s", first.Method)
	}
	if first.Recipient.Host != "pbx.example.com" {
		t.Errorf("request URI = %s", first.Recipient.String())
	}
	if first.CallID().Value() != second.CallID().Value() {
		t.Error("REGISTERs should share a Call-ID")
	}
	if second.CSeq().SeqNo != first.CSeq().SeqNo+1 {
		t.Errorf("CSeq %d after %d", second.CSeq().SeqNo, first.CSeq().SeqNo)
	}
	if got := first.GetHeader("Expires").Value(); got != "3600" {
		t.Errorf("Expires = %s", got)
	}
	if got := second.GetHeader("Expires").Value(); got != "0" {
		t.Errorf("unregister Expires = %s", got)
	}
	if second.GetHeader("Authorization") == nil {
		t.Error("credentials not attached")
	}
	if c := first.Contact(); c == nil || c.Address.Host != "192.0.2.5" || c.Address.Port != 5070 {
		t.Errorf("contact = %v", c)
	}
}

func TestGrantedExpiry(t *testing.T) {
	res := sip.NewResponse(200, "OK")
	if got := grantedExpiry(res, time.Hour); got != time.Hour {
		t.Errorf("no expiry = %v, want requested", got)
	}

	res.AppendHeader(sip.NewHeader("Expires", "600"))
	if got := grantedExpiry(res, time.Hour); got != 10*time.Minute {
		t.Errorf("Expires header = %v", got)
	}

	params := sip.NewParams()
	params.Add("expires", "120")
	res.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{Scheme: "sip", User: "1001", Host: "192.0.2.5"},
		Params:  params,
	})
	if got := grantedExpiry(res, time.Hour); got != 2*time.Minute {
		t.Errorf("contact expires = %v", got)
	}
}

func TestBuildINVITE(t *testing.T) {
	u := &UA{cfg: testConfig()}
	invite, err := u.buildINVITE("call-1", transport.ConnectParams{To: "+15551234567", CallerID: "+15550000000"}, []byte("v=0\r\n"))
	if err != nil {
		t.Fatalf("buildINVITE: %v", err)
	}

	if invite.Recipient.User != "+15551234567" || invite.Recipient.Host != "pbx.example.com" {
		t.Errorf("request URI = %s", invite.Recipient.String())
	}
	if invite.CallID().Value() != "call-1" {
		t.Errorf("Call-ID = %s", invite.CallID().Value())
	}
	if tag, ok := invite.From().Params.Get("tag"); !ok || tag == "" {
		t.Error("From has no tag")
	}
	if _, ok := invite.To().Params.Get("tag"); ok {
		t.Error("To must not carry a tag")
	}
	if h := invite.GetHeader("P-Asserted-Identity"); h == nil || !strings.Contains(h.Value(), "+15550000000") {
		t.Errorf("P-Asserted-Identity = %v", h)
	}
	if h := invite.GetHeader("Content-Type"); h == nil || h.Value() != "application/sdp" {
		t.Errorf("Content-Type = %v", h)
	}
	if invite.Destination() != "pbx.example.com:5060" {
		t.Errorf("destination = %s", invite.Destination())
	}
}
