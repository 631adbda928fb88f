package sipua

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// authorization answers a 401/407 challenge for req. The capability
// token is the digest password.
func authorization(req *sip.Request, res *sip.Response, username, password string) (sip.Header, error) {
	challengeHdr, authHdr := "WWW-Authenticate", "Authorization"
	if res.StatusCode == 407 {
		challengeHdr, authHdr = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := res.GetHeader(challengeHdr)
	if h == nil {
		return nil, fmt.Errorf("%d without %s header", res.StatusCode, challengeHdr)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute digest: %w", err)
	}
	return sip.NewHeader(authHdr, cred.String()), nil
}

func isChallenge(res *sip.Response) bool {
	return res.StatusCode == 401 || res.StatusCode == 407
}
