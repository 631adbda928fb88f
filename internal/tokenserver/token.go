package tokenserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotConfigured is returned when no signing secret is set
	ErrNotConfigured = errors.New("token service not configured")

	// ErrInvalidToken is returned by Verify for tokens it did not issue
	ErrInvalidToken = errors.New("invalid token")
)

// VoiceGrant is what the token allows the holder to do.
type VoiceGrant struct {
	Incoming struct {
		Allow bool `json:"allow"`
	} `json:"incoming"`
	Outgoing struct {
		ApplicationSID string `json:"application_sid"`
	} `json:"outgoing"`
}

// Grants is the grants claim.
type Grants struct {
	Identity string     `json:"identity"`
	Voice    VoiceGrant `json:"voice"`
}

// Claims are the JWT claims of a capability token.
type Claims struct {
	Grants Grants `json:"grants"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies capability tokens.
type Issuer struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	application string
	now         func() time.Time
}

// NewIssuer creates an issuer from cfg.
func NewIssuer(cfg *Config) *Issuer {
	return &Issuer{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		ttl:         cfg.TTL,
		application: cfg.Application,
		now:         time.Now,
	}
}

// Issue signs a token for identity and returns it with its expiry.
func (i *Issuer) Issue(identity string) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrNotConfigured
	}

	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Grants: Grants{Identity: identity},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	claims.Grants.Voice.Incoming.Allow = true
	claims.Grants.Voice.Outgoing.ApplicationSID = i.application

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and checks signature, issuer and expiry.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrNotConfigured
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &claims, nil
}
