package sipua

import (
	"errors"
	"time"
)

const (
	// activeCallTTL bounds how long a call entry may live.
	activeCallTTL = 4 * time.Hour
	// terminatedCallTTL keeps ended calls to absorb retransmissions (64*T1).
	terminatedCallTTL = 32 * time.Second
	// sweepInterval is how often expired call entries are removed.
	sweepInterval = 10 * time.Second
	// requestTimeout bounds non-INVITE transactions we originate.
	requestTimeout = 5 * time.Second
)

// Config describes the local endpoint and where it registers.
type Config struct {
	Username      string
	DisplayName   string
	Domain        string
	Registrar     string // host:port, also used as outbound proxy
	BindAddr      string
	AdvertiseAddr string
	Port          int
	Expires       time.Duration
	InviteTimeout time.Duration // how long an outbound call may go unanswered
	RTPPortMin    int           // zero lets the OS pick RTP ports
	RTPPortMax    int
}

func (c *Config) setDefaults() {
	if c.BindAddr == "" {
		c.BindAddr = "0.0.0.0"
	}
	if c.Expires <= 0 {
		c.Expires = time.Hour
	}
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = 60 * time.Second
	}
	if c.Registrar == "" {
		c.Registrar = c.Domain + ":5060"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if c.AdvertiseAddr == "" {
		errs = append(errs, errors.New("advertise address is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if (c.RTPPortMin == 0) != (c.RTPPortMax == 0) {
		errs = append(errs, errors.New("RTP port range needs both min and max"))
	}
	return errors.Join(errs...)
}
