package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the softphone configuration
type Config struct {
	LogLevel string        `yaml:"log_level"`
	SIP      SIPConfig     `yaml:"sip"`
	Token    TokenConfig   `yaml:"token"`
	Calls    CallsConfig   `yaml:"calls"`
	API      APIConfig     `yaml:"api"`
	History  HistoryConfig `yaml:"history"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
}

// SIPConfig configures the SIP user agent
type SIPConfig struct {
	Username      string        `yaml:"username"`
	DisplayName   string        `yaml:"display_name"`
	Domain        string        `yaml:"domain"`
	Registrar     string        `yaml:"registrar"` // host:port, defaults to Domain:5060
	BindAddr      string        `yaml:"bind"`
	AdvertiseAddr string        `yaml:"advertise"`
	Port          int           `yaml:"port"`
	Expires       time.Duration `yaml:"expires"`
	CallerID      string        `yaml:"caller_id"` // E.164 number presented on outbound calls
	RTPPortMin    int           `yaml:"rtp_port_min"`
	RTPPortMax    int           `yaml:"rtp_port_max"`
}

// TokenConfig points at the capability token endpoint
type TokenConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CallsConfig holds call-handling behaviour
type CallsConfig struct {
	RingTimeout   time.Duration `yaml:"ring_timeout"`
	AutoAnswer    bool          `yaml:"auto_answer"`
	Notifications bool          `yaml:"notifications"` // announce incoming calls on the console
}

// APIConfig holds listener addresses
type APIConfig struct {
	Addr       string `yaml:"addr"`
	HealthAddr string `yaml:"health_addr"` // gRPC health service
}

// HistoryConfig locates the call log database
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig configures call event publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Defaults returns a configuration populated with default values
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		SIP: SIPConfig{
			BindAddr: "0.0.0.0",
			Port:     5070,
			Expires:  time.Hour,
		},
		Token: TokenConfig{
			URL: "http://localhost:8090/api/token",
		},
		Calls: CallsConfig{
			RingTimeout:   30 * time.Second,
			Notifications: true,
		},
		API: APIConfig{
			Addr:       "0.0.0.0:8080",
			HealthAddr: "0.0.0.0:9091",
		},
		History: HistoryConfig{
			Path: "agentphone.db",
		},
		MQTT: MQTTConfig{
			ClientID:    "agentphone",
			TopicPrefix: "agentphone",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// command line flags and finally environment variables.
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("agentphone", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("AGENTPHONE_CONFIG"), "Path to YAML config file")
	username := fs.String("user", "", "SIP username (agent extension)")
	domain := fs.String("domain", "", "SIP domain")
	registrar := fs.String("registrar", "", "Registrar host:port (defaults to domain:5060)")
	port := fs.Int("port", cfg.SIP.Port, "SIP listening port")
	bind := fs.String("bind", cfg.SIP.BindAddr, "SIP bind address")
	advertise := fs.String("advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	tokenURL := fs.String("token-url", cfg.Token.URL, "Capability token endpoint")
	apiAddr := fs.String("api", cfg.API.Addr, "HTTP API listen address")
	historyPath := fs.String("history", cfg.History.Path, "Call history database path")
	logLevel := fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, cfg); err != nil {
			return nil, err
		}
	}

	// Only flags given explicitly override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "user":
			cfg.SIP.Username = *username
		case "domain":
			cfg.SIP.Domain = *domain
		case "registrar":
			cfg.SIP.Registrar = *registrar
		case "port":
			cfg.SIP.Port = *port
		case "bind":
			cfg.SIP.BindAddr = *bind
		case "advertise":
			cfg.SIP.AdvertiseAddr = *advertise
		case "token-url":
			cfg.Token.URL = *tokenURL
		case "api":
			cfg.API.Addr = *apiAddr
		case "history":
			cfg.History.Path = *historyPath
		case "loglevel":
			cfg.LogLevel = *logLevel
		}
	})

	applyEnv(cfg)

	if cfg.SIP.Registrar == "" && cfg.SIP.Domain != "" {
		cfg.SIP.Registrar = net.JoinHostPort(cfg.SIP.Domain, "5060")
	}
	if cfg.SIP.AdvertiseAddr == "" || !isValidAddress(cfg.SIP.AdvertiseAddr) {
		cfg.SIP.AdvertiseAddr = getPrimaryInterfaceIP()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SIP_USER"); v != "" {
		cfg.SIP.Username = v
	}
	if v := os.Getenv("SIP_DOMAIN"); v != "" {
		cfg.SIP.Domain = v
	}
	if v := os.Getenv("SIP_REGISTRAR"); v != "" {
		cfg.SIP.Registrar = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIP.Port = p
		}
	}
	if v := os.Getenv("BIND"); v != "" {
		cfg.SIP.BindAddr = v
	}
	if v := os.Getenv("ADVERTISE"); v != "" {
		cfg.SIP.AdvertiseAddr = v
	}
	if v := os.Getenv("RTP_PORT_MIN"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIP.RTPPortMin = p
		}
	}
	if v := os.Getenv("RTP_PORT_MAX"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIP.RTPPortMax = p
		}
	}
	if v := os.Getenv("CALLER_ID"); v != "" {
		cfg.SIP.CallerID = v
	}
	if v := os.Getenv("TOKEN_URL"); v != "" {
		cfg.Token.URL = v
	}
	if v := os.Getenv("TOKEN_USER"); v != "" {
		cfg.Token.Username = v
	}
	if v := os.Getenv("TOKEN_PASSWORD"); v != "" {
		cfg.Token.Password = v
	}
	if v := os.Getenv("RING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Calls.RingTimeout = d
		}
	}
	if v := os.Getenv("AUTO_ANSWER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Calls.AutoAnswer = b
		}
	}
	if v := os.Getenv("NOTIFICATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Calls.Notifications = b
		}
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.SIP.Username == "" {
		errs = append(errs, errors.New("sip.username is required"))
	}
	if c.SIP.Domain == "" {
		errs = append(errs, errors.New("sip.domain is required"))
	}
	if c.SIP.Port < 1 || c.SIP.Port > 65535 {
		errs = append(errs, fmt.Errorf("sip.port must be between 1 and 65535, got %d", c.SIP.Port))
	}
	if c.SIP.Expires < time.Minute {
		errs = append(errs, fmt.Errorf("sip.expires must be at least 1m, got %s", c.SIP.Expires))
	}
	if c.SIP.RTPPortMin != 0 || c.SIP.RTPPortMax != 0 {
		if c.SIP.RTPPortMin < 1024 || c.SIP.RTPPortMax > 65535 || c.SIP.RTPPortMin >= c.SIP.RTPPortMax {
			errs = append(errs, fmt.Errorf("sip.rtp_port_min/max must form a range within 1024-65535, got %d-%d", c.SIP.RTPPortMin, c.SIP.RTPPortMax))
		}
	}
	if c.Token.URL == "" {
		errs = append(errs, errors.New("token.url is required"))
	}
	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, errors.New("calls.ring_timeout must be positive"))
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		errs = append(errs, errors.New("mqtt.topic_prefix is required when mqtt.broker is set"))
	}
	return errors.Join(errs...)
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}

// Summary lists the effective settings for the startup banner
func (c *Config) Summary() [][2]string {
	mqtt := "disabled"
	if c.MQTT.Broker != "" {
		mqtt = c.MQTT.Broker
	}
	return [][2]string{
		{"Agent", c.SIP.Username + "@" + c.SIP.Domain},
		{"Registrar", c.SIP.Registrar},
		{"SIP", net.JoinHostPort(c.SIP.AdvertiseAddr, strconv.Itoa(c.SIP.Port))},
		{"RTP ports", rtpPorts(c.SIP)},
		{"Token URL", c.Token.URL},
		{"Ring timeout", c.Calls.RingTimeout.String()},
		{"Auto answer", strconv.FormatBool(c.Calls.AutoAnswer)},
		{"Notifications", strconv.FormatBool(c.Calls.Notifications)},
		{"API", c.API.Addr},
		{"Health (gRPC)", c.API.HealthAddr},
		{"History", c.History.Path},
		{"MQTT", mqtt},
		{"Log level", strings.ToLower(c.LogLevel)},
	}
}

func rtpPorts(c SIPConfig) string {
	if c.RTPPortMin == 0 {
		return "any"
	}
	return fmt.Sprintf("%d-%d", c.RTPPortMin, c.RTPPortMax)
}
