// Package tokenserver issues capability tokens to softphone agents.
package tokenserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Agent is one account allowed to request tokens.
type Agent struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
	PhoneNumber  string `mapstructure:"phone_number"`
}

// Config holds the token service settings.
type Config struct {
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	Secret      string        `mapstructure:"secret"`
	Issuer      string        `mapstructure:"issuer"`
	TTL         time.Duration `mapstructure:"ttl"`
	Application string        `mapstructure:"application"` // outgoing voice application
	Agents      []Agent       `mapstructure:"agents"`
}

// LoadConfig reads tokenserver.yaml (when found) and TOKEN_* environment
// variables over the defaults. An explicit path overrides the search.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tokenserver")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("TOKEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8090)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("issuer", "agentphone-tokenserver")
	v.SetDefault("ttl", time.Hour)
	v.SetDefault("application", "agentphone")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", cfg.TTL)
	}
	return &cfg, nil
}

// Configured reports whether tokens can be signed.
func (c *Config) Configured() bool {
	return c.Secret != ""
}

func (c *Config) agent(username string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.Username == username {
			return a, true
		}
	}
	return Agent{}, false
}
