// Package config loads and validates the service configuration from the
// environment. The resulting Config value is constructed once at startup and
// threaded explicitly through constructors; nothing in this repository reads
// the environment after Load returns.
package config

import (
	"encoding/base64"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the runtime settings required to start the worker process.
// All runtime fields are required; the SMTP group is optional and, when
// absent, disables the email fallback in the channel resolver.
type Config struct {
	// TemporalHostPort is the durable-execution runtime endpoint, e.g.
	// "temporal.internal:7233".
	TemporalHostPort string `envconfig:"TEMPORAL_HOSTPORT" required:"true"`

	// TemporalNamespace is the Temporal namespace used for workflows and
	// schedules.
	TemporalNamespace string `envconfig:"TEMPORAL_NAMESPACE" default:"default"`

	// TaskQueue is the queue workers poll and workflows/activities run on.
	TaskQueue string `envconfig:"TASK_QUEUE" default:"chime-core"`

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ChannelKey is the base64-encoded 32-byte symmetric key used to
	// encrypt channel delivery URLs at rest.
	ChannelKey string `envconfig:"CHANNEL_KEY" required:"true"`

	// SMTP configures the service-level email fallback.
	SMTP SMTP
}

// SMTP holds the service SMTP credentials used when a subscription resolves
// to no channels. Two account pairs are supported: one used for unverified
// subscribers and one for verified subscribers. The group is optional; an
// empty Host disables the fallback entirely.
type SMTP struct {
	Host string `envconfig:"SMTP_HOST"`
	Port int    `envconfig:"SMTP_PORT" default:"587"`

	UnverifiedUser     string `envconfig:"SMTP_UNVERIFIED_USER"`
	UnverifiedPassword string `envconfig:"SMTP_UNVERIFIED_APP_PASSWORD"`

	VerifiedUser     string `envconfig:"SMTP_VERIFIED_USER"`
	VerifiedPassword string `envconfig:"SMTP_VERIFIED_APP_PASSWORD"`
}

// Enabled reports whether the fallback can be used at all.
func (s SMTP) Enabled() bool {
	return s.Host != "" && (s.UnverifiedUser != "" || s.VerifiedUser != "")
}

// Account returns the (user, password) pair to use for a subscriber with the
// given verification state. When the preferred pair is not configured the
// other pair is used so a partially configured service still has a fallback.
func (s SMTP) Account(verified bool) (user, password string, ok bool) {
	if !s.Enabled() {
		return "", "", false
	}
	if verified && s.VerifiedUser != "" {
		return s.VerifiedUser, s.VerifiedPassword, true
	}
	if s.UnverifiedUser != "" {
		return s.UnverifiedUser, s.UnverifiedPassword, true
	}
	return s.VerifiedUser, s.VerifiedPassword, true
}

// Load decodes the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("chime", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks constraints that envconfig tags cannot express.
func (c *Config) Validate() error {
	key, err := base64.StdEncoding.DecodeString(c.ChannelKey)
	if err != nil {
		return fmt.Errorf("config: CHANNEL_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("config: CHANNEL_KEY must decode to 32 bytes, got %d", len(key))
	}
	if c.SMTP.Host != "" && c.SMTP.Port <= 0 {
		return fmt.Errorf("config: SMTP_PORT must be positive when SMTP_HOST is set")
	}
	return nil
}

// ChannelKeyBytes returns the decoded encryption key. Validate must have
// succeeded before calling.
func (c *Config) ChannelKeyBytes() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.ChannelKey)
	return key
}
