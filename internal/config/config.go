// Package config provides configuration loading for the consoled command
// line front-ends (consoled-list, consoled-log). It is entirely outside the
// consoled library's boundary: the library only ever receives a resolved
// host string and the other already-parsed Config fields through
// consoled.Option values. This package's only job is turning a YAML file
// plus flags/environment variables into those concrete values.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// FrontendConfig is the schema a cmd/ front-end loads through Viper before
// constructing a consoled.Session. It intentionally knows nothing about the
// wire protocol; it only resolves the values consoled.Option needs.
type FrontendConfig struct {
	// Server is the consoled server hostname or IP, without a port.
	Server string `yaml:"server" mapstructure:"server" validate:"required,hostname|ip"`

	// Port is the TCP port the consoled server listens on.
	Port int `yaml:"port" mapstructure:"port" validate:"required,min=1,max=65535"`

	// Timeout bounds blocking Session calls (e.g. "5s", "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// StreamFilter is an optional CEL expression passed to
	// Session.SelectStreams; consoled-list prints only the matching
	// streams.
	StreamFilter string `yaml:"stream_filter" mapstructure:"stream_filter"`

	// Debug enables the Router's raw-frame logging and SQLite debug store.
	Debug bool `yaml:"debug" mapstructure:"debug"`

	// Verbose enables additional informational logging.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// SetDefaults fills in zero-valued optional fields with the same defaults
// consoled.Config itself would apply, so a front-end can log the effective
// configuration before constructing a Session.
func (c *FrontendConfig) SetDefaults() {
	if c.Server == "" {
		c.Server = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 29168
	}
	if c.Timeout == "" {
		c.Timeout = "5s"
	}
}

// TimeoutDuration parses Timeout, falling back to 5s if it is empty or
// malformed; front-ends validate before this is ever called in practice.
func (c *FrontendConfig) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Validate runs struct-tag validation over FrontendConfig.
func (c *FrontendConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("timeout: invalid duration %q: %w", c.Timeout, err)
		}
	}
	return nil
}
