package consoled

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultServer is the Config.Server value used when no WithServer option
// is supplied.
const DefaultServer = "127.0.0.1"

// DefaultPort is the consoled server's well-known TCP port.
const DefaultPort = 29168

// DefaultTimeout bounds blocking Session calls when no WithTimeout option
// is supplied.
const DefaultTimeout = 5 * time.Second

// StatusLifetime is the age at which a cached general status is considered
// stale and AvailableStreams requests a refresh.
const StatusLifetime = 120 * time.Second

// connectTimeout bounds the Router's TCP handshake.
const connectTimeout = 5 * time.Second

// Config configures a Session. Zero value fields are replaced by defaults
// inside New; construct one through functional Option values rather than
// a struct literal so future fields don't break callers.
type Config struct {
	// Server is the consoled server hostname or IP, without a port.
	Server string `validate:"required,hostname|ip"`

	// Port is the TCP port the server listens on.
	Port int `validate:"omitempty,min=1,max=65535"`

	// NoConnect skips the automatic Connect inside New.
	NoConnect bool

	// Timeout bounds blocking Session calls.
	Timeout time.Duration `validate:"required,min=1"`

	// Verbose enables additional informational logging.
	Verbose bool

	// Debug enables raw-frame logging in the Router (Debug-level lines on
	// Logger) and the SQLite debug store (consoled-debug.db in the working
	// directory). No raw.log file is written.
	Debug bool

	// TimestampData prefixes lines returned by ReadStream with the current
	// time, formatted per TimestampFmt.
	TimestampData bool

	// TimestampFmt is the time.Format layout used when TimestampData is set.
	TimestampFmt string

	// Logger receives the Session's and Router's log lines (protocol
	// errors, dropped frames, raw-frame tracing). Connects and disconnects
	// are not logged. Defaults to slog.Default().
	Logger *slog.Logger

	// MetricsRegistry, if set, causes the Session to register frame and
	// subscription counters/gauges with it.
	MetricsRegistry *prometheus.Registry

	// Tracer wraps blocking Session operations in spans. Defaults to a
	// no-op tracer so tracing is opt-in.
	Tracer trace.Tracer
}

// Option configures a Config. Functional options let Config grow new
// fields without breaking existing callers of New.
type Option func(*Config)

// WithServer sets the consoled server hostname or IP.
func WithServer(host string) Option {
	return func(c *Config) { c.Server = host }
}

// WithPort sets the consoled server's TCP port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithNoConnect skips the automatic Connect that New otherwise performs.
func WithNoConnect() Option {
	return func(c *Config) { c.NoConnect = true }
}

// WithTimeout sets the bound for blocking Session calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithVerbose enables additional informational logging.
func WithVerbose() Option {
	return func(c *Config) { c.Verbose = true }
}

// WithDebug enables raw-frame logging and the SQLite debug store.
func WithDebug() Option {
	return func(c *Config) { c.Debug = true }
}

// WithTimestampData enables timestamp prefixing of lines returned by
// ReadStream, using format (default time.RFC3339 if empty).
func WithTimestampData(format string) Option {
	return func(c *Config) {
		c.TimestampData = true
		if format != "" {
			c.TimestampFmt = format
		}
	}
}

// WithLogger sets the logger the Session and Router write their log lines
// to (protocol errors, dropped frames, raw-frame tracing).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithMetricsRegistry causes the Session to register its counters and
// gauges with reg.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) { c.MetricsRegistry = reg }
}

// WithTracer sets the tracer blocking Session operations report spans to.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) { c.Tracer = tracer }
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		Server:       DefaultServer,
		Port:         DefaultPort,
		Timeout:      DefaultTimeout,
		TimestampFmt: time.RFC3339,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("consoled")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			return &ConfigError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q validation", fe.Tag())}
		}
		return &ConfigError{Field: "Config", Reason: err.Error()}
	}
	if c.TimestampData && c.TimestampFmt == "" {
		return &ConfigError{Field: "TimestampFmt", Reason: "required when TimestampData is enabled"}
	}
	return nil
}
