package httpman

import (
	"fmt"
	"time"

	"github.com/golobby/config/v3"
)

// UseDefaultWorkerCount tells an acquisition call to use the worker count
// from the manager configuration instead of a caller-supplied one.
const UseDefaultWorkerCount = 0

// Config holds the process-wide settings consulted when new server
// instances are created. Properties of an already-running instance are
// fixed at first creation; later callers with different settings only get
// a warning (see ServerManager).
type Config struct {
	// HTTP2Enabled enables HTTP/2 on newly created servers: h2c on plain
	// HTTP servers, ALPN-negotiated h2 on HTTPS servers.
	HTTP2Enabled bool `yaml:"http2_enabled" toml:"http2_enabled" json:"http2_enabled" env:"HTTP2_ENABLED"`

	// DefaultWorkerCount is the connection worker count applied when a
	// caller passes UseDefaultWorkerCount.
	DefaultWorkerCount int `yaml:"default_worker_count" toml:"default_worker_count" json:"default_worker_count" env:"DEFAULT_WORKER_COUNT"`

	// ReadTimeout is the maximum duration for reading an entire request,
	// in seconds.
	ReadTimeout int `yaml:"read_timeout" toml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`

	// WriteTimeout is the maximum duration before timing out response
	// writes, in seconds.
	WriteTimeout int `yaml:"write_timeout" toml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// kept-alive connection, in seconds.
	IdleTimeout int `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown, in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Validate checks the configuration and fills in default values.
func (c *Config) Validate() error {
	if c.DefaultWorkerCount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkerCount, c.DefaultWorkerCount)
	}
	if c.DefaultWorkerCount == 0 {
		c.DefaultWorkerCount = 4
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30
	}
	return nil
}

// Timeout converts a timeout value in seconds to a time.Duration.
func (c *Config) Timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// ConfigProvider supplies a configuration object to the manager.
type ConfigProvider interface {
	GetConfig() any
}

// StdConfigProvider wraps a static configuration value.
type StdConfigProvider struct {
	cfg any
}

// NewStdConfigProvider creates a provider returning the given value.
func NewStdConfigProvider(cfg any) *StdConfigProvider {
	return &StdConfigProvider{cfg: cfg}
}

// GetConfig returns the wrapped configuration value.
func (s *StdConfigProvider) GetConfig() any {
	return s.cfg
}

// Feeder populates a configuration structure from some source (environment
// variables, YAML/TOML files). The feeders subpackage provides the
// implementations used here.
type Feeder = config.Feeder

// LoadConfig feeds cfg from the given feeders in order (later feeders
// override earlier ones), then validates and defaults it.
func LoadConfig(cfg *Config, feeders ...Feeder) error {
	builder := config.New()
	for _, f := range feeders {
		builder.AddFeeder(f)
	}
	builder.AddStruct(cfg)

	if err := builder.Feed(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigLoadFailed, err)
	}

	return cfg.Validate()
}
