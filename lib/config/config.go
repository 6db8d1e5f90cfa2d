// Package config provides TOML-backed configuration for the respool
// daemon: pool sizing, the backend the factory dials, and the metrics
// endpoint.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/go-i2p/respool/lib/factory"
	"github.com/go-i2p/respool/lib/pool"
)

// Default configuration values
const (
	DefaultSAMAddress    = "127.0.0.1:7656"
	DefaultMetricsListen = "127.0.0.1:9091"
)

// Backend kinds accepted in backend.kind.
const (
	BackendTCP = "tcp"
	BackendI2P = "i2p"
	BackendSQL = "sql"
)

// Config holds all configuration for a respool instance.
type Config struct {
	Pool    PoolConfig    `toml:"pool"`
	Backend BackendConfig `toml:"backend"`
	Metrics MetricsConfig `toml:"metrics"`
}

// PoolConfig contains pool sizing and lifecycle settings.
type PoolConfig struct {
	// MinSize is the number of resources kept warm
	MinSize int `toml:"min_size"`
	// MaxSize is the hard cap on total resources
	MaxSize int `toml:"max_size"`
	// IdleTimeout is how long a resource may sit idle before eviction
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// ValidationInterval is how long a validation result stays fresh
	ValidationInterval time.Duration `toml:"validation_interval"`
	// CheckoutTimeout bounds how long a checkout waits for a resource
	CheckoutTimeout time.Duration `toml:"checkout_timeout"`
	// CheckoutRetries is how many replacement attempts follow a
	// validation failure
	CheckoutRetries int `toml:"checkout_retries"`
	// ReapInterval is how often idle resources are swept
	ReapInterval time.Duration `toml:"reap_interval"`
	// CreateRate caps resource creation per second (0 = unlimited)
	CreateRate float64 `toml:"create_rate"`
	// CreateBurst is the creation burst size when create_rate is set
	CreateBurst int `toml:"create_burst"`
}

// BackendConfig selects and configures the resource factory.
type BackendConfig struct {
	// Kind is one of "tcp", "i2p" or "sql"
	Kind string     `toml:"kind"`
	TCP  TCPBackend `toml:"tcp"`
	I2P  I2PBackend `toml:"i2p"`
	SQL  SQLBackend `toml:"sql"`
}

// TCPBackend configures the TCP factory.
type TCPBackend struct {
	// Address is the host:port to dial
	Address string `toml:"address"`
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `toml:"dial_timeout"`
}

// I2PBackend configures the I2P factory.
type I2PBackend struct {
	// Name is the tunnel name registered with the SAM bridge
	Name string `toml:"name"`
	// SAMAddress is the SAM bridge address (host:port)
	SAMAddress string `toml:"sam_address"`
	// Destination is the remote I2P destination to dial
	Destination string `toml:"destination"`
	// Options are SAM tunnel options (e.g. "inbound.length=2")
	Options []string `toml:"options,omitempty"`
}

// SQLBackend configures the MySQL factory.
type SQLBackend struct {
	// DSN is the MySQL data source name
	DSN string `toml:"dsn"`
	// ProbeQuery overrides the validation statement
	ProbeQuery string `toml:"probe_query,omitempty"`
}

// MetricsConfig contains metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics server is started
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the metrics server to
	Listen string `toml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	pc := pool.DefaultConfig()
	return &Config{
		Pool: PoolConfig{
			MinSize:            pc.MinSize,
			MaxSize:            pc.MaxSize,
			IdleTimeout:        pc.IdleTimeout,
			ValidationInterval: pc.ValidationInterval,
			CheckoutTimeout:    pc.CheckoutTimeout,
			CheckoutRetries:    pc.CheckoutRetries,
		},
		Backend: BackendConfig{
			Kind: BackendTCP,
			I2P: I2PBackend{
				SAMAddress: DefaultSAMAddress,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
	}
}

// LoadConfig reads configuration from a TOML file and overlays any
// RESPOOL_* environment variables. If the file doesn't exist, defaults
// plus environment overrides are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pool.MaxSize < 1 {
		return errors.New("pool.max_size must be at least 1")
	}
	if c.Pool.MinSize < 0 {
		return errors.New("pool.min_size must not be negative")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return errors.New("pool.min_size must not exceed pool.max_size")
	}
	switch c.Backend.Kind {
	case BackendTCP:
		if c.Backend.TCP.Address == "" {
			return errors.New("backend.tcp.address is required")
		}
	case BackendI2P:
		if c.Backend.I2P.Destination == "" {
			return errors.New("backend.i2p.destination is required")
		}
		if c.Backend.I2P.SAMAddress == "" {
			return errors.New("backend.i2p.sam_address is required")
		}
	case BackendSQL:
		if c.Backend.SQL.DSN == "" {
			return errors.New("backend.sql.dsn is required")
		}
	default:
		return fmt.Errorf("backend.kind must be one of %q, %q or %q", BackendTCP, BackendI2P, BackendSQL)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	return nil
}

// PoolConfig converts the TOML pool table into the pool package's
// configuration type.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MinSize:            c.Pool.MinSize,
		MaxSize:            c.Pool.MaxSize,
		IdleTimeout:        c.Pool.IdleTimeout,
		ValidationInterval: c.Pool.ValidationInterval,
		CheckoutTimeout:    c.Pool.CheckoutTimeout,
		CheckoutRetries:    c.Pool.CheckoutRetries,
		ReapInterval:       c.Pool.ReapInterval,
		CreateRate:         c.Pool.CreateRate,
		CreateBurst:        c.Pool.CreateBurst,
	}
}

// TCPFactoryConfig converts the TOML backend.tcp table.
func (c *Config) TCPFactoryConfig() factory.TCPConfig {
	return factory.TCPConfig{
		Address:     c.Backend.TCP.Address,
		DialTimeout: c.Backend.TCP.DialTimeout,
	}
}

// I2PFactoryConfig converts the TOML backend.i2p table.
func (c *Config) I2PFactoryConfig() factory.I2PConfig {
	return factory.I2PConfig{
		Name:        c.Backend.I2P.Name,
		SAMAddress:  c.Backend.I2P.SAMAddress,
		Destination: c.Backend.I2P.Destination,
		Options:     c.Backend.I2P.Options,
	}
}

// SQLFactoryConfig converts the TOML backend.sql table.
func (c *Config) SQLFactoryConfig() factory.SQLConfig {
	return factory.SQLConfig{
		DSN:        c.Backend.SQL.DSN,
		ProbeQuery: c.Backend.SQL.ProbeQuery,
	}
}
