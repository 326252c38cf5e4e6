// Package config handles TOML configuration parsing and validation for pxebootd.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for pxebootd.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	TFTP      TFTPConfig      `toml:"tftp"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ServerConfig holds Proxy DHCP server settings.
type ServerConfig struct {
	// Interfaces lists the network interfaces to bind UDP/67 listeners on.
	// Empty means "all interfaces with a usable IPv4 address" (spec.md §3.1).
	Interfaces []string `toml:"interfaces"`
	ServerID   string   `toml:"server_id"`
	LogLevel   string   `toml:"log_level"`
	PIDFile    string   `toml:"pid_file"`
}

// TFTPConfig holds read-only TFTP server settings.
type TFTPConfig struct {
	Listen              string `toml:"listen"`
	Root                string `toml:"root"`
	BlockSize           int    `toml:"block_size"`
	WindowSize          int    `toml:"window_size"`
	RetransmitTimeout   string `toml:"retransmit_timeout"`
	RetransmitRetries   int    `toml:"retransmit_retries"`
	TransferIdleTimeout string `toml:"transfer_idle_timeout"`
}

// RateLimitConfig holds Discover-only anti-flood settings (spec.md §4.5).
type RateLimitConfig struct {
	Enabled               bool `toml:"enabled"`
	MaxDiscoversPerSecond int  `toml:"max_discovers_per_second"`
	MaxPerMACPerSecond    int  `toml:"max_per_mac_per_second"`
}

// MetricsConfig holds the Prometheus /metrics + /healthz HTTP listener settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Load reads, parses, defaults, and validates a TOML config file. The
// config file is optional (spec.md §6): a missing path is not an error,
// and Load falls back to an empty Config before defaulting/validating.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file: proceed with defaults.
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = DefaultPIDFile
	}

	if cfg.TFTP.Listen == "" {
		cfg.TFTP.Listen = DefaultTFTPListen
	}
	if cfg.TFTP.Root == "" {
		cfg.TFTP.Root = DefaultTFTPRoot
	}
	if cfg.TFTP.BlockSize == 0 {
		cfg.TFTP.BlockSize = DefaultBlockSize
	}
	if cfg.TFTP.WindowSize == 0 {
		cfg.TFTP.WindowSize = DefaultWindowSize
	}
	if cfg.TFTP.RetransmitTimeout == "" {
		cfg.TFTP.RetransmitTimeout = DefaultRetransmitTimeout.String()
	}
	if cfg.TFTP.RetransmitRetries == 0 {
		cfg.TFTP.RetransmitRetries = DefaultRetransmitRetries
	}
	if cfg.TFTP.TransferIdleTimeout == "" {
		cfg.TFTP.TransferIdleTimeout = DefaultTransferIdleTimeout.String()
	}

	if cfg.RateLimit.MaxDiscoversPerSecond == 0 {
		cfg.RateLimit.MaxDiscoversPerSecond = DefaultRateLimitDiscovers
	}
	if cfg.RateLimit.MaxPerMACPerSecond == 0 {
		cfg.RateLimit.MaxPerMACPerSecond = DefaultRateLimitPerMAC
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}

// validate checks the config for internal consistency.
func validate(cfg *Config) error {
	if cfg.Server.ServerID != "" {
		if ip := net.ParseIP(cfg.Server.ServerID); ip == nil {
			return fmt.Errorf("server.server_id %q is not a valid IP address", cfg.Server.ServerID)
		}
	}

	if _, err := time.ParseDuration(cfg.TFTP.RetransmitTimeout); err != nil {
		return fmt.Errorf("tftp.retransmit_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.TFTP.TransferIdleTimeout); err != nil {
		return fmt.Errorf("tftp.transfer_idle_timeout: %w", err)
	}
	if cfg.TFTP.BlockSize < 8 || cfg.TFTP.BlockSize > DefaultMaxBlockSize {
		return fmt.Errorf("tftp.block_size must be between 8 and %d, got %d", DefaultMaxBlockSize, cfg.TFTP.BlockSize)
	}
	if cfg.TFTP.RetransmitRetries < 1 {
		return fmt.Errorf("tftp.retransmit_retries must be at least 1, got %d", cfg.TFTP.RetransmitRetries)
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.MaxDiscoversPerSecond < 1 {
			return fmt.Errorf("rate_limit.max_discovers_per_second must be at least 1")
		}
		if cfg.RateLimit.MaxPerMACPerSecond < 1 {
			return fmt.Errorf("rate_limit.max_per_mac_per_second must be at least 1")
		}
	}

	return nil
}

// RetransmitTimeoutDuration parses TFTP.RetransmitTimeout. Validated by Load,
// so the error is not expected in normal operation.
func (cfg *Config) RetransmitTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(cfg.TFTP.RetransmitTimeout)
	return d
}

// TransferIdleTimeoutDuration parses TFTP.TransferIdleTimeout.
func (cfg *Config) TransferIdleTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(cfg.TFTP.TransferIdleTimeout)
	return d
}

// ServerIP returns the configured server_id as a net.IP, or nil if unset.
func (cfg *Config) ServerIP() net.IP {
	if cfg.Server.ServerID == "" {
		return nil
	}
	return net.ParseIP(cfg.Server.ServerID)
}
