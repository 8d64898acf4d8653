// Package config loads daemon and client configuration from an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon and client configuration.
type Config struct {
	// Data plane
	ListenHost string `yaml:"listen_host"`

	// Control plane
	SocketPath         string        `yaml:"socket_path"`
	ControlQueueSize   int           `yaml:"control_queue_size"`
	ControlReadTimeout time.Duration `yaml:"control_read_timeout"`

	// Daemon process
	PIDFile    string `yaml:"pid_file"`
	StdoutFile string `yaml:"stdout_file"`
	StderrFile string `yaml:"stderr_file"`

	// TLS
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`

	// Metrics (empty disables the endpoint)
	MetricsAddr string `yaml:"metrics_addr"`

	// Transfers
	CompressionLevel int   `yaml:"compression_level"` // 1 fastest .. 4 best
	MaxBandwidth     int64 `yaml:"max_bandwidth"`     // bytes/s, 0 = unlimited

	// Client
	ClientSessionFile string        `yaml:"client_session_file"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenHost:         "0.0.0.0",
		SocketPath:         "/tmp/file_share.sock",
		ControlQueueSize:   32,
		ControlReadTimeout: 10 * time.Second,
		PIDFile:            "/tmp/file_share.pid",
		StdoutFile:         "/tmp/file_share.out",
		StderrFile:         "/tmp/file_share.err",
		CertFile:           "~/.file_share/certs/cert.pem",
		KeyFile:            "~/.file_share/certs/key.pem",
		LogLevel:           "info",
		LogFormat:          "json",
		LogOutput:          "stderr",
		CompressionLevel:   2,
		ClientSessionFile:  "~/.file_share/client.yaml",
		DialTimeout:        10 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then FILESHARE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ListenHost = envOr("FILESHARE_LISTEN_HOST", cfg.ListenHost)
	cfg.SocketPath = envOr("FILESHARE_SOCKET_PATH", cfg.SocketPath)
	cfg.ControlQueueSize = envInt("FILESHARE_CONTROL_QUEUE_SIZE", cfg.ControlQueueSize)
	cfg.ControlReadTimeout = envDuration("FILESHARE_CONTROL_READ_TIMEOUT", cfg.ControlReadTimeout)
	cfg.PIDFile = envOr("FILESHARE_PID_FILE", cfg.PIDFile)
	cfg.StdoutFile = envOr("FILESHARE_STDOUT_FILE", cfg.StdoutFile)
	cfg.StderrFile = envOr("FILESHARE_STDERR_FILE", cfg.StderrFile)
	cfg.CertFile = envOr("FILESHARE_CERT_FILE", cfg.CertFile)
	cfg.KeyFile = envOr("FILESHARE_KEY_FILE", cfg.KeyFile)
	cfg.LogLevel = envOr("FILESHARE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("FILESHARE_LOG_FORMAT", cfg.LogFormat)
	cfg.LogOutput = envOr("FILESHARE_LOG_OUTPUT", cfg.LogOutput)
	cfg.MetricsAddr = envOr("FILESHARE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.CompressionLevel = envInt("FILESHARE_COMPRESSION_LEVEL", cfg.CompressionLevel)
	cfg.MaxBandwidth = envInt64("FILESHARE_MAX_BANDWIDTH", cfg.MaxBandwidth)
	cfg.ClientSessionFile = envOr("FILESHARE_CLIENT_SESSION_FILE", cfg.ClientSessionFile)
	cfg.DialTimeout = envDuration("FILESHARE_DIAL_TIMEOUT", cfg.DialTimeout)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CertFile = ExpandHome(cfg.CertFile)
	cfg.KeyFile = ExpandHome(cfg.KeyFile)
	cfg.ClientSessionFile = ExpandHome(cfg.ClientSessionFile)
	cfg.SocketPath = ExpandHome(cfg.SocketPath)
	cfg.PIDFile = ExpandHome(cfg.PIDFile)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.PIDFile == "" {
		return fmt.Errorf("pid_file is required")
	}
	if c.ControlQueueSize < 1 {
		return fmt.Errorf("control_queue_size must be positive, got %d", c.ControlQueueSize)
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("compression_level must be between 1 and 4, got %d", c.CompressionLevel)
	}
	if c.MaxBandwidth < 0 {
		return fmt.Errorf("max_bandwidth must not be negative")
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
