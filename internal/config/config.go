package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. OSC_RELAY_SERVER_UDP_PORT.
const EnvPrefix = "OSC_RELAY_"

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	HTTP    HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
	Stream  StreamConfig  `yaml:"stream" envPrefix:"STREAM_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	UDPPort              int    `yaml:"udp_port" env:"UDP_PORT"`
	BindAddress          string `yaml:"bind_address" env:"BIND_ADDRESS"`
	BufferSize           int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	MessageFormat        string `yaml:"message_format" env:"MESSAGE_FORMAT"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors" env:"MAX_CONSECUTIVE_ERRORS"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" env:"PORT"`
	Address string `yaml:"address" env:"ADDRESS"`
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
}

// StreamConfig contains WebSocket subscriber configuration
type StreamConfig struct {
	Path           string  `yaml:"path" env:"PATH"`
	SendQueueSize  int     `yaml:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	WriteTimeout   int     `yaml:"write_timeout" env:"WRITE_TIMEOUT"` // seconds
	PongTimeout    int     `yaml:"pong_timeout" env:"PONG_TIMEOUT"`   // seconds
	PingInterval   int     `yaml:"ping_interval" env:"PING_INTERVAL"` // seconds
	MaxMessageSize int64   `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	AcceptRate     float64 `yaml:"accept_rate" env:"ACCEPT_RATE"` // new connections per second
	AcceptBurst    int     `yaml:"accept_burst" env:"ACCEPT_BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Default returns the configuration used for any setting not present in the
// file or the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:              5000,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MessageFormat:        "osc",
			MaxConsecutiveErrors: 100,
		},
		HTTP: HTTPConfig{
			Port:    3000,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Stream: StreamConfig{
			Path:           "/ws",
			SendQueueSize:  64,
			WriteTimeout:   5,
			PongTimeout:    60,
			PingInterval:   54,
			MaxMessageSize: 512,
			AcceptRate:     10,
			AcceptBurst:    20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), a .env file in the working directory (if present) and
// OSC_RELAY_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields of config with any OSC_RELAY_* variables that are
// set. Unset variables leave the current values untouched.
func ApplyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 0 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MessageFormat == "" {
		return fmt.Errorf("message_format cannot be empty")
	}

	if s.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("max_consecutive_errors must be at least 1, got %d", s.MaxConsecutiveErrors)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 0 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got '%s'", s.Path)
	}

	if s.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", s.SendQueueSize)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.PongTimeout < 1 {
		return fmt.Errorf("pong_timeout must be at least 1 second, got %d", s.PongTimeout)
	}

	if s.PingInterval < 1 || s.PingInterval >= s.PongTimeout {
		return fmt.Errorf("ping_interval (%d) must be at least 1 second and less than pong_timeout (%d)",
			s.PingInterval, s.PongTimeout)
	}

	if s.MaxMessageSize < 1 {
		return fmt.Errorf("max_message_size must be positive, got %d", s.MaxMessageSize)
	}

	if s.AcceptRate <= 0 {
		return fmt.Errorf("accept_rate must be positive, got %f", s.AcceptRate)
	}

	if s.AcceptBurst < 1 {
		return fmt.Errorf("accept_burst must be at least 1, got %d", s.AcceptBurst)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (s *StreamConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetPongTimeoutDuration returns the pong timeout as a time.Duration
func (s *StreamConfig) GetPongTimeoutDuration() time.Duration {
	return time.Duration(s.PongTimeout) * time.Second
}

// GetPingIntervalDuration returns the ping interval as a time.Duration
func (s *StreamConfig) GetPingIntervalDuration() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}
