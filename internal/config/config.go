// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this relay instance in log output.
	Name string `mapstructure:"name"`
}

// WebSocketConfig holds WebSocket acceptor settings.
type WebSocketConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// Path is the HTTP path upgraded to a WebSocket connection.
	Path string `mapstructure:"path"`
	// StaticDir is an optional directory served at "/". Empty disables static serving.
	StaticDir string `mapstructure:"static_dir"`
	// ReadLimit is the maximum size in bytes of an inbound frame.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout is the per-write deadline for outbound frames.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboundBuffer is the capacity of each session's outbound mailbox.
	OutboundBuffer int `mapstructure:"outbound_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// SessionConfig holds per-connection liveness settings.
type SessionConfig struct {
	// HeartbeatInterval is how often the server probes each client.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// ClientTimeout is how long a client may stay silent before it is disconnected.
	ClientTimeout time.Duration `mapstructure:"client_timeout"`
}

// BrokerConfig holds session registry and room directory settings.
type BrokerConfig struct {
	// RoomCodeLength is the number of characters in a generated room code.
	RoomCodeLength int `mapstructure:"room_code_length"`
	// MaxIDAttempts bounds session identity regeneration on collision.
	MaxIDAttempts int `mapstructure:"max_id_attempts"`
	// MaxCodeAttempts bounds room code regeneration on collision.
	MaxCodeAttempts int `mapstructure:"max_code_attempts"`
	// QueueSize is the capacity of the broker's operation queue.
	QueueSize int `mapstructure:"queue_size"`
	// ReclaimEmptyRooms deletes a room once its last member leaves.
	ReclaimEmptyRooms bool `mapstructure:"reclaim_empty_rooms"`
	// StatsInterval is how often session and room counts are logged. Zero disables it.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBroker(c.Broker); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 0 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 0-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with '/', got %q", w.Path))
	}
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}
	if w.OutboundBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.outbound_buffer must be >= 1, got %d", w.OutboundBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, "session.heartbeat_interval must be positive")
	}
	if s.ClientTimeout <= s.HeartbeatInterval {
		errs = append(errs, fmt.Sprintf("session.client_timeout (%s) must exceed session.heartbeat_interval (%s)", s.ClientTimeout, s.HeartbeatInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBroker(b BrokerConfig) error {
	var errs []string
	if b.RoomCodeLength < 1 || b.RoomCodeLength > 32 {
		errs = append(errs, fmt.Sprintf("broker.room_code_length must be 1-32, got %d", b.RoomCodeLength))
	}
	if b.MaxIDAttempts < 1 {
		errs = append(errs, fmt.Sprintf("broker.max_id_attempts must be >= 1, got %d", b.MaxIDAttempts))
	}
	if b.MaxCodeAttempts < 1 {
		errs = append(errs, fmt.Sprintf("broker.max_code_attempts must be >= 1, got %d", b.MaxCodeAttempts))
	}
	if b.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("broker.queue_size must be >= 1, got %d", b.QueueSize))
	}
	if b.StatsInterval < 0 {
		errs = append(errs, "broker.stats_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
//
// Postcondition: The returned Config passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "relay")

	v.SetDefault("websocket.host", "127.0.0.1")
	v.SetDefault("websocket.port", 8080)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.static_dir", "")
	v.SetDefault("websocket.read_limit", 4096)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.outbound_buffer", 64)

	v.SetDefault("session.heartbeat_interval", "5s")
	v.SetDefault("session.client_timeout", "30s")

	v.SetDefault("broker.room_code_length", 6)
	v.SetDefault("broker.max_id_attempts", 8)
	v.SetDefault("broker.max_code_attempts", 64)
	v.SetDefault("broker.queue_size", 1024)
	v.SetDefault("broker.reclaim_empty_rooms", true)
	v.SetDefault("broker.stats_interval", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
