package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "roomverse.json"

	// DefaultAddress is the default server listen address.
	DefaultAddress = ":3000"

	// DefaultProbeInterval is the default liveness probe spacing.
	DefaultProbeInterval = "10s"

	// DefaultMissInterval is the default liveness acknowledgment window.
	DefaultMissInterval = "20s"

	// DefaultLogLevel and DefaultLogFormat configure logging.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config represents the complete roomverse.json configuration.
type Config struct {
	// Name is the deployment name, included as a constant label on
	// metrics when set.
	Name string `json:"name,omitempty"`

	// Server contains the HTTP/WebSocket server settings.
	Server ServerConfig `json:"server,omitempty"`

	// Liveness contains the heartbeat timer settings.
	Liveness LivenessConfig `json:"liveness,omitempty"`

	// Voice contains the WebRTC mesh settings.
	Voice VoiceConfig `json:"voice,omitempty"`

	// Log contains logging settings.
	Log LogConfig `json:"log,omitempty"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// ServerConfig contains the HTTP/WebSocket server settings.
type ServerConfig struct {
	// Address is the listen address (default ":3000").
	Address string `json:"address,omitempty" envconfig:"ADDRESS"`

	// AdminPassword enables the basic-auth admin surface. Empty
	// disables it.
	AdminPassword string `json:"adminPassword,omitempty" envconfig:"ADMIN_PASSWORD"`
}

// LivenessConfig contains the heartbeat timer settings as duration
// strings, e.g. "10s".
type LivenessConfig struct {
	// ProbeInterval is the spacing between liveness probes.
	ProbeInterval string `json:"probeInterval,omitempty" envconfig:"PROBE_INTERVAL"`

	// MissInterval is the window in which a client must acknowledge a
	// probe before it is removed.
	MissInterval string `json:"missInterval,omitempty" envconfig:"MISS_INTERVAL"`
}

// VoiceConfig contains the WebRTC mesh settings.
type VoiceConfig struct {
	// STUNServers lists STUN server URLs, e.g. "stun:stun.l.google.com:19302".
	// Empty works on a LAN.
	STUNServers []string `json:"stunServers,omitempty" envconfig:"STUN_SERVERS"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" envconfig:"LOG_LEVEL"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" envconfig:"LOG_FORMAT"`
}

// New returns a Config with defaults applied.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads roomverse.json from dir, applies defaults and environment
// overrides. A missing file yields the default configuration.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c := New()
		if err := c.applyEnv(); err != nil {
			return nil, err
		}
		return c, c.Validate()
	}
	return LoadFile(path)
}

// LoadFile reads a specific configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	c.configPath = path
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Path returns where the config was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in zero fields.
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Liveness.ProbeInterval == "" {
		c.Liveness.ProbeInterval = DefaultProbeInterval
	}
	if c.Liveness.MissInterval == "" {
		c.Liveness.MissInterval = DefaultMissInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// envOverrides mirrors the override-able fields for envconfig. Nested
// struct tags would make ROOMVERSE_SERVER_ADDRESS; a flat overlay keeps
// the variable names short.
type envOverrides struct {
	Address       string   `envconfig:"ADDRESS"`
	AdminPassword string   `envconfig:"ADMIN_PASSWORD"`
	ProbeInterval string   `envconfig:"PROBE_INTERVAL"`
	MissInterval  string   `envconfig:"MISS_INTERVAL"`
	STUNServers   []string `envconfig:"STUN_SERVERS"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	LogFormat     string   `envconfig:"LOG_FORMAT"`
}

// applyEnv overrides file values from ROOMVERSE_* variables.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("roomverse", &env); err != nil {
		return fmt.Errorf("config: reading environment: %w", err)
	}

	if env.Address != "" {
		c.Server.Address = env.Address
	}
	if env.AdminPassword != "" {
		c.Server.AdminPassword = env.AdminPassword
	}
	if env.ProbeInterval != "" {
		c.Liveness.ProbeInterval = env.ProbeInterval
	}
	if env.MissInterval != "" {
		c.Liveness.MissInterval = env.MissInterval
	}
	if len(env.STUNServers) > 0 {
		c.Voice.STUNServers = env.STUNServers
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Log.Format = env.LogFormat
	}
	return nil
}

// Validate checks the configuration for well-formedness.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Liveness.ProbeInterval); err != nil {
		return fmt.Errorf("config: liveness.probeInterval: %w", err)
	}
	if _, err := time.ParseDuration(c.Liveness.MissInterval); err != nil {
		return fmt.Errorf("config: liveness.missInterval: %w", err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// ProbeInterval returns the parsed probe interval.
func (c *Config) ProbeInterval() time.Duration {
	d, _ := time.ParseDuration(c.Liveness.ProbeInterval)
	return d
}

// MissInterval returns the parsed miss interval.
func (c *Config) MissInterval() time.Duration {
	d, _ := time.ParseDuration(c.Liveness.MissInterval)
	return d
}

// SlogLevel maps the configured level to slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds a slog.Logger per the Log settings, writing to w.
func (c *Config) Logger(w *os.File) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Exists reports whether dir carries a roomverse.json.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
