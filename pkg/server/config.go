package server

import (
	"net/http"
	"time"
)

// SessionConfig holds per-connection configuration.
type SessionConfig struct {
	// ProbeInterval is the time between liveness probes sent to the
	// client. Default: 10 seconds.
	ProbeInterval time.Duration

	// MissInterval is the window in which a liveness acknowledgment must
	// arrive. A connection silent for a full interval is removed exactly
	// as if it had logged out. Must be >= ProbeInterval.
	// Default: 20 seconds.
	MissInterval time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket
	// message. Default: 64KB.
	MaxMessageSize int64

	// SendQueue is the size of the per-session outbound queue. A session
	// whose queue stays full is treated as dead. Default: 64.
	SendQueue int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ProbeInterval:  10 * time.Second,
		MissInterval:   20 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendQueue:      64,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on. Default: ":3000".
	Address string

	// AdminPassword protects the admin surface (kick, stats) with HTTP
	// basic auth. Empty disables the admin endpoints entirely.
	AdminPassword string

	// ReadBufferSize and WriteBufferSize size the WebSocket buffers.
	// Default: 4096 each.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin header during the WebSocket
	// upgrade. Default: allow all (same as the upgrader default for
	// same-origin deployments behind a proxy).
	CheckOrigin func(r *http.Request) bool

	// ShutdownTimeout bounds graceful shutdown. Default: 10 seconds.
	ShutdownTimeout time.Duration

	// SessionConfig is applied to every accepted connection.
	SessionConfig *SessionConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":3000",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
		ShutdownTimeout: 10 * time.Second,
		SessionConfig:   DefaultSessionConfig(),
	}
}

// withDefaults fills in zero fields from the defaults.
func (c *ServerConfig) withDefaults() *ServerConfig {
	if c == nil {
		return DefaultServerConfig()
	}
	defaults := DefaultServerConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.SessionConfig == nil {
		c.SessionConfig = defaults.SessionConfig
	} else {
		sc := c.SessionConfig
		sd := defaults.SessionConfig
		if sc.ProbeInterval == 0 {
			sc.ProbeInterval = sd.ProbeInterval
		}
		if sc.MissInterval == 0 {
			sc.MissInterval = sd.MissInterval
		}
		if sc.MissInterval < sc.ProbeInterval {
			sc.MissInterval = sc.ProbeInterval
		}
		if sc.WriteTimeout == 0 {
			sc.WriteTimeout = sd.WriteTimeout
		}
		if sc.MaxMessageSize == 0 {
			sc.MaxMessageSize = sd.MaxMessageSize
		}
		if sc.SendQueue == 0 {
			sc.SendQueue = sd.SendQueue
		}
	}
	return c
}
