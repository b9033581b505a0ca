package session

import "time"

const (
	DefaultMaxSegmentBytes = 4 << 20
	DefaultMaxMessageBytes = 1 << 30
)

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig names the certificate material for wss connections.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	SessionDeadAfter  time.Duration

	// BeginAckTimeout bounds the wait for the receiver to accept a
	// segmented message before any segment is written.
	BeginAckTimeout   time.Duration
	KeepaliveInterval time.Duration
	// InvokeTimeout applies when a caller passes a zero timeout.
	InvokeTimeout   time.Duration
	MaxSegmentBytes int
	MaxMessageBytes int64

	SecurityMode SecurityMode
	TLS          TLSConfig
	Backoff      BackoffConfig
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		SessionDeadAfter:  15 * time.Second,
		BeginAckTimeout:   15 * time.Second,
		KeepaliveInterval: 2 * time.Second,
		InvokeTimeout:     7 * time.Second,
		MaxSegmentBytes:   DefaultMaxSegmentBytes,
		MaxMessageBytes:   DefaultMaxMessageBytes,
		SecurityMode:      SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SessionDeadAfter <= 0 {
		c.SessionDeadAfter = def.SessionDeadAfter
	}
	if c.BeginAckTimeout <= 0 {
		c.BeginAckTimeout = def.BeginAckTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.InvokeTimeout <= 0 {
		c.InvokeTimeout = def.InvokeTimeout
	}
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = def.MaxSegmentBytes
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	if c.SecurityMode == "" {
		c.SecurityMode = def.SecurityMode
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}
