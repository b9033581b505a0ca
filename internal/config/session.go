package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/dustin/go-humanize"
)

// sessionFile is the [session] table shared by both roles. Durations are
// Go duration strings, sizes accept humanized values such as "4MiB".
type sessionFile struct {
	ConnectTimeout    string      `toml:"connect_timeout"`
	HandshakeTimeout  string      `toml:"handshake_timeout"`
	WriteTimeout      string      `toml:"write_timeout"`
	HeartbeatInterval string      `toml:"heartbeat_interval"`
	SessionDeadAfter  string      `toml:"session_dead_after"`
	BeginAckTimeout   string      `toml:"begin_ack_timeout"`
	KeepaliveInterval string      `toml:"keepalive_interval"`
	InvokeTimeout     string      `toml:"invoke_timeout"`
	MaxSegmentBytes   string      `toml:"max_segment_bytes"`
	MaxMessageBytes   string      `toml:"max_message_bytes"`
	SecurityMode      string      `toml:"security_mode"`
	TLS               tlsFile     `toml:"tls"`
	Backoff           backoffFile `toml:"backoff"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// overlaySession applies every key defined under [session] onto cfg.
func overlaySession(meta toml.MetaData, raw sessionFile, cfg *session.Config) error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"session_dead_after", raw.SessionDeadAfter, &cfg.SessionDeadAfter},
		{"begin_ack_timeout", raw.BeginAckTimeout, &cfg.BeginAckTimeout},
		{"keepalive_interval", raw.KeepaliveInterval, &cfg.KeepaliveInterval},
		{"invoke_timeout", raw.InvokeTimeout, &cfg.InvokeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("session.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("session", "max_segment_bytes") {
		v, err := parseSize(raw.MaxSegmentBytes)
		if err != nil {
			return fmt.Errorf("session.max_segment_bytes: %w", err)
		}
		cfg.MaxSegmentBytes = int(v)
	}
	if meta.IsDefined("session", "max_message_bytes") {
		v, err := parseSize(raw.MaxMessageBytes)
		if err != nil {
			return fmt.Errorf("session.max_message_bytes: %w", err)
		}
		cfg.MaxMessageBytes = v
	}
	if meta.IsDefined("session", "security_mode") {
		cfg.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}

	if meta.IsDefined("session", "tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("session", "tls", "mutual") {
		cfg.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("session", "tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("session", "tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("session", "tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("session", "tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("session", "tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if meta.IsDefined("session", "backoff", "initial_delay") {
		v, err := parseDuration(raw.Backoff.InitialDelay)
		if err != nil {
			return fmt.Errorf("session.backoff.initial_delay: %w", err)
		}
		cfg.Backoff.InitialDelay = v
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("session", "backoff", "max_delay") {
		v, err := parseDuration(raw.Backoff.MaxDelay)
		if err != nil {
			return fmt.Errorf("session.backoff.max_delay: %w", err)
		}
		cfg.Backoff.MaxDelay = v
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	*cfg = cfg.WithDefaults()
	if cfg.SessionDeadAfter <= cfg.HeartbeatInterval {
		return fmt.Errorf("session.session_dead_after (%s) must exceed heartbeat_interval (%s)",
			cfg.SessionDeadAfter, cfg.HeartbeatInterval)
	}
	if int64(cfg.MaxSegmentBytes) > cfg.MaxMessageBytes {
		return fmt.Errorf("session.max_segment_bytes (%s) exceeds max_message_bytes (%s)",
			humanize.IBytes(uint64(cfg.MaxSegmentBytes)), humanize.IBytes(uint64(cfg.MaxMessageBytes)))
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return v, nil
}

func parseSize(raw string) (int64, error) {
	v, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if v == 0 || v > 1<<40 {
		return 0, fmt.Errorf("size %q out of range", raw)
	}
	return int64(v), nil
}
