// Package client is the dialer role: it connects to a listener and binds
// the connection to a peer with its own command registry.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/transport"
	"github.com/danmuck/wser/internal/transport/wsconn"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const DefaultURL = "ws://127.0.0.1:5005/"

var (
	ErrURLRequired       = errors.New("client: url required")
	ErrUnsupportedScheme = errors.New("client: unsupported url scheme")
	ErrHandshakeRejected = errors.New("client: handshake rejected")
)

// Config holds the dialer settings.
type Config struct {
	URL    string
	Header http.Header
	// MaxConnectAttempts bounds the initial dial; zero retries until ctx ends.
	MaxConnectAttempts int
	Session            session.Config
}

func DefaultConfig() Config {
	return Config{
		URL:                DefaultURL,
		MaxConnectAttempts: 1,
		Session:            session.DefaultConfig(),
	}
}

// Client dials listeners. Each Connect yields an independent peer.
type Client struct {
	cfg      Config
	target   *url.URL
	logger   zerolog.Logger
	commands *peer.Registry
	backoff  *session.DialBackoff
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	target, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	switch target.Scheme {
	case "ws":
		if cfg.Session.TLS.Enabled {
			target.Scheme = "wss"
		}
	case "wss":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrURLRequired)
	}
	observability.RegisterMetrics()

	return &Client{
		cfg:      cfg,
		target:   target,
		logger:   logger.With().Str("component", "client").Str("url", target.String()).Logger(),
		commands: peer.NewRegistry(nil),
		backoff:  session.NewDialBackoff(cfg.Session.Backoff, time.Now().UnixNano()),
	}, nil
}

// RegisterCommand adds or replaces a command the listener may invoke.
func (c *Client) RegisterCommand(name string, h peer.Handler) error {
	return c.commands.Register(name, h)
}

func (c *Client) Commands() *peer.Registry {
	return c.commands
}

// URL is the dial target after scheme normalization.
func (c *Client) URL() string {
	return c.target.String()
}

// Connect dials the listener, retrying with backoff, and starts the
// peer read loop. The peer lives until it is closed or the remote goes
// away; ctx bounds only the dial.
func (c *Client) Connect(ctx context.Context) (*peer.Peer, error) {
	var attempt int
	for {
		attempt++
		ws, err := c.dial(ctx)
		if err == nil {
			return c.start(ws), nil
		}
		c.logger.Warn().Int("attempt", attempt).Err(err).Msg("dial failed")
		if errors.Is(err, ErrHandshakeRejected) || !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.backoff.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// Run connects, hands the peer to fn and closes it once fn returns or
// ctx ends.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, p *peer.Peer) error) error {
	p, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer p.Close(transport.CloseNormal, "client done")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return fn(runCtx, p)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if err := c.cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		NetDialContext:   (&net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}).DialContext,
		HandshakeTimeout: c.cfg.Session.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if c.cfg.Session.TLS.Enabled {
		tlsCfg, err := c.cfg.Session.ClientTLSConfig(c.target.Host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	ws, resp, err := dialer.DialContext(ctx, c.target.String(), c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
		}
		return nil, err
	}
	return ws, nil
}

func (c *Client) start(ws *websocket.Conn) *peer.Peer {
	conn := wsconn.New(ws, c.cfg.Header, wsconn.ConfigFromSession(c.cfg.Session), c.logger)
	p := peer.New(conn, peer.Options{
		Session:  c.cfg.Session,
		Registry: c.commands,
		Role:     peer.RoleClient,
		Logger:   c.logger,
	})
	go func() {
		if err := p.Run(context.Background()); err != nil {
			c.logger.Debug().Err(err).Str("peer", p.ID()).Msg("peer ended with error")
		}
	}()
	return p
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}
