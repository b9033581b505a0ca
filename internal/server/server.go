// Package server is the listener role: it accepts WebSocket connections
// and binds each one to a peer that shares the server command registry.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/transport"
	"github.com/danmuck/wser/internal/transport/wsconn"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	DefaultListenAddr = ":5005"

	// ReasonDisconnected is the close reason for server initiated disconnects.
	ReasonDisconnected = "disconnected by server"
	reasonShutdown     = "server shutting down"
)

// Config holds the listener settings.
type Config struct {
	ListenAddr string
	// Path is the WebSocket endpoint.
	Path string
	// MetricsPath serves prometheus metrics on the same listener; empty disables it.
	MetricsPath string
	// AllowedOrigins restricts browser origins; empty accepts any origin.
	AllowedOrigins []string
	Session        session.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		Path:        "/",
		MetricsPath: "/metrics",
		Session:     session.DefaultConfig(),
	}
}

// ConnectFunc observes a newly accepted peer. It runs after the peer
// starts reading, so it may invoke commands on it.
type ConnectFunc func(p *peer.Peer)

// PeerInfo is a snapshot of one connected peer.
type PeerInfo struct {
	ID          string
	RemoteAddr  string
	Identity    string
	ConnectedAt time.Time
	Pending     int
}

type connected struct {
	peer        *peer.Peer
	identity    string
	connectedAt time.Time
}

// Server accepts peers and tracks them until they disconnect.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	commands *peer.Registry

	mu        sync.Mutex
	base      context.Context
	peers     map[string]connected
	onConnect []ConnectFunc
}

func New(cfg Config, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = def.Path
	}
	cfg.Session = cfg.Session.WithDefaults()
	observability.RegisterMetrics()

	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		commands: peer.NewRegistry(nil),
		base:     context.Background(),
		peers:    make(map[string]connected),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// RegisterCommand adds or replaces a command available to every peer.
func (s *Server) RegisterCommand(name string, h peer.Handler) error {
	return s.commands.Register(name, h)
}

func (s *Server) Commands() *peer.Registry {
	return s.commands
}

// OnPeerConnected registers fn for every accepted peer.
func (s *Server) OnPeerConnected(fn ConnectFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.mu.Unlock()
}

// Peers lists connected peers ordered by id.
func (s *Server) Peers() []*peer.Peer {
	s.mu.Lock()
	out := make([]*peer.Peer, 0, len(s.peers))
	for _, c := range s.peers {
		out = append(out, c.peer)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Server) Peer(id string) (*peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.peers[id]
	return c.peer, ok
}

// Snapshot lists connected peers ordered by connect time.
func (s *Server) Snapshot() []PeerInfo {
	s.mu.Lock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, c := range s.peers {
		out = append(out, PeerInfo{
			ID:          c.peer.ID(),
			RemoteAddr:  c.peer.RemoteAddr(),
			Identity:    c.identity,
			ConnectedAt: c.connectedAt,
			Pending:     len(c.peer.PendingInvocations()),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Disconnect closes one peer with a normal close and ReasonDisconnected.
func (s *Server) Disconnect(id string) bool {
	p, ok := s.Peer(id)
	if !ok {
		return false
	}
	_ = p.Close(transport.CloseNormal, ReasonDisconnected)
	return true
}

// Handler returns the HTTP surface: the WebSocket endpoint and, when
// configured, the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	if path := strings.TrimSpace(s.cfg.MetricsPath); path != "" && path != s.cfg.Path {
		mux.Handle(path, promhttp.Handler())
	}
	return observability.RequestLogger(s.logger, observability.RequestMetrics(peer.RoleServer, mux))
}

// Run listens on ListenAddr and serves until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("path", s.cfg.Path).
		Bool("tls", s.cfg.Session.TLS.Enabled).
		Msg("listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	return <-serveErr
}

// Serve accepts connections on ln until ctx is canceled, then closes
// every peer with a going-away code. The listener is wrapped in TLS
// when the session config enables it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		_ = ln.Close()
		return err
	}
	if s.cfg.Session.TLS.Enabled {
		tlsCfg, err := s.cfg.Session.ServerTLSConfig()
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Session.HandshakeTimeout,
	}
	go func() {
		<-ctx.Done()
		s.closeAll(transport.CloseGoingAway, reasonShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.WriteTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade refused")
		return
	}

	conn := wsconn.New(ws, r.Header, wsconn.ConfigFromSession(s.cfg.Session), s.logger)
	p := peer.New(conn, peer.Options{
		Session:  s.cfg.Session,
		Registry: s.commands,
		Role:     peer.RoleServer,
		Logger:   s.logger,
	})
	identity := peerIdentity(r.TLS)

	s.mu.Lock()
	base := s.base
	s.peers[p.ID()] = connected{peer: p, identity: identity, connectedAt: time.Now()}
	callbacks := append([]ConnectFunc(nil), s.onConnect...)
	s.mu.Unlock()
	p.OnDisconnected(func(int, string) {
		s.mu.Lock()
		delete(s.peers, p.ID())
		s.mu.Unlock()
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(base)
	}()
	if identity != "" {
		s.logger.Info().Str("peer", p.ID()).Str("identity", identity).Msg("peer certificate identity")
	}
	for _, fn := range callbacks {
		fn(p)
	}
	if err := <-runErr; err != nil {
		s.logger.Debug().Err(err).Str("peer", p.ID()).Msg("peer ended with error")
	}
}

func (s *Server) closeAll(code int, reason string) {
	for _, p := range s.Peers() {
		_ = p.Close(code, reason)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// peerIdentity extracts the client certificate identity using CN, then
// URI, then DNS name.
func peerIdentity(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	return identityFromCert(state.PeerCertificates[0])
}

func identityFromCert(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.URIs) > 0 {
		if v := strings.TrimSpace(cert.URIs[0].String()); v != "" {
			return v
		}
	}
	if len(cert.DNSNames) > 0 {
		return strings.TrimSpace(cert.DNSNames[0])
	}
	return ""
}
