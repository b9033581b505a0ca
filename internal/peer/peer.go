package peer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wser/internal/eventbus"
	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/protocol/frame"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/transport"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

const (
	RoleServer = "server"
	RoleClient = "client"
)

// Options configures a Peer.
type Options struct {
	Session session.Config
	// Registry is consulted after the peer's own commands.
	Registry *Registry
	Role     string
	Logger   zerolog.Logger
}

// DisconnectFunc observes the end of a connection.
type DisconnectFunc func(code int, reason string)

// Peer is one endpoint of the protocol bound to one connection.
type Peer struct {
	id       string
	role     string
	conn     Conn
	cfg      session.Config
	logger   zerolog.Logger
	bus      *eventbus.Bus
	framer   *frame.Framer
	commands *Registry
	outbox   *session.InvocationOutbox

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	mu          sync.Mutex
	pending     map[string]*invocation
	callbacks   []DisconnectFunc
	closed      bool
	closeCode   int
	closeReason string
	closedLocal bool
}

// New wires a Peer over conn. Call Run to start reading.
func New(conn Conn, opts Options) *Peer {
	cfg := opts.Session.WithDefaults()
	role := opts.Role
	if role == "" {
		role = RoleClient
	}
	id := xid.New().String()
	logger := opts.Logger.With().
		Str("peer", id).
		Str("role", role).
		Str("remote", conn.RemoteAddr()).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:       id,
		role:     role,
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		bus:      eventbus.New(logger),
		commands: NewRegistry(opts.Registry),
		outbox:   session.NewInvocationOutbox(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[string]*invocation),
	}
	p.framer = frame.New(frame.Config{
		Limits: frame.Limits{
			MaxSegmentBytes: cfg.MaxSegmentBytes,
			MaxMessageBytes: cfg.MaxMessageBytes,
		},
		BeginAckTimeout: cfg.BeginAckTimeout,
	}, p.bus, p.writeFrame, logger)

	observability.PeerConnected(role)
	return p
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Role() string {
	return p.role
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr()
}

// Header returns the transport headers seen at connect time.
func (p *Peer) Header() http.Header {
	return p.conn.Header()
}

// Done is closed once the peer has been torn down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Context is canceled when the peer disconnects.
func (p *Peer) Context() context.Context {
	return p.ctx
}

// RegisterCommand adds or replaces a command on this peer only.
func (p *Peer) RegisterCommand(name string, h Handler) error {
	return p.commands.Register(name, h)
}

func (p *Peer) Commands() *Registry {
	return p.commands
}

// PendingInvocations lists outbound requests still awaiting a response.
func (p *Peer) PendingInvocations() []session.PendingInvocation {
	return p.outbox.List()
}

// OnDisconnected registers fn to run once after teardown. fn runs
// immediately when the peer is already gone.
func (p *Peer) OnDisconnected(fn DisconnectFunc) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		code, reason := p.closeCode, p.closeReason
		p.mu.Unlock()
		fn(code, reason)
		return
	}
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}

// Run reads frames until the connection ends or ctx is canceled. It
// returns nil for orderly closes.
func (p *Peer) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go func() {
		select {
		case <-ctx.Done():
			p.Close(transport.CloseGoingAway, "shutting down")
		case <-p.done:
		}
	}()

	p.logger.Info().Msg("peer connected")
	for {
		raw, err := p.conn.ReadMessage(p.ctx)
		if err != nil {
			code, reason := transport.CloseInfo(err)
			if errors.Is(err, context.Canceled) {
				code, reason = transport.CloseGoingAway, "shutting down"
			}
			p.teardown(code, reason)
			return p.runErr(err)
		}

		payload, complete, err := p.framer.Receive(p.ctx, raw)
		if err != nil {
			p.logger.Warn().Err(err).Msg("frame dropped")
			continue
		}
		if !complete {
			continue
		}
		p.dispatch(p.ctx, payload)
	}
}

// Close ends the connection with code and reason and tears the peer down.
func (p *Peer) Close(code int, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closedLocal = true
	p.mu.Unlock()

	err := p.conn.Close(code, reason)
	p.teardown(code, reason)
	return err
}

func (p *Peer) runErr(err error) error {
	p.mu.Lock()
	local := p.closedLocal
	p.mu.Unlock()
	if local || errors.Is(err, context.Canceled) {
		return nil
	}
	var ce *transport.CloseError
	if errors.As(err, &ce) && ce.Clean() {
		return nil
	}
	return err
}

// teardown fails pending invocations, drops reassembly state and runs
// disconnect callbacks. Only the first call has any effect.
func (p *Peer) teardown(code int, reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeCode = code
	p.closeReason = reason
	pending := p.pending
	p.pending = make(map[string]*invocation)
	callbacks := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()

	p.cancel()
	for _, inv := range pending {
		inv.resolve(Outcome{Kind: OutcomeTimeout, Detail: reason, Err: ErrDisconnected})
	}
	p.bus.Close()
	dropped := p.framer.Reset()
	p.outbox.Drain()
	observability.PeerDisconnected(p.role)

	p.logger.Info().
		Int("code", code).
		Str("reason", reason).
		Int("failed_invocations", len(pending)).
		Int("dropped_reassemblies", dropped).
		Msg("peer disconnected")

	for _, fn := range callbacks {
		fn(code, reason)
	}
	close(p.done)
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) writeFrame(ctx context.Context, raw []byte) error {
	if p.isClosed() {
		return ErrDisconnected
	}
	return p.conn.WriteMessage(ctx, raw)
}
