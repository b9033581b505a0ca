// Package wsconn adapts gorilla websocket connections to the peer
// connection contract, adding write deadlines and ping/pong liveness.
package wsconn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxCloseReason = 123

// Config holds the liveness and size settings for one connection.
type Config struct {
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	SessionDeadAfter  time.Duration
	// ReadLimit caps one physical frame; zero means no limit.
	ReadLimit int64
}

// ConfigFromSession derives connection settings from the session config.
// Frames carry base64 data, so the read limit leaves room for the
// expansion plus envelope overhead.
func ConfigFromSession(cfg session.Config) Config {
	cfg = cfg.WithDefaults()
	return Config{
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SessionDeadAfter:  cfg.SessionDeadAfter,
		ReadLimit:         FrameLimit(cfg.MaxSegmentBytes),
	}
}

// FrameLimit is the largest encoded frame a segment size can produce.
func FrameLimit(maxSegmentBytes int) int64 {
	return int64(maxSegmentBytes)*4/3 + 64<<10
}

// Conn wraps one websocket connection.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	header http.Header
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// New takes ownership of ws and starts its heartbeat.
func New(ws *websocket.Conn, header http.Header, cfg Config, logger zerolog.Logger) *Conn {
	if header == nil {
		header = http.Header{}
	}
	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		header: header.Clone(),
		logger: logger.With().Str("component", "wsconn").Str("remote", ws.RemoteAddr().String()).Logger(),
		done:   make(chan struct{}),
	}
	if cfg.ReadLimit > 0 {
		ws.SetReadLimit(cfg.ReadLimit)
	}
	c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	if cfg.HeartbeatInterval > 0 {
		go c.heartbeat()
	}
	return c
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, closeError(err)
		}
		c.extendReadDeadline()
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *Conn) WriteMessage(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	deadline := time.Time{}
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with code and reason and drops the socket.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(time.Second)
		if c.cfg.WriteTimeout > 0 && c.cfg.WriteTimeout < time.Second {
			deadline = time.Now().Add(c.cfg.WriteTimeout)
		}
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug().Err(werr).Msg("close frame not sent")
		}
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) Header() http.Header {
	return c.header
}

func (c *Conn) heartbeat() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.HeartbeatInterval)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat ping failed")
				return
			}
		}
	}
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.SessionDeadAfter <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.SessionDeadAfter))
}

func closeError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &transport.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &transport.CloseError{Code: transport.CloseAbnormal, Reason: err.Error()}
}
