// Package memconn is an in-process message pipe satisfying peer.Conn.
package memconn

import (
	"context"
	"net/http"
	"sync"

	"github.com/danmuck/wser/internal/transport"
)

const bufferedMessages = 256

// Filter decides whether an outbound message is delivered.
type Filter func(raw []byte) bool

type link struct {
	once   sync.Once
	closed chan struct{}
	err    *transport.CloseError
}

// Conn is one end of a Pipe.
type Conn struct {
	in     <-chan []byte
	out    chan<- []byte
	link   *link
	remote string
	header http.Header

	mu     sync.RWMutex
	filter Filter
}

// Pipe returns two connected ends.
func Pipe() (*Conn, *Conn) {
	ab := make(chan []byte, bufferedMessages)
	ba := make(chan []byte, bufferedMessages)
	l := &link{closed: make(chan struct{})}
	a := &Conn{in: ba, out: ab, link: l, remote: "mem:b", header: http.Header{}}
	b := &Conn{in: ab, out: ba, link: l, remote: "mem:a", header: http.Header{}}
	return a, b
}

// SetFilter installs f on writes from this end; nil delivers everything.
func (c *Conn) SetFilter(f Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-c.link.closed:
		return nil, c.link.err
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.link.closed:
		return nil, c.link.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.link.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.RLock()
	filter := c.filter
	c.mu.RUnlock()
	if filter != nil && !filter(data) {
		return nil
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case c.out <- msg:
		return nil
	case <-c.link.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends both sides; the first close wins.
func (c *Conn) Close(code int, reason string) error {
	c.link.once.Do(func() {
		c.link.err = &transport.CloseError{Code: code, Reason: reason}
		close(c.link.closed)
	})
	return nil
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) Header() http.Header {
	return c.header
}
