package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/server"
	"github.com/danmuck/wser/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.Multiplier = 1.5
	cfg.Backoff.MaxDelay = 20 * time.Millisecond
	cfg.Backoff.Jitter = false
	return cfg
}

func TestNewValidatesURL(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}, zerolog.Nop()); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
	if _, err := New(Config{URL: "http://127.0.0.1:5005/"}, zerolog.Nop()); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := New(Config{URL: "ws:///nohost"}, zerolog.Nop()); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired for missing host, got %v", err)
	}
	c, err := New(DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if c.URL() != DefaultURL {
		t.Fatalf("unexpected url %q", c.URL())
	}
}

func TestConnectRetriesUntilAttemptsExhausted(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c, err := New(Config{URL: "ws://" + addr + "/", MaxConnectAttempts: 3, Session: testSession()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial failure")
	}
	// two backoff sleeps of 10ms and 15ms
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("retries returned too quickly: %v", elapsed)
	}
}

func TestConnectRetrySucceedsOnceListenerAppears(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := server.New(server.Config{Session: testSession()}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			t.Errorf("relisten: %v", err)
			return
		}
		_ = s.Serve(ctx, ln)
	}()

	c, err := New(Config{URL: "ws://" + addr + "/", MaxConnectAttempts: 0, Session: testSession()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	p, err := c.Connect(dialCtx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if p.Role() != peer.RoleClient {
		t.Fatalf("unexpected role %q", p.Role())
	}
}

func TestConnectHonorsContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c, err := New(Config{URL: "ws://" + addr + "/", Session: testSession()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHandshakeRejectionIsNotRetried(t *testing.T) {
	testlog.Start(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), MaxConnectAttempts: 5, Session: testSession()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected ErrHandshakeRejected, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("rejected handshake should not be retried, hits=%d", got)
	}
}

func TestRunServesCommandsAndClosesPeer(t *testing.T) {
	testlog.Start(t)
	s := server.New(server.Config{Session: testSession()}, zerolog.Nop())
	if err := s.RegisterCommand("ping", func(context.Context, *peer.Peer, protocol.CommandRequest, protocol.Transmission) (any, error) {
		return "pong", nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c, err := New(Config{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/",
		Header:  http.Header{"X-Wser-Client": []string{"beta"}},
		Session: testSession(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var used *peer.Peer
	err = c.Run(context.Background(), func(ctx context.Context, p *peer.Peer) error {
		used = p
		out := p.Invoke(ctx, "ping", nil, 2*time.Second)
		if !out.Success() {
			return fmt.Errorf("ping ended %s: %v", out.Kind, out.Err)
		}
		if got := s.Peers(); len(got) != 1 || got[0].Header().Get("X-Wser-Client") != "beta" {
			return errors.New("server did not see the client header")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case <-used.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("peer not closed after run")
	}
}
