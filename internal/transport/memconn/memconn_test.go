package memconn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/wser/internal/testutil/testlog"
	"github.com/danmuck/wser/internal/transport"
)

func TestPipeDeliversInOrder(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	ctx := context.Background()
	for _, msg := range []string{"one", "two", "three"} {
		if err := a.WriteMessage(ctx, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.ReadMessage(ctx)
		if err != nil || string(got) != want {
			t.Fatalf("read got=%q err=%v want=%q", got, err, want)
		}
	}
}

func TestFilterDropsMessages(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	a.SetFilter(func(raw []byte) bool { return string(raw) != "drop" })
	ctx := context.Background()
	a.WriteMessage(ctx, []byte("drop"))
	a.WriteMessage(ctx, []byte("keep"))
	got, err := b.ReadMessage(ctx)
	if err != nil || string(got) != "keep" {
		t.Fatalf("unexpected read %q err=%v", got, err)
	}
}

func TestCloseReachesBothEnds(t *testing.T) {
	testlog.Start(t)
	a, b := Pipe()
	if err := a.Close(transport.CloseNormal, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	a.Close(transport.CloseInternal, "ignored")

	for _, c := range []*Conn{a, b} {
		_, err := c.ReadMessage(context.Background())
		var ce *transport.CloseError
		if !errors.As(err, &ce) || ce.Code != transport.CloseNormal || ce.Reason != "bye" {
			t.Fatalf("unexpected close error %v", err)
		}
	}
	if err := b.WriteMessage(context.Background(), []byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReadHonorsContext(t *testing.T) {
	testlog.Start(t)
	a, _ := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.ReadMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
