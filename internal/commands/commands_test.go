package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol"
	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/testutil/testlog"
	"github.com/danmuck/wser/internal/transport"
	"github.com/danmuck/wser/internal/transport/memconn"
	"github.com/rs/zerolog"
)

// connected returns a caller peer whose remote end serves the built-in
// commands rooted at root.
func connected(t *testing.T, opts Options) *peer.Peer {
	t.Helper()
	testlog.Start(t)

	reg := peer.NewRegistry(nil)
	if err := Register(reg, opts); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.KeepaliveInterval = 20 * time.Millisecond
	sc, cc := memconn.Pipe()
	server := peer.New(sc, peer.Options{Session: cfg, Registry: reg, Role: peer.RoleServer, Logger: zerolog.Nop()})
	client := peer.New(cc, peer.Options{Session: cfg, Role: peer.RoleClient, Logger: zerolog.Nop()})
	go server.Run(context.Background())
	go client.Run(context.Background())
	t.Cleanup(func() {
		server.Close(transport.CloseNormal, "test done")
	})
	return client
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPingAndEcho(t *testing.T) {
	client := connected(t, DefaultOptions())
	ctx := context.Background()

	out := client.Invoke(ctx, Ping, nil, time.Second)
	var got string
	if err := out.Decode(&got); err != nil || got != "pong" {
		t.Fatalf("unexpected ping outcome=%+v got=%q err=%v", out, got, err)
	}

	payload := map[string]any{"nested": []int{1, 2, 3}, "text": "ola"}
	out = client.Invoke(ctx, Echo, payload, time.Second)
	if !out.Success() {
		t.Fatalf("unexpected echo outcome: %+v", out)
	}
	want, _ := json.Marshal(payload)
	if !bytes.Equal(out.Payload, want) {
		t.Fatalf("echo mismatch got=%s want=%s", out.Payload, want)
	}

	out = client.Invoke(ctx, Echo, nil, time.Second)
	if err := out.Decode(&got); err != nil || got != "" {
		t.Fatalf("echo without payload should return empty string, got=%q err=%v", got, err)
	}
}

func TestReadFileReturnsContentAcrossSegments(t *testing.T) {
	root := t.TempDir()
	data := bytes.Repeat([]byte("wser-"), 1<<20) // 5 MiB
	writeFile(t, root, "logs/big.bin", data)
	client := connected(t, Options{Root: root})

	out := client.Invoke(context.Background(), ReadFile, FileRequest{Path: "logs/big.bin"}, 10*time.Second)
	if !out.Success() {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	var got FileContent
	if err := out.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "big.bin" || filepath.Base(got.Dir) != "logs" || got.Size != int64(len(data)) {
		t.Fatalf("unexpected metadata: name=%q dir=%q size=%d", got.Name, got.Dir, got.Size)
	}
	if !bytes.Equal(got.Content, data) {
		t.Fatalf("content mismatch: got %d bytes", len(got.Content))
	}
}

func TestReadFileAcceptsBarePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("hello"))
	client := connected(t, Options{Root: root})

	out := client.Invoke(context.Background(), ReadFile, "a.txt", time.Second)
	var got FileContent
	if err := out.Decode(&got); err != nil || string(got.Content) != "hello" {
		t.Fatalf("unexpected outcome=%+v err=%v", out, err)
	}
}

func TestReadFileFailuresAreExecutionErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", bytes.Repeat([]byte("x"), 2048))
	client := connected(t, Options{Root: root, MaxFileBytes: 1024})

	cases := []any{
		FileRequest{Path: "../escape.txt"},
		FileRequest{Path: "/etc/passwd"},
		FileRequest{Path: "missing.txt"},
		FileRequest{Path: "big.txt"},
		nil,
	}
	for _, payload := range cases {
		out := client.Invoke(context.Background(), ReadFile, payload, time.Second)
		if out.Kind != peer.OutcomeExecutionError || out.Detail == "" {
			t.Fatalf("payload %+v: unexpected outcome %+v", payload, out)
		}
	}
}

func TestFilesResolvePath(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	files := NewFiles(root, 0)

	if _, err := files.resolvePath("../x"); !errors.Is(err, ErrPathEscapes) {
		t.Fatalf("expected ErrPathEscapes, got %v", err)
	}
	if _, err := files.resolvePath("/x"); !errors.Is(err, ErrAbsolutePath) {
		t.Fatalf("expected ErrAbsolutePath, got %v", err)
	}
	if _, err := files.resolvePath("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	if _, err := NewFiles("", 0).Read("a"); !errors.Is(err, ErrFilesDisabled) {
		t.Fatalf("expected ErrFilesDisabled, got %v", err)
	}
	p, err := files.resolvePath("sub/../ok.txt")
	if err != nil || p != filepath.Join(root, "ok.txt") {
		t.Fatalf("unexpected path=%q err=%v", p, err)
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "logs/b.log", []byte("b"))
	writeFile(t, root, "logs/a.log", []byte("a"))
	writeFile(t, root, "other.txt", []byte("o"))
	client := connected(t, Options{Root: root})

	out := client.Invoke(context.Background(), ListFiles, ListRequest{Prefix: "logs/"}, time.Second)
	var keys []string
	if err := out.Decode(&keys); err != nil {
		t.Fatalf("unexpected outcome=%+v err=%v", out, err)
	}
	if len(keys) != 2 || keys[0] != "logs/a.log" || keys[1] != "logs/b.log" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	out = client.Invoke(context.Background(), ListFiles, nil, time.Second)
	if err := out.Decode(&keys); err != nil || len(keys) != 3 {
		t.Fatalf("unexpected full listing=%v err=%v", keys, err)
	}
}

func TestSleepKeepsInvocationAlive(t *testing.T) {
	client := connected(t, DefaultOptions())

	start := time.Now()
	out := client.Invoke(context.Background(), Sleep, "150ms", 60*time.Millisecond)
	if !out.Success() {
		t.Fatalf("keepalives should hold the call open: %+v", out)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatalf("sleep returned early")
	}

	out = client.Invoke(context.Background(), Sleep, SleepRequest{Duration: "2h"}, time.Second)
	if out.Kind != peer.OutcomeExecutionError {
		t.Fatalf("expected execution error for excessive sleep, got %+v", out)
	}
}

func TestRegisterLeavesOutDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Disabled = []string{Sleep, " " + ReadFile + " "}
	client := connected(t, opts)

	out := client.Invoke(context.Background(), Sleep, "1ms", time.Second)
	if out.Kind != peer.OutcomeCommandNotFound {
		t.Fatalf("disabled sleep should be missing, got %+v", out)
	}
	if out := client.Invoke(context.Background(), Ping, nil, time.Second); !out.Success() {
		t.Fatalf("ping should stay registered: %+v", out)
	}

	reg := peer.NewRegistry(nil)
	if err := Register(reg, opts); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got, want := reg.Names(), []string{Echo, ListFiles, Ping}; !reflect.DeepEqual(got, want) {
		t.Fatalf("names got=%v want=%v", got, want)
	}

	opts.Disabled = []string{"reboot"}
	if err := Register(peer.NewRegistry(nil), opts); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestDecodeFlexibleRejectsEmpty(t *testing.T) {
	testlog.Start(t)
	var in FileRequest
	for _, raw := range []string{"", "null", "  "} {
		if err := decodeFlexible(json.RawMessage(raw), &in, &in.Path); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("raw %q: expected ErrInvalidPayload, got %v", raw, err)
		}
	}
	req := protocol.CommandRequest{Command: ReadFile, Payload: json.RawMessage(`{"path":"x"}`)}
	if err := decodeFlexible(req.Payload, &in, &in.Path); err != nil || in.Path != "x" {
		t.Fatalf("unexpected path=%q err=%v", in.Path, err)
	}
}
