// Package commands holds the built-in command handlers shared by the
// server and client binaries.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/wser/internal/peer"
	"github.com/danmuck/wser/internal/protocol"
)

const (
	Ping      = "ping"
	Echo      = "echo"
	Sleep     = "sleep"
	ReadFile  = "read_file"
	ListFiles = "list_files"
)

var (
	ErrInvalidPayload = errors.New("commands: invalid payload")
	ErrPathRequired   = errors.New("commands: path required")
	ErrPathEscapes    = errors.New("commands: path escapes root")
	ErrAbsolutePath   = errors.New("commands: absolute path not allowed")
	ErrFileTooLarge   = errors.New("commands: file too large")
	ErrFilesDisabled  = errors.New("commands: file commands disabled")
	ErrUnknownCommand = errors.New("commands: unknown built-in command")
)

// Options selects and scopes the built-in commands.
type Options struct {
	// Root scopes read_file and list_files; empty disables both.
	Root string
	// MaxFileBytes caps read_file; zero means no cap beyond the message limit.
	MaxFileBytes int64
	// MaxSleep caps the sleep command.
	MaxSleep time.Duration
	// Disabled names built-in commands to leave out.
	Disabled []string
}

func DefaultOptions() Options {
	return Options{MaxSleep: time.Minute}
}

// Register installs the built-in commands into r, minus opts.Disabled.
func Register(r *peer.Registry, opts Options) error {
	files := NewFiles(opts.Root, opts.MaxFileBytes)
	maxSleep := opts.MaxSleep
	if maxSleep <= 0 {
		maxSleep = DefaultOptions().MaxSleep
	}
	handlers := map[string]peer.Handler{
		Ping:      HandlePing,
		Echo:      HandleEcho,
		Sleep:     sleepHandler(maxSleep),
		ReadFile:  files.HandleRead,
		ListFiles: files.HandleList,
	}
	for _, name := range []string{Ping, Echo, Sleep, ReadFile, ListFiles} {
		if err := r.Register(name, handlers[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	for _, name := range opts.Disabled {
		name = strings.TrimSpace(name)
		if _, builtin := handlers[name]; !builtin {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
		}
		r.Unregister(name)
	}
	return nil
}

// HandlePing answers "pong".
func HandlePing(context.Context, *peer.Peer, protocol.CommandRequest, protocol.Transmission) (any, error) {
	return "pong", nil
}

// HandleEcho returns the request payload unchanged.
func HandleEcho(_ context.Context, _ *peer.Peer, req protocol.CommandRequest, _ protocol.Transmission) (any, error) {
	if len(req.Payload) == 0 {
		return json.RawMessage(`""`), nil
	}
	return req.Payload, nil
}

// SleepRequest is the sleep payload. A bare duration string is accepted too.
type SleepRequest struct {
	Duration string `json:"duration"`
}

func sleepHandler(max time.Duration) peer.Handler {
	return func(ctx context.Context, _ *peer.Peer, req protocol.CommandRequest, _ protocol.Transmission) (any, error) {
		var in SleepRequest
		if err := decodeFlexible(req.Payload, &in, &in.Duration); err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(strings.TrimSpace(in.Duration))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: duration %q", ErrInvalidPayload, in.Duration)
		}
		if d > max {
			return nil, fmt.Errorf("%w: duration %s exceeds %s", ErrInvalidPayload, d, max)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return map[string]string{"slept": d.String()}, nil
		}
	}
}

// decodeFlexible accepts either a JSON object into obj or a bare JSON
// string into str.
func decodeFlexible(raw json.RawMessage, obj any, str *string) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if strings.HasPrefix(trimmed, `"`) {
		if err := json.Unmarshal(raw, str); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
