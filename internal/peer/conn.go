package peer

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrDisconnected   = errors.New("peer: disconnected")
	ErrInvokeTimeout  = errors.New("peer: invocation timed out")
	ErrHandlerPanic   = errors.New("peer: command handler panicked")
	ErrAlreadyRunning = errors.New("peer: already running")
	ErrInvalidCommand = errors.New("peer: invalid command name")
	ErrNilHandler     = errors.New("peer: nil command handler")
	ErrEncodePayload  = errors.New("peer: encode payload")
)

// Conn is the message-oriented connection a Peer runs on. ReadMessage
// returns *transport.CloseError once the connection ends.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
	Header() http.Header
}
