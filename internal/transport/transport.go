// Package transport holds the connection contract shared by the websocket
// and in-memory transports.
package transport

import (
	"errors"
	"fmt"
)

// Close codes, matching RFC 6455.
const (
	CloseNormal     = 1000
	CloseGoingAway  = 1001
	CloseProtocol   = 1002
	CloseNoStatus   = 1005
	CloseAbnormal   = 1006
	CloseTooBig     = 1009
	CloseInternal   = 1011
	CloseServerDown = 1012
)

var ErrClosed = errors.New("transport: connection closed")

// CloseError reports how a connection ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport: closed with code %d", e.Code)
	}
	return fmt.Sprintf("transport: closed with code %d: %s", e.Code, e.Reason)
}

// Is lets errors.Is(err, ErrClosed) match any close.
func (e *CloseError) Is(target error) bool {
	return target == ErrClosed
}

// Clean reports whether the close was an orderly one.
func (e *CloseError) Clean() bool {
	return e.Code == CloseNormal || e.Code == CloseGoingAway
}

// CloseInfo extracts a close code and reason from err.
func CloseInfo(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err == nil {
		return CloseNormal, ""
	}
	return CloseAbnormal, err.Error()
}
