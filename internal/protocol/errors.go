package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind = errors.New("protocol: unknown transmission kind")
	ErrMissingID   = errors.New("protocol: transmission id required")
	ErrNilBody     = errors.New("protocol: transmission body required")
)

// Violation is a validation failure for one inbound transmission.
type Violation struct {
	// Kind is the offending transmission kind when it was readable.
	Kind    Kind
	Reason  Reason
	Message string
}

func (v *Violation) Error() string {
	if v.Kind != "" {
		return fmt.Sprintf("protocol: %s: %s (%s)", v.Reason, v.Message, v.Kind)
	}
	return fmt.Sprintf("protocol: %s: %s", v.Reason, v.Message)
}

// Replyable reports whether a protocol_error should be sent back. A broken
// protocol_error is never answered so two peers cannot loop on each other.
func (v *Violation) Replyable() bool {
	return v.Kind != KindProtocolError
}

// Reply builds the protocol_error transmission answering v under a fresh id.
func (v *Violation) Reply() Transmission {
	return Transmission{
		ID:   NewID(),
		Body: ProtocolError{Reason: v.Reason, Message: v.Message},
	}
}

func violation(kind Kind, reason Reason, format string, args ...any) *Violation {
	return &Violation{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
