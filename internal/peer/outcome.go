package peer

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wser/internal/protocol"
)

// OutcomeKind classifies how an invocation ended.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeCommandNotFound OutcomeKind = "command_not_found"
	OutcomeExecutionError  OutcomeKind = "execution_error"
	OutcomeTimeout         OutcomeKind = "timeout"
)

// Outcome is the terminal result of Invoke.
type Outcome struct {
	Kind    OutcomeKind
	Command string
	Payload json.RawMessage
	// Detail carries the remote failure message.
	Detail string
	// Err is set for locally detected failures: timeouts, disconnects,
	// send and encode errors.
	Err        error
	RequestID  string
	ResponseID string
	Duration   time.Duration
}

func (o Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// Decode unmarshals a successful payload into v.
func (o Outcome) Decode(v any) error {
	if !o.Success() {
		return fmt.Errorf("peer: outcome %s has no payload", o.Kind)
	}
	return json.Unmarshal(o.Payload, v)
}

func outcomeFromResponse(tx protocol.Transmission, resp protocol.CommandResponse) Outcome {
	out := Outcome{ResponseID: tx.ID}
	if resp.Success {
		out.Kind = OutcomeSuccess
		out.Payload = resp.Payload
		return out
	}
	out.Detail = resp.ErrorDetail
	switch resp.ErrorKind {
	case protocol.ErrorCommandNotFound:
		out.Kind = OutcomeCommandNotFound
	default:
		out.Kind = OutcomeExecutionError
	}
	return out
}

// invocation is the one-shot completion of an outbound request.
type invocation struct {
	requestID string
	command   string
	once      sync.Once
	done      chan Outcome
}

func newInvocation(requestID, command string) *invocation {
	return &invocation{
		requestID: requestID,
		command:   command,
		done:      make(chan Outcome, 1),
	}
}

// resolve delivers out if nothing was delivered yet.
func (i *invocation) resolve(out Outcome) bool {
	resolved := false
	i.once.Do(func() {
		i.done <- out
		resolved = true
	})
	return resolved
}
