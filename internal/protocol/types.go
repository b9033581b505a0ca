package protocol

import "encoding/json"

// Kind names the variant carried by a transmission.
type Kind string

const (
	KindCommandRequest  Kind = "command_request"
	KindCommandResponse Kind = "command_response"
	KindKeepalive       Kind = "keepalive"
	KindProtocolError   Kind = "protocol_error"
)

// ErrorKind classifies a failed command response.
type ErrorKind string

const (
	ErrorCommandNotFound ErrorKind = "command_not_found"
	ErrorExecution       ErrorKind = "execution_error"
)

// Reason classifies a protocol violation.
type Reason string

const (
	ReasonMalformedEnvelope Reason = "malformed_envelope"
	ReasonInvalidID         Reason = "invalid_id"
	ReasonMissingBody       Reason = "missing_body"
	ReasonMissingField      Reason = "missing_field"
)

// emptyPayload is what a request without a payload carries.
var emptyPayload = json.RawMessage(`""`)

// Body is implemented by exactly one type per Kind.
type Body interface {
	Kind() Kind
	isBody()
}

// Transmission is one logical protocol message.
type Transmission struct {
	ID   string
	Body Body
}

func (t Transmission) Kind() Kind {
	if t.Body == nil {
		return ""
	}
	return t.Body.Kind()
}

type CommandRequest struct {
	Command string
	Payload json.RawMessage
}

type CommandResponse struct {
	RequestID   string
	Command     string
	Success     bool
	Payload     json.RawMessage
	ErrorKind   ErrorKind
	ErrorDetail string
}

type Keepalive struct {
	RequestID string
}

type ProtocolError struct {
	Reason  Reason
	Message string
}

func (CommandRequest) Kind() Kind  { return KindCommandRequest }
func (CommandResponse) Kind() Kind { return KindCommandResponse }
func (Keepalive) Kind() Kind       { return KindKeepalive }
func (ProtocolError) Kind() Kind   { return KindProtocolError }

func (CommandRequest) isBody()  {}
func (CommandResponse) isBody() {}
func (Keepalive) isBody()       {}
func (ProtocolError) isBody()   {}

// NewRequest builds a command request under a fresh id. A nil payload is
// sent as an empty string.
func NewRequest(command string, payload json.RawMessage) Transmission {
	if len(payload) == 0 {
		payload = emptyPayload
	}
	return Transmission{ID: NewID(), Body: CommandRequest{Command: command, Payload: payload}}
}

// NewSuccess builds a successful response to request.
func NewSuccess(request Transmission, command string, payload json.RawMessage) Transmission {
	return Transmission{
		ID: NewID(),
		Body: CommandResponse{
			RequestID: request.ID,
			Command:   command,
			Success:   true,
			Payload:   payload,
		},
	}
}

// NewFailure builds a failed response to request.
func NewFailure(request Transmission, command string, kind ErrorKind, detail string) Transmission {
	return Transmission{
		ID: NewID(),
		Body: CommandResponse{
			RequestID:   request.ID,
			Command:     command,
			ErrorKind:   kind,
			ErrorDetail: detail,
		},
	}
}

func NewKeepalive(requestID string) Transmission {
	return Transmission{ID: NewID(), Body: Keepalive{RequestID: requestID}}
}
