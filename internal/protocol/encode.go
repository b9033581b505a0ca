package protocol

import (
	"encoding/json"
	"fmt"
)

type wireEnvelope struct {
	ID              string             `json:"id"`
	Kind            Kind               `json:"kind"`
	CommandRequest  *wireRequest       `json:"command_request,omitempty"`
	CommandResponse *wireResponse      `json:"command_response,omitempty"`
	Keepalive       *wireKeepalive     `json:"keepalive,omitempty"`
	ProtocolError   *wireProtocolError `json:"protocol_error,omitempty"`
}

type wireRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

type wireResponse struct {
	RequestID string          `json:"request_id"`
	Command   string          `json:"command"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

type wireKeepalive struct {
	RequestID string `json:"request_id"`
}

type wireProtocolError struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Encode renders t as a json envelope carrying only the body of its kind.
func Encode(t Transmission) ([]byte, error) {
	if t.ID == "" {
		return nil, ErrMissingID
	}
	env := wireEnvelope{ID: t.ID, Kind: t.Kind()}
	switch body := t.Body.(type) {
	case CommandRequest:
		payload := body.Payload
		if len(payload) == 0 {
			payload = emptyPayload
		}
		env.CommandRequest = &wireRequest{Command: body.Command, Payload: payload}
	case CommandResponse:
		resp := &wireResponse{
			RequestID: body.RequestID,
			Command:   body.Command,
			Success:   body.Success,
		}
		if body.Success {
			resp.Payload = body.Payload
			if len(resp.Payload) == 0 {
				resp.Payload = json.RawMessage("null")
			}
		} else {
			kind := body.ErrorKind
			if kind == "" {
				kind = ErrorExecution
			}
			resp.Error = &wireError{Kind: kind, Detail: body.ErrorDetail}
		}
		env.CommandResponse = resp
	case Keepalive:
		env.Keepalive = &wireKeepalive{RequestID: body.RequestID}
	case ProtocolError:
		env.ProtocolError = &wireProtocolError{Reason: body.Reason, Message: body.Message}
	case nil:
		return nil, ErrNilBody
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, t.Body)
	}
	return json.Marshal(env)
}
