package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one envelope, short-circuiting on the first failure.
// Validation failures are returned as *Violation. An unrecognized kind
// returns ErrUnknownKind and should be ignored by the caller.
func Decode(raw []byte) (Transmission, error) {
	env, ok := object(raw)
	if !ok {
		return Transmission{}, violation("", ReasonMalformedEnvelope, "envelope is not a json object")
	}

	rawID, ok := stringField(env, "id")
	if !ok {
		return Transmission{}, violation("", ReasonInvalidID, "transmission id missing")
	}
	id, ok := ParseID(rawID)
	if !ok {
		return Transmission{}, violation("", ReasonInvalidID, "transmission id %q is not a valid id", rawID)
	}

	kindName, _ := stringField(env, "kind")
	kind := Kind(kindName)
	body := env[kindName]

	var (
		decoded Body
		err     error
	)
	switch kind {
	case KindCommandRequest:
		decoded, err = decodeRequest(body)
	case KindCommandResponse:
		decoded, err = decodeResponse(body)
	case KindKeepalive:
		decoded, err = decodeKeepalive(body)
	case KindProtocolError:
		decoded, err = decodeProtocolError(body)
	default:
		return Transmission{ID: id}, fmt.Errorf("%w: %q", ErrUnknownKind, kindName)
	}
	if err != nil {
		return Transmission{ID: id}, err
	}
	return Transmission{ID: id, Body: decoded}, nil
}

func decodeRequest(raw json.RawMessage) (Body, error) {
	body, ok := object(raw)
	if !ok {
		return nil, violation(KindCommandRequest, ReasonMissingBody, "command_request body missing")
	}
	command, ok := stringField(body, "command")
	if !ok || command == "" {
		return nil, violation(KindCommandRequest, ReasonMissingField, "command_request.command missing")
	}
	payload, ok := body["payload"]
	if !ok {
		payload = emptyPayload
	}
	return CommandRequest{Command: command, Payload: payload}, nil
}

func decodeResponse(raw json.RawMessage) (Body, error) {
	body, ok := object(raw)
	if !ok {
		return nil, violation(KindCommandResponse, ReasonMissingBody, "command_response body missing")
	}
	rawRequestID, _ := stringField(body, "request_id")
	requestID, ok := ParseID(rawRequestID)
	if !ok {
		return nil, violation(KindCommandResponse, ReasonMissingField, "command_response.request_id %q is not a valid id", rawRequestID)
	}
	success, ok := boolField(body, "success")
	if !ok {
		return nil, violation(KindCommandResponse, ReasonMissingField, "command_response.success missing")
	}
	command, _ := stringField(body, "command")

	resp := CommandResponse{RequestID: requestID, Command: command, Success: success}
	if success {
		resp.Payload = body["payload"]
		if len(resp.Payload) == 0 {
			resp.Payload = json.RawMessage("null")
		}
		return resp, nil
	}

	resp.ErrorKind = ErrorExecution
	if errBody, ok := object(body["error"]); ok {
		if kind, ok := stringField(errBody, "kind"); ok && kind != "" {
			resp.ErrorKind = ErrorKind(kind)
		}
		resp.ErrorDetail, _ = stringField(errBody, "detail")
	}
	return resp, nil
}

func decodeKeepalive(raw json.RawMessage) (Body, error) {
	body, ok := object(raw)
	if !ok {
		return nil, violation(KindKeepalive, ReasonMissingBody, "keepalive body missing")
	}
	requestID, ok := stringField(body, "request_id")
	if !ok || requestID == "" {
		return nil, violation(KindKeepalive, ReasonMissingField, "keepalive.request_id missing")
	}
	if normalized, ok := ParseID(requestID); ok {
		requestID = normalized
	}
	return Keepalive{RequestID: requestID}, nil
}

func decodeProtocolError(raw json.RawMessage) (Body, error) {
	body, ok := object(raw)
	if !ok {
		return nil, violation(KindProtocolError, ReasonMissingBody, "protocol_error body missing")
	}
	reason, _ := stringField(body, "reason")
	message, _ := stringField(body, "message")
	return ProtocolError{Reason: Reason(reason), Message: message}, nil
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

func stringField(obj map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := obj[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func boolField(obj map[string]json.RawMessage, name string) (bool, bool) {
	raw, ok := obj[name]
	if !ok || isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
