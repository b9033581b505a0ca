package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/wser/internal/testutil/testlog"
)

const testID = "6f1c2d4e-8b9a-4c3d-9e2f-1a2b3c4d5e6f"

func requireViolation(t *testing.T, err error, reason Reason) *Violation {
	t.Helper()
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %v", err)
	}
	if v.Reason != reason {
		t.Fatalf("unexpected reason got=%s want=%s", v.Reason, reason)
	}
	return v
}

func TestEncodeDecodeRequest(t *testing.T) {
	testlog.Start(t)
	tx := NewRequest("ping", json.RawMessage(`{"n":1}`))
	raw, err := Encode(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != tx.ID || got.Kind() != KindCommandRequest {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	req := got.Body.(CommandRequest)
	if req.Command != "ping" || string(req.Payload) != `{"n":1}` {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestEncodeOmitsOtherBodies(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(NewKeepalive(testID))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, `"keepalive":{"request_id":"`+testID+`"}`) {
		t.Fatalf("missing keepalive body: %s", s)
	}
	for _, absent := range []string{"command_request", "command_response", "protocol_error"} {
		if strings.Contains(s, absent) {
			t.Fatalf("unexpected %s in %s", absent, s)
		}
	}
}

func TestEncodeDecodeResponses(t *testing.T) {
	testlog.Start(t)
	req := Transmission{ID: testID, Body: CommandRequest{Command: "ping"}}

	raw, err := Encode(NewSuccess(req, "ping", json.RawMessage(`"pong"`)))
	if err != nil {
		t.Fatalf("encode success: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode success: %v", err)
	}
	resp := got.Body.(CommandResponse)
	if !resp.Success || resp.RequestID != testID || string(resp.Payload) != `"pong"` {
		t.Fatalf("unexpected success response: %+v", resp)
	}

	raw, err = Encode(NewFailure(req, "ping", ErrorExecution, "boom"))
	if err != nil {
		t.Fatalf("encode failure: %v", err)
	}
	got, err = Decode(raw)
	if err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	resp = got.Body.(CommandResponse)
	if resp.Success || resp.ErrorKind != ErrorExecution || resp.ErrorDetail != "boom" {
		t.Fatalf("unexpected failure response: %+v", resp)
	}
}

func TestEncodeRejectsIncompleteTransmission(t *testing.T) {
	testlog.Start(t)
	if _, err := Encode(Transmission{Body: Keepalive{RequestID: testID}}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, err := Encode(Transmission{ID: testID}); !errors.Is(err, ErrNilBody) {
		t.Fatalf("expected ErrNilBody, got %v", err)
	}
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`{`, `[1,2]`, `"text"`, `null`} {
		_, err := Decode([]byte(raw))
		v := requireViolation(t, err, ReasonMalformedEnvelope)
		if !v.Replyable() {
			t.Fatalf("malformed envelope should be replyable")
		}
	}
}

func TestDecodeInvalidID(t *testing.T) {
	testlog.Start(t)
	cases := []string{
		`{"kind":"keepalive","keepalive":{"request_id":"x"}}`,
		`{"id":"not-a-uuid","kind":"command_request","command_request":{"command":"ping"}}`,
		`{"id":42,"kind":"keepalive"}`,
		`{"id":"{6f1c2d4e-8b9a-4c3d-9e2f-1a2b3c4d5e6f}","kind":"keepalive"}`,
	}
	for _, raw := range cases {
		_, err := Decode([]byte(raw))
		requireViolation(t, err, ReasonInvalidID)
	}
}

func TestDecodeRequestValidation(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte(`{"id":"` + testID + `","kind":"command_request"}`))
	requireViolation(t, err, ReasonMissingBody)

	_, err = Decode([]byte(`{"id":"` + testID + `","kind":"command_request","command_request":{"command":""}}`))
	requireViolation(t, err, ReasonMissingField)

	got, err := Decode([]byte(`{"id":"` + testID + `","kind":"command_request","command_request":{"command":"ping"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload := got.Body.(CommandRequest).Payload; string(payload) != `""` {
		t.Fatalf("missing payload should default to empty string, got %s", payload)
	}
}

func TestDecodeResponseValidation(t *testing.T) {
	testlog.Start(t)
	prefix := `{"id":"` + testID + `","kind":"command_response"`
	_, err := Decode([]byte(prefix + `,"command_response":7}`))
	requireViolation(t, err, ReasonMissingBody)

	_, err = Decode([]byte(prefix + `,"command_response":{"request_id":"nope","success":true}}`))
	requireViolation(t, err, ReasonMissingField)

	_, err = Decode([]byte(prefix + `,"command_response":{"request_id":"` + testID + `"}}`))
	requireViolation(t, err, ReasonMissingField)

	got, err := Decode([]byte(prefix + `,"command_response":{"request_id":"` + strings.ToUpper(testID) + `","success":false}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp := got.Body.(CommandResponse)
	if resp.RequestID != testID || resp.ErrorKind != ErrorExecution {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDecodeKeepaliveAndProtocolError(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte(`{"id":"` + testID + `","kind":"keepalive","keepalive":{}}`))
	requireViolation(t, err, ReasonMissingField)

	_, err = Decode([]byte(`{"id":"` + testID + `","kind":"protocol_error"}`))
	v := requireViolation(t, err, ReasonMissingBody)
	if v.Replyable() {
		t.Fatalf("broken protocol_error must not be answered")
	}

	got, err := Decode([]byte(`{"id":"` + testID + `","kind":"protocol_error","protocol_error":{"reason":"invalid_id","message":"bad"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pe := got.Body.(ProtocolError); pe.Reason != ReasonInvalidID || pe.Message != "bad" {
		t.Fatalf("unexpected protocol error: %+v", pe)
	}
}

func TestDecodeUnknownKindIsIgnorable(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte(`{"id":"` + testID + `","kind":"subscribe","subscribe":{}}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	var v *Violation
	if errors.As(err, &v) {
		t.Fatalf("unknown kind must not produce a violation")
	}
}

func TestViolationReplyUsesFreshID(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte(`{"id":"not-a-uuid","kind":"keepalive"}`))
	v := requireViolation(t, err, ReasonInvalidID)
	reply := v.Reply()
	if !ValidID(reply.ID) || reply.ID == "not-a-uuid" {
		t.Fatalf("unexpected reply id %q", reply.ID)
	}
	if pe := reply.Body.(ProtocolError); pe.Reason != ReasonInvalidID {
		t.Fatalf("unexpected reply body: %+v", pe)
	}
}
