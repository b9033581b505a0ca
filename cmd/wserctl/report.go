package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/danmuck/wser/internal/peer"
)

type report struct {
	Outcome    string          `json:"outcome"`
	Command    string          `json:"command"`
	RequestID  string          `json:"request_id"`
	ResponseID string          `json:"response_id,omitempty"`
	Duration   string          `json:"duration"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// parsePayload passes valid JSON through and quotes anything else.
func parsePayload(arg string) json.RawMessage {
	trimmed := strings.TrimSpace(arg)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

func writeReport(w io.Writer, out peer.Outcome) error {
	r := report{
		Outcome:    string(out.Kind),
		Command:    out.Command,
		RequestID:  out.RequestID,
		ResponseID: out.ResponseID,
		Duration:   out.Duration.String(),
		Detail:     out.Detail,
	}
	if out.Success() {
		r.Payload = out.Payload
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
