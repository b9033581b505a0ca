// Package frame splits serialized transmissions into websocket frames and
// reassembles them on receipt.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a framing frame.
type Kind string

const (
	KindWhole    Kind = "whole"
	KindBegin    Kind = "begin"
	KindBeginAck Kind = "begin_ack"
	KindProgress Kind = "progress"
)

var (
	ErrMalformedFrame  = errors.New("frame: malformed frame")
	ErrUnknownKind     = errors.New("frame: unknown frame kind")
	ErrMessageTooLarge = errors.New("frame: message too large")
	ErrSegmentHeaders  = errors.New("frame: inconsistent segment headers")
	ErrSegmentLength   = errors.New("frame: segment length mismatch")
	ErrUnknownSequence = errors.New("frame: unknown segment sequence")
	ErrBeginAckTimeout = errors.New("frame: begin ack timeout")
	ErrClosed          = errors.New("frame: connection closed")
)

// Limits bounds segment and message sizes.
type Limits struct {
	MaxSegmentBytes int
	MaxMessageBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxSegmentBytes: 4 << 20,
		MaxMessageBytes: 1 << 30,
	}
}

// Frame is one physical websocket message.
type Frame struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Whole    *Whole    `json:"whole,omitempty"`
	Begin    *Begin    `json:"begin,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
}

type Whole struct {
	Data []byte `json:"data"`
}

// SegmentHeader declares one segment ahead of its data.
type SegmentHeader struct {
	Sequence int `json:"sequence"`
	Bytes    int `json:"bytes"`
}

type Begin struct {
	TotalBytes int64           `json:"total_bytes"`
	Segments   []SegmentHeader `json:"segments"`
}

type Progress struct {
	Sequence int    `json:"sequence"`
	Bytes    int    `json:"bytes"`
	Data     []byte `json:"data"`
}

// Segment is one slice of an outbound payload.
type Segment struct {
	Sequence int
	Data     []byte
}

func Marshal(f Frame) ([]byte, error) {
	if f.ID == "" {
		return nil, fmt.Errorf("%w: id required", ErrMalformedFrame)
	}
	return json.Marshal(f)
}

// Unmarshal decodes raw and checks that the body matching its kind is set.
func Unmarshal(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.ID == "" {
		return Frame{}, fmt.Errorf("%w: id required", ErrMalformedFrame)
	}
	switch f.Kind {
	case KindWhole:
		if f.Whole == nil {
			return Frame{}, fmt.Errorf("%w: whole body missing", ErrMalformedFrame)
		}
	case KindBegin:
		if f.Begin == nil {
			return Frame{}, fmt.Errorf("%w: begin body missing", ErrMalformedFrame)
		}
	case KindProgress:
		if f.Progress == nil {
			return Frame{}, fmt.Errorf("%w: progress body missing", ErrMalformedFrame)
		}
	case KindBeginAck:
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return f, nil
}

// Split cuts payload into ceil(len/max) ordered segments; the last one may
// be shorter. The segments alias payload.
func Split(payload []byte, max int) []Segment {
	if max <= 0 {
		max = DefaultLimits().MaxSegmentBytes
	}
	out := make([]Segment, 0, (len(payload)+max-1)/max)
	for seq, off := 0, 0; off < len(payload); seq, off = seq+1, off+max {
		end := off + max
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, Segment{Sequence: seq, Data: payload[off:end]})
	}
	return out
}

// Headers returns the begin-frame descriptors for segments.
func Headers(segments []Segment) []SegmentHeader {
	out := make([]SegmentHeader, len(segments))
	for i, seg := range segments {
		out[i] = SegmentHeader{Sequence: seg.Sequence, Bytes: len(seg.Data)}
	}
	return out
}
