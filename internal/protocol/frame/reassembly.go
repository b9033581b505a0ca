package frame

import (
	"fmt"
	"sort"
	"time"
)

// Reassembly tracks one in-flight segmented message.
type Reassembly struct {
	ID         string
	TotalBytes int64
	Expected   []SegmentHeader
	StartedAt  time.Time

	declared map[int]int
	received []Progress
}

// NewReassembly validates begin against limits.
func NewReassembly(id string, begin Begin, limits Limits) (*Reassembly, error) {
	if len(begin.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments declared", ErrSegmentHeaders)
	}
	if limits.MaxMessageBytes > 0 && begin.TotalBytes > limits.MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, begin.TotalBytes, limits.MaxMessageBytes)
	}
	declared := make(map[int]int, len(begin.Segments))
	var sum int64
	for _, h := range begin.Segments {
		if h.Bytes < 0 {
			return nil, fmt.Errorf("%w: negative length for sequence %d", ErrSegmentHeaders, h.Sequence)
		}
		if _, dup := declared[h.Sequence]; dup {
			return nil, fmt.Errorf("%w: duplicate sequence %d", ErrSegmentHeaders, h.Sequence)
		}
		declared[h.Sequence] = h.Bytes
		sum += int64(h.Bytes)
	}
	if sum != begin.TotalBytes {
		return nil, fmt.Errorf("%w: segments sum to %d, total_bytes %d", ErrSegmentHeaders, sum, begin.TotalBytes)
	}

	expected := make([]SegmentHeader, len(begin.Segments))
	copy(expected, begin.Segments)
	return &Reassembly{
		ID:         id,
		TotalBytes: begin.TotalBytes,
		Expected:   expected,
		StartedAt:  time.Now(),
		declared:   declared,
		received:   make([]Progress, 0, len(expected)),
	}, nil
}

// Add records p and reports whether every declared segment has arrived.
// A repeated sequence is dropped.
func (r *Reassembly) Add(p Progress) (bool, error) {
	if _, ok := r.declared[p.Sequence]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownSequence, p.Sequence)
	}
	for _, got := range r.received {
		if got.Sequence == p.Sequence {
			return false, nil
		}
	}
	r.received = append(r.received, p)
	return len(r.received) == len(r.Expected), nil
}

func (r *Reassembly) Received() int {
	return len(r.received)
}

// Assemble orders the received segments by sequence, checks each against
// its declared length and concatenates them.
func (r *Reassembly) Assemble() ([]byte, error) {
	if len(r.received) != len(r.Expected) {
		return nil, fmt.Errorf("%w: %d of %d segments", ErrSegmentHeaders, len(r.received), len(r.Expected))
	}
	segments := make([]Progress, len(r.received))
	copy(segments, r.received)
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Sequence < segments[j].Sequence
	})

	out := make([]byte, 0, r.TotalBytes)
	for _, seg := range segments {
		want := r.declared[seg.Sequence]
		if len(seg.Data) != want {
			return nil, fmt.Errorf("%w: sequence %d has %d bytes, declared %d", ErrSegmentLength, seg.Sequence, len(seg.Data), want)
		}
		out = append(out, seg.Data...)
	}
	return out, nil
}
