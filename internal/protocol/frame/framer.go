package frame

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wser/internal/eventbus"
	"github.com/danmuck/wser/internal/observability"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SendFunc writes one physical frame to the connection.
type SendFunc func(ctx context.Context, raw []byte) error

type Config struct {
	Limits          Limits
	BeginAckTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limits:          DefaultLimits(),
		BeginAckTimeout: 15 * time.Second,
	}
}

// Framer owns segmentation for one connection.
type Framer struct {
	cfg    Config
	bus    *eventbus.Bus
	send   SendFunc
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*Reassembly
}

func New(cfg Config, bus *eventbus.Bus, send SendFunc, logger zerolog.Logger) *Framer {
	def := DefaultConfig()
	if cfg.Limits.MaxSegmentBytes <= 0 {
		cfg.Limits.MaxSegmentBytes = def.Limits.MaxSegmentBytes
	}
	if cfg.Limits.MaxMessageBytes <= 0 {
		cfg.Limits.MaxMessageBytes = def.Limits.MaxMessageBytes
	}
	if cfg.BeginAckTimeout <= 0 {
		cfg.BeginAckTimeout = def.BeginAckTimeout
	}
	return &Framer{
		cfg:     cfg,
		bus:     bus,
		send:    send,
		logger:  logger.With().Str("component", "framer").Logger(),
		pending: make(map[string]*Reassembly),
	}
}

// Send writes payload under message id. Payloads at or above the segment
// size are announced with a begin frame and only written once the peer
// acks it; ErrBeginAckTimeout is returned when no ack arrives in time and
// ErrClosed when the bus is closed while waiting.
func (f *Framer) Send(ctx context.Context, id string, payload []byte) error {
	if id == "" {
		id = uuid.NewString()
	}
	if len(payload) < f.cfg.Limits.MaxSegmentBytes {
		return f.write(ctx, Frame{ID: id, Kind: KindWhole, Whole: &Whole{Data: payload}})
	}
	if int64(len(payload)) > f.cfg.Limits.MaxMessageBytes {
		return fmt.Errorf("%w: %s", ErrMessageTooLarge, humanize.IBytes(uint64(len(payload))))
	}

	segments := Split(payload, f.cfg.Limits.MaxSegmentBytes)
	acked := make(chan struct{})
	expired := make(chan struct{})
	sub := f.bus.Subscribe(
		eventbus.Key{Topic: eventbus.TopicBeginAck, ID: id},
		func(any) error {
			close(acked)
			return nil
		},
		eventbus.Options{
			RemoveAfterFire: true,
			ExpireAfter:     f.cfg.BeginAckTimeout,
			OnExpire:        func() { close(expired) },
		},
	)
	defer f.bus.Unsubscribe(sub)

	begin := Frame{ID: id, Kind: KindBegin, Begin: &Begin{
		TotalBytes: int64(len(payload)),
		Segments:   Headers(segments),
	}}
	if err := f.write(ctx, begin); err != nil {
		return err
	}
	f.logger.Debug().
		Str("message", id).
		Str("size", humanize.IBytes(uint64(len(payload)))).
		Int("segments", len(segments)).
		Msg("segmented send awaiting begin ack")

	select {
	case <-acked:
	case <-expired:
		return fmt.Errorf("%w: message %s after %s", ErrBeginAckTimeout, id, f.cfg.BeginAckTimeout)
	case <-f.bus.Done():
		return fmt.Errorf("%w: message %s awaiting begin ack", ErrClosed, id)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, seg := range segments {
		progress := Frame{ID: id, Kind: KindProgress, Progress: &Progress{
			Sequence: seg.Sequence,
			Bytes:    len(seg.Data),
			Data:     seg.Data,
		}}
		if err := f.write(ctx, progress); err != nil {
			return err
		}
	}
	return nil
}

// Receive consumes one physical frame. It returns the payload and true once
// a complete message is available. Frames that cannot be applied are
// reported as errors; the caller drops them and keeps reading.
func (f *Framer) Receive(ctx context.Context, raw []byte) ([]byte, bool, error) {
	fr, err := Unmarshal(raw)
	if err != nil {
		return nil, false, err
	}
	observability.RecordFrame(observability.DirectionIn, string(fr.Kind))

	switch fr.Kind {
	case KindWhole:
		return fr.Whole.Data, true, nil
	case KindBeginAck:
		if f.bus.Publish(eventbus.Key{Topic: eventbus.TopicBeginAck, ID: fr.ID}, nil) == 0 {
			f.logger.Debug().Str("message", fr.ID).Msg("begin ack without waiting sender")
		}
		return nil, false, nil
	case KindBegin:
		return nil, false, f.begin(ctx, fr)
	case KindProgress:
		return f.progress(fr)
	}
	return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, fr.Kind)
}

// Reset drops every partial reassembly and returns how many were dropped.
func (f *Framer) Reset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pending)
	f.pending = make(map[string]*Reassembly)
	return n
}

// Pending returns the number of partial reassemblies.
func (f *Framer) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Framer) begin(ctx context.Context, fr Frame) error {
	r, err := NewReassembly(fr.ID, *fr.Begin, f.cfg.Limits)
	if err != nil {
		observability.RecordReassemblyAbort("rejected_begin")
		return err
	}
	f.mu.Lock()
	f.pending[fr.ID] = r
	f.mu.Unlock()

	if err := f.write(ctx, Frame{ID: fr.ID, Kind: KindBeginAck}); err != nil {
		f.mu.Lock()
		delete(f.pending, fr.ID)
		f.mu.Unlock()
		return err
	}
	f.logger.Debug().
		Str("message", fr.ID).
		Str("size", humanize.IBytes(uint64(r.TotalBytes))).
		Int("segments", len(r.Expected)).
		Msg("reassembly started")
	return nil
}

func (f *Framer) progress(fr Frame) ([]byte, bool, error) {
	f.mu.Lock()
	r, ok := f.pending[fr.ID]
	if !ok {
		f.mu.Unlock()
		f.logger.Debug().Str("message", fr.ID).Int("sequence", fr.Progress.Sequence).Msg("segment for unknown message dropped")
		return nil, false, nil
	}
	complete, err := r.Add(*fr.Progress)
	if err != nil || complete {
		delete(f.pending, fr.ID)
	}
	f.mu.Unlock()

	if err != nil {
		observability.RecordReassemblyAbort("unknown_sequence")
		return nil, false, err
	}
	if !complete {
		return nil, false, nil
	}

	payload, err := r.Assemble()
	if err != nil {
		observability.RecordReassemblyAbort("segment_length")
		return nil, false, err
	}
	return payload, true, nil
}

func (f *Framer) write(ctx context.Context, fr Frame) error {
	raw, err := Marshal(fr)
	if err != nil {
		return err
	}
	if err := f.send(ctx, raw); err != nil {
		return err
	}
	observability.RecordFrame(observability.DirectionOut, string(fr.Kind))
	return nil
}
