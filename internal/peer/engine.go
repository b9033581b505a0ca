package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wser/internal/eventbus"
	"github.com/danmuck/wser/internal/observability"
	"github.com/danmuck/wser/internal/protocol"
	"github.com/danmuck/wser/internal/protocol/frame"
	"github.com/danmuck/wser/internal/protocol/session"
)

// Invoke calls command on the remote peer and waits for its response.
// A zero timeout uses the session InvokeTimeout. Every keepalive the
// remote emits for this request restarts the timeout, which also bounds
// a segmented send waiting for its begin ack. Invoke always returns a
// terminal outcome.
func (p *Peer) Invoke(ctx context.Context, command string, payload any, timeout time.Duration) Outcome {
	start := time.Now()
	if timeout <= 0 {
		timeout = p.cfg.InvokeTimeout
	}
	if !isValidName(command) {
		err := fmt.Errorf("%w: %q", ErrInvalidCommand, command)
		return p.finish(start, Outcome{Kind: OutcomeExecutionError, Command: command, Detail: err.Error(), Err: err})
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return p.finish(start, Outcome{Kind: OutcomeExecutionError, Command: command, Detail: err.Error(), Err: err})
	}
	tx := protocol.NewRequest(command, raw)
	inv := newInvocation(tx.ID, command)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.finish(start, Outcome{Kind: OutcomeTimeout, Command: command, RequestID: tx.ID, Err: ErrDisconnected})
	}
	p.pending[tx.ID] = inv
	p.mu.Unlock()
	p.outbox.Upsert(session.PendingInvocation{
		RequestID: tx.ID,
		Command:   command,
		IssuedAt:  start,
		Deadline:  start.Add(timeout),
	})
	defer p.forget(tx.ID)

	response := p.bus.Subscribe(
		eventbus.Key{Topic: eventbus.TopicResponse, ID: tx.ID},
		func(v any) error {
			resp, ok := v.(protocol.Transmission)
			if !ok {
				return fmt.Errorf("peer: unexpected response payload %T", v)
			}
			inv.resolve(outcomeFromResponse(resp, resp.Body.(protocol.CommandResponse)))
			return nil
		},
		eventbus.Options{
			RemoveAfterFire: true,
			ExpireAfter:     timeout,
			OnExpire: func() {
				inv.resolve(Outcome{Kind: OutcomeTimeout, Err: ErrInvokeTimeout})
			},
		},
	)
	keepalive := p.bus.Subscribe(
		eventbus.Key{Topic: eventbus.TopicKeepalive, ID: tx.ID},
		func(any) error {
			if response.RenewExpiry() {
				p.outbox.MarkKeepalive(tx.ID, time.Now(), timeout)
			}
			return nil
		},
		eventbus.Options{},
	)
	defer p.bus.Unsubscribe(keepalive)
	defer p.bus.Unsubscribe(response)

	// the send runs beside the wait so a begin ack wait cannot outlive
	// the invocation timeout or the connection
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	go func() {
		if err := p.send(sendCtx, tx); err != nil {
			if errors.Is(err, frame.ErrClosed) {
				err = ErrDisconnected
			}
			inv.resolve(Outcome{Kind: OutcomeTimeout, Err: err})
		}
	}()

	var out Outcome
	select {
	case out = <-inv.done:
	case <-ctx.Done():
		out = Outcome{Kind: OutcomeTimeout, Err: ctx.Err()}
	}
	out.Command = command
	out.RequestID = tx.ID
	return p.finish(start, out)
}

func (p *Peer) finish(start time.Time, out Outcome) Outcome {
	out.Duration = time.Since(start)
	observability.RecordInvocation(out.Command, string(out.Kind), out.Duration)

	event := p.logger.Debug()
	if out.Kind != OutcomeSuccess {
		event = p.logger.Info()
	}
	event.
		Str("command", out.Command).
		Str("request", out.RequestID).
		Str("outcome", string(out.Kind)).
		Dur("duration", out.Duration).
		AnErr("cause", out.Err).
		Msg("invocation finished")
	return out
}

func (p *Peer) forget(requestID string) {
	p.mu.Lock()
	delete(p.pending, requestID)
	p.mu.Unlock()
	p.outbox.Remove(requestID)
}

// dispatch validates one reassembled payload and routes it.
func (p *Peer) dispatch(ctx context.Context, payload []byte) {
	tx, err := protocol.Decode(payload)
	if err != nil {
		p.rejected(ctx, err)
		return
	}
	observability.RecordTransmission(observability.DirectionIn, string(tx.Kind()))

	switch body := tx.Body.(type) {
	case protocol.CommandRequest:
		go p.handleRequest(ctx, tx, body)
	case protocol.CommandResponse:
		key := eventbus.Key{Topic: eventbus.TopicResponse, ID: body.RequestID}
		if p.bus.Publish(key, tx) == 0 {
			p.logger.Debug().Str("request", body.RequestID).Str("command", body.Command).Msg("response without waiting invocation")
		}
	case protocol.Keepalive:
		p.bus.Publish(eventbus.Key{Topic: eventbus.TopicKeepalive, ID: body.RequestID}, tx)
	case protocol.ProtocolError:
		p.logger.Warn().
			Str("tx", tx.ID).
			Str("reason", string(body.Reason)).
			Str("message", body.Message).
			Msg("remote reported protocol error")
	}
}

func (p *Peer) rejected(ctx context.Context, err error) {
	var v *protocol.Violation
	if !errors.As(err, &v) {
		p.logger.Debug().Err(err).Msg("transmission ignored")
		return
	}
	p.logger.Warn().Err(v).Msg("transmission rejected")
	if !v.Replyable() {
		return
	}
	if err := p.send(ctx, v.Reply()); err != nil {
		p.logger.Debug().Err(err).Msg("protocol error reply not sent")
	}
}

// handleRequest executes one inbound request and answers it. A keepalive
// emitter runs for as long as the handler does.
func (p *Peer) handleRequest(ctx context.Context, tx protocol.Transmission, req protocol.CommandRequest) {
	logger := p.logger.With().Str("tx", tx.ID).Str("command", req.Command).Logger()
	handler, ok := p.commands.Resolve(req.Command)
	if !ok {
		logger.Info().Msg("command not found")
		p.reply(ctx, protocol.NewFailure(tx, req.Command, protocol.ErrorCommandNotFound,
			fmt.Sprintf("command %q is not registered", req.Command)))
		return
	}

	stop := p.startKeepalive(ctx, tx.ID)
	defer stop()

	start := time.Now()
	result, err := p.runHandler(ctx, handler, tx, req)
	stop()
	if err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("command failed")
		p.reply(ctx, protocol.NewFailure(tx, req.Command, protocol.ErrorExecution, err.Error()))
		return
	}
	raw, err := encodePayload(result)
	if err != nil {
		logger.Warn().Err(err).Msg("command result not encodable")
		p.reply(ctx, protocol.NewFailure(tx, req.Command, protocol.ErrorExecution, err.Error()))
		return
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("command executed")
	p.reply(ctx, protocol.NewSuccess(tx, req.Command, raw))
}

func (p *Peer) runHandler(ctx context.Context, h Handler, tx protocol.Transmission, req protocol.CommandRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, p, req, tx)
}

func (p *Peer) reply(ctx context.Context, tx protocol.Transmission) {
	err := p.send(ctx, tx)
	switch {
	case err == nil:
	case errors.Is(err, ErrDisconnected), errors.Is(err, context.Canceled):
		p.logger.Debug().Err(err).Str("tx", tx.ID).Msg("response dropped after disconnect")
	default:
		p.logger.Error().Err(err).Str("tx", tx.ID).Msg("response not sent")
	}
}

// send encodes tx and hands it to the framer.
func (p *Peer) send(ctx context.Context, tx protocol.Transmission) error {
	raw, err := protocol.Encode(tx)
	if err != nil {
		return err
	}
	if err := p.framer.Send(ctx, tx.ID, raw); err != nil {
		return err
	}
	observability.RecordTransmission(observability.DirectionOut, string(tx.Kind()))
	return nil
}

func encodePayload(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(t) == 0 {
			return nil, nil
		}
		if !json.Valid(t) {
			return nil, fmt.Errorf("%w: invalid raw json", ErrEncodePayload)
		}
		return t, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodePayload, err)
	}
	return raw, nil
}
