package peer

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/wser/internal/protocol"
)

// startKeepalive emits keepalives for requestID every interval until the
// returned stop func runs or ctx ends. stop is safe to call repeatedly.
func (p *Peer) startKeepalive(ctx context.Context, requestID string) func() {
	done := make(chan struct{})
	var once sync.Once
	ticker := time.NewTicker(p.cfg.KeepaliveInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				if err := p.send(ctx, protocol.NewKeepalive(requestID)); err != nil {
					p.logger.Debug().Err(err).Str("request", requestID).Msg("keepalive not sent")
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
