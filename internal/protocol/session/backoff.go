package session

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// NextBackoffDelay returns the pause after failed dial attempt N (1-based).
// Jitter scales the delay by a factor in [0.5, 1.5); MaxDelay caps the
// result either way.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	growth := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(growth, float64(attempt-1))
	if cfg.Jitter {
		factor := 1.0
		if rng != nil {
			factor = 0.5 + rng.Float64()
		}
		delay *= factor
	}
	if ceiling := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay)
}

// DialBackoff paces a client's connect attempts. One value may be shared
// by concurrent dialers.
type DialBackoff struct {
	cfg BackoffConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDialBackoff(cfg BackoffConfig, seed int64) *DialBackoff {
	return &DialBackoff{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (b *DialBackoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NextBackoffDelay(b.cfg, attempt, b.rng)
}

// Wait blocks for the delay after attempt. It returns ctx.Err() when ctx
// ends first.
func (b *DialBackoff) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
