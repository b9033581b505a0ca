// Package eventbus provides keyed subscriptions used to correlate
// asynchronous protocol events with the goroutines waiting on them.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Topic is the category of a correlated event.
type Topic uint8

const (
	TopicResponse Topic = iota + 1
	TopicKeepalive
	TopicBeginAck
)

func (t Topic) String() string {
	switch t {
	case TopicResponse:
		return "response"
	case TopicKeepalive:
		return "keepalive"
	case TopicBeginAck:
		return "begin_ack"
	default:
		return fmt.Sprintf("topic(%d)", uint8(t))
	}
}

// Key identifies one event stream: a topic plus a correlation id.
type Key struct {
	Topic Topic
	ID    string
}

func (k Key) String() string {
	return k.Topic.String() + ":" + k.ID
}

// Handler consumes one published payload.
type Handler func(payload any) error

// Options controls the lifecycle of a subscription.
type Options struct {
	// RemoveAfterFire makes the subscription fire at most once.
	RemoveAfterFire bool
	// ExpireAfter removes the subscription and runs OnExpire when no
	// publish arrives in time. Zero disables expiry.
	ExpireAfter time.Duration
	OnExpire    func()
	// SingleFlight drops publishes that arrive while the handler runs.
	SingleFlight bool
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	bus     *Bus
	key     Key
	handler Handler
	opts    Options

	// removed is written under bus.mu.
	removed atomic.Bool
	running atomic.Bool

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	// fired disarms expiry for good once the handler has run.
	fired bool
}

// Bus routes published payloads to the subscriptions of a key.
type Bus struct {
	mu     sync.Mutex
	subs   map[Key][]*Subscription
	closed bool
	done   chan struct{}
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Key][]*Subscription),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers handler for key. On a closed bus the returned
// subscription is already inactive.
func (b *Bus) Subscribe(key Key, handler Handler, opts Options) *Subscription {
	s := &Subscription{bus: b, key: key, handler: handler, opts: opts}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.removed.Store(true)
		return s
	}
	b.subs[key] = append(b.subs[key], s)
	if opts.ExpireAfter > 0 {
		s.mu.Lock()
		s.deadline = time.Now().Add(opts.ExpireAfter)
		s.timer = time.AfterFunc(opts.ExpireAfter, s.expire)
		s.mu.Unlock()
	}
	return s
}

// Publish runs every handler subscribed to key and returns how many ran.
// Publishing to a key with no subscribers is a no-op.
func (b *Bus) Publish(key Key, payload any) int {
	b.mu.Lock()
	current := b.subs[key]
	if len(current) == 0 {
		b.mu.Unlock()
		return 0
	}
	snapshot := make([]*Subscription, 0, len(current))
	for _, s := range current {
		if s.opts.RemoveAfterFire {
			// claim under the lock so expiry and concurrent publishes lose
			if !b.removeLocked(s) {
				continue
			}
		}
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	fired := 0
	for _, s := range snapshot {
		if s.fire(payload) {
			fired++
		}
	}
	return fired
}

// Unsubscribe removes s. It reports false when s was already removed.
func (b *Bus) Unsubscribe(s *Subscription) bool {
	if s == nil {
		return false
	}
	b.mu.Lock()
	ok := b.removeLocked(s)
	b.mu.Unlock()
	if ok {
		s.stopTimer()
	}
	return ok
}

// Len returns the number of live subscriptions for key.
func (b *Bus) Len(key Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Done is closed by Close. Waiters whose expiry callbacks will never run
// watch it instead.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close drops every subscription without running expiry callbacks.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	var all []*Subscription
	for key, list := range b.subs {
		for _, s := range list {
			s.removed.Store(true)
			all = append(all, s)
		}
		delete(b.subs, key)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.stopTimer()
	}
}

func (b *Bus) removeLocked(s *Subscription) bool {
	if s.removed.Load() {
		return false
	}
	list := b.subs[s.key]
	for i, cur := range list {
		if cur != s {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(b.subs, s.key)
		} else {
			b.subs[s.key] = list
		}
		s.removed.Store(true)
		return true
	}
	return false
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return !s.removed.Load()
}

func (s *Subscription) Key() Key {
	return s.key
}

// RenewExpiry pushes the expiry deadline out by ExpireAfter from now.
// It reports false when the subscription has no expiry, has already
// fired, or is gone.
func (s *Subscription) RenewExpiry() bool {
	if s.opts.ExpireAfter <= 0 || s.removed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil || s.fired {
		return false
	}
	s.deadline = time.Now().Add(s.opts.ExpireAfter)
	s.timer.Reset(s.opts.ExpireAfter)
	return true
}

func (s *Subscription) fire(payload any) bool {
	if s.opts.SingleFlight {
		if !s.running.CompareAndSwap(false, true) {
			s.bus.logger.Debug().Str("event", s.key.String()).Msg("publish dropped, handler still running")
			return false
		}
		defer s.running.Store(false)
	}
	s.disarm()

	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error().Str("event", s.key.String()).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	if err := s.handler(payload); err != nil {
		s.bus.logger.Warn().Err(err).Str("event", s.key.String()).Msg("event handler failed")
	}
	return true
}

func (s *Subscription) expire() {
	s.bus.mu.Lock()
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		s.bus.mu.Unlock()
		return
	}
	if remaining := time.Until(s.deadline); remaining > 0 && !s.removed.Load() {
		// renewed while this callback was queued
		s.timer.Reset(remaining)
		s.mu.Unlock()
		s.bus.mu.Unlock()
		return
	}
	claimed := s.bus.removeLocked(s)
	s.mu.Unlock()
	s.bus.mu.Unlock()
	if !claimed || s.opts.OnExpire == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error().Str("event", s.key.String()).Interface("panic", r).Msg("expiry handler panicked")
		}
	}()
	s.opts.OnExpire()
}

func (s *Subscription) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Subscription) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}
