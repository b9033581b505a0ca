package peer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/wser/internal/protocol"
)

// Handler executes one inbound command request. The returned value is
// json encoded as the response payload; a returned error becomes an
// execution_error response.
type Handler func(ctx context.Context, p *Peer, req protocol.CommandRequest, tx protocol.Transmission) (any, error)

// Registry stores command handlers by name. A registry may fall back to a
// parent, which is how a listener shares commands across its peers.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]Handler
	parent *Registry
}

// NewRegistry creates an empty registry over parent, which may be nil.
func NewRegistry(parent *Registry) *Registry {
	return &Registry{items: make(map[string]Handler), parent: parent}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, name)
	}
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = h
	return nil
}

// Unregister removes name from this registry only.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; !ok {
		return false
	}
	delete(r.items, name)
	return true
}

// Resolve returns the handler for name, checking the parent last.
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.items[name]
	r.mu.RUnlock()
	if ok {
		return h, true
	}
	if r.parent != nil {
		return r.parent.Resolve(name)
	}
	return nil, false
}

// Names returns every resolvable command name in sorted order.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for name := range cur.items {
			seen[name] = struct{}{}
		}
		cur.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isValidName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}
