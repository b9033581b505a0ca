package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingInvocation tracks one outbound command request awaiting its response.
type PendingInvocation struct {
	RequestID  string
	Command    string
	IssuedAt   time.Time
	Deadline   time.Time
	Keepalives int
}

// InvocationOutbox stores pending invocations by request id.
type InvocationOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingInvocation
}

func NewInvocationOutbox() *InvocationOutbox {
	return &InvocationOutbox{
		items: make(map[string]PendingInvocation),
	}
}

func (o *InvocationOutbox) Upsert(item PendingInvocation) {
	key := strings.TrimSpace(item.RequestID)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[key] = item
}

// MarkKeepalive pushes the deadline of requestID out to at+extend.
func (o *InvocationOutbox) MarkKeepalive(requestID string, at time.Time, extend time.Duration) (PendingInvocation, bool) {
	key := strings.TrimSpace(requestID)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingInvocation{}, false
	}
	item.Keepalives++
	item.Deadline = at.Add(extend)
	o.items[key] = item
	return item, true
}

func (o *InvocationOutbox) Remove(requestID string) {
	key := strings.TrimSpace(requestID)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *InvocationOutbox) Get(requestID string) (PendingInvocation, bool) {
	key := strings.TrimSpace(requestID)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

func (o *InvocationOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// Drain removes and returns every pending invocation ordered by issue time.
func (o *InvocationOutbox) Drain() []PendingInvocation {
	o.mu.Lock()
	out := make([]PendingInvocation, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	o.items = make(map[string]PendingInvocation)
	o.mu.Unlock()
	sortInvocations(out)
	return out
}

func (o *InvocationOutbox) List() []PendingInvocation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingInvocation, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sortInvocations(out)
	return out
}

func sortInvocations(items []PendingInvocation) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].IssuedAt.Equal(items[j].IssuedAt) {
			return items[i].RequestID < items[j].RequestID
		}
		return items[i].IssuedAt.Before(items[j].IssuedAt)
	})
}
