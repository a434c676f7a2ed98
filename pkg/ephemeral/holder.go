package ephemeral

import (
	"sync"
	"time"
)

// Holder keeps values alive for a fixed TTL measured on the local clock.
// Expired entries are pruned on access, so a value emitted at time t is
// observable at any query in [t, t+ttl) and never at or after t+ttl.
type Holder[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[K]entry[V]
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// NewHolder creates a holder whose entries live for ttl.
func NewHolder[K comparable, V any](ttl time.Duration) *Holder[K, V] {
	return &Holder[K, V]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[K]entry[V]),
	}
}

// SetClock replaces the holder's clock. Test hook.
func (h *Holder[K, V]) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// Put stores value under key, replacing any pending entry for the same
// key and restarting its lifetime. emittedAt anchors the expiry; pass
// the emitter-attached timestamp so all holders age the event from the
// same origin.
func (h *Holder[K, V]) Put(key K, value V, emittedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[key] = entry[V]{value: value, expires: emittedAt.Add(h.ttl)}
}

// Get returns the live value for key, if any.
func (h *Holder[K, V]) Get(key K) (V, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	e, ok := h.items[key]
	return e.value, ok
}

// Remove drops the entry for key before its expiry.
func (h *Holder[K, V]) Remove(key K) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.items, key)
}

// Active returns all live values. Order is unspecified.
func (h *Holder[K, V]) Active() []V {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	values := make([]V, 0, len(h.items))
	for _, e := range h.items {
		values = append(values, e.value)
	}
	return values
}

// Len returns the number of live entries.
func (h *Holder[K, V]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	return len(h.items)
}

func (h *Holder[K, V]) pruneLocked() {
	now := h.now()
	for key, e := range h.items {
		if !now.Before(e.expires) {
			delete(h.items, key)
		}
	}
}
