// Package staleness keeps the most recent value per key and hides values
// older than a fixed window.
package staleness

import (
	"sync"
	"time"

	"github.com/banshee-data/depthcast/internal/timeutil"
)

const (
	// DatagramTimeout is the window for frames arriving over UDP.
	DatagramTimeout = 1000 * time.Millisecond
	// StreamTimeout is the window for frames arriving over TCP.
	StreamTimeout = 2000 * time.Millisecond
)

type entry[V any] struct {
	value   V
	updated time.Time
}

// Buffer maps keys to their latest value. Expiry is evaluated on read;
// nothing runs in the background. Safe for concurrent use.
type Buffer[K comparable, V any] struct {
	clock   timeutil.Clock
	timeout time.Duration
	clone   func(V) V

	mu      sync.Mutex
	entries map[K]entry[V]
}

// New returns a Buffer that deep-copies values with clone on the way in
// and on the way out. A nil clone stores values as they are.
func New[K comparable, V any](timeout time.Duration, clone func(V) V, clock timeutil.Clock) *Buffer[K, V] {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if clone == nil {
		clone = func(v V) V { return v }
	}
	return &Buffer[K, V]{
		clock:   clock,
		timeout: timeout,
		clone:   clone,
		entries: make(map[K]entry[V]),
	}
}

// Update stores v under k, stamped now.
func (b *Buffer[K, V]) Update(k K, v V) {
	v = b.clone(v)
	now := b.clock.Now()
	b.mu.Lock()
	b.entries[k] = entry[V]{value: v, updated: now}
	b.mu.Unlock()
}

// Get returns a copy of the value under k if it is younger than the
// timeout.
func (b *Buffer[K, V]) Get(k K) (V, bool) {
	b.mu.Lock()
	e, ok := b.entries[k]
	b.mu.Unlock()
	var zero V
	if !ok || b.clock.Since(e.updated) >= b.timeout {
		return zero, false
	}
	return b.clone(e.value), true
}

// Age returns how long ago k was last updated, fresh or not.
func (b *Buffer[K, V]) Age(k K) (time.Duration, bool) {
	b.mu.Lock()
	e, ok := b.entries[k]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	return b.clock.Since(e.updated), true
}

// Fresh lists the keys whose values are currently visible.
func (b *Buffer[K, V]) Fresh() []K {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []K
	for k, e := range b.entries {
		if now.Sub(e.updated) < b.timeout {
			out = append(out, k)
		}
	}
	return out
}

// Timeout returns the validity window.
func (b *Buffer[K, V]) Timeout() time.Duration {
	return b.timeout
}
