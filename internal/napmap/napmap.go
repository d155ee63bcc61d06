// Package napmap implements the bounded response cache (§4.B): a
// key-addressable rendezvous buffer where an Insert that arrives before any
// Get still wakes a future Get, and a Get that arrives before any Insert
// suspends without busy-waiting. Multiple concurrent waiters on the same
// key all observe the same value.
//
// The name follows the source project's terminology: callers "nap" on a
// key until it is populated.
package napmap

import (
	"context"
	"sync"

	jaerrors "github.com/koefmatt/jarust/internal/errors"
)

// entry pairs a stored value with a monotonic version, incremented on every
// Insert to the same key. GetAfter uses the version to distinguish "the
// value that was already here" from "a value that arrived after I started
// waiting," which plain presence-in-map cannot: an overwrite (Ack followed
// by a terminal reply) would otherwise look identical to a caller that
// already observed the first value.
type entry[V any] struct {
	value   V
	version int
}

// NapMap is a bounded, FIFO-evicting rendezvous cache from K to V.
type NapMap[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	values   map[K]entry[V]
	order    []K
	waiters  map[K][]chan entry[V]
	closed   bool
}

// New returns a NapMap bounded to the given capacity. A non-positive
// capacity is treated as 1, since an unbounded cache defeats the purpose of
// this type.
func New[K comparable, V any](capacity int) *NapMap[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &NapMap[K, V]{
		capacity: capacity,
		values:   make(map[K]entry[V], capacity),
		waiters:  make(map[K][]chan entry[V]),
	}
}

// Insert stores v under k, overwriting any previous value, and wakes every
// waiter currently blocked on k. If the map now holds more than capacity
// keys, the oldest key by insertion order is evicted.
func (n *NapMap[K, V]) Insert(k K, v V) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	prev, exists := n.values[k]
	if !exists {
		n.order = append(n.order, k)
	}
	e := entry[V]{value: v, version: prev.version + 1}
	n.values[k] = e

	if ws, ok := n.waiters[k]; ok {
		for _, ch := range ws {
			ch <- e
			close(ch)
		}
		delete(n.waiters, k)
	}

	for len(n.order) > n.capacity {
		oldest := n.order[0]
		n.order = n.order[1:]
		delete(n.values, oldest)
	}
}

// Get returns the value stored under k, blocking until it is inserted, the
// context is cancelled, or the map is closed. It is equivalent to
// GetAfter(ctx, k, 0): any value already present satisfies it.
func (n *NapMap[K, V]) Get(ctx context.Context, k K) (V, error) {
	v, _, err := n.GetAfter(ctx, k, 0)
	return v, err
}

// GetAfter returns the first value stored under k whose version is greater
// than seenVersion, blocking until one is inserted, the context is
// cancelled, or the map is closed. A caller that already consumed one
// value under k and must wait specifically for the next overwrite (the
// WaitOnRsp ack-then-terminal case, §4.B) calls GetAfter with the version
// it last observed instead of Get, which would otherwise return the same
// stale value again.
func (n *NapMap[K, V]) GetAfter(ctx context.Context, k K, seenVersion int) (V, int, error) {
	n.mu.Lock()
	if e, ok := n.values[k]; ok && e.version > seenVersion {
		n.mu.Unlock()
		return e.value, e.version, nil
	}
	if n.closed {
		n.mu.Unlock()
		var zero V
		return zero, seenVersion, jaerrors.ErrTransportClosed
	}

	ch := make(chan entry[V], 1)
	n.waiters[k] = append(n.waiters[k], ch)
	n.mu.Unlock()

	select {
	case e, ok := <-ch:
		if !ok {
			var zero V
			return zero, seenVersion, jaerrors.ErrTransportClosed
		}
		return e.value, e.version, nil
	case <-ctx.Done():
		n.removeWaiter(k, ch)
		var zero V
		return zero, seenVersion, jaerrors.ErrTimeout
	}
}

func (n *NapMap[K, V]) removeWaiter(k K, target chan entry[V]) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ws := n.waiters[k]
	for i, ch := range ws {
		if ch == target {
			n.waiters[k] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(n.waiters[k]) == 0 {
		delete(n.waiters, k)
	}
}

// Len reports the number of keys currently held, for capacity assertions in
// tests.
func (n *NapMap[K, V]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.values)
}

// Close wakes every outstanding waiter with a transport-closed error and
// rejects future inserts. Subsequent Get calls for absent keys also fail
// with transport-closed instead of blocking forever.
func (n *NapMap[K, V]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for k, ws := range n.waiters {
		for _, ch := range ws {
			close(ch)
		}
		delete(n.waiters, k)
	}
}
