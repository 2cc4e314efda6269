package symbols

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb/maptile"
)

// Registry errors.
var (
	// ErrPromiseBroken is returned to waiters when the producer gave up.
	ErrPromiseBroken = errors.New("symbols: promise broken")

	// ErrPromiseSettled is returned when a promise is fulfilled or broken twice.
	ErrPromiseSettled = errors.New("symbols: promise already settled")

	// ErrNotReferenced is returned when releasing a key that holds no reference.
	ErrNotReferenced = errors.New("symbols: resource not referenced")
)

// Registry is a refcounted, per-zoom store of shared resources with
// single-flight production.
//
// Registry is safe for concurrent use.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	zooms map[maptile.Zoom]map[K]*slot[V]
}

// slot is either available (pending == nil) or being produced.
type slot[V any] struct {
	value   V
	refs    int
	pending *pending[V]
}

// pending tracks an in-flight production and its waiters.
type pending[V any] struct {
	done    chan struct{}
	waiters int
	value   V
	err     error
}

// Claim is the outcome of [Registry.Obtain]. Exactly one of Referenced,
// Future or Promise is set.
type Claim[K comparable, V any] struct {
	// Value is the shared resource when Referenced is true.
	Value V

	// Referenced is true when an existing resource was referenced.
	Referenced bool

	// Future is set when another caller is producing the resource.
	Future *Future[K, V]

	// Promise is set when the caller must produce the resource.
	Promise *Promise[K, V]
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{zooms: make(map[maptile.Zoom]map[K]*slot[V])}
}

// Obtain references the resource for key if it exists, returns a future
// if its production is in flight, or makes the caller the producer.
func (r *Registry[K, V]) Obtain(zoom maptile.Zoom, key K) Claim[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.zooms[zoom]
	if slots == nil {
		slots = make(map[K]*slot[V])
		r.zooms[zoom] = slots
	}

	if s, ok := slots[key]; ok {
		if s.pending == nil {
			s.refs++
			return Claim[K, V]{Value: s.value, Referenced: true}
		}
		s.pending.waiters++
		return Claim[K, V]{Future: &Future[K, V]{reg: r, zoom: zoom, key: key, p: s.pending}}
	}

	p := &pending[V]{done: make(chan struct{})}
	slots[key] = &slot[V]{pending: p}
	return Claim[K, V]{Promise: &Promise[K, V]{reg: r, zoom: zoom, key: key, p: p}}
}

// Release drops one reference. When the last reference is released the
// resource is removed and returned with removed set, so the caller can
// free whatever it holds.
func (r *Registry[K, V]) Release(zoom maptile.Zoom, key K) (value V, removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.zooms[zoom][key]
	if !ok || s.pending != nil || s.refs == 0 {
		return value, false, fmt.Errorf("%w: zoom %d key %v", ErrNotReferenced, zoom, key)
	}
	s.refs--
	if s.refs > 0 {
		return s.value, false, nil
	}
	r.removeLocked(zoom, key)
	return s.value, true, nil
}

// RefCount returns the number of references held on key, or zero if the
// resource is missing or still being produced.
func (r *Registry[K, V]) RefCount(zoom maptile.Zoom, key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.zooms[zoom][key]
	if !ok || s.pending != nil {
		return 0
	}
	return s.refs
}

// Get returns the resource for key without taking a reference.
func (r *Registry[K, V]) Get(zoom maptile.Zoom, key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.zooms[zoom][key]
	if !ok || s.pending != nil {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Len returns the number of available resources across all zoom levels.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, slots := range r.zooms {
		for _, s := range slots {
			if s.pending == nil {
				n++
			}
		}
	}
	return n
}

// Pending returns the number of resources currently being produced.
func (r *Registry[K, V]) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, slots := range r.zooms {
		for _, s := range slots {
			if s.pending != nil {
				n++
			}
		}
	}
	return n
}

func (r *Registry[K, V]) removeLocked(zoom maptile.Zoom, key K) {
	slots := r.zooms[zoom]
	delete(slots, key)
	if len(slots) == 0 {
		delete(r.zooms, zoom)
	}
}

// Promise is held by the single producer of a shared resource.
type Promise[K comparable, V any] struct {
	reg  *Registry[K, V]
	zoom maptile.Zoom
	key  K
	p    *pending[V]
}

// Key returns the key being produced.
func (p *Promise[K, V]) Key() K { return p.key }

// Fulfil publishes value. The producer and every current waiter each hold
// one reference afterwards.
func (p *Promise[K, V]) Fulfil(value V) error {
	r := p.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.zooms[p.zoom][p.key]
	if !ok || s.pending != p.p {
		return ErrPromiseSettled
	}
	s.value = value
	s.refs = 1 + p.p.waiters
	s.pending = nil
	p.p.value = value
	close(p.p.done)
	return nil
}

// Break abandons production. Waiters receive an error wrapping
// ErrPromiseBroken and hold no reference. The key becomes free for a new
// producer.
func (p *Promise[K, V]) Break(cause error) error {
	r := p.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.zooms[p.zoom][p.key]
	if !ok || s.pending != p.p {
		return ErrPromiseSettled
	}
	r.removeLocked(p.zoom, p.key)
	if cause != nil {
		p.p.err = fmt.Errorf("%w: %w", ErrPromiseBroken, cause)
	} else {
		p.p.err = ErrPromiseBroken
	}
	close(p.p.done)
	return nil
}

// Future is held by callers waiting for another producer.
type Future[K comparable, V any] struct {
	reg  *Registry[K, V]
	zoom maptile.Zoom
	key  K
	p    *pending[V]
}

// Key returns the awaited key.
func (f *Future[K, V]) Key() K { return f.key }

// Wait blocks until the promise is settled or ctx is done.
//
// On success the caller holds one reference and must Release it. If the
// promise settles before the cancellation is observed, the value is
// returned with a nil error even though ctx is done.
func (f *Future[K, V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.p.done:
		return f.result()
	case <-ctx.Done():
	}

	r := f.reg
	r.mu.Lock()
	select {
	case <-f.p.done:
		r.mu.Unlock()
		return f.result()
	default:
	}
	f.p.waiters--
	r.mu.Unlock()

	var zero V
	return zero, ctx.Err()
}

func (f *Future[K, V]) result() (V, error) {
	if f.p.err != nil {
		var zero V
		return zero, f.p.err
	}
	return f.p.value, nil
}
