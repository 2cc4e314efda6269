// Package dispatch queues work that must run on the goroutine owning the
// GPU context.
//
// Any goroutine may post a function with [Dispatcher.Invoke]. The GPU
// goroutine drains the queue with [Dispatcher.Run], typically once per
// frame from the sync pass.
package dispatch

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Dispatcher is a FIFO of functions executed by a single owner goroutine.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Invoke posts fn for execution on the owner goroutine.
func (d *Dispatcher) Invoke(fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue = append(d.queue, fn)
	return nil
}

// Run executes queued functions in posting order and returns how many ran.
// A limit <= 0 runs everything queued at the time of the call. Functions
// posted while Run executes wait for the next call.
func (d *Dispatcher) Run(limit int) int {
	d.mu.Lock()
	n := len(d.queue)
	if limit > 0 && limit < n {
		n = limit
	}
	batch := make([]func(), n)
	copy(batch, d.queue[:n])
	d.queue = append(d.queue[:0], d.queue[n:]...)
	d.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return n
}

// Len returns the number of queued functions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting work and runs everything still queued on the
// calling goroutine, which must be the owner.
func (d *Dispatcher) Close() int {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	total := 0
	for {
		n := d.Run(0)
		if n == 0 {
			return total
		}
		total += n
	}
}
