package parallel

import (
	"container/heap"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("parallel: pool closed")

// WorkerPool is a bounded pool of goroutines executing prioritized work.
//
// Work with a lower priority value runs first; equal priorities run in
// submission order. Workers block on a condition variable while the queue
// is empty.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	mu    sync.Mutex
	cond  *sync.Cond
	queue workQueue
	seq   uint64

	// active counts work items currently executing.
	active atomic.Int32

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// workItem is a queued function with its priority.
type workItem struct {
	priority int
	seq      uint64
	fn       func()
}

// workQueue is a min-heap of work items.
type workQueue []workItem

func (q workQueue) Len() int { return len(q) }

func (q workQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q workQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *workQueue) Push(x any) { *q = append(*q, x.(workItem)) }

func (q *workQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = workItem{}
	*q = old[:n-1]
	return item
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{workers: workers}
	p.cond = sync.NewCond(&p.mu)
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && p.running.Load() {
			p.cond.Wait()
		}
		if p.queue.Len() == 0 {
			// Closed and drained.
			p.mu.Unlock()
			return
		}
		item := heap.Pop(&p.queue).(workItem)
		p.active.Add(1)
		p.mu.Unlock()

		item.fn()
		p.active.Add(-1)
	}
}

// Submit queues fn with the given priority.
// Returns ErrPoolClosed if the pool no longer accepts work.
func (p *WorkerPool) Submit(priority int, fn func()) error {
	if fn == nil {
		return nil
	}

	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.seq++
	heap.Push(&p.queue, workItem{priority: priority, seq: p.seq, fn: fn})
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Close gracefully shuts down the pool.
// It stops accepting new work, waits for all queued work to complete,
// and then stops all workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		// Already closed
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns the number of work items waiting to start.
func (p *WorkerPool) QueuedWork() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// ActiveWork returns the number of work items currently executing.
func (p *WorkerPool) ActiveWork() int {
	return int(p.active.Load())
}
