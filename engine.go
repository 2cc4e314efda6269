package mapres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/mapres/backend"
	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/internal/dispatch"
	"github.com/gogpu/mapres/internal/parallel"
	"github.com/gogpu/mapres/resource"
	"github.com/gogpu/mapres/symbols"
)

// Engine keeps the GPU-resident map resources in step with the visible
// tiles.
//
// Engine runs one watcher goroutine and a pool of request workers. The
// renderer talks to it through three entry points:
//   - UpdateActiveZone, from any goroutine, whenever the visible tiles change
//   - SyncResourcesInGPU, once per frame from the goroutine owning the GPU
//   - UpdateBindings, when the set of data providers changes (never from
//     the GPU goroutine, since it waits for sync passes)
type Engine struct {
	cfg          Config
	uploader     gpucore.Uploader
	ownsUploader bool
	waiter       gpucore.UploadWaiter
	clock        clock.Clock
	registerer   prometheus.Registerer
	metrics      *metrics
	retry        *retryTracker
	pool         *parallel.WorkerPool
	gpuQueue     *dispatch.Dispatcher

	contentReady func()
	syncRequest  func()

	// Shared symbol groups and the draw-order index.
	shared *symbols.Registry[SourceID, *sharedGroup]
	order  *symbols.OrderIndex[*DrawableSymbol]

	// bindMu guards the binding table and the pending-removal list.
	bindMu         sync.RWMutex
	bindings       bindingTable
	pendingRemoval []*resource.Collection

	// zoneMu guards the active zone.
	zoneMu      sync.Mutex
	activeTiles maptile.Set
	activeZoom  maptile.Zoom
	center      maptile.Tile

	invalidated atomic.Uint32 // resource.KindMask

	wake        chan struct{}
	watcherDone chan struct{}

	// syncMu guards synced, which is closed and replaced after every sync.
	syncMu sync.Mutex
	synced chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates an engine and starts its watcher and workers.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          o.config,
		uploader:     o.uploader,
		clock:        o.clock,
		registerer:   o.registerer,
		contentReady: o.contentReady,
		syncRequest:  o.syncRequest,
		shared:       symbols.NewRegistry[SourceID, *sharedGroup](),
		order:        symbols.NewOrderIndex[*DrawableSymbol](),
		bindings:     newBindingTable(),
		activeTiles:  make(maptile.Set),
		wake:         make(chan struct{}, 1),
		watcherDone:  make(chan struct{}),
		synced:       make(chan struct{}),
		gpuQueue:     dispatch.New(),
	}

	if e.uploader == nil {
		u, err := resolveUploader(o.config.Backend)
		if err != nil {
			return nil, err
		}
		e.uploader = u
		e.ownsUploader = true
	}
	if w, ok := e.uploader.(gpucore.UploadWaiter); ok && o.config.WaitForUploads {
		e.waiter = w
	}

	var err error
	if e.retry, err = newRetryTracker(e.clock, o.config); err != nil {
		err = fmt.Errorf("mapres: retry tracker: %w", err)
	} else {
		e.metrics, err = newMetrics(o.registerer)
	}
	if err != nil {
		if c, ok := e.uploader.(interface{ Close() error }); ok && e.ownsUploader {
			err = multierr.Append(err, c.Close())
		}
		return nil, err
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.pool = parallel.NewWorkerPool(o.config.Workers)
	go e.watch()

	propagateLogger(e.uploader, Logger())
	liveEngines.Store(e, struct{}{})

	Logger().Info("mapres: engine started",
		"workers", e.pool.Workers(), "uploader", uploaderName(e.uploader), "wait_for_uploads", e.waiter != nil)
	return e, nil
}

// NewFromConfig creates an engine from cfg. Options override cfg fields.
func NewFromConfig(cfg Config, opts ...Option) (*Engine, error) {
	return New(append([]Option{WithConfig(cfg)}, opts...)...)
}

func resolveUploader(name string) (backend.Uploader, error) {
	if name == "" {
		return backend.Default()
	}
	u, err := backend.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	return u, nil
}

func uploaderName(u gpucore.Uploader) string {
	if n, ok := u.(gpucore.Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", u)
}

// Uploader returns the uploader the engine moves resources with.
func (e *Engine) Uploader() gpucore.Uploader {
	return e.uploader
}

// Close stops the watcher and the workers, then releases every resource.
//
// Close must be called from the goroutine owning the GPU context, since
// it unloads whatever is still resident. Close is safe to call multiple
// times.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()

	// The watcher and the workers stop independently; wait for both.
	var g errgroup.Group
	g.Go(func() error {
		<-e.watcherDone
		return nil
	})
	g.Go(func() error {
		e.pool.Close()
		return nil
	})
	_ = g.Wait()

	err := e.releaseAll(false)
	e.gpuQueue.Close()

	if e.ownsUploader {
		if c, ok := e.uploader.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	e.metrics.unregister(e.registerer)
	liveEngines.Delete(e)

	Logger().Info("mapres: engine closed")
	return err
}

// requestSync asks the renderer for a GPU sync pass.
func (e *Engine) requestSync() {
	e.syncRequest()
}

// wakeWatcher schedules a watcher cycle without blocking.
func (e *Engine) wakeWatcher() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// signalSynced wakes everybody waiting for a sync pass.
func (e *Engine) signalSynced() {
	e.syncMu.Lock()
	close(e.synced)
	e.synced = make(chan struct{})
	e.syncMu.Unlock()
}

// syncedChan returns a channel closed by the next sync pass.
func (e *Engine) syncedChan() <-chan struct{} {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.synced
}

// Stats is a snapshot of the engine state.
type Stats struct {
	// Collections is the number of bound collections.
	Collections int

	// PendingRemoval is the number of unbound collections still draining.
	PendingRemoval int

	// States counts entries per state across all collections.
	States map[resource.State]int

	// QueuedRequests is the number of request tasks waiting for a worker.
	QueuedRequests int

	// ActiveRequests is the number of request tasks executing.
	ActiveRequests int

	// SharedGroups is the number of symbol groups shared between tiles.
	SharedGroups int

	// Symbols is the number of uploaded symbols in the draw-order index.
	Symbols int

	// FailingTiles is the number of tiles tracked by the retry policy.
	FailingTiles int
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	s := Stats{
		States:         make(map[resource.State]int),
		QueuedRequests: e.pool.QueuedWork(),
		ActiveRequests: e.pool.ActiveWork(),
		SharedGroups:   e.shared.Len(),
		Symbols:        e.order.Len(),
		FailingTiles:   e.retry.len(),
	}

	e.bindMu.RLock()
	s.Collections = len(e.bindings.collectionToProvider)
	s.PendingRemoval = len(e.pendingRemoval)
	e.bindMu.RUnlock()

	for _, c := range e.allCollections() {
		for state, n := range c.CountByState() {
			s.States[state] += n
		}
	}
	return s
}
