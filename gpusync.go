package mapres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"

	"github.com/gogpu/mapres/resource"
)

// SyncResult reports what a GPU sync pass did.
type SyncResult struct {
	Uploaded int
	Unloaded int

	// MoreAvailable is set when uploads were left for a later pass, either
	// because of the limit or because an upload failed for the first
	// time. Resources whose uploads failed before do not set it.
	MoreAvailable bool
}

// uploadCandidate is a Ready entry picked for upload.
type uploadCandidate struct {
	collection *resource.Collection
	entry      *resource.Entry
	distance   int
}

// SyncResourcesInGPU unloads every resource waiting for it, then uploads
// up to limit Ready resources, closest to the zone center first. A limit
// <= 0 uploads everything.
//
// SyncResourcesInGPU must be called from the goroutine owning the GPU
// context, typically once per frame.
func (e *Engine) SyncResourcesInGPU(limit int) SyncResult {
	start := e.clock.Now()
	var res SyncResult

	e.gpuQueue.Run(0)
	snap := e.snapshot()

	removed := 0
	for _, bc := range snap {
		n, r, err := e.unloadCollection(bc.collection, false)
		if err != nil {
			Logger().Warn("mapres: unload failed",
				"kind", bc.collection.Kind().String(), "collection", bc.collection.ID().String(), "err", err)
		}
		res.Unloaded += n
		removed += r
	}

	z := e.zone()
	var candidates []uploadCandidate
	for _, bc := range snap {
		if bc.provider == nil {
			continue
		}
		bc.collection.ForEach(func(entry *resource.Entry) bool {
			if entry.State() == resource.StateReady && !entry.IsJunk() {
				candidates = append(candidates, uploadCandidate{
					collection: bc.collection,
					entry:      entry,
					distance:   priority(entry, z.center),
				})
			}
			return true
		})
	}
	slices.SortFunc(candidates, func(a, b uploadCandidate) int {
		return a.distance - b.distance
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
		res.MoreAvailable = true
	}

	for _, cand := range candidates {
		ok, retry := e.uploadEntry(cand.collection, cand.entry)
		if ok {
			res.Uploaded++
		}
		if retry {
			res.MoreAvailable = true
		}
	}

	e.finishPendingRemovals()

	counts := make(map[resource.State]int)
	for _, c := range e.allCollections() {
		for s, n := range c.CountByState() {
			counts[s] += n
		}
	}
	e.metrics.observeStates(counts)
	e.metrics.sharedGroups.Set(float64(e.shared.Len()))
	e.metrics.syncDuration.Observe(e.clock.Since(start).Seconds())

	if res.Uploaded > 0 {
		e.contentReady()
	}
	e.signalSynced()
	if removed > 0 {
		e.wakeWatcher()
	}
	return res
}

// uploadEntry uploads one Ready entry. ok is set when the entry ended up
// Uploaded; retry when its first upload attempt failed and the next pass
// should try again.
func (e *Engine) uploadEntry(c *resource.Collection, entry *resource.Entry) (ok, retry bool) {
	if !entry.BeginUpload() {
		return false, false
	}
	b := behaviors[entry.Kind()]

	gpu, err := b.upload(e, entry)
	if err == nil && e.waiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.UploadWaitTimeout)
		err = e.waiter.WaitUntilUploadComplete(ctx)
		cancel()
		if err != nil {
			b.rollback(e, entry.Zoom(), gpu)
			err = fmt.Errorf("wait for upload: %w", err)
		}
	}
	if err != nil {
		entry.FailUpload()
		attempts := entry.RecordUploadFailure()
		e.metrics.uploadFailures.WithLabelValues(entry.Kind().String()).Inc()
		Logger().Warn("mapres: upload failed",
			"kind", entry.Kind().String(), entryAttr(entry), "attempts", attempts, "err", err)
		if attempts >= e.cfg.MaxUploadAttempts {
			e.dropUnuploadable(c, entry)
			return false, false
		}
		return false, attempts == 1
	}

	entry.SetGPUResources(gpu)
	e.retry.succeed(retryKeyOf(c, entry))
	invariant(entry.FinishUpload(), "uploading entry changed state on the GPU goroutine",
		"kind", entry.Kind().String(), entryAttr(entry), "state", entry.State().String())
	e.metrics.uploads.WithLabelValues(entry.Kind().String()).Inc()
	Logger().Debug("mapres: resource uploaded", "kind", entry.Kind().String(), entryAttr(entry))
	return true, false
}

// dropUnuploadable gives up on an entry whose uploads keep failing. It is
// requested again once the retry policy allows it.
func (e *Engine) dropUnuploadable(c *resource.Collection, entry *resource.Entry) {
	if !entry.DropReady() {
		// Evicted by the watcher meanwhile.
		return
	}
	failures := e.recordFailure(retryKeyOf(c, entry))
	e.detach(entry)
	e.removeEntry(c, entry)
	Logger().Warn("mapres: resource dropped after failed uploads",
		"kind", entry.Kind().String(), entryAttr(entry), "failures", failures)
}

// unloadCollection unloads every UnloadPending entry of c and removes it.
// It returns how many entries were unloaded and removed.
func (e *Engine) unloadCollection(c *resource.Collection, contextLost bool) (unloaded, removed int, err error) {
	for _, entry := range c.Snapshot() {
		if !entry.BeginUnload() {
			continue
		}
		b := behaviors[entry.Kind()]
		if uerr := b.unload(e, entry, contextLost); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s %v: %w", entry.Kind(), entryAttr(entry).Value, uerr))
		}
		entry.SetGPUResources(nil)
		entry.FinishUnload()
		e.metrics.unloads.WithLabelValues(entry.Kind().String()).Inc()
		unloaded++

		if entry.Retire() {
			e.removeEntry(c, entry)
			removed++
		}
	}
	return unloaded, removed, err
}

// finishPendingRemovals forgets unbound collections that have drained.
func (e *Engine) finishPendingRemovals() {
	e.bindMu.RLock()
	var empty []*resource.Collection
	for _, c := range e.pendingRemoval {
		if c.IsEmpty() {
			empty = append(empty, c)
		}
	}
	e.bindMu.RUnlock()

	if len(empty) > 0 {
		e.dropPendingRemoval(empty)
	}
}

// ReleaseAllResources unloads every resource and removes every
// collection. Providers must be bound again afterwards.
//
// When gpuContextLost is set the GPU handles are already gone and are
// forgotten instead of released.
//
// ReleaseAllResources must be called from the goroutine owning the GPU
// context.
func (e *Engine) ReleaseAllResources(gpuContextLost bool) error {
	return e.releaseAll(gpuContextLost)
}

func (e *Engine) releaseAll(contextLost bool) error {
	e.bindMu.Lock()
	for c := range e.bindings.collectionToProvider {
		e.pendingRemoval = append(e.pendingRemoval, c)
	}
	e.bindings = newBindingTable()
	colls := slices.Clone(e.pendingRemoval)
	e.bindMu.Unlock()

	for _, c := range colls {
		c.ForEach(func(entry *resource.Entry) bool {
			entry.MarkJunk()
			return true
		})
	}

	var errs error
	for round := 1; ; round++ {
		e.gpuQueue.Run(0)
		remaining := 0
		for _, c := range colls {
			e.cleanupCollection(c, nil, zone{})
			_, _, err := e.unloadCollection(c, contextLost)
			errs = multierr.Append(errs, err)
			remaining += c.Len()
		}
		if remaining == 0 {
			break
		}
		// The rest belongs to in-flight requests or to a draw pass holding
		// a lock; both finish on their own.
		if round%1000 == 0 {
			Logger().Warn("mapres: still waiting for resources to be released", "remaining", remaining)
		}
		time.Sleep(time.Millisecond)
	}
	e.gpuQueue.Run(0)
	e.dropPendingRemoval(colls)

	if n := e.shared.Len(); n > 0 {
		invariant(false, "shared symbol groups left after releasing everything", "groups", n)
	}
	Logger().Info("mapres: all resources released", "collections", len(colls), "context_lost", contextLost)
	return errs
}
