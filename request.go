package mapres

import (
	"context"

	"github.com/gogpu/mapres/resource"
)

// submitRequest hands a Requesting entry to the worker pool. The entry is
// moved to Requested before submission, so the task always finds it
// there or already canceled.
func (e *Engine) submitRequest(c *resource.Collection, p Provider, entry *resource.Entry, priority int) {
	ctx, cancel := context.WithCancel(e.ctx)
	entry.SetRequestTask(ctx, cancel)
	if !entry.MarkRequested() {
		entry.ClearRequestTask()
		return
	}

	err := e.pool.Submit(priority, func() {
		outcome, err := e.processRequest(ctx, p, entry)
		e.completeRequest(c, entry, outcome, err)
	})
	if err != nil {
		entry.CancelBeforeProcessing()
		entry.ClearRequestTask()
		e.removeEntry(c, entry)
		return
	}
	Logger().Debug("mapres: request submitted",
		"kind", entry.Kind().String(), entryAttr(entry), "priority", priority)
}

// processRequest runs on a worker. It obtains the payload and publishes
// it unless the request was canceled meanwhile.
func (e *Engine) processRequest(ctx context.Context, p Provider, entry *resource.Entry) (string, error) {
	if !entry.BeginProcessing() {
		return outcomeCanceled, nil
	}
	if ctx.Err() != nil {
		entry.CancelWhileProcessing()
		return outcomeCanceled, ctx.Err()
	}

	b := behaviors[entry.Kind()]
	payload, err := b.obtain(ctx, e, p, entry)
	if err != nil {
		if ctx.Err() != nil {
			entry.CancelWhileProcessing()
			return outcomeCanceled, err
		}
		return outcomeFailed, err
	}

	if ctx.Err() != nil {
		entry.CancelWhileProcessing()
		b.detach(e, entry.Zoom(), payload)
		return outcomeCanceled, ctx.Err()
	}

	if payload == nil {
		if entry.MarkUnavailable() {
			return outcomeUnavailable, nil
		}
		return outcomeCanceled, nil
	}

	entry.SetPayload(payload)
	if !entry.MarkReady() {
		// Canceled between the check above and the transition.
		entry.SetPayload(nil)
		b.detach(e, entry.Zoom(), payload)
		return outcomeCanceled, nil
	}
	return outcomeReady, nil
}

// completeRequest always runs after processRequest, on the same worker.
func (e *Engine) completeRequest(c *resource.Collection, entry *resource.Entry, outcome string, err error) {
	entry.ClearRequestTask()
	key := retryKeyOf(c, entry)
	e.metrics.request(entry.Kind(), outcome)

	switch outcome {
	case outcomeReady:
		// The failure record is cleared once the upload succeeds.
		Logger().Debug("mapres: resource ready", "kind", entry.Kind().String(), entryAttr(entry))
		e.requestSync()

	case outcomeUnavailable:
		e.retry.succeed(key)
		Logger().Debug("mapres: resource unavailable", "kind", entry.Kind().String(), entryAttr(entry))

	case outcomeCanceled:
		switch {
		case entry.CancelBeforeProcessing():
		case entry.FinishCanceled():
		case entry.DropReady():
			e.detach(entry)
		case entry.DropUnavailable():
		}
		if entry.State() == resource.StateJustBeforeDeath {
			e.removeEntry(c, entry)
			// Still wanted if it was only invalidated.
			e.wakeWatcher()
		}

	case outcomeFailed:
		// A broken promise is the producer's failure, not this tile's. The
		// failure is recorded before the entry goes, so the watcher never
		// sees the tile missing without its backoff.
		failures := 0
		if !isBrokenPromise(err) {
			failures = e.recordFailure(key)
		}
		entry.CancelWhileProcessing()
		entry.FinishCanceled()
		e.removeEntry(c, entry)

		Logger().Warn("mapres: request failed",
			"kind", entry.Kind().String(), entryAttr(entry),
			"failures", failures, "err", err)
		if failures == 0 {
			e.wakeWatcher()
		}
	}
}

// recordFailure counts a failed attempt for key and wakes the watcher
// once the backoff has passed.
func (e *Engine) recordFailure(key retryKey) int {
	failures, retryIn := e.retry.fail(key)
	if retryIn > 0 {
		e.clock.AfterFunc(retryIn, e.wakeWatcher)
	}
	return failures
}
