package resource

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb/maptile"
)

// Entry tracks one tile's content for one provider.
//
// The state field is the only field mutated without a lock. Payload and
// GPU-side resources are guarded by a small mutex, but ownership follows
// the state machine: only the goroutine that performed the transition into
// Ready may set the payload, and only the GPU-owning goroutine touches GPU
// resources (between BeginUpload and FinishUnload).
//
// Entries hold no reference to their collection. Callers that need to
// remove an entry keep the (collection, tile) pair.
//
// Entries of keyed kinds are identified by a DataKey instead of a tile.
// Their Tile is the zero tile.
type Entry struct {
	tile  maptile.Tile
	key   DataKey
	keyed bool
	kind  Kind

	state          atomic.Int32
	junk           atomic.Bool
	uploadFailures atomic.Int32

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	payload any
	gpu     any
}

// NewEntry creates an entry in StateUnknown.
func NewEntry(tile maptile.Tile, kind Kind) *Entry {
	return &Entry{tile: tile, kind: kind}
}

// NewKeyedEntry creates an entry of a keyed kind in StateUnknown.
func NewKeyedEntry(key DataKey, kind Kind) *Entry {
	return &Entry{key: key, keyed: true, kind: kind}
}

// Tile returns the tile coordinate and zoom of the entry.
func (e *Entry) Tile() maptile.Tile { return e.tile }

// Key returns the data key of a keyed entry. ok is false for tiled
// entries.
func (e *Entry) Key() (key DataKey, ok bool) { return e.key, e.keyed }

// IsKeyed reports whether the entry is identified by a DataKey.
func (e *Entry) IsKeyed() bool { return e.keyed }

// id is the entry's index in its collection.
func (e *Entry) id() entryID { return entryID{tile: e.tile, key: e.key, keyed: e.keyed} }

// Zoom returns the zoom level of the entry.
func (e *Entry) Zoom() maptile.Zoom { return e.tile.Z }

// Kind returns the resource kind.
func (e *Entry) Kind() Kind { return e.kind }

// State returns the current state.
func (e *Entry) State() State { return State(e.state.Load()) }

// IsJunk reports whether the entry was marked as no longer wanted.
func (e *Entry) IsJunk() bool { return e.junk.Load() }

// MarkJunk flags the entry for reclamation. The flag is never cleared.
func (e *Entry) MarkJunk() { e.junk.Store(true) }

func (e *Entry) cas(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// BeginRequest moves Unknown -> Requesting.
func (e *Entry) BeginRequest() bool { return e.cas(StateUnknown, StateRequesting) }

// MarkRequested moves Requesting -> Requested once the request task has
// been registered with the worker pool.
func (e *Entry) MarkRequested() bool { return e.cas(StateRequesting, StateRequested) }

// AbandonRequest moves Requesting -> JustBeforeDeath when the request task
// could not be submitted.
func (e *Entry) AbandonRequest() bool { return e.cas(StateRequesting, StateJustBeforeDeath) }

// BeginProcessing moves Requested -> ProcessingRequest when the task starts
// executing.
func (e *Entry) BeginProcessing() bool { return e.cas(StateRequested, StateProcessingRequest) }

// CancelBeforeProcessing moves Requested -> JustBeforeDeath. The caller is
// responsible for canceling the request task.
func (e *Entry) CancelBeforeProcessing() bool { return e.cas(StateRequested, StateJustBeforeDeath) }

// MarkReady moves ProcessingRequest -> Ready after a payload was obtained.
func (e *Entry) MarkReady() bool { return e.cas(StateProcessingRequest, StateReady) }

// MarkUnavailable moves ProcessingRequest -> Unavailable when the provider
// has no data for the tile.
func (e *Entry) MarkUnavailable() bool { return e.cas(StateProcessingRequest, StateUnavailable) }

// CancelWhileProcessing moves ProcessingRequest ->
// RequestCanceledWhileBeingProcessed. The in-flight task finishes the
// cleanup.
func (e *Entry) CancelWhileProcessing() bool {
	return e.cas(StateProcessingRequest, StateRequestCanceledWhileBeingProcessed)
}

// FinishCanceled moves RequestCanceledWhileBeingProcessed -> JustBeforeDeath.
func (e *Entry) FinishCanceled() bool {
	return e.cas(StateRequestCanceledWhileBeingProcessed, StateJustBeforeDeath)
}

// DropReady moves Ready -> JustBeforeDeath for entries evicted before they
// were ever uploaded.
func (e *Entry) DropReady() bool { return e.cas(StateReady, StateJustBeforeDeath) }

// DropUnavailable moves Unavailable -> JustBeforeDeath.
func (e *Entry) DropUnavailable() bool { return e.cas(StateUnavailable, StateJustBeforeDeath) }

// BeginUpload moves Ready -> Uploading.
func (e *Entry) BeginUpload() bool { return e.cas(StateReady, StateUploading) }

// FinishUpload moves Uploading -> Uploaded.
func (e *Entry) FinishUpload() bool { return e.cas(StateUploading, StateUploaded) }

// FailUpload moves Uploading -> Ready so the next sync pass retries the
// upload.
func (e *Entry) FailUpload() bool { return e.cas(StateUploading, StateReady) }

// RecordUploadFailure counts a failed upload and returns the number of
// failures so far.
func (e *Entry) RecordUploadFailure() int { return int(e.uploadFailures.Add(1)) }

// UploadFailures returns the number of failed uploads.
func (e *Entry) UploadFailures() int { return int(e.uploadFailures.Load()) }

// Lock moves Uploaded -> IsBeingUsed. The draw pass must call Unlock when
// it no longer needs the GPU resources.
func (e *Entry) Lock() bool { return e.cas(StateUploaded, StateIsBeingUsed) }

// Unlock moves IsBeingUsed -> Uploaded.
func (e *Entry) Unlock() bool { return e.cas(StateIsBeingUsed, StateUploaded) }

// MarkUnloadPending moves Uploaded -> UnloadPending.
func (e *Entry) MarkUnloadPending() bool { return e.cas(StateUploaded, StateUnloadPending) }

// BeginUnload moves UnloadPending -> Unloading.
func (e *Entry) BeginUnload() bool { return e.cas(StateUnloadPending, StateUnloading) }

// FinishUnload moves Unloading -> Unloaded.
func (e *Entry) FinishUnload() bool { return e.cas(StateUnloading, StateUnloaded) }

// Retire moves Unloaded -> JustBeforeDeath.
func (e *Entry) Retire() bool { return e.cas(StateUnloaded, StateJustBeforeDeath) }

// SetRequestTask records the context of the in-flight request and the
// function canceling it.
func (e *Entry) SetRequestTask(ctx context.Context, cancel context.CancelFunc) {
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()
}

// RequestContext returns the context of the outstanding request task, or
// nil when there is none.
func (e *Entry) RequestContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// CancelRequest cancels the in-flight request task, if any.
func (e *Entry) CancelRequest() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ClearRequestTask forgets the request task handle and releases its
// context.
func (e *Entry) ClearRequestTask() {
	e.mu.Lock()
	cancel := e.cancel
	e.ctx, e.cancel = nil, nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HasRequestTask reports whether a request task is outstanding.
func (e *Entry) HasRequestTask() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Payload returns the data obtained from the provider.
func (e *Entry) Payload() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payload
}

// SetPayload stores provider data. Called before MarkReady.
func (e *Entry) SetPayload(p any) {
	e.mu.Lock()
	e.payload = p
	e.mu.Unlock()
}

// GPUResources returns what the uploader produced for this entry.
func (e *Entry) GPUResources() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gpu
}

// SetGPUResources stores the uploaded GPU resources, or clears them
// with nil after unload.
func (e *Entry) SetGPUResources(r any) {
	e.mu.Lock()
	e.gpu = r
	e.mu.Unlock()
}

// HasGPUResources reports whether the entry still owns live GPU handles.
func (e *Entry) HasGPUResources() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gpu != nil
}
