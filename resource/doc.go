// Package resource implements the lifecycle bookkeeping for tiled map
// resources: the resource kinds, the per-entry state machine and the
// concurrent collections that own entries.
//
// # State machine
//
// Every [Entry] carries a [State] that only changes through named
// compare-and-swap transitions such as [Entry.BeginRequest] or
// [Entry.FinishUpload]. A transition that returns false lost a race with
// another goroutine; callers treat it as a normal branch, not an error.
//
//	Unknown -> Requesting -> Requested -> ProcessingRequest -> Ready -> Uploading -> Uploaded
//	                              |               |              |          |          |
//	                              v               v              v          v          v
//	                        JustBeforeDeath   Unavailable   JustBeforeDeath Ready  UnloadPending
//	                                          RequestCanceledWhileBeingProcessed       |
//	                                                                           Unloading -> Unloaded
//
// [StateJustBeforeDeath] is terminal. Once an entry reaches it, the owning
// [Collection] removes it and no other transition is legal.
//
// # Collections
//
// A [Collection] owns all entries of one provider and kind, indexed by
// [maptile.Tile] (which carries the zoom level), or by [DataKey] for keyed
// kinds. Lookups take a read lock
// on one of a fixed number of shards; creation and removal take the
// shard's write lock.
package resource
