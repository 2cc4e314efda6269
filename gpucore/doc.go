// Package gpucore defines the contract between the resource engine and
// the GPU layer.
//
// The engine never calls a graphics API directly. It hands payloads to an
// [Uploader] and keeps the opaque [Handle] values it gets back. Uploaders
// are implemented in the backend packages:
//   - backend (software): in-memory uploader, used in tests and headless runs
//   - backend/native: gogpu/wgpu HAL device and queue
//
// # Threading
//
// All Uploader methods are called from the goroutine that owns the GPU
// context, the one that calls Engine.SyncResourcesInGPU. Implementations
// need no internal locking for that path, but Release may also be reached
// from Engine.Close, which runs on the same goroutine by contract.
//
// # Resource Management
//
// Handles are uint64 IDs. [InvalidHandle] (zero) never refers to a live
// resource. An uploader owns the mapping between handles and the backend
// objects and frees the backend object on Release.
package gpucore
