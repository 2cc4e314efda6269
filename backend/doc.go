// Package backend provides pluggable GPU uploaders for the resource engine.
//
// # Backend Registration
//
// Uploaders are registered by name and selected at runtime. The software
// uploader is registered on import:
//
//	import _ "github.com/gogpu/mapres/backend"
//
// The native uploader needs a GPU device, so it is registered by the
// application once a device exists:
//
//	native.Register(provider) // provider is a gpucontext.DeviceProvider
//
// # Backend Selection
//
// Use Default() to get the best available uploader, or Get() to request
// one by name:
//
//	u, err := backend.Get(backend.BackendSoftware)
//
// Priority order is native, then software.
package backend
