package mapres

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/mapres/gpucore"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// Default configuration, default uploader from the backend registry
//	eng, err := mapres.New()
//
//	// Explicit uploader and a redraw hook
//	eng, err := mapres.New(
//	    mapres.WithUploader(native.New(device, queue)),
//	    mapres.WithContentReady(renderer.InvalidateFrame),
//	)
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	config       Config
	uploader     gpucore.Uploader
	clock        clock.Clock
	registerer   prometheus.Registerer
	contentReady func()
	syncRequest  func()
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{
		config:       DefaultConfig(),
		uploader:     nil, // Resolved from the backend registry if nil
		clock:        clock.New(),
		contentReady: func() {},
		syncRequest:  func() {},
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithUploader sets the GPU uploader. The engine does not close an
// uploader passed this way.
//
// Example:
//
//	eng, err := mapres.New(mapres.WithUploader(backend.NewSoftwareUploader()))
func WithUploader(u gpucore.Uploader) Option {
	return func(o *options) {
		o.uploader = u
	}
}

// WithWorkers sets the number of request workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.config.Workers = n
	}
}

// WithWaitForUploads makes uploads wait for GPU completion, for renderers
// that upload through a separate GPU worker.
func WithWaitForUploads(wait bool) Option {
	return func(o *options) {
		o.config.WaitForUploads = wait
	}
}

// WithRetryPolicy sets the provider-failure retry policy. maxRetries of
// zero disables the cap.
func WithRetryPolicy(maxRetries int, backoff, backoffMax time.Duration) Option {
	return func(o *options) {
		o.config.MaxRetries = maxRetries
		o.config.RetryBackoff = backoff
		o.config.RetryBackoffMax = backoffMax
	}
}

// WithMaxUploadAttempts sets how many failed uploads an entry gets before
// it is dropped and handed to the retry policy.
func WithMaxUploadAttempts(n int) Option {
	return func(o *options) {
		o.config.MaxUploadAttempts = n
	}
}

// WithClock sets the time source for retry backoff. Tests pass
// clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics registers the engine's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithContentReady sets the callback invoked whenever new content becomes
// available for drawing. It must not block.
func WithContentReady(fn func()) Option {
	return func(o *options) {
		if fn != nil {
			o.contentReady = fn
		}
	}
}

// WithSyncRequest sets the callback invoked when GPU work (upload or
// unload) is pending and the renderer should run SyncResourcesInGPU soon.
// It must not block.
func WithSyncRequest(fn func()) Option {
	return func(o *options) {
		if fn != nil {
			o.syncRequest = fn
		}
	}
}
