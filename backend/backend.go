package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/mapres/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownHandle is returned when releasing a handle the uploader does not own.
	ErrUnknownHandle = errors.New("backend: unknown handle")

	// ErrClosed is returned when using an uploader after Close.
	ErrClosed = errors.New("backend: uploader closed")

	// ErrInjectedFailure is returned by the software uploader when a
	// failure was scheduled with FailNextUploads.
	ErrInjectedFailure = errors.New("backend: injected upload failure")
)

// Uploader is a named GPU uploader with statistics and an explicit
// lifetime.
type Uploader interface {
	gpucore.Uploader

	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// Stats returns a snapshot of resident resources.
	Stats() Stats

	// Close releases every resource still held by the uploader.
	Close() error
}

// Stats contains uploader usage statistics.
type Stats struct {
	// Live is the number of resident resources.
	Live int

	// Bytes is the texel memory held by resident resources.
	Bytes uint64

	// Uploads is the total number of successful uploads.
	Uploads uint64

	// Releases is the total number of releases.
	Releases uint64

	// Failures is the total number of failed uploads.
	Failures uint64
}

// String returns a human-readable string of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Uploader[%d live, %.1f MB, %d uploads, %d releases, %d failures]",
		s.Live, float64(s.Bytes)/(1024*1024), s.Uploads, s.Releases, s.Failures)
}
