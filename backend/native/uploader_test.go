package native

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/mapres/backend"
	"github.com/gogpu/mapres/gpucore"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func TestUploaderTileLifecycle(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, queue)
	h, err := u.UploadTile(&gpucore.TileData{Image: image.NewRGBA(image.Rect(0, 0, 256, 256))})
	if err != nil {
		t.Fatalf("UploadTile() error = %v", err)
	}

	s := u.Stats()
	if s.Live != 1 || s.Bytes != 256*256*4 {
		t.Errorf("Stats() = %v, want 1 live texture of 256 KiB", s)
	}

	if err := u.Release(h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := u.Release(h); !errors.Is(err, backend.ErrUnknownHandle) {
		t.Errorf("second Release() = %v, want ErrUnknownHandle", err)
	}
}

func TestUploaderElevationAndSymbol(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, queue)
	if _, err := u.UploadTile(&gpucore.TileData{Heights: make([]float32, 64*64), Size: 64}); err != nil {
		t.Fatalf("UploadTile(elevation) error = %v", err)
	}
	if _, err := u.UploadSymbol(&gpucore.SymbolData{Image: image.NewRGBA(image.Rect(0, 0, 24, 12))}); err != nil {
		t.Fatalf("UploadSymbol() error = %v", err)
	}
	if s := u.Stats(); s.Live != 2 || s.Uploads != 2 {
		t.Errorf("Stats() = %v, want 2 live", s)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s := u.Stats(); s.Live != 0 {
		t.Errorf("Live = %d after Close, want 0", s.Live)
	}
}

func TestUploaderRejectsInvalidPayload(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, queue)
	if _, err := u.UploadSymbol(&gpucore.SymbolData{}); !errors.Is(err, gpucore.ErrEmptyPayload) {
		t.Errorf("UploadSymbol(empty) = %v, want ErrEmptyPayload", err)
	}
	if s := u.Stats(); s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
}

func TestUploaderWaitUntilUploadComplete(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, queue)
	_, _ = u.UploadTile(&gpucore.TileData{Image: image.NewRGBA(image.Rect(0, 0, 8, 8))})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := u.WaitUntilUploadComplete(ctx); err != nil {
		t.Errorf("WaitUntilUploadComplete() = %v", err)
	}

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := u.WaitUntilUploadComplete(canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitUntilUploadComplete(canceled) = %v, want context.Canceled", err)
	}
}

func TestUploaderDownscalesLargeImages(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	u := New(device, queue)
	u.SetMaxTextureSize(64)
	if _, err := u.UploadTile(&gpucore.TileData{Image: image.NewRGBA(image.Rect(0, 0, 128, 128))}); err != nil {
		t.Fatalf("UploadTile() error = %v", err)
	}
	if s := u.Stats(); s.Bytes != 64*64*4 {
		t.Errorf("Bytes = %d, want %d", s.Bytes, 64*64*4)
	}
}

func TestNewFromProviderRejectsPlainProvider(t *testing.T) {
	if _, err := NewFromProvider(nil); !errors.Is(err, ErrNoHalProvider) {
		t.Errorf("NewFromProvider(nil) = %v, want ErrNoHalProvider", err)
	}
}
