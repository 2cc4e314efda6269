// Package native uploads map resources through a gogpu/wgpu HAL device.
//
// The uploader shares the device and queue of the host application.
// Textures are created with [hal.Device.CreateTexture] and filled with
// [hal.Queue.WriteTexture]; WaitUntilUploadComplete submits an empty
// command buffer and waits on a fence, so the caller knows every
// preceding write has reached the GPU.
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/mapres/backend"
	"github.com/gogpu/mapres/gpucore"
)

// Errors returned by the native uploader.
var (
	// ErrNoHalProvider is returned when a device provider does not expose
	// HAL handles.
	ErrNoHalProvider = errors.New("native: provider does not expose HalDevice/HalQueue")

	// ErrFenceTimeout is returned when the GPU does not signal a fence in time.
	ErrFenceTimeout = errors.New("native: fence wait timed out")
)

// defaultFenceTimeout bounds WaitUntilUploadComplete when the context has
// no deadline.
const defaultFenceTimeout = 5 * time.Second

// texture is a resident GPU texture with its accounting size.
type texture struct {
	tex    hal.Texture
	format gpucore.TextureFormat
	bytes  uint64
}

// Uploader implements backend.Uploader on a hal.Device.
//
// Uploader is safe for concurrent use, although the engine only calls it
// from the GPU-owning goroutine.
type Uploader struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	next     gpucore.Handle
	textures map[gpucore.Handle]texture
	stats    backend.Stats
	closed   bool

	maxTextureSize int
}

// New creates an uploader on an existing device and queue.
func New(device hal.Device, queue hal.Queue) *Uploader {
	return &Uploader{
		device:         device,
		queue:          queue,
		textures:       make(map[gpucore.Handle]texture),
		maxTextureSize: backend.DefaultMaxTextureSize,
	}
}

// NewFromProvider creates an uploader sharing the device of a host
// application. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Uploader, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHalProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHalProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHalProvider)
	}
	slogger().Info("native: sharing host GPU device")
	return New(device, queue), nil
}

// Register registers the native backend using the provider's device.
// After this call backend.Default prefers the native uploader.
func Register(provider gpucontext.DeviceProvider) {
	backend.Register(backend.BackendNative, func() (backend.Uploader, error) {
		return NewFromProvider(provider)
	})
}

// SetLogger configures the package logger.
func (u *Uploader) SetLogger(l *slog.Logger) {
	setLogger(l)
}

// SetMaxTextureSize sets the largest texture side; larger images are
// scaled down before upload.
func (u *Uploader) SetMaxTextureSize(size int) {
	u.mu.Lock()
	u.maxTextureSize = size
	u.mu.Unlock()
}

// Name returns the backend identifier.
func (u *Uploader) Name() string {
	return backend.BackendNative
}

// UploadTile creates a texture for a map-layer or elevation tile.
func (u *Uploader) UploadTile(tile *gpucore.TileData) (gpucore.Handle, error) {
	if err := tile.Validate(); err != nil {
		u.recordFailure()
		return gpucore.InvalidHandle, err
	}
	if tile.Image == nil {
		size := uint32(tile.Size) //nolint:gosec // validated positive
		return u.upload("elevation_tile", gpucore.TextureFormatR32Float, size, size, backend.HeightsToBytes(tile.Heights))
	}
	u.mu.Lock()
	maxSize := u.maxTextureSize
	u.mu.Unlock()
	rgba := backend.ToRGBA(tile.Image, maxSize)
	//nolint:gosec // image dimensions fit uint32
	return u.upload("map_tile", gpucore.TextureFormatRGBA8Unorm, uint32(rgba.Rect.Dx()), uint32(rgba.Rect.Dy()), rgba.Pix)
}

// UploadSymbol creates a texture for one symbol.
func (u *Uploader) UploadSymbol(symbol *gpucore.SymbolData) (gpucore.Handle, error) {
	if err := symbol.Validate(); err != nil {
		u.recordFailure()
		return gpucore.InvalidHandle, err
	}
	u.mu.Lock()
	maxSize := u.maxTextureSize
	u.mu.Unlock()
	rgba := backend.ToRGBA(symbol.Image, maxSize)
	//nolint:gosec // image dimensions fit uint32
	return u.upload("symbol", gpucore.TextureFormatRGBA8Unorm, uint32(rgba.Rect.Dx()), uint32(rgba.Rect.Dy()), rgba.Pix)
}

func (u *Uploader) recordFailure() {
	u.mu.Lock()
	u.stats.Failures++
	u.mu.Unlock()
}

// halFormat maps a gpucore format to its WebGPU equivalent.
func halFormat(f gpucore.TextureFormat) gputypes.TextureFormat {
	switch f {
	case gpucore.TextureFormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}

func (u *Uploader) upload(label string, format gpucore.TextureFormat, w, h uint32, data []byte) (gpucore.Handle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return gpucore.InvalidHandle, backend.ErrClosed
	}

	tex, err := u.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        halFormat(format),
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		u.stats.Failures++
		return gpucore.InvalidHandle, fmt.Errorf("native: create %s texture %dx%d: %w", label, w, h, err)
	}

	bpp := uint32(format.BytesPerPixel()) //nolint:gosec // small constant
	u.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: w * bpp, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)

	u.next++
	size := uint64(len(data))
	u.textures[u.next] = texture{tex: tex, format: format, bytes: size}
	u.stats.Uploads++
	u.stats.Bytes += size

	slogger().Debug("native: texture uploaded", "label", label, "handle", u.next, "width", w, "height", h)
	return u.next, nil
}

// Release destroys the texture behind h.
func (u *Uploader) Release(h gpucore.Handle) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	t, ok := u.textures[h]
	if !ok {
		return fmt.Errorf("%w: %v", backend.ErrUnknownHandle, h)
	}
	u.device.DestroyTexture(t.tex)
	delete(u.textures, h)
	u.stats.Releases++
	u.stats.Bytes -= t.bytes
	return nil
}

// WaitUntilUploadComplete blocks until the GPU has processed every write
// queued so far.
func (u *Uploader) WaitUntilUploadComplete(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := defaultFenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	encoder, err := u.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "upload_barrier_encoder",
	})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("upload_barrier"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer u.device.FreeCommandBuffer(cmdBuf)

	fence, err := u.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer u.device.DestroyFence(fence)

	if err := u.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := u.device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return ErrFenceTimeout
	}
	return nil
}

// Stats returns a snapshot of the uploader statistics.
func (u *Uploader) Stats() backend.Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.stats
	s.Live = len(u.textures)
	return s
}

// Close destroys every texture still held. The device itself belongs to
// the host and is not destroyed.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	if n := len(u.textures); n > 0 {
		slogger().Warn("native: destroying textures still resident at close", "count", n)
	}
	for h, t := range u.textures {
		u.device.DestroyTexture(t.tex)
		delete(u.textures, h)
		u.stats.Releases++
	}
	u.stats.Bytes = 0
	u.closed = true
	return nil
}
