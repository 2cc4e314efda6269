package backend

import (
	"sync"

	"github.com/gogpu/mapres/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the in-memory uploader.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU uploader (gogpu/wgpu).
	BackendNative = "native"
)

// SoftwareUploader keeps "uploaded" resources in system memory.
// It is used for headless runs and tests, and mirrors the accounting of
// the native uploader.
//
// SoftwareUploader is safe for concurrent use.
type SoftwareUploader struct {
	mu       sync.Mutex
	next     gpucore.Handle
	live     map[gpucore.Handle]softwareTexture
	stats    Stats
	failNext int
	closed   bool

	// maxTextureSize bounds uploaded images (see ToRGBA).
	maxTextureSize int
}

// softwareTexture is a resident resource.
type softwareTexture struct {
	format gpucore.TextureFormat
	width  int
	height int
	pix    []byte
}

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func() (Uploader, error) {
		return NewSoftwareUploader(), nil
	})
}

// NewSoftwareUploader creates an empty in-memory uploader.
func NewSoftwareUploader() *SoftwareUploader {
	return &SoftwareUploader{
		live:           make(map[gpucore.Handle]softwareTexture),
		maxTextureSize: DefaultMaxTextureSize,
	}
}

// Name returns the backend identifier.
func (u *SoftwareUploader) Name() string {
	return BackendSoftware
}

// UploadTile stores a copy of the tile content.
func (u *SoftwareUploader) UploadTile(tile *gpucore.TileData) (gpucore.Handle, error) {
	if err := tile.Validate(); err != nil {
		u.recordFailure()
		return gpucore.InvalidHandle, err
	}
	if tile.Image == nil {
		return u.store(softwareTexture{
			format: gpucore.TextureFormatR32Float,
			width:  tile.Size,
			height: tile.Size,
			pix:    HeightsToBytes(tile.Heights),
		})
	}
	rgba := ToRGBA(tile.Image, u.maxTextureSize)
	return u.store(softwareTexture{
		format: gpucore.TextureFormatRGBA8Unorm,
		width:  rgba.Rect.Dx(),
		height: rgba.Rect.Dy(),
		pix:    rgba.Pix,
	})
}

// UploadSymbol stores a copy of the symbol image.
func (u *SoftwareUploader) UploadSymbol(symbol *gpucore.SymbolData) (gpucore.Handle, error) {
	if err := symbol.Validate(); err != nil {
		u.recordFailure()
		return gpucore.InvalidHandle, err
	}
	rgba := ToRGBA(symbol.Image, u.maxTextureSize)
	return u.store(softwareTexture{
		format: gpucore.TextureFormatRGBA8Unorm,
		width:  rgba.Rect.Dx(),
		height: rgba.Rect.Dy(),
		pix:    rgba.Pix,
	})
}

func (u *SoftwareUploader) recordFailure() {
	u.mu.Lock()
	u.stats.Failures++
	u.mu.Unlock()
}

func (u *SoftwareUploader) store(tex softwareTexture) (gpucore.Handle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return gpucore.InvalidHandle, ErrClosed
	}
	if u.failNext > 0 {
		u.failNext--
		u.stats.Failures++
		return gpucore.InvalidHandle, ErrInjectedFailure
	}

	u.next++
	u.live[u.next] = tex
	u.stats.Uploads++
	u.stats.Bytes += uint64(len(tex.pix))
	return u.next, nil
}

// Release frees the resource behind h.
func (u *SoftwareUploader) Release(h gpucore.Handle) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	tex, ok := u.live[h]
	if !ok {
		return ErrUnknownHandle
	}
	delete(u.live, h)
	u.stats.Releases++
	u.stats.Bytes -= uint64(len(tex.pix))
	return nil
}

// IsLive reports whether h refers to a resident resource.
func (u *SoftwareUploader) IsLive(h gpucore.Handle) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.live[h]
	return ok
}

// FailNextUploads makes the next n uploads fail with ErrInjectedFailure.
func (u *SoftwareUploader) FailNextUploads(n int) {
	u.mu.Lock()
	u.failNext = n
	u.mu.Unlock()
}

// Stats returns a snapshot of the uploader statistics.
func (u *SoftwareUploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.stats
	s.Live = len(u.live)
	return s
}

// Close drops every resident resource.
func (u *SoftwareUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.Releases += uint64(len(u.live))
	u.live = make(map[gpucore.Handle]softwareTexture)
	u.stats.Bytes = 0
	u.closed = true
	return nil
}
