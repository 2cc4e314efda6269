package gpucore

import "fmt"

// Handle is an opaque reference to a resource living in GPU memory.
type Handle uint64

// InvalidHandle is the zero value, representing no resource.
const InvalidHandle Handle = 0

// IsValid reports whether h refers to a resource.
func (h Handle) IsValid() bool { return h != InvalidHandle }

// String returns a short debug form such as "gpu#42".
func (h Handle) String() string {
	if h == InvalidHandle {
		return "gpu#invalid"
	}
	return fmt.Sprintf("gpu#%d", uint64(h))
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatR8Unorm is 8-bit red channel only, normalized unsigned integer.
	TextureFormatR8Unorm

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	// Elevation tiles use it for heights in meters.
	TextureFormatR32Float
)

// BytesPerPixel returns the size of one texel.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatR32Float, TextureFormatRGBA8Unorm:
		return 4
	default:
		return 4
	}
}

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case TextureFormatR8Unorm:
		return "R8Unorm"
	case TextureFormatR32Float:
		return "R32Float"
	default:
		return fmt.Sprintf("TextureFormat(%d)", uint32(f))
	}
}
