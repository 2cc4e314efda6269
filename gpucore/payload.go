package gpucore

import (
	"errors"
	"fmt"
	"image"
)

// Payload errors.
var (
	// ErrEmptyPayload is returned when a payload carries no pixels.
	ErrEmptyPayload = errors.New("gpucore: empty payload")

	// ErrPayloadSize is returned when the declared size does not match the data.
	ErrPayloadSize = errors.New("gpucore: payload size mismatch")
)

// TileData is the content of one map-layer or elevation tile.
//
// Exactly one of Image or Heights is set. Map layers carry an Image;
// elevation tiles carry a row-major grid of heights with the given size.
type TileData struct {
	// Image is the rasterized tile.
	Image image.Image

	// Heights is a Size*Size row-major elevation grid in meters.
	Heights []float32

	// Size is the side length of the elevation grid.
	Size int
}

// Validate checks that the tile data is uploadable.
func (d *TileData) Validate() error {
	if d == nil {
		return ErrEmptyPayload
	}
	if d.Image != nil {
		if d.Image.Bounds().Empty() {
			return ErrEmptyPayload
		}
		return nil
	}
	if len(d.Heights) == 0 {
		return ErrEmptyPayload
	}
	if d.Size <= 0 || d.Size*d.Size != len(d.Heights) {
		return fmt.Errorf("%w: %d heights for size %d", ErrPayloadSize, len(d.Heights), d.Size)
	}
	return nil
}

// Format returns the texture format the tile uploads to.
func (d *TileData) Format() TextureFormat {
	if d.Image == nil {
		return TextureFormatR32Float
	}
	return TextureFormatRGBA8Unorm
}

// SymbolData is one rasterized map symbol (icon, caption, shield).
type SymbolData struct {
	// Image is the rasterized symbol.
	Image image.Image

	// Order is the draw order; lower orders are drawn first.
	Order int
}

// Validate checks that the symbol is uploadable.
func (s *SymbolData) Validate() error {
	if s == nil || s.Image == nil || s.Image.Bounds().Empty() {
		return ErrEmptyPayload
	}
	return nil
}
