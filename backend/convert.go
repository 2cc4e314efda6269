package backend

import (
	"encoding/binary"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DefaultMaxTextureSize is the largest texture side accepted without
// down-scaling. It matches WebGPU's default maxTextureDimension2D.
const DefaultMaxTextureSize = 8192

// ToRGBA returns img as tightly packed RGBA with its origin at (0, 0).
// Images larger than maxSize on either side are scaled down, preserving
// the aspect ratio. maxSize <= 0 disables scaling.
func ToRGBA(img image.Image, maxSize int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxSize > 0 && (w > maxSize || h > maxSize) {
		scale := math.Min(float64(maxSize)/float64(w), float64(maxSize)/float64(h))
		sw := max(1, int(float64(w)*scale))
		sh := max(1, int(float64(h)*scale))
		dst := image.NewRGBA(image.Rect(0, 0, sw, sh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}

	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*w {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HeightsToBytes encodes an elevation grid as little-endian float32 texels.
func HeightsToBytes(heights []float32) []byte {
	out := make([]byte, 4*len(heights))
	for i, h := range heights {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(h))
	}
	return out
}
