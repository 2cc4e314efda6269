package resource

import (
	"fmt"
	"strings"
)

// Kind identifies the type of content a resource holds.
// The set of kinds is closed.
type Kind uint8

// Resource kinds.
const (
	// KindMapLayer is a raster map layer tile (base map, overlays).
	KindMapLayer Kind = iota

	// KindElevation is a terrain elevation tile.
	KindElevation

	// KindSymbols is a tile of map symbols (icons, captions, shields).
	KindSymbols

	// KindKeyedSymbols is a set of symbols identified by a provider key
	// rather than a tile, e.g. favorites or route markers.
	KindKeyedSymbols

	kindCount
)

// Kinds returns all resource kinds in declaration order.
func Kinds() []Kind {
	return []Kind{KindMapLayer, KindElevation, KindSymbols, KindKeyedSymbols}
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindMapLayer:
		return "MapLayer"
	case KindElevation:
		return "Elevation"
	case KindSymbols:
		return "Symbols"
	case KindKeyedSymbols:
		return "KeyedSymbols"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsKeyed reports whether resources of kind k are identified by a
// DataKey instead of a tile.
func (k Kind) IsKeyed() bool {
	return k == KindKeyedSymbols
}

// DataKey identifies a keyed resource within its provider.
type DataKey uint64

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k < kindCount
}

// KindMask is a set of kinds, used for change notifications and
// invalidation.
type KindMask uint32

// AllKinds has every kind set.
const AllKinds KindMask = 1<<kindCount - 1

// MaskOf builds a mask from kinds.
func MaskOf(kinds ...Kind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

// Has reports whether k is in the mask.
func (m KindMask) Has(k Kind) bool {
	return m&(1<<k) != 0
}

// With returns a copy of m with k added.
func (m KindMask) With(k Kind) KindMask {
	return m | 1<<k
}

// String lists the kinds in the mask, e.g. "MapLayer|Symbols".
func (m KindMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, k := range Kinds() {
		if m.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}
