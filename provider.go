package mapres

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/resource"
)

// Provider is a data source bound to one resource kind. Concrete
// providers also implement TileProvider (map layers, elevation),
// SymbolProvider (symbols) or KeyedSymbolProvider (keyed symbols).
//
// Providers are used as map keys by the binding table, so their dynamic
// type must be comparable; pointer receivers are the norm.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
}

// TileProvider produces map-layer and elevation tiles.
type TileProvider interface {
	Provider

	// ObtainTile returns the content of tile. A nil result with a nil error
	// means the provider has no data there. ObtainTile is called from
	// worker goroutines and should return promptly once ctx is done.
	ObtainTile(ctx context.Context, tile maptile.Tile) (*gpucore.TileData, error)
}

// SourceID is the identity of a map object that symbols are produced for.
type SourceID uint64

// SourceObject describes a map object visited while obtaining symbols.
type SourceObject struct {
	ID     SourceID
	Bounds orb.Bound
}

// SymbolGroup is the set of symbols produced for one source object.
type SymbolGroup struct {
	Source  SourceObject
	Symbols []*gpucore.SymbolData
}

// SymbolFilter is called by a SymbolProvider for every candidate object.
// Returning false means the engine already has (or is producing) the
// object's symbols and the provider must skip it.
type SymbolFilter func(obj SourceObject) bool

// SymbolProvider produces symbol tiles.
type SymbolProvider interface {
	Provider

	// ObtainSymbols returns symbol groups for tile, consulting accept for
	// every candidate object before producing its symbols. An empty result
	// with a nil error means the tile has no symbols.
	ObtainSymbols(ctx context.Context, tile maptile.Tile, accept SymbolFilter) ([]*SymbolGroup, error)

	// CanBeShared reports whether the object's symbols may be shared
	// between tiles.
	CanBeShared(obj SourceObject) bool
}

// KeyedSymbolProvider produces symbols that are not tied to tiles, such as
// favorites or route markers. Every key it reports stays resident while
// the provider is bound, regardless of the active zone.
type KeyedSymbolProvider interface {
	Provider

	// ProvidedKeys returns the keys the provider currently has data for.
	ProvidedKeys() []resource.DataKey

	// ObtainKeyedSymbols returns the symbol groups of key. An empty result
	// with a nil error means the key has no symbols.
	ObtainKeyedSymbols(ctx context.Context, key resource.DataKey) ([]*SymbolGroup, error)
}

// UpdatableProvider is implemented by providers whose data may change
// after it was obtained.
type UpdatableProvider interface {
	Provider

	// CheckForUpdates applies pending data changes and reports whether
	// any were applied. Resources obtained earlier are then reloaded.
	CheckForUpdates() bool
}

// Binding attaches a provider to a resource kind.
type Binding struct {
	Kind     resource.Kind
	Provider Provider
}

// validate checks that the provider serves the binding's kind.
func (b Binding) validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, b.Kind)
	}
	if b.Provider == nil {
		return fmt.Errorf("%w: kind %v", ErrNilProvider, b.Kind)
	}
	switch b.Kind {
	case resource.KindSymbols:
		if _, ok := b.Provider.(SymbolProvider); !ok {
			return fmt.Errorf("%w: %s is not a SymbolProvider", ErrProviderKind, b.Provider.Name())
		}
	case resource.KindKeyedSymbols:
		if _, ok := b.Provider.(KeyedSymbolProvider); !ok {
			return fmt.Errorf("%w: %s is not a KeyedSymbolProvider", ErrProviderKind, b.Provider.Name())
		}
	default:
		if _, ok := b.Provider.(TileProvider); !ok {
			return fmt.Errorf("%w: %s is not a TileProvider", ErrProviderKind, b.Provider.Name())
		}
	}
	return nil
}
