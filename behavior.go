package mapres

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/resource"
)

// kindBehavior is what differs between resource kinds. Everything else in
// the lifecycle is shared.
type kindBehavior struct {
	// obtain calls the provider on a worker. A nil payload means the
	// provider has no data for the entry.
	obtain func(ctx context.Context, e *Engine, p Provider, entry *resource.Entry) (any, error)

	// upload moves the payload to the GPU and returns the resources to
	// store on the entry. On error nothing stays allocated.
	upload func(e *Engine, entry *resource.Entry) (any, error)

	// rollback frees what a successful upload allocated when the upload
	// could not be confirmed.
	rollback func(e *Engine, zoom maptile.Zoom, gpu any)

	// unload frees the entry's GPU resources and its payload. When the GPU
	// context is lost, handles are forgotten instead of released.
	unload func(e *Engine, entry *resource.Entry, contextLost bool) error

	// detach releases what a payload holds outside the entry. Called for
	// payloads that are dropped without ever being uploaded.
	detach func(e *Engine, zoom maptile.Zoom, payload any)
}

var behaviors = [...]kindBehavior{
	resource.KindMapLayer:  tileBehavior,
	resource.KindElevation: tileBehavior,
	resource.KindSymbols:   symbolBehavior,

	resource.KindKeyedSymbols: keyedSymbolBehavior,
}

var tileBehavior = kindBehavior{
	obtain:   obtainTile,
	upload:   uploadTile,
	rollback: rollbackTile,
	unload:   unloadTile,
	detach:   func(*Engine, maptile.Zoom, any) {},
}

// tileGPU is the GPU side of a map-layer or elevation tile.
type tileGPU struct {
	handle gpucore.Handle
}

func obtainTile(ctx context.Context, _ *Engine, p Provider, entry *resource.Entry) (any, error) {
	data, err := p.(TileProvider).ObtainTile(ctx, entry.Tile())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
	}
	return data, nil
}

func uploadTile(e *Engine, entry *resource.Entry) (any, error) {
	data, ok := entry.Payload().(*gpucore.TileData)
	if !ok {
		return nil, gpucore.ErrEmptyPayload
	}
	h, err := e.uploader.UploadTile(data)
	if err != nil {
		return nil, err
	}
	return tileGPU{handle: h}, nil
}

func rollbackTile(e *Engine, _ maptile.Zoom, gpu any) {
	if res, ok := gpu.(tileGPU); ok {
		if err := e.uploader.Release(res.handle); err != nil {
			Logger().Warn("mapres: release failed", "handle", res.handle.String(), "err", err)
		}
	}
}

func unloadTile(e *Engine, entry *resource.Entry, contextLost bool) error {
	res, ok := entry.GPUResources().(tileGPU)
	entry.SetPayload(nil)
	if !ok || contextLost {
		return nil
	}
	return e.uploader.Release(res.handle)
}

// detach releases the payload of an entry that leaves without having been
// uploaded.
func (e *Engine) detach(entry *resource.Entry) {
	payload := entry.Payload()
	entry.SetPayload(nil)
	if payload != nil {
		behaviors[entry.Kind()].detach(e, entry.Zoom(), payload)
	}
}
