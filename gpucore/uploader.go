package gpucore

import "context"

// Uploader moves payloads into GPU memory and frees them again.
//
// Every method is called from the goroutine that owns the GPU context.
type Uploader interface {
	// UploadTile uploads a map-layer or elevation tile.
	UploadTile(tile *TileData) (Handle, error)

	// UploadSymbol uploads one symbol.
	UploadSymbol(symbol *SymbolData) (Handle, error)

	// Release frees the resource behind h. Releasing an unknown handle
	// returns an error and has no other effect.
	Release(h Handle) error
}

// UploadWaiter is implemented by uploaders that hand work to a separate
// GPU worker. WaitUntilUploadComplete blocks until every upload issued so
// far is complete, or ctx is done.
type UploadWaiter interface {
	WaitUntilUploadComplete(ctx context.Context) error
}

// Named is implemented by uploaders that report a backend name.
type Named interface {
	Name() string
}
