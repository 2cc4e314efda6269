// Package mapres keeps map tiles and symbols resident on the GPU for
// whatever part of the map is currently visible.
//
// # Overview
//
// A renderer binds data providers to resource kinds (map layers,
// elevation, symbols) and tells the engine which tiles are visible. The
// engine requests missing tiles from the providers on a pool of workers,
// uploads them to the GPU when the renderer asks for a sync pass, and
// unloads tiles that left the visible zone.
//
// # Quick Start
//
//	import "github.com/gogpu/mapres"
//
//	eng, err := mapres.New(
//	    mapres.WithContentReady(renderer.InvalidateFrame),
//	    mapres.WithSyncRequest(renderer.RequestSync),
//	)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	err = eng.UpdateBindings([]mapres.Binding{
//	    {Kind: resource.KindMapLayer, Provider: basemap},
//	    {Kind: resource.KindSymbols, Provider: labels},
//	}, resource.AllKinds)
//
//	// Whenever the camera moves
//	eng.UpdateActiveZone(visibleTiles, zoom)
//
//	// Once per frame, on the goroutine owning the GPU
//	if res := eng.SyncResourcesInGPU(8); res.MoreAvailable {
//	    renderer.RequestSync()
//	}
//
// # Resource Lifecycle
//
// Every (provider, tile) pair is tracked by a [resource.Entry] whose
// state moves through a fixed graph of compare-and-swap transitions:
// requested, processed by a worker, ready, uploaded, locked for drawing,
// and unloaded again. A lost transition is an ordinary outcome: it means
// another goroutine got to the entry first.
//
// # Goroutines
//
//   - The watcher goroutine cleans up unwanted entries and issues requests.
//   - Worker goroutines call the providers.
//   - The GPU goroutine (the caller of SyncResourcesInGPU) is the only one
//     that uploads or releases GPU resources.
//
// # Shared Symbols
//
// Symbols of map objects crossing tile borders are produced once and
// shared between tiles through a refcounted [symbols.Registry]. They are
// freed when the last tile referencing them is unloaded.
//
// # Keyed Symbols
//
// A [KeyedSymbolProvider] bound to [resource.KindKeyedSymbols] serves
// symbols by data key rather than by tile, for content such as markers
// that stays resident whatever the visible zone. Call
// [Engine.CheckForUpdates] once per frame to pick up key changes and
// provider updates.
package mapres
