package mapres

import (
	"log/slog"
	"sync/atomic"

	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/mapres/resource"
)

// zone is a copy of the active zone taken at the start of a cycle.
type zone struct {
	tiles  maptile.Set
	zoom   maptile.Zoom
	center maptile.Tile
}

// contains reports whether t is wanted by the zone.
func (z zone) contains(t maptile.Tile) bool {
	return t.Z == z.zoom && z.tiles[t]
}

// tileAttr formats a tile for structured logs.
func tileAttr(t maptile.Tile) slog.Attr {
	return slog.Group("tile", "x", t.X, "y", t.Y, "z", uint32(t.Z))
}

// entryAttr identifies an entry in structured logs.
func entryAttr(entry *resource.Entry) slog.Attr {
	if key, ok := entry.Key(); ok {
		return slog.Uint64("key", uint64(key))
	}
	return entryAttr(entry)
}

// priority orders requests and uploads: keyed resources first, then tiles
// by distance to the zone center.
func priority(entry *resource.Entry, center maptile.Tile) int {
	if entry.IsKeyed() {
		return 0
	}
	return distance(entry.Tile(), center)
}

// distance is the Manhattan distance between two tiles. Tiles at a
// different zoom sort after every tile at the center's zoom.
func distance(a, b maptile.Tile) int {
	if a.Z != b.Z {
		return 1 << 30
	}
	dx := int(a.X) - int(b.X)
	dy := int(a.Y) - int(b.Y)
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// UpdateActiveZone replaces the set of visible tiles. Tiles are taken at
// zoom regardless of their own Z. UpdateActiveZone never blocks on the
// watcher.
func (e *Engine) UpdateActiveZone(tiles maptile.Set, zoom maptile.Zoom) {
	active := make(maptile.Set, len(tiles))
	first := true
	var minX, minY, maxX, maxY uint32
	for t := range tiles {
		t.Z = zoom
		active[t] = true
		if first {
			minX, maxX, minY, maxY = t.X, t.X, t.Y, t.Y
			first = false
			continue
		}
		minX, maxX = min(minX, t.X), max(maxX, t.X)
		minY, maxY = min(minY, t.Y), max(maxY, t.Y)
	}
	center := maptile.New(minX+(maxX-minX)/2, minY+(maxY-minY)/2, zoom)

	e.zoneMu.Lock()
	e.activeTiles = active
	e.activeZoom = zoom
	e.center = center
	e.zoneMu.Unlock()

	e.retry.forgetOutside(active)
	Logger().Debug("mapres: active zone updated", "tiles", len(active), "zoom", int(zoom))
	e.wakeWatcher()
}

// zone returns the current active zone. The tile set is never mutated
// after UpdateActiveZone stores it, so sharing it is safe.
func (e *Engine) zone() zone {
	e.zoneMu.Lock()
	defer e.zoneMu.Unlock()
	return zone{tiles: e.activeTiles, zoom: e.activeZoom, center: e.center}
}

// InvalidateResourcesOfType marks kind for reloading. The resources are
// dropped by the next validation pass, which the watcher runs on its
// next cycle.
func (e *Engine) InvalidateResourcesOfType(kind resource.Kind) {
	if !kind.Valid() {
		return
	}
	e.invalidated.Or(uint32(resource.MaskOf(kind)))
	e.contentReady()
	e.wakeWatcher()
}

// ValidateResources marks every entry of the invalidated kinds junk and
// reports whether anything was invalidated.
func (e *Engine) ValidateResources() bool {
	mask := resource.KindMask(e.invalidated.Swap(0))
	if mask == 0 {
		return false
	}
	for _, c := range e.allCollections() {
		if !mask.Has(c.Kind()) {
			continue
		}
		c.ForEach(func(entry *resource.Entry) bool {
			entry.MarkJunk()
			return true
		})
	}
	Logger().Info("mapres: resources invalidated", "kinds", mask.String())
	e.wakeWatcher()
	e.requestSync()
	return true
}

// watch is the watcher goroutine. It sleeps until woken by a zone,
// binding or invalidation change.
func (e *Engine) watch() {
	defer close(e.watcherDone)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}
		e.cycle()
	}
}

// cycle runs one validation, cleanup and request pass.
func (e *Engine) cycle() {
	e.ValidateResources()

	z := e.zone()
	snap := e.snapshot()

	var needSync atomic.Bool
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, bc := range snap {
		g.Go(func() error {
			if e.cleanupCollection(bc.collection, bc.provider, z) {
				needSync.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	if needSync.Load() {
		e.requestSync()
	}

	if e.ctx.Err() != nil {
		return
	}
	for _, bc := range snap {
		if bc.provider != nil {
			e.requestNeeded(bc.collection, bc.provider, z)
		}
	}
}

// cleanupCollection drives unwanted entries toward removal and reports
// whether any entry waits for a GPU unload. A nil provider marks the
// collection as unbound, which makes every entry unwanted.
func (e *Engine) cleanupCollection(c *resource.Collection, provider Provider, z zone) (needSync bool) {
	wanted := func(entry *resource.Entry) bool { return z.contains(entry.Tile()) }
	if c.IsKeyed() && provider != nil {
		keys := providedKeys(provider)
		wanted = func(entry *resource.Entry) bool {
			key, _ := entry.Key()
			return keys[key]
		}
	}

	for _, entry := range c.Snapshot() {
		if entry.Retire() {
			e.removeEntry(c, entry)
			continue
		}

		if !entry.IsJunk() && provider != nil && wanted(entry) {
			continue
		}
		entry.MarkJunk()

		switch {
		case entry.MarkUnloadPending():
			needSync = true
		case entry.DropReady():
			e.detach(entry)
			e.removeEntry(c, entry)
		case entry.CancelWhileProcessing():
			entry.CancelRequest()
		case entry.CancelBeforeProcessing():
			entry.CancelRequest()
			e.removeEntry(c, entry)
		case entry.DropUnavailable():
			e.removeEntry(c, entry)
		default:
			// Owned by another goroutine right now; rechecked next cycle.
			if entry.State() == resource.StateUnloadPending {
				needSync = true
			}
		}
	}
	return needSync
}

// requestNeeded starts a request for every active tile, or every provided
// key, that has no entry in c.
func (e *Engine) requestNeeded(c *resource.Collection, p Provider, z zone) {
	if bound, ok := e.CollectionOf(p); !ok || bound != c {
		// Unbound since the cycle started.
		return
	}
	if c.IsKeyed() {
		e.requestNeededKeyed(c, p)
		return
	}
	for tile := range z.tiles {
		if c.Contains(tile) {
			continue
		}
		if !e.retry.allowed(tileRetryKey(c, tile)) {
			continue
		}
		entry, _ := c.GetOrCreate(tile)
		if !entry.BeginRequest() {
			continue
		}
		e.submitRequest(c, p, entry, distance(tile, z.center))
	}
}

// removeEntry removes a dead entry from its collection.
func (e *Engine) removeEntry(c *resource.Collection, entry *resource.Entry) {
	invariant(!entry.HasGPUResources(), "entry removed while holding GPU resources",
		"kind", entry.Kind().String(), entryAttr(entry), "state", entry.State().String())
	if c.Remove(entry) {
		Logger().Debug("mapres: entry removed",
			"kind", entry.Kind().String(), entryAttr(entry))
	}
}
