package mapres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/multierr"

	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/resource"
	"github.com/gogpu/mapres/symbols"
)

var symbolBehavior = kindBehavior{
	obtain:   obtainSymbols,
	upload:   uploadSymbols,
	rollback: rollbackSymbols,
	unload:   unloadSymbols,
	detach:   detachSymbols,
}

// DrawableSymbol is an uploaded symbol as seen by the draw pass.
type DrawableSymbol struct {
	Symbol *gpucore.SymbolData
	Handle gpucore.Handle
	Source SourceID

	// Tile is the tile that produced the symbol. Shared symbols are drawn
	// once even when several tiles reference them.
	Tile maptile.Tile

	// Key is the data key of a keyed symbol. Tile is zero for those.
	Key resource.DataKey
}

// sharedGroup holds the symbols of a source object referenced by more
// than one tile. GPU fields are touched on the GPU goroutine only, except
// when the last reference is dropped and the group was never uploaded.
type sharedGroup struct {
	source SourceID
	tile   maptile.Tile
	group  []*gpucore.SymbolData

	mu        sync.Mutex
	uploaded  bool
	handles   []gpucore.Handle
	drawables []*DrawableSymbol
}

// symbolTile is the payload of a symbols entry.
type symbolTile struct {
	unique []*SymbolGroup
	shared []*sharedGroup
}

// symbolGPU is the GPU side of a symbols entry. Shared group handles are
// owned by the groups.
type symbolGPU struct {
	handles   []gpucore.Handle
	drawables []*DrawableSymbol

	// fresh are the shared groups first uploaded by this entry.
	fresh []*sharedGroup
}

// SymbolsByOrder returns every uploaded symbol in draw order.
func (e *Engine) SymbolsByOrder() []*DrawableSymbol {
	return e.order.Ordered()
}

// boundInside reports whether inner lies entirely within outer.
func boundInside(outer, inner orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}

// symbolClaims collects the registry claims made while a provider runs.
type symbolClaims struct {
	mu         sync.Mutex
	promises   map[SourceID]*symbols.Promise[SourceID, *sharedGroup]
	futures    []*symbols.Future[SourceID, *sharedGroup]
	referenced []*sharedGroup
	skipped    map[SourceID]bool
}

// validateGroups rejects symbols the uploader could never accept, so they
// fail the request instead of every upload.
func validateGroups(p Provider, groups []*SymbolGroup) error {
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, sym := range g.Symbols {
			if err := sym.Validate(); err != nil {
				return fmt.Errorf("provider %s: source %d: %w", p.Name(), uint64(g.Source.ID), err)
			}
		}
	}
	return nil
}

func obtainSymbols(ctx context.Context, e *Engine, p Provider, entry *resource.Entry) (any, error) {
	sp := p.(SymbolProvider)
	tile := entry.Tile()
	zoom := tile.Z
	tileBound := tile.Bound()
	claims := &symbolClaims{
		promises: make(map[SourceID]*symbols.Promise[SourceID, *sharedGroup]),
		skipped:  make(map[SourceID]bool),
	}

	accept := func(obj SourceObject) bool {
		if !sp.CanBeShared(obj) || boundInside(tileBound, obj.Bounds) {
			return true
		}
		claims.mu.Lock()
		defer claims.mu.Unlock()
		if _, ok := claims.promises[obj.ID]; ok {
			return true
		}
		if claims.skipped[obj.ID] {
			return false
		}

		claim := e.shared.Obtain(zoom, obj.ID)
		switch {
		case claim.Referenced:
			claims.referenced = append(claims.referenced, claim.Value)
		case claim.Future != nil:
			claims.futures = append(claims.futures, claim.Future)
		default:
			claims.promises[obj.ID] = claim.Promise
			return true
		}
		claims.skipped[obj.ID] = true
		return false
	}

	groups, err := sp.ObtainSymbols(ctx, tile, accept)
	claims.mu.Lock()
	defer claims.mu.Unlock()
	if err == nil {
		err = validateGroups(p, groups)
	}
	if err != nil {
		claims.abandon(e, zoom, err)
		return nil, err
	}

	st := &symbolTile{shared: claims.referenced}
	for _, g := range groups {
		if g == nil || len(g.Symbols) == 0 {
			continue
		}
		id := g.Source.ID
		if promise, ok := claims.promises[id]; ok {
			sg := &sharedGroup{source: id, tile: tile, group: g.Symbols}
			if promise.Fulfil(sg) == nil {
				st.shared = append(st.shared, sg)
			}
			delete(claims.promises, id)
			continue
		}
		if claims.skipped[id] {
			// Another tile owns this object's symbols.
			continue
		}
		st.unique = append(st.unique, g)
	}
	for _, promise := range claims.promises {
		_ = promise.Break(errNoPayload)
	}
	claims.promises = nil

	// Every promise is settled, so waiting cannot deadlock against another
	// producer waiting on us.
	for i, f := range claims.futures {
		sg, err := f.Wait(ctx)
		if err != nil {
			claims.futures = claims.futures[i+1:]
			claims.referenced = st.shared
			claims.abandon(e, zoom, err)
			return nil, err
		}
		st.shared = append(st.shared, sg)
	}

	if len(st.unique) == 0 && len(st.shared) == 0 {
		return nil, nil
	}
	if len(st.shared) > 0 {
		Logger().Debug("mapres: symbols shared",
			tileAttr(tile), "shared", len(st.shared), "unique", len(st.unique))
	}
	return st, nil
}

// abandon undoes every claim after a failed or canceled production.
func (c *symbolClaims) abandon(e *Engine, zoom maptile.Zoom, cause error) {
	for _, promise := range c.promises {
		_ = promise.Break(cause)
	}
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for _, f := range c.futures {
		// Wait with a done context leaves the future unless it has already
		// resolved, in which case we hold a reference to give back.
		if sg, err := f.Wait(canceled); err == nil {
			c.referenced = append(c.referenced, sg)
		}
	}
	for _, sg := range c.referenced {
		e.releaseShared(zoom, sg)
	}
	c.promises, c.futures, c.referenced = nil, nil, nil
}

// releaseShared drops one reference to sg. When it was the last one and
// the group is on the GPU, the release is posted to the GPU goroutine.
func (e *Engine) releaseShared(zoom maptile.Zoom, sg *sharedGroup) {
	_, removed, err := e.shared.Release(zoom, sg.source)
	if err != nil {
		invariant(false, "shared symbol reference released twice",
			"source", uint64(sg.source), "zoom", int(zoom), "err", err)
		return
	}
	if !removed {
		return
	}
	sg.mu.Lock()
	uploaded := sg.uploaded
	sg.mu.Unlock()
	if !uploaded {
		return
	}
	if err := e.gpuQueue.Invoke(func() { e.freeSharedGroup(sg, false) }); err != nil {
		e.freeSharedGroup(sg, false)
		return
	}
	e.requestSync()
}

func detachSymbols(e *Engine, zoom maptile.Zoom, payload any) {
	st, ok := payload.(*symbolTile)
	if !ok {
		return
	}
	for _, sg := range st.shared {
		e.releaseShared(zoom, sg)
	}
}

// uploadGroup uploads symbols and appends their handles to handles. On
// error the handles uploaded by this call are released again.
func (e *Engine) uploadGroup(group []*gpucore.SymbolData, handles []gpucore.Handle) ([]gpucore.Handle, error) {
	start := len(handles)
	for _, sym := range group {
		if err := sym.Validate(); err != nil {
			e.releaseHandles(handles[start:])
			return handles[:start], err
		}
		h, err := e.uploader.UploadSymbol(sym)
		if err != nil {
			e.releaseHandles(handles[start:])
			return handles[:start], err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (e *Engine) releaseHandles(handles []gpucore.Handle) error {
	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, e.uploader.Release(h))
	}
	return errs
}

// uploadSymbols uploads the tile's unique groups and every shared group
// not yet on the GPU. Either everything is uploaded or nothing is.
func uploadSymbols(e *Engine, entry *resource.Entry) (any, error) {
	st, ok := entry.Payload().(*symbolTile)
	if !ok {
		return nil, gpucore.ErrEmptyPayload
	}
	res := &symbolGPU{}
	key, _ := entry.Key()

	for _, g := range st.unique {
		start := len(res.handles)
		handles, err := e.uploadGroup(g.Symbols, res.handles)
		if err != nil {
			rollbackSymbols(e, entry.Zoom(), res)
			return nil, err
		}
		res.handles = handles
		for i, sym := range g.Symbols {
			res.drawables = append(res.drawables, &DrawableSymbol{
				Symbol: sym, Handle: handles[start+i], Source: g.Source.ID, Tile: entry.Tile(), Key: key,
			})
		}
	}

	for _, sg := range st.shared {
		sg.mu.Lock()
		if sg.uploaded {
			sg.mu.Unlock()
			continue
		}
		handles, err := e.uploadGroup(sg.group, nil)
		if err != nil {
			sg.mu.Unlock()
			rollbackSymbols(e, entry.Zoom(), res)
			return nil, err
		}
		sg.handles = handles
		sg.drawables = sg.drawables[:0]
		for i, sym := range sg.group {
			sg.drawables = append(sg.drawables, &DrawableSymbol{
				Symbol: sym, Handle: handles[i], Source: sg.source, Tile: sg.tile,
			})
		}
		sg.uploaded = true
		sg.mu.Unlock()
		res.fresh = append(res.fresh, sg)
	}

	for _, d := range res.drawables {
		e.order.Insert(d.Symbol.Order, d)
	}
	for _, sg := range res.fresh {
		for _, d := range sg.drawables {
			e.order.Insert(d.Symbol.Order, d)
		}
	}
	return res, nil
}

// rollbackSymbols undoes an upload: unique handles and the shared groups
// this upload put on the GPU are released.
func rollbackSymbols(e *Engine, _ maptile.Zoom, gpu any) {
	res, ok := gpu.(*symbolGPU)
	if !ok {
		return
	}
	for _, d := range res.drawables {
		e.order.Remove(d.Symbol.Order, d)
	}
	if err := e.releaseHandles(res.handles); err != nil {
		Logger().Warn("mapres: symbol rollback failed", "err", err)
	}
	for _, sg := range res.fresh {
		e.freeSharedGroup(sg, false)
	}
	res.handles, res.drawables, res.fresh = nil, nil, nil
}

// unloadSymbols releases the tile's own handles and its references to
// shared groups; the last reference frees the group.
func unloadSymbols(e *Engine, entry *resource.Entry, contextLost bool) error {
	var errs error
	if res, ok := entry.GPUResources().(*symbolGPU); ok {
		for _, d := range res.drawables {
			e.order.Remove(d.Symbol.Order, d)
		}
		if !contextLost {
			errs = e.releaseHandles(res.handles)
		}
	}

	st, _ := entry.Payload().(*symbolTile)
	entry.SetPayload(nil)
	if st == nil {
		return errs
	}
	for _, sg := range st.shared {
		_, removed, err := e.shared.Release(entry.Zoom(), sg.source)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if removed {
			errs = multierr.Append(errs, e.freeSharedGroup(sg, contextLost))
		}
	}
	return errs
}

// freeSharedGroup releases a group's GPU handles. Runs on the GPU
// goroutine.
func (e *Engine) freeSharedGroup(sg *sharedGroup, contextLost bool) error {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	if !sg.uploaded {
		return nil
	}
	for _, d := range sg.drawables {
		e.order.Remove(d.Symbol.Order, d)
	}
	var err error
	if !contextLost {
		err = e.releaseHandles(sg.handles)
	}
	sg.handles, sg.drawables, sg.uploaded = nil, nil, false
	return err
}

// isBrokenPromise reports whether err came from another tile abandoning a
// shared production.
func isBrokenPromise(err error) bool {
	return errors.Is(err, symbols.ErrPromiseBroken)
}
