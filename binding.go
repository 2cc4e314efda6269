package mapres

import (
	"time"

	"github.com/gogpu/mapres/resource"
)

// bindingTable maps providers to their collections and back. Both maps
// are always updated together under Engine.bindMu.
type bindingTable struct {
	providerToCollection map[Provider]*resource.Collection
	collectionToProvider map[*resource.Collection]Provider
}

func newBindingTable() bindingTable {
	return bindingTable{
		providerToCollection: make(map[Provider]*resource.Collection),
		collectionToProvider: make(map[*resource.Collection]Provider),
	}
}

func (t *bindingTable) bind(p Provider, c *resource.Collection) {
	t.providerToCollection[p] = c
	t.collectionToProvider[c] = p
}

func (t *bindingTable) unbind(p Provider) *resource.Collection {
	c, ok := t.providerToCollection[p]
	if !ok {
		return nil
	}
	delete(t.providerToCollection, p)
	delete(t.collectionToProvider, c)
	return c
}

// boundCollection pairs a collection with its provider. provider is nil
// for collections awaiting removal.
type boundCollection struct {
	collection *resource.Collection
	provider   Provider
}

// snapshot returns bound collections followed by pending-removal ones.
func (e *Engine) snapshot() []boundCollection {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()

	out := make([]boundCollection, 0, len(e.bindings.collectionToProvider)+len(e.pendingRemoval))
	for c, p := range e.bindings.collectionToProvider {
		out = append(out, boundCollection{collection: c, provider: p})
	}
	for _, c := range e.pendingRemoval {
		out = append(out, boundCollection{collection: c})
	}
	return out
}

// allCollections returns every collection, bound or pending removal.
func (e *Engine) allCollections() []*resource.Collection {
	snap := e.snapshot()
	out := make([]*resource.Collection, len(snap))
	for i, bc := range snap {
		out[i] = bc.collection
	}
	return out
}

// Collections returns the bound collections grouped by kind, for the draw
// pass. Entries must be locked with Entry.Lock before their GPU resources
// are used.
func (e *Engine) Collections() map[resource.Kind][]*resource.Collection {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()

	out := make(map[resource.Kind][]*resource.Collection)
	for c := range e.bindings.collectionToProvider {
		out[c.Kind()] = append(out[c.Kind()], c)
	}
	return out
}

// CollectionsOf returns the bound collections of kind.
func (e *Engine) CollectionsOf(kind resource.Kind) []*resource.Collection {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()

	var out []*resource.Collection
	for c := range e.bindings.collectionToProvider {
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// CollectionOf returns the collection bound to p.
func (e *Engine) CollectionOf(p Provider) (*resource.Collection, bool) {
	e.bindMu.RLock()
	defer e.bindMu.RUnlock()
	c, ok := e.bindings.providerToCollection[p]
	return c, ok
}

// UpdateBindings makes bindings the active providers for every kind in
// changed. Providers of those kinds that are not in bindings are unbound;
// kinds outside changed are left alone.
//
// Unbinding blocks until every entry of the provider's collection has
// left the GPU, which requires SyncResourcesInGPU to run on the GPU
// goroutine meanwhile. UpdateBindings must therefore not be called from
// the GPU goroutine.
func (e *Engine) UpdateBindings(bindings []Binding, changed resource.KindMask) error {
	if e.closed.Load() {
		return ErrClosed
	}
	wanted := make(map[Provider]resource.Kind, len(bindings))
	for _, b := range bindings {
		if err := b.validate(); err != nil {
			return err
		}
		if changed.Has(b.Kind) {
			wanted[b.Provider] = b.Kind
		}
	}

	e.bindMu.Lock()
	var removed []*resource.Collection
	for p, c := range e.bindings.providerToCollection {
		if !changed.Has(c.Kind()) {
			continue
		}
		if kind, ok := wanted[p]; ok && kind == c.Kind() {
			continue
		}
		e.bindings.unbind(p)
		e.pendingRemoval = append(e.pendingRemoval, c)
		removed = append(removed, c)
		Logger().Info("mapres: provider unbound",
			"provider", p.Name(), "kind", c.Kind().String(), "collection", c.ID().String())
	}
	added := 0
	for p, kind := range wanted {
		if _, ok := e.bindings.providerToCollection[p]; ok {
			continue
		}
		c := resource.NewCollection(kind)
		e.bindings.bind(p, c)
		added++
		Logger().Info("mapres: provider bound",
			"provider", p.Name(), "kind", kind.String(), "collection", c.ID().String())
	}
	e.bindMu.Unlock()

	if len(removed) > 0 {
		e.blockingRelease(removed)
	}
	if added > 0 || len(removed) > 0 {
		e.wakeWatcher()
	}
	return nil
}

// blockingRelease drives the entries of detached collections to removal
// and waits until every collection is empty. Entries still on the GPU
// need a sync pass; in-flight requests need their task to finish.
func (e *Engine) blockingRelease(colls []*resource.Collection) {
	for _, c := range colls {
		c.ForEach(func(entry *resource.Entry) bool {
			entry.MarkJunk()
			return true
		})
	}

	for {
		remaining := 0
		needSync := false
		for _, c := range colls {
			if e.cleanupCollection(c, nil, zone{}) {
				needSync = true
			}
			remaining += c.Len()
		}
		if remaining == 0 || e.closed.Load() {
			break
		}

		synced := e.syncedChan()
		if needSync || e.hasResident(colls) {
			e.requestSync()
		}
		select {
		case <-synced:
		case <-time.After(e.cfg.UnbindWait):
		case <-e.ctx.Done():
		}
	}

	e.dropPendingRemoval(colls)
}

func (e *Engine) hasResident(colls []*resource.Collection) bool {
	for _, c := range colls {
		if len(c.ResidentEntries()) > 0 {
			return true
		}
	}
	return false
}

// dropPendingRemoval forgets empty collections from the pending list.
func (e *Engine) dropPendingRemoval(colls []*resource.Collection) {
	e.bindMu.Lock()
	defer e.bindMu.Unlock()

	kept := e.pendingRemoval[:0]
	for _, c := range e.pendingRemoval {
		drop := false
		for _, d := range colls {
			if c == d && c.IsEmpty() {
				drop = true
				break
			}
		}
		if drop {
			e.verifyNoUploadedResourcesPresent(c)
			continue
		}
		kept = append(kept, c)
	}
	e.pendingRemoval = kept
}

// verifyNoUploadedResourcesPresent reports entries that would leak GPU
// memory if the collection were dropped now.
func (e *Engine) verifyNoUploadedResourcesPresent(c *resource.Collection) bool {
	resident := c.ResidentEntries()
	for _, entry := range resident {
		invariant(false, "collection dropped with GPU-resident entry",
			"collection", c.ID().String(), "kind", c.Kind().String(),
			entryAttr(entry), "state", entry.State().String())
	}
	return len(resident) == 0
}
