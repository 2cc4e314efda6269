package mapres

import (
	"context"

	"github.com/gogpu/mapres/resource"
)

// Keyed symbols reuse the symbol upload path. They never share groups
// with other entries, so detach and the shared registry see nothing.
var keyedSymbolBehavior = kindBehavior{
	obtain:   obtainKeyedSymbols,
	upload:   uploadSymbols,
	rollback: rollbackSymbols,
	unload:   unloadSymbols,
	detach:   detachSymbols,
}

func obtainKeyedSymbols(ctx context.Context, _ *Engine, p Provider, entry *resource.Entry) (any, error) {
	key, _ := entry.Key()
	groups, err := p.(KeyedSymbolProvider).ObtainKeyedSymbols(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := validateGroups(p, groups); err != nil {
		return nil, err
	}

	st := &symbolTile{}
	for _, g := range groups {
		if g != nil && len(g.Symbols) > 0 {
			st.unique = append(st.unique, g)
		}
	}
	if len(st.unique) == 0 {
		return nil, nil
	}
	return st, nil
}

// providedKeys returns the keys p has data for, or nil when p is not a
// keyed provider.
func providedKeys(p Provider) map[resource.DataKey]bool {
	kp, ok := p.(KeyedSymbolProvider)
	if !ok {
		return nil
	}
	keys := kp.ProvidedKeys()
	set := make(map[resource.DataKey]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// requestNeededKeyed starts a request for every provided key that has no
// entry in c. Keyed resources go ahead of every tile.
func (e *Engine) requestNeededKeyed(c *resource.Collection, p Provider) {
	for key := range providedKeys(p) {
		if c.ContainsKey(key) {
			continue
		}
		if !e.retry.allowed(dataRetryKey(c, key)) {
			continue
		}
		entry, _ := c.GetOrCreateKey(key)
		if !entry.BeginRequest() {
			continue
		}
		e.submitRequest(c, p, entry, 0)
	}
}

// keysDiffer reports whether c holds a key p no longer provides, or lacks
// a provided key that may be requested now.
func (e *Engine) keysDiffer(c *resource.Collection, p Provider) bool {
	provided := providedKeys(p)
	held := c.Keys()
	for _, k := range held {
		if !provided[k] {
			return true
		}
	}
	if len(held) == len(provided) {
		return false
	}
	for k := range provided {
		if !c.ContainsKey(k) && e.retry.allowed(dataRetryKey(c, k)) {
			return true
		}
	}
	return false
}

// CheckForUpdates lets every UpdatableProvider apply pending changes and
// compares keyed collections with the keys their providers now report.
// Resources of updated providers are reloaded, and missing or stale keys
// are requested or dropped by the watcher.
//
// CheckForUpdates reports whether anything changed, in which case the
// renderer should draw a new frame. It is typically called once per
// frame.
func (e *Engine) CheckForUpdates() bool {
	if e.closed.Load() {
		return false
	}
	var applied, present bool
	for _, bc := range e.snapshot() {
		if bc.provider == nil {
			continue
		}
		if up, ok := bc.provider.(UpdatableProvider); ok && up.CheckForUpdates() {
			applied = true
			e.retry.forgetCollection(bc.collection.ID())
			bc.collection.ForEach(func(entry *resource.Entry) bool {
				entry.MarkJunk()
				return true
			})
			Logger().Info("mapres: provider updated",
				"provider", bc.provider.Name(), "kind", bc.collection.Kind().String())
		}
		if bc.collection.IsKeyed() && e.keysDiffer(bc.collection, bc.provider) {
			present = true
		}
	}

	if applied || present {
		e.wakeWatcher()
	}
	if applied {
		e.requestSync()
	}
	return applied || present
}
