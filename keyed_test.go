package mapres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/resource"
)

// fakeKeyedProvider serves one symbol per key and reports updates on
// demand.
type fakeKeyedProvider struct {
	mu      sync.Mutex
	keys    []resource.DataKey
	calls   map[resource.DataKey]int
	updated bool
}

func newFakeKeyedProvider(keys ...resource.DataKey) *fakeKeyedProvider {
	return &fakeKeyedProvider{keys: keys, calls: make(map[resource.DataKey]int)}
}

func (p *fakeKeyedProvider) Name() string { return "markers" }

func (p *fakeKeyedProvider) ProvidedKeys() []resource.DataKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]resource.DataKey(nil), p.keys...)
}

func (p *fakeKeyedProvider) ObtainKeyedSymbols(_ context.Context, key resource.DataKey) ([]*SymbolGroup, error) {
	p.mu.Lock()
	p.calls[key]++
	p.mu.Unlock()
	return []*SymbolGroup{{
		Source:  SourceObject{ID: SourceID(key)},
		Symbols: []*gpucore.SymbolData{{Image: testImage(), Order: int(key)}},
	}}, nil
}

func (p *fakeKeyedProvider) CheckForUpdates() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	updated := p.updated
	p.updated = false
	return updated
}

func (p *fakeKeyedProvider) setKeys(keys ...resource.DataKey) {
	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()
}

func (p *fakeKeyedProvider) markUpdated() {
	p.mu.Lock()
	p.updated = true
	p.mu.Unlock()
}

func (p *fakeKeyedProvider) callCount(key resource.DataKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func keyedStateOf(e *Engine, p Provider, key resource.DataKey) resource.State {
	c, ok := e.CollectionOf(p)
	if !ok {
		return resource.StateJustBeforeDeath
	}
	entry, ok := c.GetKey(key)
	if !ok {
		return resource.StateJustBeforeDeath
	}
	return entry.State()
}

func uploadedKeys(e *Engine, p Provider, keys ...resource.DataKey) func() bool {
	return func() bool {
		for _, k := range keys {
			if keyedStateOf(e, p, k) != resource.StateUploaded {
				return false
			}
		}
		return true
	}
}

func TestKeyed_ResidentRegardlessOfZone(t *testing.T) {
	e, _ := newTestEngine(t)
	p := newFakeKeyedProvider(1, 2)
	bind(t, e, resource.KindKeyedSymbols, p)

	syncUntil(t, e, "keys uploaded", uploadedKeys(e, p, 1, 2))

	var keys []resource.DataKey
	for _, d := range e.SymbolsByOrder() {
		if d.Tile != (maptile.Tile{}) {
			t.Errorf("keyed symbol has tile %v", d.Tile)
		}
		keys = append(keys, d.Key)
	}
	if len(keys) != 2 || keys[0] != 1 || keys[1] != 2 {
		t.Errorf("SymbolsByOrder() keys = %v, want [1 2]", keys)
	}

	// Zone changes do not touch keyed resources.
	e.UpdateActiveZone(tileSet(tileA), 10)
	e.UpdateActiveZone(maptile.Set{}, 10)
	e.cycle()
	e.SyncResourcesInGPU(0)
	if !uploadedKeys(e, p, 1, 2)() {
		t.Error("keyed resources unloaded by a zone change")
	}
	if got := p.callCount(1); got != 1 {
		t.Errorf("ObtainKeyedSymbols(1) calls = %d, want 1", got)
	}
}

func TestKeyed_CheckForUpdatesFollowsKeys(t *testing.T) {
	e, up := newTestEngine(t)
	p := newFakeKeyedProvider(1, 2)
	bind(t, e, resource.KindKeyedSymbols, p)
	syncUntil(t, e, "keys uploaded", uploadedKeys(e, p, 1, 2))

	if e.CheckForUpdates() {
		t.Error("CheckForUpdates() = true with nothing changed")
	}

	p.setKeys(2, 3)
	if !e.CheckForUpdates() {
		t.Fatal("CheckForUpdates() = false after the key set changed")
	}
	syncUntil(t, e, "key 1 dropped and key 3 uploaded", func() bool {
		return keyedStateOf(e, p, 1) == resource.StateJustBeforeDeath && uploadedKeys(e, p, 2, 3)()
	})
	if e.CheckForUpdates() {
		t.Error("CheckForUpdates() = true once the keys match")
	}
	if live := up.Stats().Live; live != 2 {
		t.Errorf("live handles = %d, want 2", live)
	}
}

func TestKeyed_AppliedUpdatesReload(t *testing.T) {
	var ready int
	e, _ := newTestEngine(t, WithContentReady(func() { ready++ }))
	p := newFakeKeyedProvider(5)
	bind(t, e, resource.KindKeyedSymbols, p)
	syncUntil(t, e, "key uploaded", uploadedKeys(e, p, 5))

	p.markUpdated()
	if !e.CheckForUpdates() {
		t.Fatal("CheckForUpdates() = false after the provider applied updates")
	}
	syncUntil(t, e, "key reloaded", func() bool {
		return p.callCount(5) == 2 && uploadedKeys(e, p, 5)()
	})
	if ready == 0 {
		t.Error("content-ready callback never ran")
	}
}

func TestKeyed_BindingNeedsKeyedProvider(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.UpdateBindings([]Binding{{Kind: resource.KindKeyedSymbols, Provider: newFakeTileProvider("base")}},
		resource.MaskOf(resource.KindKeyedSymbols))
	if !errors.Is(err, ErrProviderKind) {
		t.Errorf("UpdateBindings() = %v, want ErrProviderKind", err)
	}
}
