package mapres

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/backend"
	"github.com/gogpu/mapres/gpucore"
	"github.com/gogpu/mapres/resource"
)

// =============================================================================
// Fake providers
// =============================================================================

// fakeTileProvider serves tiles from a map. Tiles missing from data are
// unavailable; tiles in fail return the error.
type fakeTileProvider struct {
	name string

	mu    sync.Mutex
	data  map[maptile.Tile]*gpucore.TileData
	fail  map[maptile.Tile]error
	calls map[maptile.Tile]int
	gate  chan struct{}

	// holdThroughCancel keeps calls blocked on gate after ctx is done.
	holdThroughCancel bool
}

func newFakeTileProvider(name string) *fakeTileProvider {
	return &fakeTileProvider{
		name:  name,
		data:  make(map[maptile.Tile]*gpucore.TileData),
		fail:  make(map[maptile.Tile]error),
		calls: make(map[maptile.Tile]int),
	}
}

func (p *fakeTileProvider) Name() string { return p.name }

func (p *fakeTileProvider) ObtainTile(ctx context.Context, tile maptile.Tile) (*gpucore.TileData, error) {
	p.mu.Lock()
	p.calls[tile]++
	gate, hold := p.gate, p.holdThroughCancel
	data, err := p.data[tile], p.fail[tile]
	p.mu.Unlock()

	if gate != nil {
		if hold {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *fakeTileProvider) serve(tiles ...maptile.Tile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tiles {
		p.data[t] = testTileData()
	}
}

func (p *fakeTileProvider) failWith(tile maptile.Tile, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, tile)
		return
	}
	p.fail[tile] = err
}

func (p *fakeTileProvider) block() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	return p.gate
}

// hold is block for calls that must not return on cancellation.
func (p *fakeTileProvider) hold() chan struct{} {
	p.mu.Lock()
	p.holdThroughCancel = true
	p.mu.Unlock()
	return p.block()
}

func (p *fakeTileProvider) callCount(tile maptile.Tile) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[tile]
}

// fakeSymbolProvider produces one symbol per accepted object. Objects with
// IDs below uniqueIDs can be shared.
type fakeSymbolProvider struct {
	mu       sync.Mutex
	objects  map[maptile.Tile][]SourceObject
	gates    map[maptile.Tile]chan struct{}
	fail     map[maptile.Tile]error
	produced map[SourceID]int
	visits   map[maptile.Tile]int
	invalid  map[SourceID]bool
}

const uniqueIDs SourceID = 1000

func newFakeSymbolProvider() *fakeSymbolProvider {
	return &fakeSymbolProvider{
		objects:  make(map[maptile.Tile][]SourceObject),
		gates:    make(map[maptile.Tile]chan struct{}),
		fail:     make(map[maptile.Tile]error),
		produced: make(map[SourceID]int),
		visits:   make(map[maptile.Tile]int),
		invalid:  make(map[SourceID]bool),
	}
}

func (p *fakeSymbolProvider) Name() string { return "symbols" }

func (p *fakeSymbolProvider) CanBeShared(obj SourceObject) bool { return obj.ID < uniqueIDs }

func (p *fakeSymbolProvider) ObtainSymbols(ctx context.Context, tile maptile.Tile, accept SymbolFilter) ([]*SymbolGroup, error) {
	p.mu.Lock()
	objs := p.objects[tile]
	gate := p.gates[tile]
	ferr := p.fail[tile]
	p.mu.Unlock()

	var groups []*SymbolGroup
	for _, obj := range objs {
		if !accept(obj) {
			continue
		}
		p.mu.Lock()
		p.produced[obj.ID]++
		invalid := p.invalid[obj.ID]
		p.mu.Unlock()
		sym := &gpucore.SymbolData{Image: testImage(), Order: int(obj.ID)}
		if invalid {
			sym.Image = nil
		}
		groups = append(groups, &SymbolGroup{Source: obj, Symbols: []*gpucore.SymbolData{sym}})
	}
	p.mu.Lock()
	p.visits[tile]++
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ferr != nil {
		return nil, ferr
	}
	return groups, nil
}

// sharedObject crosses every tile border.
func (p *fakeSymbolProvider) sharedObject(id SourceID, tiles ...maptile.Tile) {
	obj := SourceObject{ID: id, Bounds: maptile.New(0, 0, 0).Bound()}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tiles {
		p.objects[t] = append(p.objects[t], obj)
	}
}

// uniqueObject lies inside its tile.
func (p *fakeSymbolProvider) uniqueObject(id SourceID, tile maptile.Tile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[tile] = append(p.objects[tile], SourceObject{ID: id, Bounds: tile.Bound()})
}

// invalidObject lies inside its tile and produces a symbol without an
// image.
func (p *fakeSymbolProvider) invalidObject(id SourceID, tile maptile.Tile) {
	p.uniqueObject(id, tile)
	p.mu.Lock()
	p.invalid[id] = true
	p.mu.Unlock()
}

func (p *fakeSymbolProvider) producedCount(id SourceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.produced[id]
}

// visitCount returns how many times every object of tile was offered.
func (p *fakeSymbolProvider) visitCount(tile maptile.Tile) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visits[tile]
}

func (p *fakeSymbolProvider) failWith(tile maptile.Tile, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[tile] = err
}

func (p *fakeSymbolProvider) block(tile maptile.Tile) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.gates[tile] = gate
	return gate
}

// =============================================================================
// Fake uploaders
// =============================================================================

// waitingUploader adds UploadWaiter to the software uploader.
type waitingUploader struct {
	*backend.SoftwareUploader
	waits atomic.Int32
	err   error
}

func (u *waitingUploader) WaitUntilUploadComplete(ctx context.Context) error {
	u.waits.Add(1)
	return u.err
}

// checkingUploader calls onRelease before every release.
type checkingUploader struct {
	*backend.SoftwareUploader
	onRelease func(h gpucore.Handle)
}

func (u *checkingUploader) Release(h gpucore.Handle) error {
	u.onRelease(h)
	return u.SoftwareUploader.Release(h)
}

// =============================================================================
// Helpers
// =============================================================================

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func testTileData() *gpucore.TileData {
	return &gpucore.TileData{Image: testImage()}
}

func tileSet(tiles ...maptile.Tile) maptile.Set {
	s := make(maptile.Set, len(tiles))
	for _, t := range tiles {
		s[t] = true
	}
	return s
}

// newTestEngine creates an engine on a software uploader and closes it
// when the test ends.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *backend.SoftwareUploader) {
	t.Helper()
	up := backend.NewSoftwareUploader()
	e, err := New(append([]Option{WithUploader(up), WithWorkers(2)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return e, up
}

func bind(t *testing.T, e *Engine, kind resource.Kind, p Provider) {
	t.Helper()
	if err := e.UpdateBindings([]Binding{{Kind: kind, Provider: p}}, resource.MaskOf(kind)); err != nil {
		t.Fatalf("UpdateBindings() error = %v", err)
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func entryOf(e *Engine, p Provider, tile maptile.Tile) (*resource.Entry, bool) {
	c, ok := e.CollectionOf(p)
	if !ok {
		return nil, false
	}
	return c.Get(tile)
}

func stateOf(e *Engine, p Provider, tile maptile.Tile) resource.State {
	entry, ok := entryOf(e, p, tile)
	if !ok {
		return resource.StateJustBeforeDeath
	}
	return entry.State()
}

func waitState(t *testing.T, e *Engine, p Provider, tile maptile.Tile, want resource.State) {
	t.Helper()
	waitFor(t, "tile "+want.String(), func() bool {
		return stateOf(e, p, tile) == want
	})
}

// syncUntil runs GPU sync passes until cond holds.
func syncUntil(t *testing.T, e *Engine, what string, cond func() bool) {
	t.Helper()
	waitFor(t, what, func() bool {
		e.SyncResourcesInGPU(0)
		return cond()
	})
}
