package resource

import (
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"
)

const (
	// shardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	shardCount = 16

	shardMask = shardCount - 1
)

// Collection owns every Entry of one provider and kind.
//
// At most one entry exists per tile (tile includes the zoom level), or per
// DataKey when the kind is keyed. Collection is safe for concurrent use.
type Collection struct {
	id     uuid.UUID
	kind   Kind
	shards [shardCount]*collectionShard
}

// collectionShard is a single shard of the collection.
// Each shard has its own mutex for reduced contention.
type collectionShard struct {
	mu      sync.RWMutex
	entries map[entryID]*Entry
}

// entryID indexes an entry. Keyed entries leave tile zero.
type entryID struct {
	tile  maptile.Tile
	key   DataKey
	keyed bool
}

// NewCollection creates an empty collection for the given kind.
func NewCollection(kind Kind) *Collection {
	c := &Collection{
		id:   uuid.New(),
		kind: kind,
	}
	for i := range c.shards {
		c.shards[i] = &collectionShard{entries: make(map[entryID]*Entry)}
	}
	return c
}

// ID returns a unique identifier of the collection, used in logs.
func (c *Collection) ID() uuid.UUID { return c.id }

// Kind returns the kind of every entry in the collection.
func (c *Collection) Kind() Kind { return c.kind }

// IsKeyed reports whether entries are indexed by DataKey.
func (c *Collection) IsKeyed() bool { return c.kind.IsKeyed() }

// idHash mixes the tile coordinates and key for shard selection.
func idHash(id entryID) uint64 {
	t := id.tile
	h := uint64(t.X)*0x9E3779B97F4A7C15 ^ uint64(t.Y)*0xC2B2AE3D27D4EB4F ^ uint64(t.Z)*0x165667B19E3779F9
	h ^= uint64(id.key) * 0xD6E8FEB86659FD93
	return h ^ h>>29
}

func (c *Collection) shard(id entryID) *collectionShard {
	return c.shards[idHash(id)&shardMask]
}

func (c *Collection) get(id entryID) (*Entry, bool) {
	s := c.shard(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

// Get returns the entry for tile, if present.
func (c *Collection) Get(tile maptile.Tile) (*Entry, bool) {
	return c.get(entryID{tile: tile})
}

// GetKey returns the entry for key in a keyed collection, if present.
func (c *Collection) GetKey(key DataKey) (*Entry, bool) {
	return c.get(entryID{key: key, keyed: true})
}

// Contains reports whether an entry exists for tile.
func (c *Collection) Contains(tile maptile.Tile) bool {
	_, ok := c.Get(tile)
	return ok
}

// ContainsKey reports whether an entry exists for key.
func (c *Collection) ContainsKey(key DataKey) bool {
	_, ok := c.GetKey(key)
	return ok
}

func (c *Collection) getOrCreate(id entryID, create func() *Entry) (e *Entry, created bool) {
	s := c.shard(id)

	// Fast path: read lock
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check after acquiring write lock
	if e, ok := s.entries[id]; ok {
		return e, false
	}
	e = create()
	s.entries[id] = e
	return e, true
}

// GetOrCreate returns the entry for tile, creating one in StateUnknown
// if none exists. created is true only for the caller that inserted it.
func (c *Collection) GetOrCreate(tile maptile.Tile) (e *Entry, created bool) {
	return c.getOrCreate(entryID{tile: tile}, func() *Entry { return NewEntry(tile, c.kind) })
}

// GetOrCreateKey is GetOrCreate for keyed collections.
func (c *Collection) GetOrCreateKey(key DataKey) (e *Entry, created bool) {
	return c.getOrCreate(entryID{key: key, keyed: true}, func() *Entry { return NewKeyedEntry(key, c.kind) })
}

// Keys returns the keys of every entry of a keyed collection.
func (c *Collection) Keys() []DataKey {
	var out []DataKey
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.keyed {
				out = append(out, e.key)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Remove deletes e from the collection. It is a no-op if e's tile or key
// now maps to a different entry.
func (c *Collection) Remove(e *Entry) bool {
	id := e.id()
	s := c.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[id]; ok && cur == e {
		delete(s.entries, id)
		return true
	}
	return false
}

// RemoveIf deletes every entry for which pred returns true and returns
// the number removed. pred runs with the shard's write lock held and must
// not call back into the collection.
func (c *Collection) RemoveIf(pred func(*Entry) bool) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if pred(e) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Snapshot returns the entries present at the time of the call.
// Entries added or removed afterwards are not reflected.
func (c *Collection) Snapshot() []*Entry {
	var out []*Entry
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			out = append(out, e)
		}
		s.mu.RUnlock()
	}
	return out
}

// ForEach calls fn for every entry in a snapshot of the collection.
// Iteration stops when fn returns false. fn runs without any lock held.
func (c *Collection) ForEach(fn func(*Entry) bool) {
	for _, e := range c.Snapshot() {
		if !fn(e) {
			return
		}
	}
}

// Len returns the total number of entries across all shards.
func (c *Collection) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// IsEmpty reports whether the collection has no entries.
func (c *Collection) IsEmpty() bool {
	return c.Len() == 0
}

// CountByState returns the number of entries in each state.
func (c *Collection) CountByState() map[State]int {
	counts := make(map[State]int)
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			counts[e.State()]++
		}
		s.mu.RUnlock()
	}
	return counts
}

// ResidentEntries returns entries that still own GPU resources or are in
// a state that may own them. A collection must have none before it is
// dropped.
func (c *Collection) ResidentEntries() []*Entry {
	var out []*Entry
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if e.State().HoldsGPUResources() || e.HasGPUResources() {
				out = append(out, e)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
