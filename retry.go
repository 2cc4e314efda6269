package mapres

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/resource"
)

// retryKey identifies a tile, or a data key of a keyed collection, within
// one collection.
type retryKey struct {
	collection uuid.UUID
	tile       maptile.Tile
	key        resource.DataKey
	keyed      bool
}

func tileRetryKey(c *resource.Collection, tile maptile.Tile) retryKey {
	return retryKey{collection: c.ID(), tile: tile}
}

func dataRetryKey(c *resource.Collection, key resource.DataKey) retryKey {
	return retryKey{collection: c.ID(), key: key, keyed: true}
}

// retryKeyOf returns the key entry is tracked under.
func retryKeyOf(c *resource.Collection, entry *resource.Entry) retryKey {
	if key, ok := entry.Key(); ok {
		return dataRetryKey(c, key)
	}
	return tileRetryKey(c, entry.Tile())
}

// failureRecord remembers consecutive provider failures for a tile.
type failureRecord struct {
	failures  int
	notBefore time.Time
}

// retryTracker suppresses re-requests of failing tiles with exponential
// backoff and a per-tile cap. It is bounded by an LRU so a long session
// over many failing tiles does not grow without limit.
type retryTracker struct {
	clock      clock.Clock
	failures   *lru.Cache[retryKey, failureRecord]
	backoff    time.Duration
	backoffMax time.Duration
	maxRetries int
}

func newRetryTracker(clk clock.Clock, cfg Config) (*retryTracker, error) {
	cache, err := lru.New[retryKey, failureRecord](cfg.RetryTrackerSize)
	if err != nil {
		return nil, err
	}
	return &retryTracker{
		clock:      clk,
		failures:   cache,
		backoff:    cfg.RetryBackoff,
		backoffMax: cfg.RetryBackoffMax,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// allowed reports whether the tile may be requested now.
func (r *retryTracker) allowed(key retryKey) bool {
	rec, ok := r.failures.Peek(key)
	if !ok {
		return true
	}
	if r.exhausted(rec) {
		return false
	}
	return !r.clock.Now().Before(rec.notBefore)
}

func (r *retryTracker) exhausted(rec failureRecord) bool {
	return r.maxRetries > 0 && rec.failures >= r.maxRetries
}

// fail records a failure. It returns the number of consecutive failures
// and the delay after which the key may be requested again, or zero when
// retries are exhausted.
func (r *retryTracker) fail(key retryKey) (failures int, retryIn time.Duration) {
	rec, _ := r.failures.Get(key)
	rec.failures++

	delay := r.backoff
	for i := 1; i < rec.failures && delay < r.backoffMax; i++ {
		delay *= 2
	}
	delay = min(delay, r.backoffMax)
	rec.notBefore = r.clock.Now().Add(delay)

	r.failures.Add(key, rec)
	if r.exhausted(rec) {
		return rec.failures, 0
	}
	return rec.failures, delay
}

// succeed forgets the failures of a tile.
func (r *retryTracker) succeed(key retryKey) {
	r.failures.Remove(key)
}

// forgetOutside drops exhausted records of tiles outside the active zone,
// so a tile becomes requestable again when it re-enters.
func (r *retryTracker) forgetOutside(active maptile.Set) {
	for _, key := range r.failures.Keys() {
		if key.keyed || active[key.tile] {
			continue
		}
		if rec, ok := r.failures.Peek(key); ok && r.exhausted(rec) {
			r.failures.Remove(key)
		}
	}
}

// forgetCollection drops every record of a collection whose provider
// reported new data.
func (r *retryTracker) forgetCollection(id uuid.UUID) {
	for _, key := range r.failures.Keys() {
		if key.collection == id {
			r.failures.Remove(key)
		}
	}
}

// len returns the number of tracked tiles.
func (r *retryTracker) len() int {
	return r.failures.Len()
}
