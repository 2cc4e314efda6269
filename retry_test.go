package mapres

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/mapres/resource"
)

func newTestRetryTracker(t *testing.T, mock *clock.Mock, maxRetries int) *retryTracker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.RetryBackoff = time.Second
	cfg.RetryBackoffMax = 4 * time.Second
	cfg.RetryTrackerSize = 8
	r, err := newRetryTracker(mock, cfg)
	if err != nil {
		t.Fatalf("newRetryTracker() error = %v", err)
	}
	return r
}

func TestRetryTracker_Backoff(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRetryTracker(t, mock, 0)
	key := retryKey{collection: uuid.New(), tile: tileA}

	if !r.allowed(key) {
		t.Fatal("allowed() = false before any failure")
	}

	// Delays double from 1s and cap at 4s.
	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, delay := range wantDelays {
		got, retryIn := r.fail(key)
		if got != i+1 || retryIn != delay {
			t.Errorf("fail() = %d, %v, want %d, %v", got, retryIn, i+1, delay)
		}
		mock.Add(delay - time.Millisecond)
		if r.allowed(key) {
			t.Errorf("failure %d: allowed() = true before %v", i+1, delay)
		}
		mock.Add(time.Millisecond)
		if !r.allowed(key) {
			t.Errorf("failure %d: allowed() = false after %v", i+1, delay)
		}
	}
}

func TestRetryTracker_MaxRetries(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRetryTracker(t, mock, 2)
	key := retryKey{collection: uuid.New(), tile: tileA}

	if _, retryIn := r.fail(key); retryIn == 0 {
		t.Error("first fail() reported retries exhausted")
	}
	if _, retryIn := r.fail(key); retryIn != 0 {
		t.Errorf("last fail() retry delay = %v, want 0", retryIn)
	}
	mock.Add(time.Hour)
	if r.allowed(key) {
		t.Error("allowed() = true after max retries")
	}

	// Still inside the zone: kept.
	r.forgetOutside(tileSet(tileA))
	if r.allowed(key) {
		t.Error("forgetOutside() dropped a tile inside the zone")
	}

	r.forgetOutside(tileSet(tileB))
	if !r.allowed(key) {
		t.Error("allowed() = false after the tile left the zone")
	}
}

func TestRetryTracker_SucceedClears(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRetryTracker(t, mock, 5)
	key := retryKey{collection: uuid.New(), tile: tileA}

	r.fail(key)
	r.succeed(key)
	if !r.allowed(key) {
		t.Error("allowed() = false after succeed()")
	}
	if n := r.len(); n != 0 {
		t.Errorf("len() = %d, want 0", n)
	}
}

func TestRetryTracker_Bounded(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRetryTracker(t, mock, 1)
	coll := uuid.New()

	for x := range uint32(20) {
		r.fail(retryKey{collection: coll, tile: maptile.New(x, 0, 10)})
	}
	if n := r.len(); n != 8 {
		t.Errorf("len() = %d, want 8", n)
	}
	// The oldest failures were evicted and may be requested again.
	if !r.allowed(retryKey{collection: coll, tile: maptile.New(0, 0, 10)}) {
		t.Error("evicted tile still suppressed")
	}
}

func TestRetryTracker_KeyedRecords(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRetryTracker(t, mock, 1)
	c := resource.NewCollection(resource.KindKeyedSymbols)
	other := resource.NewCollection(resource.KindMapLayer)
	key := dataRetryKey(c, 3)

	r.fail(key)
	r.fail(tileRetryKey(other, tileA))

	// Keyed resources do not depend on the zone.
	r.forgetOutside(tileSet(tileB))
	if r.allowed(key) {
		t.Error("forgetOutside() dropped a keyed record")
	}

	r.forgetCollection(c.ID())
	if !r.allowed(key) {
		t.Error("allowed() = false after forgetCollection()")
	}
	if n := r.len(); n != 0 {
		t.Errorf("len() = %d, want 0", n)
	}
}
