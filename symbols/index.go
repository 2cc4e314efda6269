package symbols

import (
	"slices"
	"sync"
)

// OrderIndex keeps items grouped by draw order.
//
// OrderIndex is safe for concurrent use.
type OrderIndex[T comparable] struct {
	mu      sync.RWMutex
	byOrder map[int]map[T]struct{}
	count   int
}

// NewOrderIndex creates an empty index.
func NewOrderIndex[T comparable]() *OrderIndex[T] {
	return &OrderIndex[T]{byOrder: make(map[int]map[T]struct{})}
}

// Insert adds item under order. Inserting the same pair twice is a no-op.
func (x *OrderIndex[T]) Insert(order int, item T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	items := x.byOrder[order]
	if items == nil {
		items = make(map[T]struct{})
		x.byOrder[order] = items
	}
	if _, ok := items[item]; ok {
		return
	}
	items[item] = struct{}{}
	x.count++
}

// Remove deletes item from order and reports whether it was present.
func (x *OrderIndex[T]) Remove(order int, item T) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	items := x.byOrder[order]
	if _, ok := items[item]; !ok {
		return false
	}
	delete(items, item)
	if len(items) == 0 {
		delete(x.byOrder, order)
	}
	x.count--
	return true
}

// Ordered returns every item sorted by ascending order. Items sharing an
// order come in unspecified sequence.
func (x *OrderIndex[T]) Ordered() []T {
	x.mu.RLock()
	defer x.mu.RUnlock()

	orders := make([]int, 0, len(x.byOrder))
	for o := range x.byOrder {
		orders = append(orders, o)
	}
	slices.Sort(orders)

	out := make([]T, 0, x.count)
	for _, o := range orders {
		for item := range x.byOrder[o] {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of indexed items.
func (x *OrderIndex[T]) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}
