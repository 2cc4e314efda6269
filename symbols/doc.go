// Package symbols provides the cross-tile bookkeeping for map symbols.
//
// A single source object (a long road, a large lake) may be visible from
// several tiles. Its symbols are produced once and shared: [Registry]
// counts references per zoom level and guarantees that at most one
// producer runs for a given key at any time. Concurrent requesters get a
// [Future] and wait for the producer's [Promise] to be fulfilled or broken.
//
//	claim := reg.Obtain(zoom, key)
//	switch {
//	case claim.Referenced:
//	    use(claim.Value)
//	case claim.Future != nil:
//	    v, err := claim.Future.Wait(ctx)
//	case claim.Promise != nil:
//	    v := produce()
//	    claim.Promise.Fulfil(v)
//	}
//
// [OrderIndex] keeps every live symbol sorted by draw order for the draw
// pass.
package symbols
