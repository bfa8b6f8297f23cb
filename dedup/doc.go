// Package dedup collapses concurrent identical fetches into a single call.
//
// It wraps golang.org/x/sync/singleflight with per-key waiter accounting.
// While a fetch for a key is in flight, every caller joins it and receives
// the identical settlement, success or failure. The pending record is
// destroyed the instant the fetch settles; a caller arriving after
// settlement starts a fresh fetch cycle.
package dedup
