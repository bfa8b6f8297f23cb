// Package store provides the process-wide cache of query results.
//
// A Store maps query keys to entries with an explicit lifecycle: an entry is
// Fresh after a write, logically becomes Stale once its staleness window has
// elapsed (computed at read time, never by a timer), may be Fetching while a
// refetch is in flight, and is evicted by the garbage collector once it has
// no subscribers and its retention window has passed.
//
// All mutation goes through Put, MarkFetching, MarkError, and Invalidate;
// readers always observe a fully-formed Entry snapshot. Consumers that need
// to react to entry changes register a listener with Watch rather than
// polling, which keeps the store decoupled from any rendering mechanism.
package store
