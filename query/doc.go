// Package query orchestrates keyed, deduplicated, staleness-aware reads
// over the registered data domains.
//
// A Client owns the cache store, the fetch deduplication group, and a
// per-key generation counter. UI consumers bind to data with Subscribe,
// which returns a Subscription running a small state machine:
//
//	Idle -> Loading -> Success <-> Refetching
//	                 \-> Error
//	any state -> Disabled (on Close)
//
// Dependent queries are expressed through the Enabled predicate: while it
// reports false the subscription stays Idle and never touches the network.
// Polling is per-subscription via RefetchInterval. Stale entries are served
// immediately while a background refetch runs; a failed refetch never
// destroys previously displayed data.
//
// One-shot writes go through Mutate, which executes the action exactly once
// and, on success only, may seed derived cache keys so subsequent reads are
// served without a redundant fetch.
package query
