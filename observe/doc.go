// Package observe provides telemetry for the query core.
//
// It is a pure instrumentation library: no fetching, no caching, no I/O
// beyond exporter setup. The query client records cache hits and misses,
// evictions, deduplicated joins, and fetch outcomes through an Instruments
// value built from an Observer.
package observe
