// Package domain describes the remote data domains the query core fetches
// from: active fires, SAR flood detection, forest loss, land cover, air
// quality, and administrative boundaries.
//
// Each registered domain carries an explicit staleness/retention policy and
// a Fetcher, the "request by method and URL" capability the query runner
// consumes. The default policy table replaces the per-call-site staleness
// literals such an application tends to accumulate: live observation feeds
// refresh in minutes, aggregates in fractions of an hour, and boundary or
// tile metadata daily.
package domain
