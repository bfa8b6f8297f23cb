package query

import "errors"

// Sentinel errors for the query client.
var (
	// ErrNilFetch indicates a nil fetch function was supplied.
	ErrNilFetch = errors.New("query: fetch function is nil")

	// ErrNilAction indicates a nil mutation action was supplied.
	ErrNilAction = errors.New("query: mutation action is nil")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("query: client is closed")

	// errSuperseded marks a fetch settlement discarded because a newer
	// generation already wrote the entry.
	errSuperseded = errors.New("query: fetch superseded by newer generation")
)
