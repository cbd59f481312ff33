package nodeclient

import "errors"

// Every Node Client operation fails with one of these three sentinels,
// wrapped with %w so callers can use errors.Is while still getting a
// useful message.
var (
	// ErrTransport covers connection and timeout failures: retry after
	// backoff, no user-visible effect beyond gaps in live visibility.
	ErrTransport = errors.New("nodeclient: transport error")

	// ErrNotFound means the subject (tx, block, address) is unknown to the
	// node: surface to the caller, do not retry.
	ErrNotFound = errors.New("nodeclient: not found")

	// ErrProtocol means the remote response was malformed. Stream
	// operations treat this the same as ErrTransport; direct calls
	// surface it distinctly so callers can log the malformed payload.
	ErrProtocol = errors.New("nodeclient: protocol error")
)
