package ingest

import "errors"

// Sentinel errors for coordinator operations. Callers match with errors.Is.
var (
	// ErrClosed is returned by operations on a coordinator after Close.
	ErrClosed = errors.New("ingest: coordinator closed")

	// ErrQueueFull is returned under the reject_new policy when a message
	// arrives while the ingest queue is at capacity.
	ErrQueueFull = errors.New("ingest: queue full")
)
