package engine

import "errors"

var (
	// ErrBatchInFlight is returned by RunNow when a scheduled batch is already
	// executing. Manual runs share the batch single-flight gate so no two
	// batches ever run concurrently.
	ErrBatchInFlight = errors.New("engine: batch already in flight")

	// ErrLoopStopped is returned by RunNow after the loop has shut down.
	ErrLoopStopped = errors.New("engine: loop stopped")
)
