package broker

import "errors"

// Standard errors for broker operations.
var (
	// ErrUnknownResource is returned when enqueueing against a resource
	// that was never registered.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrShuttingDown is returned when enqueueing after Shutdown.
	ErrShuttingDown = errors.New("broker is shutting down")

	// ErrNilExecutor is returned when registering a resource without an
	// executor callback.
	ErrNilExecutor = errors.New("resource executor is required")

	// ErrExecutionFailed is the generic terminal failure when an executor
	// fails without a usable error.
	ErrExecutionFailed = errors.New("resource execution failed")
)
