package contracts

import "errors"

// Sentinel errors shared by the local activity manager and its
// surrounding packages. Package-local errors (config, httpapi) live in
// their own errors.go and wrap these where relevant.
var (
	// ErrInvalidInput is returned when a caller passes a nil or
	// malformed argument.
	ErrInvalidInput = errors.New("invalid input: nil or malformed")

	// ErrShuttingDown names the condition of an operation attempted after
	// the manager has shut down. The manager itself does not return it:
	// it resolves such an enqueue as Cancelled.
	ErrShuttingDown = errors.New("local activity manager is shutting down")
)
