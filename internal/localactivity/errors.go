package localactivity

import "errors"

// Sentinel errors for this package. LAM resolutions are values, not
// errors (see types.go's Resolution/ExecutionResult); these sentinels
// exist for places where state is reported through a log field rather
// than a Resolution.
var (
	// errShuttingDown marks an enqueue attempted after shutdown has
	// stopped the manager (ShutdownAndWaitAllFinished drained it). It
	// never reaches the caller as a Go error. Enqueue resolves the
	// activity immediately as Cancelled instead, matching the rule that
	// every LAM outcome is a Resolution, but it is attached to the
	// rejection's log line so shutdown-path rejections are distinguishable
	// from ordinary admission rejections.
	errShuttingDown = errors.New("local activity manager is shutting down")
)
