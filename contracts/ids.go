// Package contracts defines the scalar identity types shared across the
// local activity manager and its surrounding packages (auditlog, httpapi).
package contracts

import "fmt"

// RunID identifies one execution attempt of a workflow.
type RunID string

// SeqNum is the workflow-scoped scheduling sequence number of a command.
// Unique per activity within one run, monotone but not necessarily dense.
type SeqNum uint32

// ExecutingLAID is the external identity of a local activity: stable
// across retries, unlike the internal task token which changes every
// attempt.
type ExecutingLAID struct {
	RunID  RunID
	SeqNum SeqNum
}

// String renders the id for logging.
func (id ExecutingLAID) String() string {
	return fmt.Sprintf("%s/%d", id.RunID, id.SeqNum)
}
