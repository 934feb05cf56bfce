package engine

// StepState is the run-time state of one step. Transitions are performed
// exclusively by the coordinating loop; observers read snapshots.
type StepState int

const (
	Pending StepState = iota
	Ready
	Running
	Succeeded
	Failed
	Retrying
	Cancelled
	Skipped
)

var stepStateNames = [...]string{
	Pending:   "pending",
	Ready:     "ready",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
	Retrying:  "retrying",
	Cancelled: "cancelled",
	Skipped:   "skipped",
}

func (s StepState) String() string {
	if int(s) < len(stepStateNames) {
		return stepStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can occur.
func (s StepState) Terminal() bool {
	switch s {
	case Succeeded, Failed, Cancelled, Skipped:
		return true
	}
	return false
}

// RunOutcome is the terminal classification of a whole run.
type RunOutcome int

const (
	RunPending RunOutcome = iota
	RunSucceeded
	RunFailed
	RunCancelled
)

func (o RunOutcome) String() string {
	switch o {
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	}
	return "pending"
}
