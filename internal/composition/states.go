package composition

// NodeState is the run-time lifecycle state of a single node.
type NodeState string

const (
	StatePending   NodeState = "PENDING"
	StateReady     NodeState = "READY"
	StateRunning   NodeState = "RUNNING"
	StateSucceeded NodeState = "SUCCEEDED"
	StateFailed    NodeState = "FAILED"
	StateBlocked   NodeState = "BLOCKED"
	StateCancelled NodeState = "CANCELLED"
	StateTimedOut  NodeState = "TIMED_OUT"
)

// Terminal reports whether a node in this state can make no further progress.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateBlocked, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// RunStatus is the composition-level outcome of one execution run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunPartial   RunStatus = "PARTIAL"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the run has reached a final status.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// ErrorClass labels a node failure for operator triage.
type ErrorClass string

const (
	ErrClassMapping   ErrorClass = "mapping"
	ErrClassTransient ErrorClass = "transient"
	ErrClassAuth      ErrorClass = "auth"
	ErrClassPermanent ErrorClass = "permanent"
	ErrClassDeadline  ErrorClass = "deadline"
	ErrClassUpstream  ErrorClass = "upstream"
	ErrClassCancelled ErrorClass = "cancelled"
)
