package session

import "time"

// State is a session lifecycle state.
type State string

const (
	StateIdle           State = "idle"
	StateDiagnosing     State = "diagnosing"
	StateProvisioning   State = "provisioning-profile"
	StateAuthenticating State = "authenticating"
	StateQueuePriming   State = "queue-priming"
	StatePublishing     State = "publishing"
	StatePaused         State = "paused"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateError          State = "error"
	StateBlocked        State = "blocked"
)

// Terminal reports whether the state is absorbing: no further automation
// happens without a fresh start.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateError, StateBlocked:
		return true
	}
	return false
}

// Snapshot is a copyable view of a session's observable state.
type Snapshot struct {
	ID             string
	AccountID      string
	UserID         string
	State          State
	StateReason    string
	ChallengeType  string
	ProfileID      string
	QueueDepth     int
	TasksCompleted int
	TasksFailed    int
	CompletedToday int // publishes on the current calendar day
	FailedToday    int
	ConsecFailures int
	HealthScore    int
	StartedAt      time.Time
	LastActivity   time.Time
	LastSuccess    time.Time
	LastFailure    time.Time
}
