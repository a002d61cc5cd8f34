package lifecycle

// State represents one state in an entity type's lifecycle
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Step identifies one orchestrator step in the request lifecycle
type Step string

const (
	StepStarted             Step = "started"
	StepValidated           Step = "validated"
	StepExecuted            Step = "executed"
	StepNotificationsQueued Step = "notifications_queued"
	StepCompleted           Step = "completed"
	StepFailed              Step = "failed"
)

// stepOrder defines the strict execution order of orchestrator steps.
// StepFailed is terminal and reachable from any non-terminal step.
var stepOrder = map[Step]int{
	StepStarted:             0,
	StepValidated:           1,
	StepExecuted:            2,
	StepNotificationsQueued: 3,
	StepCompleted:           4,
	StepFailed:              5,
}

// IsTerminal returns true if no further checkpoints may follow this step
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// IsValid returns true if the step is a known orchestrator step
func (s Step) IsValid() bool {
	_, ok := stepOrder[s]
	return ok
}

// Before reports whether s precedes other in the step sequence
func (s Step) Before(other Step) bool {
	return stepOrder[s] < stepOrder[other]
}

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}
