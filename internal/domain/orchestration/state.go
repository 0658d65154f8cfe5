// Package orchestration models the phase state machine the orchestrator drives a
// context through, and reconstructs its progress from history.
package orchestration

import "github.com/Strob0t/OnboardForge/internal/domain/taskcontext"

// State is the orchestrator's view of a context.
type State string

const (
	StateInitializing      State = "INITIALIZING"
	StateRunningPhase      State = "RUNNING_PHASE"
	StateAwaitingUserInput State = "AWAITING_USER_INPUT"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
	StateExpired           State = "EXPIRED"
	StateCancelled         State = "CANCELLED"
)

// IsTerminal reports whether the orchestrator will never advance from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Error codes written to terminal entries.
const (
	CodeTemplateInvalid  = "template_invalid"
	CodeRequiredFailed   = "required_subtask_failed"
	CodeGoalsUnsatisfied = "goals_unsatisfied"
	CodeExpired          = "ui_request_expired"
	CodeIntegrity        = "history_integrity"
)

// Outcome summarizes one orchestration run.
type Outcome struct {
	ContextID string `json:"context_id"`
	State     State  `json:"state"`
	Phase     string `json:"phase,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	// Noop is set when the run did nothing because the context was already terminal
	// or still waiting on the user.
	Noop bool `json:"noop,omitempty"`
}

// StateFor maps a computed context state onto the orchestrator state machine.
func StateFor(st *taskcontext.State) State {
	switch st.Status {
	case taskcontext.StatusCompleted:
		return StateCompleted
	case taskcontext.StatusCancelled:
		return StateCancelled
	case taskcontext.StatusFailed:
		if code, _ := st.Data["error_code"].(string); code == CodeExpired {
			return StateExpired
		}
		return StateFailed
	case taskcontext.StatusBlocked:
		if st.Pause != nil {
			return StateAwaitingUserInput
		}
		return StateRunningPhase
	case taskcontext.StatusInProgress:
		return StateRunningPhase
	}
	return StateInitializing
}
