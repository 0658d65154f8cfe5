package taskcontext

import (
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

// Status is the lifecycle status of a context.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further work may happen on the context.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// State is derived from history and never stored as the source of truth.
type State struct {
	Status       Status           `json:"status"`
	Phase        string           `json:"phase,omitempty"`
	Completeness int              `json:"completeness"`
	Data         map[string]any   `json:"data"`
	Pause        *uirequest.Batch `json:"pause,omitempty"`
	LastSequence int64            `json:"last_sequence"`
	EntryCount   int              `json:"entry_count"`
	UpdatedAt    time.Time        `json:"updated_at,omitempty"`
}

// Paused reports whether the orchestrator is waiting on user input.
func (s *State) Paused() bool {
	return s.Pause != nil
}
