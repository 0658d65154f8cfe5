// Package taskcontext defines the append-only history of a task context and the
// pure state computer that derives current state from it.
package taskcontext

import (
	"strings"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

// ActorType identifies who produced an entry.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorAgent  ActorType = "agent"
	ActorUser   ActorType = "user"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	switch t {
	case ActorSystem, ActorAgent, ActorUser:
		return true
	}
	return false
}

// Actor is the producer of an entry.
type Actor struct {
	Type    ActorType `json:"type"`
	ID      string    `json:"id"`
	Version string    `json:"version,omitempty"`
}

// Trigger records what caused an entry to be written.
type Trigger struct {
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Details map[string]any `json:"details,omitempty"`
}

// Detail returns a string detail, or "" when absent.
func (t Trigger) Detail(key string) string {
	s, _ := t.Details[key].(string)
	return s
}

// Operation tags what an entry records.
type Operation string

const (
	OpTaskCreated          Operation = "task_created"
	OpStatusUpdated        Operation = "status_updated"
	OpAgentCompleted       Operation = "agent_completed"
	OpAgentFailed          Operation = "agent_failed"
	OpSubtaskSkipped       Operation = "subtask_skipped"
	OpPhaseCompleted       Operation = "phase_completed"
	OpUIRequestsBatched    Operation = "ui_requests_batched"
	OpUIResponseSubmitted  Operation = "ui_response_submitted"
	OpUIRequestsExpired    Operation = "ui_requests_expired"
	OpOrchestrationResumed Operation = "orchestration_resumed"
	OpOrchestrationFailed  Operation = "orchestration_failed"
	OpAllPhasesCompleted   Operation = "all_phases_completed"
	OpTaskCancelled        Operation = "task_cancelled"
)

// Well-known data keys folded into State rather than State.Data.
const (
	KeyStatus       = "status"
	KeyPhase        = "phase"
	KeyCompleteness = "completeness"
	KeyPause        = "pause"
)

// Trigger detail keys written by the orchestrator.
const (
	DetailPhaseID   = "phase_id"
	DetailSubtaskID = "subtask_id"
	DetailAgent     = "agent"
	DetailRequestID = "request_id"
	DetailBatchID   = "batch_id"
	DetailAction    = "action"
	DetailErrorCode = "error_code"
)

// Entry is one immutable, sequenced fact in a context's history.
type Entry struct {
	ID             string         `json:"entry_id"`
	ContextID      string         `json:"context_id"`
	Timestamp      time.Time      `json:"timestamp"`
	SequenceNumber int64          `json:"sequence_number"`
	Actor          Actor          `json:"actor"`
	Operation      Operation      `json:"operation"`
	Data           map[string]any `json:"data"`
	Reasoning      string         `json:"reasoning"`
	Trigger        Trigger        `json:"trigger"`
}

// NewEntry is the caller-supplied part of an entry. The store fills in the id,
// timestamp and sequence number.
type NewEntry struct {
	Actor     Actor          `json:"actor"`
	Operation Operation      `json:"operation"`
	Data      map[string]any `json:"data,omitempty"`
	Reasoning string         `json:"reasoning"`
	Trigger   Trigger        `json:"trigger"`
}

// Validate enforces the audit requirements on a new entry.
func (e *NewEntry) Validate() error {
	if strings.TrimSpace(e.Reasoning) == "" {
		return domain.Validationf("entry reasoning must not be empty")
	}
	if e.Operation == "" {
		return domain.Validationf("entry operation is required")
	}
	if !e.Actor.Type.Valid() {
		return domain.Validationf("invalid actor type %q", e.Actor.Type)
	}
	if e.Actor.ID == "" {
		return domain.Validationf("actor id is required")
	}
	return validateReserved(e.Data)
}

// IsReserved reports whether k is folded into State instead of State.Data.
func IsReserved(k string) bool {
	switch k {
	case KeyStatus, KeyPhase, KeyCompleteness, KeyPause:
		return true
	}
	return false
}

// validateReserved rejects reserved values the state computer could not fold.
// A malformed pause in particular would fail every later rebuild.
func validateReserved(data map[string]any) error {
	if v, ok := data[KeyStatus]; ok {
		if s, isStr := v.(string); !isStr || !Status(s).Valid() {
			return domain.Validationf("%s must be a known status, got %v", KeyStatus, v)
		}
	}
	if v, ok := data[KeyPhase]; ok {
		if _, isStr := v.(string); !isStr {
			return domain.Validationf("%s must be a string, got %T", KeyPhase, v)
		}
	}
	if v, ok := data[KeyCompleteness]; ok {
		if _, isNum := toFloat(v); !isNum {
			return domain.Validationf("%s must be numeric, got %T", KeyCompleteness, v)
		}
	}
	if v, ok := data[KeyPause]; ok {
		if _, err := DecodePause(v); err != nil {
			return domain.Validationf("%s is malformed: %v", KeyPause, err)
		}
	}
	return nil
}
