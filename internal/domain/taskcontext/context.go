package taskcontext

import (
	"errors"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
)

// Record is the stored, immutable part of a context: identity and the frozen
// template snapshot. Everything else is derived from history.
type Record struct {
	ID               string            `json:"context_id"`
	TemplateID       string            `json:"task_template_id"`
	TemplateVersion  int               `json:"template_version"`
	TenantID         string            `json:"tenant_id"`
	CreatedAt        time.Time         `json:"created_at"`
	TemplateSnapshot template.Template `json:"template_snapshot"`
}

// TaskContext is the aggregate returned to callers.
type TaskContext struct {
	Record
	History []Entry `json:"history"`
	State   State   `json:"current_state"`
}

// Rebuild assembles a context from its record and full history.
func Rebuild(rec Record, history []Entry) (*TaskContext, error) {
	st, err := Compute(history)
	if err != nil {
		var ie *domain.IntegrityError
		if errors.As(err, &ie) && ie.ContextID == "" {
			ie.ContextID = rec.ID
		}
		return nil, err
	}
	return &TaskContext{Record: rec, History: history, State: st}, nil
}

// Terminal reports whether the context can no longer change.
func (tc *TaskContext) Terminal() bool {
	return tc.State.Status.IsTerminal()
}

// ListFilter narrows a context listing. Tenant scoping comes from the request context.
type ListFilter struct {
	TemplateID string
	Limit      int
	Offset     int
}

// HistoryPage selects a window of history by sequence number.
type HistoryPage struct {
	AfterSequence int64
	Limit         int
}
