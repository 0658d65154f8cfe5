// Package uirequest defines the user-input requests agents raise mid-turn and the
// batches the orchestrator coalesces them into.
package uirequest

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

// Status is the lifecycle state of a single request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResponded Status = "responded"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Action is the verb a client attaches to a response.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionSkip   Action = "skip"
	ActionCancel Action = "cancel"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSubmit, ActionSkip, ActionCancel:
		return true
	}
	return false
}

// Field is one input the user is asked for.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
}

// ResponseConfig says where an answer lands in context data.
// FieldMap renames submitted fields; TargetKey nests the result under one key.
type ResponseConfig struct {
	TargetKey string            `json:"target_key,omitempty"`
	FieldMap  map[string]string `json:"field_map,omitempty"`
}

// Request is generated by an agent and answered by the user.
type Request struct {
	ID             string         `json:"id"`
	AgentRole      string         `json:"agent_role"`
	PhaseID        string         `json:"phase_id,omitempty"`
	SubtaskID      string         `json:"subtask_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Presentation   map[string]any `json:"presentation,omitempty"`
	Fields         []Field        `json:"fields"`
	ResponseConfig ResponseConfig `json:"response_config"`
	Status         Status         `json:"status"`
	Response       map[string]any `json:"response,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// reservedKeys are folded into state by the state computer and may not be set by users.
var reservedKeys = map[string]bool{
	"status":       true,
	"phase":        true,
	"completeness": true,
	"pause":        true,
}

// Validate checks the request is answerable.
func (r *Request) Validate() error {
	if len(r.Fields) == 0 {
		return domain.Validationf("ui request %q has no fields", r.Title)
	}
	for _, f := range r.Fields {
		if f.Name == "" {
			return domain.Validationf("ui request %q has a field without a name", r.Title)
		}
	}
	return nil
}

// FieldNames returns the declared field names in order.
func (r *Request) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Apply converts a raw form payload into the data to merge into the context.
// A payload of the form {"field": name, "value": v} is treated as {name: v}.
func (r *Request) Apply(payload map[string]any) (map[string]any, error) {
	values := normalize(payload)

	declared := make(map[string]Field, len(r.Fields))
	for _, f := range r.Fields {
		declared[f.Name] = f
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := declared[k]; !ok && len(declared) > 0 {
			continue
		}
		key := k
		if mapped, ok := r.ResponseConfig.FieldMap[k]; ok && mapped != "" {
			key = mapped
		}
		if reservedKeys[key] && r.ResponseConfig.TargetKey == "" {
			return nil, domain.Validationf("field %q maps to reserved key %q", k, key)
		}
		out[key] = v
	}

	var missing []string
	for _, f := range r.Fields {
		if !f.Required {
			continue
		}
		if v, ok := values[f.Name]; !ok || isBlank(v) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return nil, domain.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if r.ResponseConfig.TargetKey != "" {
		if reservedKeys[r.ResponseConfig.TargetKey] {
			return nil, domain.Validationf("target key %q is reserved", r.ResponseConfig.TargetKey)
		}
		return map[string]any{r.ResponseConfig.TargetKey: out}, nil
	}
	return out, nil
}

func normalize(payload map[string]any) map[string]any {
	if name, ok := payload["field"].(string); ok && name != "" {
		if v, ok := payload["value"]; ok {
			return map[string]any{name: v}
		}
	}
	return payload
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Batch is the set of requests raised during one phase, shown to the user at once.
// A batch stored in context state is the orchestrator's pause marker.
type Batch struct {
	ID        string    `json:"id"`
	PhaseID   string    `json:"phase_id"`
	WaitingOn string    `json:"waiting_on"`
	Requests  []Request `json:"requests"`
	Fields    []string  `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the pause has passed its deadline.
func (b *Batch) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// Request returns the request with the given id.
func (b *Batch) Request(id string) (*Request, bool) {
	for i := range b.Requests {
		if b.Requests[i].ID == id {
			return &b.Requests[i], true
		}
	}
	return nil, false
}

// CollectFields flattens the field names of every request in the batch.
func (b *Batch) CollectFields() {
	b.Fields = b.Fields[:0]
	for i := range b.Requests {
		b.Fields = append(b.Fields, b.Requests[i].FieldNames()...)
	}
}

// String is used in log lines and entry reasoning.
func (b *Batch) String() string {
	return fmt.Sprintf("batch %s (%d requests, phase %s)", b.ID, len(b.Requests), b.PhaseID)
}
