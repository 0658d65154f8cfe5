// Package agent defines the uniform request/response contract every onboarding agent honors.
package agent

import (
	"fmt"
	"strings"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

// Role names a concrete agent capability.
type Role string

const (
	RoleBusinessDiscovery Role = "business_discovery"
	RoleDataCollection    Role = "data_collection"
	RoleEntityCompliance  Role = "entity_compliance"
	RoleUXOptimization    Role = "ux_optimization"
	RolePayment           Role = "payment"
	RoleCelebration       Role = "celebration"
	RoleOrchestrator      Role = "orchestrator"
)

// Machine-readable error codes produced by the dispatch layer.
const (
	CodeTimeout         = "agent_timeout"
	CodeUnavailable     = "agent_unavailable"
	CodeUnknownAgent    = "unknown_agent"
	CodeInvalidResponse = "invalid_agent_response"
	CodePanic           = "agent_panic"
	CodeInternal        = "agent_internal_error"
)

// Request is what an agent is asked to do.
type Request struct {
	Instruction string         `json:"instruction"`
	Data        map[string]any `json:"data,omitempty"`
	PhaseID     string         `json:"phase_id,omitempty"`
	SubtaskID   string         `json:"subtask_id,omitempty"`
}

// Outcome is the closed set of results an agent may report:
// Completed, NeedsInput or Failed.
type Outcome interface {
	outcome()
	Kind() string
}

// Completed means the subtask is done.
type Completed struct{}

// NeedsInput means the agent cannot proceed without user answers.
type NeedsInput struct {
	Requests []uirequest.Request
}

// Failed means the agent could not complete the subtask.
type Failed struct {
	Code    string
	Message string
}

func (Completed) outcome()  {}
func (NeedsInput) outcome() {}
func (Failed) outcome()     {}

func (Completed) Kind() string  { return "completed" }
func (NeedsInput) Kind() string { return "needs_input" }
func (Failed) Kind() string     { return "error" }

// Response is the result of one agent turn. Agents never write history; the
// orchestrator turns a Response into entries.
type Response struct {
	Outcome   Outcome        `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
	Reasoning string         `json:"reasoning"`
	NextAgent Role           `json:"next_agent,omitempty"`
}

// Complete builds a Completed response.
func Complete(reasoning string, data map[string]any) Response {
	return Response{Outcome: Completed{}, Data: data, Reasoning: reasoning}
}

// AskUser builds a NeedsInput response.
func AskUser(reasoning string, reqs ...uirequest.Request) Response {
	return Response{Outcome: NeedsInput{Requests: reqs}, Reasoning: reasoning}
}

// Fail builds a Failed response.
func Fail(code, message string) Response {
	return Response{Outcome: Failed{Code: code, Message: message}, Reasoning: message}
}

// Failf builds a Failed response with a formatted message.
func Failf(code, format string, args ...any) Response {
	return Fail(code, fmt.Sprintf(format, args...))
}

// Validate enforces the contract: exactly one outcome, at least one UI request
// for NeedsInput, a code and message for Failed, and non-empty reasoning.
func (r *Response) Validate() error {
	switch o := r.Outcome.(type) {
	case Completed:
	case NeedsInput:
		if len(o.Requests) == 0 {
			return domain.Validationf("needs_input response without ui requests")
		}
		for i := range o.Requests {
			if err := o.Requests[i].Validate(); err != nil {
				return err
			}
		}
	case Failed:
		if o.Code == "" || o.Message == "" {
			return domain.Validationf("error response requires code and message")
		}
	case nil:
		return domain.Validationf("response has no outcome")
	default:
		return domain.Validationf("unknown outcome %T", o)
	}
	if strings.TrimSpace(r.Reasoning) == "" {
		return domain.Validationf("response reasoning must not be empty")
	}
	return nil
}

// AsError converts a Failed outcome into a *domain.AgentError, or nil.
func (r *Response) AsError(role Role) error {
	if f, ok := r.Outcome.(Failed); ok {
		return &domain.AgentError{Role: string(role), Code: f.Code, Message: f.Message}
	}
	return nil
}
