// Package agentbackend defines the agent port (interface) and the explicit registry
// the orchestrator dispatches through.
package agentbackend

import (
	"context"

	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
)

// Agent is the port interface every onboarding agent implements.
// Agents are stateless between calls and never write history themselves.
type Agent interface {
	// Role returns the unique role this agent serves (e.g. "payment").
	Role() agent.Role

	// ProcessRequest handles one subtask turn. A non-nil error is an
	// infrastructure failure; business failures are reported as agent.Failed.
	ProcessRequest(ctx context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error)
}

// Func adapts a function to the Agent interface.
type Func struct {
	R  agent.Role
	Fn func(ctx context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error)
}

// Role implements Agent.
func (f Func) Role() agent.Role { return f.R }

// ProcessRequest implements Agent.
func (f Func) ProcessRequest(ctx context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error) {
	return f.Fn(ctx, req, tc)
}
