package agentbackend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
)

// Registry maps roles to agents. It is constructed once at startup and passed to
// the orchestrator; there is no package-level registry.
type Registry struct {
	mu     sync.RWMutex
	agents map[agent.Role]Agent
}

// NewRegistry creates a registry pre-populated with the given agents.
// It panics on duplicate roles, which is a wiring bug.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[agent.Role]Agent, len(agents))}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register makes an agent available under its role.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.Role()]; exists {
		return fmt.Errorf("agentbackend: duplicate registration for %q: %w", a.Role(), domain.ErrConflict)
	}
	r.agents[a.Role()] = a
	return nil
}

// Get returns the agent serving role.
func (r *Registry) Get(role agent.Role) (Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[role]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agentbackend: unknown agent %q: %w", role, domain.ErrNotFound)
	}
	return a, nil
}

// Available returns the registered roles, sorted.
func (r *Registry) Available() []agent.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]agent.Role, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}
