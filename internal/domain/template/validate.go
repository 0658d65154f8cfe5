package template

import (
	"fmt"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

var (
	ErrIDRequired          = fmt.Errorf("%w: template id is required", domain.ErrConfiguration)
	ErrVersionInvalid      = fmt.Errorf("%w: template version must be >= 1", domain.ErrConfiguration)
	ErrNoPhases            = fmt.Errorf("%w: at least one phase is required", domain.ErrConfiguration)
	ErrPhaseIDRequired     = fmt.Errorf("%w: phase id is required", domain.ErrConfiguration)
	ErrPhaseDuplicate      = fmt.Errorf("%w: duplicate phase id", domain.ErrConfiguration)
	ErrPhaseEmpty          = fmt.Errorf("%w: phase has no subtasks", domain.ErrConfiguration)
	ErrPhaseCycle          = fmt.Errorf("%w: phase dependencies contain a cycle", domain.ErrConfiguration)
	ErrPhaseForwardDep     = fmt.Errorf("%w: phase depends on a later phase", domain.ErrConfiguration)
	ErrPhaseUnknownDep     = fmt.Errorf("%w: phase depends on an unknown phase", domain.ErrConfiguration)
	ErrSubtaskIDRequired   = fmt.Errorf("%w: subtask id is required", domain.ErrConfiguration)
	ErrSubtaskDuplicate    = fmt.Errorf("%w: duplicate subtask id", domain.ErrConfiguration)
	ErrSubtaskMissingAgent = fmt.Errorf("%w: subtask agent is required", domain.ErrConfiguration)
	ErrGoalDuplicate       = fmt.Errorf("%w: duplicate goal id", domain.ErrConfiguration)
	ErrGoalUnknown         = fmt.Errorf("%w: subtask references an unknown goal", domain.ErrConfiguration)
)

// Validate checks the template for structural correctness. Every returned error
// wraps domain.ErrConfiguration.
func (t *Template) Validate() error {
	if t.ID == "" {
		return ErrIDRequired
	}
	if t.Version < 1 {
		return ErrVersionInvalid
	}

	goals := make(map[string]bool, len(t.Goals))
	for _, g := range t.Goals {
		if goals[g.ID] {
			return fmt.Errorf("goal %q: %w", g.ID, ErrGoalDuplicate)
		}
		goals[g.ID] = true
	}

	return t.ValidatePhases(goals)
}

// ValidatePhases checks phase ids, subtasks and the dependency graph.
// A nil goals map skips goal reference checks.
func (t *Template) ValidatePhases(goals map[string]bool) error {
	if len(t.Phases) == 0 {
		return ErrNoPhases
	}

	index := make(map[string]int, len(t.Phases))
	for i := range t.Phases {
		p := &t.Phases[i]
		if p.ID == "" {
			return fmt.Errorf("phase %d: %w", i, ErrPhaseIDRequired)
		}
		if _, dup := index[p.ID]; dup {
			return fmt.Errorf("phase %q: %w", p.ID, ErrPhaseDuplicate)
		}
		index[p.ID] = i

		if len(p.Subtasks) == 0 {
			return fmt.Errorf("phase %q: %w", p.ID, ErrPhaseEmpty)
		}
		seen := make(map[string]bool, len(p.Subtasks))
		for j, st := range p.Subtasks {
			if st.ID == "" {
				return fmt.Errorf("phase %q subtask %d: %w", p.ID, j, ErrSubtaskIDRequired)
			}
			if seen[st.ID] {
				return fmt.Errorf("phase %q subtask %q: %w", p.ID, st.ID, ErrSubtaskDuplicate)
			}
			seen[st.ID] = true
			if st.Agent == "" {
				return fmt.Errorf("phase %q subtask %q: %w", p.ID, st.ID, ErrSubtaskMissingAgent)
			}
			if goals != nil && st.Goal != "" && !goals[st.Goal] {
				return fmt.Errorf("phase %q subtask %q goal %q: %w", p.ID, st.ID, st.Goal, ErrGoalUnknown)
			}
		}
	}

	return validatePhaseDAG(t.Phases, index)
}

// validatePhaseDAG rejects unknown, cyclic and forward references. Cycles are
// reported before forward references so the message names the real problem.
func validatePhaseDAG(phases []Phase, index map[string]int) error {
	n := len(phases)
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i := range phases {
		for _, dep := range phases[i].DependsOn {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("phase %q depends on %q: %w", phases[i].ID, dep, ErrPhaseUnknownDep)
			}
			if j == i {
				return fmt.Errorf("phase %q depends on itself: %w", phases[i].ID, ErrPhaseCycle)
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	// Kahn's algorithm
	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != n {
		return ErrPhaseCycle
	}

	for i := range phases {
		for _, dep := range phases[i].DependsOn {
			if index[dep] > i {
				return fmt.Errorf("phase %q depends on %q: %w", phases[i].ID, dep, ErrPhaseForwardDep)
			}
		}
	}
	return nil
}
