// Package template defines the immutable task template that a context is created from.
package template

import "fmt"

// Metadata describes a template for humans.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category"`
}

// Goal is a business outcome the onboarding must reach.
// SuccessCriteria lists context data keys that must be present once the goal is met.
type Goal struct {
	ID              string   `json:"id" yaml:"id"`
	Description     string   `json:"description" yaml:"description"`
	Required        bool     `json:"required" yaml:"required"`
	SuccessCriteria []string `json:"success_criteria,omitempty" yaml:"success_criteria"`
}

// Subtask binds one agent role to an instruction inside a phase.
type Subtask struct {
	ID                string `json:"id" yaml:"id"`
	Agent             string `json:"agent" yaml:"agent"`
	Instruction       string `json:"instruction" yaml:"instruction"`
	Required          bool   `json:"required" yaml:"required"`
	ParallelExecution bool   `json:"parallel_execution,omitempty" yaml:"parallel_execution"`
	Goal              string `json:"goal,omitempty" yaml:"goal"`
}

// Phase is an ordered group of subtasks. DependsOn may only name earlier phases.
type Phase struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name"`
	DependsOn []string  `json:"depends_on,omitempty" yaml:"depends_on"`
	Subtasks  []Subtask `json:"subtasks" yaml:"subtasks"`
}

// Template is loaded by id+version and never mutated at runtime.
type Template struct {
	ID       string   `json:"id" yaml:"id"`
	Version  int      `json:"version" yaml:"version"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Goals    []Goal   `json:"goals,omitempty" yaml:"goals"`
	Phases   []Phase  `json:"phases" yaml:"phases"`
}

// Key returns the cache key for this template revision.
func (t *Template) Key() string {
	return Key(t.ID, t.Version)
}

// Key builds a template cache key. Version 0 means "latest".
func Key(id string, version int) string {
	if version <= 0 {
		return id + "@latest"
	}
	return fmt.Sprintf("%s@%d", id, version)
}

// PhaseIndex returns the position of the phase with the given id, or -1.
func (t *Template) PhaseIndex(id string) int {
	for i := range t.Phases {
		if t.Phases[i].ID == id {
			return i
		}
	}
	return -1
}

// TotalSubtasks counts subtasks across all phases.
func (t *Template) TotalSubtasks() int {
	n := 0
	for i := range t.Phases {
		n += len(t.Phases[i].Subtasks)
	}
	return n
}

// Subtask looks up a subtask by phase and subtask id.
func (t *Template) Subtask(phaseID, subtaskID string) (Subtask, bool) {
	idx := t.PhaseIndex(phaseID)
	if idx < 0 {
		return Subtask{}, false
	}
	for _, st := range t.Phases[idx].Subtasks {
		if st.ID == subtaskID {
			return st, true
		}
	}
	return Subtask{}, false
}

// Clone returns a deep copy suitable for freezing into a context snapshot.
func (t *Template) Clone() Template {
	c := *t
	c.Goals = make([]Goal, len(t.Goals))
	for i, g := range t.Goals {
		g.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
		c.Goals[i] = g
	}
	c.Phases = make([]Phase, len(t.Phases))
	for i, p := range t.Phases {
		p.DependsOn = append([]string(nil), p.DependsOn...)
		p.Subtasks = append([]Subtask(nil), p.Subtasks...)
		c.Phases[i] = p
	}
	return c
}
