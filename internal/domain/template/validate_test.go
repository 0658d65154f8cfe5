package template_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
)

func validTemplate() template.Template {
	return template.Template{
		ID:       "onboarding",
		Version:  1,
		Metadata: template.Metadata{Name: "Onboarding"},
		Goals:    []template.Goal{{ID: "profile", Required: true}},
		Phases: []template.Phase{
			{ID: "discover", Subtasks: []template.Subtask{{ID: "d1", Agent: "business_discovery", Goal: "profile"}}},
			{ID: "collect", DependsOn: []string{"discover"}, Subtasks: []template.Subtask{{ID: "c1", Agent: "data_collection"}}},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	tpl := validTemplate()
	if err := tpl.Validate(); err != nil {
		t.Fatalf("expected valid template, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*template.Template)
		want   error
	}{
		{"missing id", func(tp *template.Template) { tp.ID = "" }, template.ErrIDRequired},
		{"bad version", func(tp *template.Template) { tp.Version = 0 }, template.ErrVersionInvalid},
		{"no phases", func(tp *template.Template) { tp.Phases = nil }, template.ErrNoPhases},
		{"duplicate phase", func(tp *template.Template) { tp.Phases[1].ID = "discover" }, template.ErrPhaseDuplicate},
		{"empty phase", func(tp *template.Template) { tp.Phases[1].Subtasks = nil }, template.ErrPhaseEmpty},
		{"missing agent", func(tp *template.Template) { tp.Phases[0].Subtasks[0].Agent = "" }, template.ErrSubtaskMissingAgent},
		{"duplicate subtask", func(tp *template.Template) {
			tp.Phases[0].Subtasks = append(tp.Phases[0].Subtasks, template.Subtask{ID: "d1", Agent: "x"})
		}, template.ErrSubtaskDuplicate},
		{"unknown goal", func(tp *template.Template) { tp.Phases[1].Subtasks[0].Goal = "nope" }, template.ErrGoalUnknown},
		{"unknown dependency", func(tp *template.Template) { tp.Phases[1].DependsOn = []string{"ghost"} }, template.ErrPhaseUnknownDep},
		{"self dependency", func(tp *template.Template) { tp.Phases[0].DependsOn = []string{"discover"} }, template.ErrPhaseCycle},
		{"cycle", func(tp *template.Template) { tp.Phases[0].DependsOn = []string{"collect"} }, template.ErrPhaseCycle},
		{"forward dependency", func(tp *template.Template) {
			tp.Phases[1].DependsOn = nil
			tp.Phases[0].DependsOn = []string{"collect"}
		}, template.ErrPhaseForwardDep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(&tpl)
			err := tpl.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestClone_IsIndependent(t *testing.T) {
	tpl := validTemplate()
	c := tpl.Clone()
	c.Phases[0].Subtasks[0].Instruction = "changed"
	c.Phases[1].DependsOn[0] = "changed"

	if tpl.Phases[0].Subtasks[0].Instruction == "changed" {
		t.Fatal("clone shares subtask slice with original")
	}
	if tpl.Phases[1].DependsOn[0] == "changed" {
		t.Fatal("clone shares depends_on slice with original")
	}
}

func TestKey(t *testing.T) {
	if got := template.Key("a", 2); got != "a@2" {
		t.Errorf("Key = %q", got)
	}
	if got := template.Key("a", 0); got != "a@latest" {
		t.Errorf("Key latest = %q", got)
	}
}
