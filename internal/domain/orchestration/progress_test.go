package orchestration_test

import (
	"testing"

	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

func twoPhaseTemplate() *template.Template {
	return &template.Template{
		ID:      "t",
		Version: 1,
		Goals:   []template.Goal{{ID: "tax", Required: true, SuccessCriteria: []string{"ein"}}},
		Phases: []template.Phase{
			{ID: "A", Subtasks: []template.Subtask{{ID: "x", Agent: "agentX", Required: true}}},
			{ID: "B", DependsOn: []string{"A"}, Subtasks: []template.Subtask{
				{ID: "y", Agent: "agentY", Required: true, ParallelExecution: true, Goal: "tax"},
				{ID: "z", Agent: "agentZ", Required: true, ParallelExecution: true},
			}},
		},
	}
}

func detail(phase, subtask string) taskcontext.Trigger {
	return taskcontext.Trigger{Type: "orchestrator", Details: map[string]any{
		taskcontext.DetailPhaseID:   phase,
		taskcontext.DetailSubtaskID: subtask,
	}}
}

func TestReplay_PauseAndResume(t *testing.T) {
	tpl := twoPhaseTemplate()
	batch := &uirequest.Batch{ID: "b1", PhaseID: "B", Requests: []uirequest.Request{
		{ID: "r1", PhaseID: "B", SubtaskID: "y", Fields: []uirequest.Field{{Name: "ein"}}},
	}}
	history := []taskcontext.Entry{
		{SequenceNumber: 1, Operation: taskcontext.OpTaskCreated},
		{SequenceNumber: 2, Operation: taskcontext.OpAgentCompleted, Trigger: detail("A", "x")},
		{SequenceNumber: 3, Operation: taskcontext.OpAgentCompleted, Trigger: detail("B", "z")},
		{SequenceNumber: 4, Operation: taskcontext.OpUIRequestsBatched, Data: map[string]any{"pause": batch}},
	}

	p := orchestration.Replay(tpl, history)
	if got := p.Subtask("B", "y"); got != orchestration.SubtaskWaiting {
		t.Fatalf("y = %s, want awaiting_input", got)
	}
	if !p.PhaseSettled(&tpl.Phases[0]) || p.PhaseSettled(&tpl.Phases[1]) {
		t.Fatal("want phase A settled and phase B open")
	}
	if p.BatchAnswered(batch) {
		t.Fatal("batch must not be answered yet")
	}
	if c := p.Completeness(); c != 66 {
		t.Fatalf("completeness = %d, want 66", c)
	}

	resp := taskcontext.Entry{SequenceNumber: 5, Operation: taskcontext.OpUIResponseSubmitted, Trigger: detail("B", "y")}
	resp.Trigger.Details[taskcontext.DetailRequestID] = "r1"
	p.Observe(&resp)

	if !p.BatchAnswered(batch) {
		t.Fatal("batch should be answered")
	}
	if got := p.Subtask("B", "y"); !got.Dispatchable() {
		t.Fatalf("answered subtask must be dispatchable, got %s", got)
	}
	if action, ok := p.Answered("r1"); !ok || action != uirequest.ActionSubmit {
		t.Fatalf("answered r1 = %q %v", action, ok)
	}
}

func TestReplay_SkipSettlesSubtask(t *testing.T) {
	tpl := twoPhaseTemplate()
	e := taskcontext.Entry{Operation: taskcontext.OpUIResponseSubmitted, Trigger: detail("B", "y")}
	e.Trigger.Details[taskcontext.DetailRequestID] = "r1"
	e.Trigger.Details[taskcontext.DetailAction] = string(uirequest.ActionSkip)

	p := orchestration.Replay(tpl, []taskcontext.Entry{e})
	if got := p.Subtask("B", "y"); got != orchestration.SubtaskSkipped {
		t.Fatalf("y = %s, want skipped", got)
	}
}

func TestUnsatisfiedGoals(t *testing.T) {
	tpl := twoPhaseTemplate()
	p := orchestration.Replay(tpl, nil)
	p.Settle("B", "y", orchestration.SubtaskDone)

	if got := p.UnsatisfiedGoals(map[string]any{}); len(got) != 1 || got[0] != "tax" {
		t.Fatalf("expected tax unsatisfied without ein, got %v", got)
	}
	if got := p.UnsatisfiedGoals(map[string]any{"ein": "12-3456789"}); len(got) != 0 {
		t.Fatalf("expected all goals met, got %v", got)
	}

	p.Settle("B", "y", orchestration.SubtaskSkipped)
	if got := p.UnsatisfiedGoals(map[string]any{"ein": "1"}); len(got) != 1 {
		t.Fatalf("skipped goal subtask must leave goal unmet, got %v", got)
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		st   taskcontext.State
		want orchestration.State
	}{
		{taskcontext.State{Status: taskcontext.StatusPending}, orchestration.StateInitializing},
		{taskcontext.State{Status: taskcontext.StatusInProgress}, orchestration.StateRunningPhase},
		{taskcontext.State{Status: taskcontext.StatusBlocked, Pause: &uirequest.Batch{}}, orchestration.StateAwaitingUserInput},
		{taskcontext.State{Status: taskcontext.StatusCompleted}, orchestration.StateCompleted},
		{taskcontext.State{Status: taskcontext.StatusFailed, Data: map[string]any{}}, orchestration.StateFailed},
		{taskcontext.State{Status: taskcontext.StatusFailed, Data: map[string]any{"error_code": orchestration.CodeExpired}}, orchestration.StateExpired},
		{taskcontext.State{Status: taskcontext.StatusCancelled}, orchestration.StateCancelled},
	}
	for _, tt := range tests {
		if got := orchestration.StateFor(&tt.st); got != tt.want {
			t.Errorf("StateFor(%s) = %s, want %s", tt.st.Status, got, tt.want)
		}
		if tt.want.IsTerminal() != tt.st.Status.IsTerminal() {
			t.Errorf("terminal mismatch for %s", tt.st.Status)
		}
	}
}
