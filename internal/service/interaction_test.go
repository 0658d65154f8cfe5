package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
)

func TestSubmitUIResponse_Errors(t *testing.T) {
	h, tc := pausedScenario(t)
	reqID := tc.State.Pause.Requests[0].ID

	tests := []struct {
		name    string
		context string
		in      UIResponse
		wantErr error
	}{
		{"unknown request", tc.ID, UIResponse{RequestID: "nope", Payload: map[string]any{"ein": "1"}}, domain.ErrNotFound},
		{"unknown context", "missing", UIResponse{RequestID: reqID}, domain.ErrNotFound},
		{"missing required field", tc.ID, UIResponse{RequestID: reqID, Payload: map[string]any{"other": "x"}}, domain.ErrValidation},
		{"bad action", tc.ID, UIResponse{RequestID: reqID, Action: "approve"}, domain.ErrValidation},
		{"missing request id", tc.ID, UIResponse{}, domain.ErrValidation},
		{"skip required subtask", tc.ID, UIResponse{RequestID: reqID, Action: uirequest.ActionSkip}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.SubmitUIResponse(context.Background(), tt.context, tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := len(h.get(t, tc.ID).History); n != len(tc.History) {
		t.Errorf("rejected responses appended entries: %d", n)
	}
}

func TestSubmitUIResponse_AnsweredTwice(t *testing.T) {
	h, tc := pausedScenario(t)
	in := UIResponse{RequestID: tc.State.Pause.Requests[0].ID, Payload: map[string]any{"ein": "12-3456789"}}

	if _, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, in); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, in); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second answer: err = %v, want ErrConflict", err)
	}
}

func TestSubmitUIResponse_NotPaused(t *testing.T) {
	h := newHarness(t, twoPhaseTemplate())
	tc := h.create(t, "two_phase")
	_, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{RequestID: "r1"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestSubmitUIResponse_Cancel(t *testing.T) {
	h, tc := pausedScenario(t)
	q := &mockQueue{}
	h.orch.SetQueue(q)

	entry, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{
		RequestID: tc.State.Pause.Requests[0].ID,
		Action:    uirequest.ActionCancel,
		UserID:    "owner@acme.test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Operation != taskcontext.OpTaskCancelled || entry.Actor.ID != "owner@acme.test" {
		t.Errorf("entry = %+v", entry)
	}

	got := h.get(t, tc.ID)
	if got.State.Status != taskcontext.StatusCancelled || got.State.Pause != nil {
		t.Errorf("status = %s pause = %v", got.State.Status, got.State.Pause)
	}
	if len(q.subjects()) != 0 {
		t.Errorf("cancel published %v", q.subjects())
	}

	out, err := h.orch.Run(context.Background(), tc.ID)
	if err != nil || !out.Noop || out.State != orchestration.StateCancelled {
		t.Errorf("run after cancel = %+v, %v", out, err)
	}
}

func TestSubmitUIResponse_SkipOptional(t *testing.T) {
	tpl := template.Template{
		ID: "skippable", Version: 1,
		Phases: []template.Phase{{ID: "welcome", Subtasks: []template.Subtask{
			{ID: "must", Agent: "agent_x", Instruction: "i", Required: true, ParallelExecution: true},
			{ID: "survey", Agent: "agent_y", Instruction: "ask for feedback", ParallelExecution: true},
		}}},
	}
	h := newHarness(t, tpl)
	h.register(t, "agent_x", completes(nil))
	h.register(t, "agent_y", func(context.Context, agent.Request, *taskcontext.TaskContext) (agent.Response, error) {
		return agent.AskUser("would like feedback", uirequest.Request{
			Title:  "How did we do?",
			Fields: []uirequest.Field{{Name: "rating"}},
		}), nil
	})

	tc := h.create(t, "skippable")
	if _, err := h.orch.Run(context.Background(), tc.ID); err != nil {
		t.Fatal(err)
	}
	paused := h.get(t, tc.ID)

	if _, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{
		RequestID: paused.State.Pause.Requests[0].ID,
		Action:    uirequest.ActionSkip,
	}); err != nil {
		t.Fatalf("skip: %v", err)
	}

	out, err := h.orch.Run(context.Background(), tc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.State != orchestration.StateCompleted {
		t.Errorf("state = %s, want COMPLETED", out.State)
	}
	if n := h.calls.count("agent_y"); n != 1 {
		t.Errorf("skipped agent called %d times, want 1", n)
	}
}

func TestSubmitUIResponse_PublishesResume(t *testing.T) {
	h, tc := pausedScenario(t)
	q := &mockQueue{}
	h.orch.SetQueue(q)
	reqID := tc.State.Pause.Requests[0].ID

	if _, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{
		RequestID: reqID,
		Payload:   map[string]any{"ein": "12-3456789"},
	}); err != nil {
		t.Fatal(err)
	}

	if len(q.published) != 1 || q.published[0].subject != messagequeue.SubjectResume {
		t.Fatalf("published = %v", q.subjects())
	}
	var p messagequeue.ResumePayload
	if err := json.Unmarshal(q.published[0].data, &p); err != nil {
		t.Fatal(err)
	}
	if p.ContextID != tc.ID || p.RequestID != reqID || p.BatchID != tc.State.Pause.ID {
		t.Errorf("payload = %+v", p)
	}
}

func TestExpiry(t *testing.T) {
	h, tc := pausedScenario(t)
	later := time.Now().Add(2 * time.Hour)
	h.orch.now = func() time.Time { return later }

	out, err := h.orch.Run(context.Background(), tc.ID)
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if out.State != orchestration.StateExpired || out.ErrorCode != orchestration.CodeExpired {
		t.Errorf("outcome = %+v", out)
	}

	got := h.get(t, tc.ID)
	last := got.History[len(got.History)-1]
	if last.Operation != taskcontext.OpUIRequestsExpired {
		t.Errorf("last op = %s", last.Operation)
	}
	if got.State.Status != taskcontext.StatusFailed || got.State.Pause != nil {
		t.Errorf("status = %s pause = %v", got.State.Status, got.State.Pause)
	}
	if orchestration.StateFor(&got.State) != orchestration.StateExpired {
		t.Errorf("state = %s", orchestration.StateFor(&got.State))
	}

	_, err = h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{
		RequestID: tc.State.Pause.Requests[0].ID,
		Payload:   map[string]any{"ein": "12-3456789"},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("answer after expiry: err = %v, want ErrConflict", err)
	}
}

func TestExpiry_OnLateAnswer(t *testing.T) {
	h, tc := pausedScenario(t)
	later := time.Now().Add(2 * time.Hour)
	h.orch.now = func() time.Time { return later }

	_, err := h.orch.SubmitUIResponse(context.Background(), tc.ID, UIResponse{
		RequestID: tc.State.Pause.Requests[0].ID,
		Payload:   map[string]any{"ein": "12-3456789"},
	})
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if got := h.get(t, tc.ID); got.State.Data["ein"] != nil {
		t.Error("late answer was recorded")
	}
}
