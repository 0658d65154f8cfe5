package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
)

// UIResponse is a user's answer to one pending UI request.
type UIResponse struct {
	RequestID string           `json:"ui_request_id"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Action    uirequest.Action `json:"action,omitempty"` // defaults to submit
	UserID    string           `json:"user_id,omitempty"`
}

// SubmitUIResponse records a user's answer for a paused context and, unless
// the user cancelled, publishes a resume trigger. It shares the per-context
// lock with Run, so an answer never races a run over the same context.
//
// Errors: domain.ErrConflict when the context is terminal, not paused or the
// request was already answered; domain.ErrNotFound for an unknown request;
// domain.ErrExpired when the pause deadline passed (the context is failed);
// domain.ErrValidation for bad payloads or skipping a required subtask.
func (o *Orchestrator) SubmitUIResponse(ctx context.Context, contextID string, in UIResponse) (*taskcontext.Entry, error) {
	if in.Action == "" {
		in.Action = uirequest.ActionSubmit
	}
	if !in.Action.Valid() {
		return nil, domain.Validationf("unknown action %q", in.Action)
	}
	if in.RequestID == "" {
		return nil, domain.Validationf("ui_request_id is required")
	}

	ctx = logger.WithContextID(ctx, contextID)
	entry, batchID, err := o.submit(ctx, contextID, in)
	if err != nil {
		return nil, err
	}

	if in.Action == uirequest.ActionCancel {
		o.notifyOutcome(ctx, orchestration.Outcome{ContextID: contextID, State: orchestration.StateCancelled})
	} else {
		o.publishResume(ctx, contextID, batchID, in)
	}
	return entry, nil
}

func (o *Orchestrator) submit(ctx context.Context, contextID string, in UIResponse) (*taskcontext.Entry, string, error) {
	unlock := o.locks.Lock(contextID)
	defer unlock()

	tc, err := o.tasks.Get(ctx, contextID)
	if err != nil {
		return nil, "", err
	}
	if tc.Terminal() {
		return nil, "", fmt.Errorf("context %s is %s: %w", contextID, tc.State.Status, domain.ErrConflict)
	}
	batch := tc.State.Pause
	if batch == nil {
		return nil, "", fmt.Errorf("context %s is not waiting for input: %w", contextID, domain.ErrConflict)
	}
	req, ok := batch.Request(in.RequestID)
	if !ok {
		return nil, "", fmt.Errorf("ui request %s in %s: %w", in.RequestID, batch, domain.ErrNotFound)
	}

	r := o.newRun(tc)
	if _, answered := r.progress.Answered(req.ID); answered {
		return nil, "", fmt.Errorf("ui request %s was already answered: %w", req.ID, domain.ErrConflict)
	}
	if batch.Expired(o.now()) {
		_, err := r.expire(ctx, batch)
		return nil, "", err
	}

	userID := in.UserID
	if userID == "" {
		userID = "user"
	}
	entry := taskcontext.NewEntry{
		Actor: taskcontext.Actor{Type: taskcontext.ActorUser, ID: userID},
		Trigger: taskcontext.Trigger{
			Type:   "ui_response",
			Source: "user",
			Details: map[string]any{
				taskcontext.DetailRequestID: req.ID,
				taskcontext.DetailPhaseID:   req.PhaseID,
				taskcontext.DetailSubtaskID: req.SubtaskID,
				taskcontext.DetailBatchID:   batch.ID,
				taskcontext.DetailAction:    string(in.Action),
			},
		},
	}

	switch in.Action {
	case uirequest.ActionCancel:
		entry.Operation = taskcontext.OpTaskCancelled
		entry.Data = map[string]any{
			taskcontext.KeyStatus: string(taskcontext.StatusCancelled),
			taskcontext.KeyPause:  nil,
		}
		entry.Reasoning = fmt.Sprintf("User cancelled the onboarding while answering %q", req.Title)

	case uirequest.ActionSkip:
		st, found := r.tpl.Subtask(req.PhaseID, req.SubtaskID)
		if !found || st.Required {
			return nil, "", domain.Validationf("ui request %s belongs to required subtask %s and cannot be skipped", req.ID, req.SubtaskID)
		}
		entry.Operation = taskcontext.OpUIResponseSubmitted
		entry.Reasoning = fmt.Sprintf("User skipped %q for optional subtask %s", req.Title, req.SubtaskID)

	default:
		data, err := req.Apply(in.Payload)
		if err != nil {
			return nil, "", err
		}
		entry.Operation = taskcontext.OpUIResponseSubmitted
		entry.Data = data
		keys := slices.Sorted(maps.Keys(data))
		entry.Reasoning = fmt.Sprintf("User answered %q providing %s", req.Title, strings.Join(keys, ", "))
	}

	appended, err := o.tasks.AppendEntry(ctx, contextID, entry)
	if err != nil {
		return nil, "", err
	}
	slog.InfoContext(ctx, "ui response recorded", "request_id", req.ID, "batch_id", batch.ID, "action", in.Action)
	return appended, batch.ID, nil
}

func (o *Orchestrator) publishResume(ctx context.Context, contextID, batchID string, in UIResponse) {
	if o.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.ResumePayload{
		ContextID: contextID,
		TenantID:  middleware.TenantIDFromContext(ctx),
		RequestID: in.RequestID,
		BatchID:   batchID,
		Action:    string(in.Action),
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal resume trigger", "error", err)
		return
	}
	if err := o.queue.Publish(ctx, messagequeue.SubjectResume, payload); err != nil {
		// The answer is stored; the next orchestrate trigger or explicit run resumes.
		slog.ErrorContext(ctx, "failed to publish resume trigger", "error", err)
	}
}
