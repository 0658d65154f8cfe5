package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
)

// StartSubscribers wires the orchestrate and resume triggers to Run. The
// returned cancel functions stop the subscriptions.
func (o *Orchestrator) StartSubscribers(ctx context.Context, q messagequeue.Queue) ([]func(), error) {
	var cancels []func()

	cancel, err := q.Subscribe(ctx, messagequeue.SubjectOrchestrate, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.OrchestratePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal orchestrate trigger: %w", err)
		}
		if p.RequestID != "" && logger.RequestID(msgCtx) == "" {
			msgCtx = logger.WithRequestID(msgCtx, p.RequestID)
		}
		return o.HandleTrigger(msgCtx, p.TenantID, p.ContextID, p.Reason)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe orchestrate: %w", err)
	}
	cancels = append(cancels, cancel)

	cancel, err = q.Subscribe(ctx, messagequeue.SubjectResume, func(msgCtx context.Context, _ string, data []byte) error {
		var p messagequeue.ResumePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal resume trigger: %w", err)
		}
		return o.HandleTrigger(msgCtx, p.TenantID, p.ContextID, "ui_response "+p.RequestID)
	})
	if err != nil {
		cancelAll(cancels)
		return nil, fmt.Errorf("subscribe resume: %w", err)
	}
	cancels = append(cancels, cancel)

	return cancels, nil
}

// HandleTrigger runs one context on behalf of a queued trigger. Only
// infrastructure errors are returned, so the queue redelivers those alone; a
// run that ended in a failure state is already recorded in history.
func (o *Orchestrator) HandleTrigger(ctx context.Context, tenantID, contextID, reason string) error {
	if tenantID != "" {
		ctx = middleware.WithTenantID(ctx, tenantID)
		ctx = logger.WithTenantID(ctx, tenantID)
	}

	out, err := o.Run(ctx, contextID)
	switch {
	case err == nil:
		slog.DebugContext(ctx, "trigger handled", "reason", reason, "state", out.State, "noop", out.Noop)
		return nil
	case errors.Is(err, domain.ErrNotFound):
		slog.WarnContext(ctx, "trigger for unknown context dropped", "context_id", contextID, "reason", reason)
		return nil
	case out.State.IsTerminal():
		slog.InfoContext(ctx, "run ended in a terminal failure", "state", out.State, "error_code", out.ErrorCode, "error", err)
		return nil
	}
	return err
}

func cancelAll(cancels []func()) {
	for _, c := range cancels {
		c()
	}
}
