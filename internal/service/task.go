// Package service implements the onboarding use cases on top of the ports:
// context creation and history, template resolution, orchestration runs and
// user interaction.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/OnboardForge/internal/adapter/otel"
	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
	"github.com/Strob0t/OnboardForge/internal/port/eventstore"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
	"github.com/Strob0t/OnboardForge/internal/resilience"
)

// taskServiceActor is the actor id on entries the task service writes itself.
const taskServiceActor = "task_service"

// CreateRequest describes a new task context.
type CreateRequest struct {
	TemplateID  string         `json:"task_template_id"`
	Version     int            `json:"template_version,omitempty"` // 0 selects the latest revision
	InitialData map[string]any `json:"initial_data,omitempty"`
}

// TaskService owns the lifecycle of task contexts: creation, reads and appends.
// Every successful append is broadcast as EVENT_ADDED.
type TaskService struct {
	store     eventstore.Store
	templates *TemplateService
	bus       broadcast.Bus
	queue     messagequeue.Queue
	retry     resilience.RetryPolicy
	metrics   *cfotel.Metrics
	autoStart bool
	now       func() time.Time
}

// NewTaskService creates a TaskService.
func NewTaskService(store eventstore.Store, templates *TemplateService, bus broadcast.Bus) *TaskService {
	return &TaskService{
		store:     store,
		templates: templates,
		bus:       bus,
		retry:     resilience.DefaultRetryPolicy,
		now:       time.Now,
	}
}

// SetRetryPolicy overrides the retry policy for transient store errors.
func (s *TaskService) SetRetryPolicy(p resilience.RetryPolicy) { s.retry = p }

// SetMetrics enables append metrics.
func (s *TaskService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetAutoStart publishes an orchestrate trigger on queue after every create.
func (s *TaskService) SetAutoStart(queue messagequeue.Queue) {
	s.queue = queue
	s.autoStart = queue != nil
}

// Create instantiates a template into a new context. The record and its
// task_created seed entry are persisted together; an unknown template persists
// nothing and returns *domain.TemplateNotFoundError.
func (s *TaskService) Create(ctx context.Context, req CreateRequest) (*taskcontext.TaskContext, error) {
	if req.TemplateID == "" {
		return nil, domain.Validationf("task_template_id is required")
	}
	for k := range req.InitialData {
		if taskcontext.IsReserved(k) {
			return nil, domain.Validationf("initial data may not set reserved key %q", k)
		}
	}

	tpl, err := s.templates.Get(ctx, req.TemplateID, req.Version)
	if err != nil {
		return nil, err
	}

	tenant := middleware.TenantIDFromContext(ctx)
	rec := &taskcontext.Record{
		ID:               uuid.NewString(),
		TemplateID:       tpl.ID,
		TemplateVersion:  tpl.Version,
		TenantID:         tenant,
		CreatedAt:        s.now().UTC(),
		TemplateSnapshot: tpl.Clone(),
	}
	data := maps.Clone(req.InitialData)
	if data == nil {
		data = make(map[string]any, 2)
	}
	data[taskcontext.KeyStatus] = string(taskcontext.StatusPending)
	data[taskcontext.KeyCompleteness] = 0

	seed := taskcontext.NewEntry{
		Actor:     taskcontext.Actor{Type: taskcontext.ActorSystem, ID: taskServiceActor},
		Operation: taskcontext.OpTaskCreated,
		Data:      data,
		Reasoning: fmt.Sprintf("Task context created from template %s for tenant %s", tpl.Key(), tenant),
		Trigger:   taskcontext.Trigger{Type: "api", Source: taskServiceActor},
	}

	ctx = logger.WithContextID(ctx, rec.ID)
	entry, err := resilience.Retry(ctx, s.retry, func() (*taskcontext.Entry, error) {
		return s.store.CreateContext(ctx, rec, seed)
	})
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	s.metrics.RecordAppend(ctx, string(entry.Operation))
	s.broadcastEntry(ctx, entry)

	tc, err := taskcontext.Rebuild(*rec, []taskcontext.Entry{*entry})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task context created", "template", tpl.Key())

	if s.autoStart {
		s.publishOrchestrate(ctx, rec.ID, "created")
	}
	return tc, nil
}

// Get loads a context and recomputes its state from history. An unknown or
// foreign context returns domain.ErrNotFound.
func (s *TaskService) Get(ctx context.Context, contextID string) (*taskcontext.TaskContext, error) {
	rec, err := resilience.Retry(ctx, s.retry, func() (*taskcontext.Record, error) {
		return s.store.GetContext(ctx, contextID)
	})
	if err != nil {
		return nil, err
	}
	history, err := resilience.Retry(ctx, s.retry, func() ([]taskcontext.Entry, error) {
		return s.store.LoadHistory(ctx, contextID)
	})
	if err != nil {
		return nil, err
	}
	return taskcontext.Rebuild(*rec, history)
}

// AppendEntry validates e, appends it with the next sequence number and
// broadcasts it. Store errors are returned; nothing is broadcast for them.
func (s *TaskService) AppendEntry(ctx context.Context, contextID string, e taskcontext.NewEntry) (*taskcontext.Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	ctx, span := cfotel.StartAppendSpan(ctx, contextID, string(e.Operation))
	entry, err := resilience.Retry(ctx, s.retry, func() (*taskcontext.Entry, error) {
		return s.store.Append(ctx, contextID, e)
	})
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("append %s to %s: %w", e.Operation, contextID, err)
	}

	s.metrics.RecordAppend(ctx, string(entry.Operation))
	s.broadcastEntry(ctx, entry)
	return entry, nil
}

// AppendExternal appends an entry submitted through the API. Status, phase,
// completeness and pause belong to the orchestrator, so callers outside it may
// only write ordinary data keys.
func (s *TaskService) AppendExternal(ctx context.Context, contextID string, e taskcontext.NewEntry) (*taskcontext.Entry, error) {
	for k := range e.Data {
		if taskcontext.IsReserved(k) {
			return nil, domain.Validationf("entries may not set reserved key %q", k)
		}
	}
	return s.AppendEntry(ctx, contextID, e)
}

// List returns the tenant's context records, newest first.
func (s *TaskService) List(ctx context.Context, f taskcontext.ListFilter) ([]taskcontext.Record, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, domain.Validationf("limit and offset must be >= 0")
	}
	return s.store.ListContexts(ctx, f)
}

// History returns one page of a context's history.
func (s *TaskService) History(ctx context.Context, contextID string, page taskcontext.HistoryPage) ([]taskcontext.Entry, error) {
	if page.Limit < 0 || page.AfterSequence < 0 {
		return nil, domain.Validationf("limit and after_sequence must be >= 0")
	}
	return resilience.Retry(ctx, s.retry, func() ([]taskcontext.Entry, error) {
		return s.store.LoadHistoryPage(ctx, contextID, page)
	})
}

// Broadcast forwards a non-entry event (UI_REQUEST, TASK_COMPLETED, ERROR).
func (s *TaskService) Broadcast(ctx context.Context, contextID, eventType string, seq int64, payload any) {
	s.bus.Broadcast(ctx, contextID, broadcast.Event{
		Type:      eventType,
		ContextID: contextID,
		Sequence:  seq,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	})
}

func (s *TaskService) broadcastEntry(ctx context.Context, e *taskcontext.Entry) {
	s.Broadcast(ctx, e.ContextID, broadcast.EventAdded, e.SequenceNumber, *e)
}

func (s *TaskService) publishOrchestrate(ctx context.Context, contextID, reason string) {
	payload, err := json.Marshal(messagequeue.OrchestratePayload{
		ContextID: contextID,
		TenantID:  middleware.TenantIDFromContext(ctx),
		Reason:    reason,
		RequestID: logger.RequestID(ctx),
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal orchestrate trigger", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectOrchestrate, payload); err != nil {
		// The context exists; a later trigger or an explicit run picks it up.
		slog.ErrorContext(ctx, "failed to publish orchestrate trigger", "error", err)
	}
}
