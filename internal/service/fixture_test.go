package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/adapter/eventbus"
	"github.com/Strob0t/OnboardForge/internal/adapter/memstore"
	"github.com/Strob0t/OnboardForge/internal/adapter/templatefs"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
	"github.com/Strob0t/OnboardForge/internal/resilience"
)

// mockQueue records published messages.
type mockQueue struct {
	mu         sync.Mutex
	published  []published
	publishErr error
}

type published struct {
	subject string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, p := range q.published {
		out = append(out, p.subject)
	}
	return out
}

// callLog counts agent invocations per role.
type callLog struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callLog) add(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[role]++
}

func (c *callLog) count(role string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[role]
}

type agentFn func(ctx context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error)

type harness struct {
	store  *memstore.Store
	bus    *eventbus.Bus
	tasks  *TaskService
	orch   *Orchestrator
	agents *agentbackend.Registry
	calls  *callLog
}

func newHarness(t *testing.T, tpls ...template.Template) *harness {
	t.Helper()
	repo, err := templatefs.NewFromTemplates(tpls...)
	if err != nil {
		t.Fatalf("NewFromTemplates: %v", err)
	}
	store := memstore.New()
	bus := eventbus.New(store)
	tasks := NewTaskService(store, NewTemplateService(repo, nil, 0), bus)
	tasks.SetRetryPolicy(resilience.RetryPolicy{Attempts: 1})
	agents := agentbackend.NewRegistry()
	orch := NewOrchestrator(tasks, agents, resilience.NewBreakerSet(5, time.Minute), OrchestratorConfig{
		MaxParallel:  4,
		AgentTimeout: time.Second,
		PauseTTL:     time.Hour,
	})
	return &harness{store: store, bus: bus, tasks: tasks, orch: orch, agents: agents, calls: &callLog{}}
}

func (h *harness) register(t *testing.T, role string, fn agentFn) {
	t.Helper()
	err := h.agents.Register(agentbackend.Func{R: agent.Role(role), Fn: func(ctx context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error) {
		h.calls.add(role)
		return fn(ctx, req, tc)
	}})
	if err != nil {
		t.Fatalf("register %s: %v", role, err)
	}
}

func (h *harness) create(t *testing.T, templateID string) *taskcontext.TaskContext {
	t.Helper()
	tc, err := h.tasks.Create(context.Background(), CreateRequest{TemplateID: templateID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tc
}

func (h *harness) get(t *testing.T, id string) *taskcontext.TaskContext {
	t.Helper()
	tc, err := h.tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return tc
}

func operations(tc *taskcontext.TaskContext) []taskcontext.Operation {
	ops := make([]taskcontext.Operation, 0, len(tc.History))
	for i := range tc.History {
		ops = append(ops, tc.History[i].Operation)
	}
	return ops
}

// twoPhaseTemplate is phase A with one sequential subtask followed by phase B
// with two parallel ones.
func twoPhaseTemplate() template.Template {
	return template.Template{
		ID:       "two_phase",
		Version:  1,
		Metadata: template.Metadata{Name: "Two phase"},
		Phases: []template.Phase{
			{ID: "A", Subtasks: []template.Subtask{
				{ID: "x", Agent: "agent_x", Instruction: "profile the business", Required: true},
			}},
			{ID: "B", DependsOn: []string{"A"}, Subtasks: []template.Subtask{
				{ID: "y", Agent: "agent_y", Instruction: "collect the EIN", Required: true, ParallelExecution: true},
				{ID: "z", Agent: "agent_z", Instruction: "check the layout", Required: true, ParallelExecution: true},
			}},
		},
	}
}

func completes(data map[string]any) agentFn {
	return func(context.Context, agent.Request, *taskcontext.TaskContext) (agent.Response, error) {
		return agent.Complete("done", data), nil
	}
}

// askEIN asks for the EIN until it is present in context data.
func askEIN(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	if ein, ok := req.Data["ein"].(string); ok && ein != "" {
		return agent.Complete("EIN on file", map[string]any{"ein_verified": true}), nil
	}
	return agent.AskUser("EIN is missing", uirequest.Request{
		Title:  "Employer Identification Number",
		Fields: []uirequest.Field{{Name: "ein", Label: "EIN", Type: "text", Required: true}},
	}), nil
}

// pausedScenario runs the two-phase template until it waits on the EIN.
func pausedScenario(t *testing.T) (*harness, *taskcontext.TaskContext) {
	t.Helper()
	h := newHarness(t, twoPhaseTemplate())
	h.register(t, "agent_x", completes(map[string]any{"business_name": "Acme"}))
	h.register(t, "agent_y", askEIN)
	h.register(t, "agent_z", completes(map[string]any{"layout": "compact"}))

	tc := h.create(t, "two_phase")
	if _, err := h.orch.Run(context.Background(), tc.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return h, h.get(t, tc.ID)
}

// capturingQueue hands registered handlers to the test.
type capturingQueue struct {
	mockQueue
	onSubscribe func(subject string, fn func(context.Context, string, []byte) error)
}

func (q *capturingQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.onSubscribe(subject, h)
	return func() {}, nil
}
