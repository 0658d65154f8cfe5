package builtin_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/adapter/builtin"
	"github.com/Strob0t/OnboardForge/internal/adapter/eventbus"
	"github.com/Strob0t/OnboardForge/internal/adapter/memstore"
	"github.com/Strob0t/OnboardForge/internal/adapter/templatefs"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
	"github.com/Strob0t/OnboardForge/internal/resilience"
	"github.com/Strob0t/OnboardForge/internal/service"
)

func newOrchestrator(t *testing.T) (*service.TaskService, *service.Orchestrator) {
	t.Helper()
	repo, err := templatefs.New("")
	if err != nil {
		t.Fatal(err)
	}
	store := memstore.New()
	tasks := service.NewTaskService(store, service.NewTemplateService(repo, nil, 0), eventbus.New(store))
	orch := service.NewOrchestrator(tasks, agentbackend.NewRegistry(builtin.All()...),
		resilience.NewBreakerSet(5, time.Minute),
		service.OrchestratorConfig{MaxParallel: 4, AgentTimeout: time.Second, PauseTTL: time.Hour})
	return tasks, orch
}

func run(t *testing.T, orch *service.Orchestrator, id string, want orchestration.State) {
	t.Helper()
	out, err := orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != want {
		t.Fatalf("state = %s, want %s", out.State, want)
	}
}

// answerAll answers every pending request with the values for its fields.
func answerAll(t *testing.T, tasks *service.TaskService, orch *service.Orchestrator, id string, values map[string]any) {
	t.Helper()
	tc, err := tasks.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if tc.State.Pause == nil {
		t.Fatal("context is not paused")
	}
	for _, req := range tc.State.Pause.Requests {
		payload := map[string]any{}
		for _, f := range req.FieldNames() {
			if v, ok := values[f]; ok {
				payload[f] = v
			}
		}
		if _, err := orch.SubmitUIResponse(context.Background(), id, service.UIResponse{RequestID: req.ID, Payload: payload}); err != nil {
			t.Fatalf("answer %s: %v", req.Title, err)
		}
	}
}

func TestBusinessOnboardingEndToEnd(t *testing.T) {
	tasks, orch := newOrchestrator(t)
	tc, err := tasks.Create(context.Background(), service.CreateRequest{TemplateID: "business_onboarding"})
	if err != nil {
		t.Fatal(err)
	}

	run(t, orch, tc.ID, orchestration.StateAwaitingUserInput)
	answerAll(t, tasks, orch, tc.ID, map[string]any{"business_name": "Acme Goods", "industry": "Retail", "employee_count": 12})

	run(t, orch, tc.ID, orchestration.StateAwaitingUserInput)
	paused, _ := tasks.Get(context.Background(), tc.ID)
	if paused.State.Phase != "collection" || len(paused.State.Pause.Requests) != 2 {
		t.Fatalf("collection should batch two requests, got %+v", paused.State.Pause)
	}
	answerAll(t, tasks, orch, tc.ID, map[string]any{"ein": "12-3456789", "entity_type": "llc"})

	run(t, orch, tc.ID, orchestration.StateAwaitingUserInput)
	answerAll(t, tasks, orch, tc.ID, map[string]any{"payment_method": "card"})

	run(t, orch, tc.ID, orchestration.StateCompleted)

	done, err := tasks.Get(context.Background(), tc.ID)
	if err != nil {
		t.Fatal(err)
	}
	checks := map[string]any{
		"industry":          "retail",
		"business_size":     "small",
		"ein":               "12-3456789",
		"compliance_status": "pending_review",
		"dashboard_layout":  "sales_first",
		"payment_method":    "card",
		"welcome_message":   "Welcome aboard, Acme Goods! Your workspace is ready.",
	}
	for k, want := range checks {
		if got := done.State.Data[k]; got != want {
			t.Errorf("data[%s] = %v, want %v", k, got, want)
		}
	}
	if done.State.Data["billing_account"] == nil {
		t.Error("billing account missing")
	}
	if done.State.Status != taskcontext.StatusCompleted || done.State.Completeness != 100 {
		t.Errorf("status = %s completeness = %d", done.State.Status, done.State.Completeness)
	}
}

func TestCollectTaxID_RejectsMalformedEIN(t *testing.T) {
	a := findAgent(t, agent.RoleDataCollection)
	resp, err := a.ProcessRequest(context.Background(), agent.Request{Data: map[string]any{"ein": "123456789"}}, &taskcontext.TaskContext{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.Outcome.(agent.NeedsInput); !ok {
		t.Fatalf("outcome = %T, want NeedsInput", resp.Outcome)
	}
	if err := resp.Validate(); err != nil {
		t.Errorf("invalid response: %v", err)
	}
}

func TestCheckEntity(t *testing.T) {
	tests := []struct {
		entity string
		kind   string
	}{
		{"", "needs_input"},
		{"LLC", "completed"},
		{"trust", "error"},
	}
	a := findAgent(t, agent.RoleEntityCompliance)
	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			resp, err := a.ProcessRequest(context.Background(), agent.Request{Data: map[string]any{"entity_type": tt.entity}}, &taskcontext.TaskContext{})
			if err != nil {
				t.Fatal(err)
			}
			if resp.Outcome.Kind() != tt.kind {
				t.Errorf("kind = %s, want %s", resp.Outcome.Kind(), tt.kind)
			}
			if err := resp.Validate(); err != nil {
				t.Errorf("invalid response: %v", err)
			}
		})
	}
}

func TestAllRolesCovered(t *testing.T) {
	reg := agentbackend.NewRegistry(builtin.All()...)
	for _, role := range []agent.Role{
		agent.RoleBusinessDiscovery, agent.RoleDataCollection, agent.RoleEntityCompliance,
		agent.RoleUXOptimization, agent.RolePayment, agent.RoleCelebration,
	} {
		if _, err := reg.Get(role); err != nil {
			t.Errorf("role %s: %v", role, err)
		}
	}
}

func findAgent(t *testing.T, role agent.Role) agentbackend.Agent {
	t.Helper()
	a, err := agentbackend.NewRegistry(builtin.All()...).Get(role)
	if err != nil {
		t.Fatal(err)
	}
	return a
}
