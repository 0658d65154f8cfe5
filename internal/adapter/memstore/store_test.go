package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/middleware"
)

func tenantCtx(tenant string) context.Context {
	return middleware.WithTenantID(context.Background(), tenant)
}

func seed() taskcontext.NewEntry {
	return taskcontext.NewEntry{
		Actor:     taskcontext.Actor{Type: taskcontext.ActorSystem, ID: "task_service"},
		Operation: taskcontext.OpTaskCreated,
		Data:      map[string]any{"status": "pending", "company": "Acme"},
		Reasoning: "created",
	}
}

func note(i int) taskcontext.NewEntry {
	return taskcontext.NewEntry{
		Actor:     taskcontext.Actor{Type: taskcontext.ActorAgent, ID: "data_collection"},
		Operation: taskcontext.OpAgentCompleted,
		Data:      map[string]any{"n": i},
		Reasoning: "collected",
	}
}

func create(t *testing.T, s *Store, ctx context.Context, id string) {
	t.Helper()
	if _, err := s.CreateContext(ctx, &taskcontext.Record{ID: id, TemplateID: "business_onboarding", TemplateVersion: 1}, seed()); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
}

func TestCreateContextAssignsSequenceOne(t *testing.T) {
	s := New()
	ctx := tenantCtx("acme")
	rec := &taskcontext.Record{ID: "c1", TemplateID: "business_onboarding", TemplateVersion: 1}

	e, err := s.CreateContext(ctx, rec, seed())
	if err != nil {
		t.Fatal(err)
	}
	if e.SequenceNumber != 1 || e.ID == "" || e.ContextID != "c1" {
		t.Fatalf("unexpected seed entry %+v", e)
	}
	if rec.TenantID != "acme" || rec.CreatedAt.IsZero() {
		t.Fatalf("record not stamped: %+v", rec)
	}

	_, err = s.CreateContext(ctx, &taskcontext.Record{ID: "c1"}, seed())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate id: expected ErrConflict, got %v", err)
	}
}

func TestAppendAndLoad(t *testing.T) {
	s := New()
	ctx := tenantCtx("acme")
	create(t, s, ctx, "c1")

	for i := range 3 {
		e, err := s.Append(ctx, "c1", note(i))
		if err != nil {
			t.Fatal(err)
		}
		if e.SequenceNumber != int64(i+2) {
			t.Fatalf("append %d got sequence %d", i, e.SequenceNumber)
		}
	}

	h, err := s.LoadHistory(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(h))
	}
	st, err := taskcontext.Compute(h)
	if err != nil {
		t.Fatalf("stored history must replay: %v", err)
	}
	if st.Data["n"] != float64(2) {
		t.Fatalf("expected last write to win, got %v", st.Data["n"])
	}
}

func TestStoredEntriesAreIsolatedFromCaller(t *testing.T) {
	s := New()
	ctx := tenantCtx("acme")
	create(t, s, ctx, "c1")

	ne := note(1)
	if _, err := s.Append(ctx, "c1", ne); err != nil {
		t.Fatal(err)
	}
	ne.Data["n"] = 99

	h, _ := s.LoadHistory(ctx, "c1")
	h[1].Data["n"] = 100

	again, _ := s.LoadHistory(ctx, "c1")
	if again[1].Data["n"] != float64(1) {
		t.Fatalf("stored entry was mutated: %v", again[1].Data["n"])
	}
}

func TestConcurrentAppendsAreContiguous(t *testing.T) {
	const k = 64
	s := New()
	ctx := tenantCtx("acme")
	create(t, s, ctx, "c1")

	var wg sync.WaitGroup
	seqs := make(chan int64, k)
	for i := range k {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.Append(ctx, "c1", note(i))
			if err != nil {
				t.Error(err)
				return
			}
			seqs <- e.SequenceNumber
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for n := range seqs {
		if seen[n] {
			t.Fatalf("sequence %d assigned twice", n)
		}
		seen[n] = true
	}
	for n := int64(2); n <= k+1; n++ {
		if !seen[n] {
			t.Fatalf("sequence %d missing", n)
		}
	}

	h, _ := s.LoadHistory(ctx, "c1")
	if _, err := taskcontext.Compute(h); err != nil {
		t.Fatalf("history after concurrent appends: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	create(t, s, tenantCtx("acme"), "c1")
	other := tenantCtx("globex")

	if _, err := s.GetContext(other, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetContext across tenants: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Append(other, "c1", note(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Append across tenants: expected ErrNotFound, got %v", err)
	}
	if _, err := s.LoadHistory(other, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LoadHistory across tenants: expected ErrNotFound, got %v", err)
	}
	recs, err := s.ListContexts(other, taskcontext.ListFilter{})
	if err != nil || len(recs) != 0 {
		t.Fatalf("ListContexts leaked %d records (%v)", len(recs), err)
	}
}

func TestLoadHistoryPage(t *testing.T) {
	s := New()
	ctx := tenantCtx("acme")
	create(t, s, ctx, "c1")
	for i := range 5 {
		if _, err := s.Append(ctx, "c1", note(i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		page      taskcontext.HistoryPage
		wantFirst int64
		wantLen   int
	}{
		{"all", taskcontext.HistoryPage{}, 1, 6},
		{"after 2", taskcontext.HistoryPage{AfterSequence: 2}, 3, 4},
		{"after 2 limit 2", taskcontext.HistoryPage{AfterSequence: 2, Limit: 2}, 3, 2},
		{"past end", taskcontext.HistoryPage{AfterSequence: 10}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LoadHistoryPage(ctx, "c1", tt.page)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].SequenceNumber != tt.wantFirst {
				t.Fatalf("first = %d, want %d", got[0].SequenceNumber, tt.wantFirst)
			}
		})
	}
}

func TestListContextsNewestFirst(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := tenantCtx("acme")
	for _, id := range []string{"a", "b", "c"} {
		create(t, s, ctx, id)
	}

	recs, err := s.ListContexts(ctx, taskcontext.ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("unexpected order %+v", recs)
	}

	recs, _ = s.ListContexts(ctx, taskcontext.ListFilter{Offset: 2})
	if len(recs) != 1 || recs[0].ID != "a" {
		t.Fatalf("offset page wrong: %+v", recs)
	}
}
