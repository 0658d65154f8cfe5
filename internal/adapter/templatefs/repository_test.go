package templatefs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

func TestNew_Builtin(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tpl, err := r.Get(context.Background(), "business_onboarding", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(tpl.Phases) != 4 {
		t.Errorf("phases = %d, want 4", len(tpl.Phases))
	}
	latest, err := r.Get(context.Background(), "business_onboarding", 0)
	if err != nil || latest.Version != 1 {
		t.Fatalf("latest: %+v, %v", latest, err)
	}
}

func TestGet_NotFound(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		id      string
		version int
	}{
		{"missing", 0},
		{"business_onboarding", 99},
	}
	for _, tt := range tests {
		_, err := r.Get(context.Background(), tt.id, tt.version)
		var nf *domain.TemplateNotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("%s v%d: expected TemplateNotFoundError, got %v", tt.id, tt.version, err)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s v%d: expected ErrNotFound", tt.id, tt.version)
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := r.Get(context.Background(), "business_onboarding", 1)
	a.Phases[0].Subtasks[0].Agent = "tampered"
	b, _ := r.Get(context.Background(), "business_onboarding", 1)
	if b.Phases[0].Subtasks[0].Agent == "tampered" {
		t.Fatal("repository must not hand out shared templates")
	}
}

func TestNew_Dir(t *testing.T) {
	dir := t.TempDir()
	v2 := []byte(`
id: business_onboarding
version: 2
phases:
  - id: only
    subtasks:
      - id: pay
        agent: payment
        required: true
`)
	if err := os.WriteFile(filepath.Join(dir, "v2.yaml"), v2, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	latest, err := r.Get(context.Background(), "business_onboarding", 0)
	if err != nil || latest.Version != 2 {
		t.Fatalf("expected v2 as latest, got %+v, %v", latest, err)
	}
	list, _ := r.List(context.Background())
	if len(list) != 1 || list[0].Version != 2 {
		t.Fatalf("List should return the latest revision only: %+v", list)
	}
}

func TestNew_DuplicateRevision(t *testing.T) {
	dir := t.TempDir()
	dup := []byte(`
id: business_onboarding
version: 1
phases:
  - id: only
    subtasks: [{id: pay, agent: payment}]
`)
	if err := os.WriteFile(filepath.Join(dir, "dup.yml"), dup, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
