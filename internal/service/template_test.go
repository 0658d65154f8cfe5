package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/adapter/templatefs"
	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
)

// countingRepo counts Get calls on the wrapped repository.
type countingRepo struct {
	*templatefs.Repository
	mu   sync.Mutex
	gets int
}

func (r *countingRepo) Get(ctx context.Context, id string, version int) (*template.Template, error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.Repository.Get(ctx, id, version)
}

// mapCache is an in-memory cache.Cache.
type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newCountingRepo(t *testing.T) *countingRepo {
	t.Helper()
	repo, err := templatefs.NewFromTemplates(twoPhaseTemplate())
	if err != nil {
		t.Fatal(err)
	}
	return &countingRepo{Repository: repo}
}

func TestTemplateServiceCaches(t *testing.T) {
	repo := newCountingRepo(t)
	c := &mapCache{}
	svc := NewTemplateService(repo, c, time.Minute)

	for range 3 {
		tpl, err := svc.Get(context.Background(), "two_phase", 1)
		if err != nil {
			t.Fatal(err)
		}
		if tpl.ID != "two_phase" {
			t.Errorf("got %s", tpl.ID)
		}
	}
	if repo.gets != 1 {
		t.Errorf("repository read %d times, want 1", repo.gets)
	}
	if _, ok := c.data["tpl:"+template.Key("two_phase", 1)]; !ok {
		t.Errorf("cache keys = %v", c.data)
	}
}

func TestTemplateServiceCacheFailureFallsBack(t *testing.T) {
	repo := newCountingRepo(t)
	svc := NewTemplateService(repo, &mapCache{getErr: errors.New("kv down")}, time.Minute)

	if _, err := svc.Get(context.Background(), "two_phase", 0); err != nil {
		t.Fatalf("cache failure should fall back to the repository: %v", err)
	}
	if repo.gets != 1 {
		t.Errorf("repository read %d times", repo.gets)
	}
}

func TestTemplateServiceNotFound(t *testing.T) {
	svc := NewTemplateService(newCountingRepo(t), nil, 0)
	_, err := svc.Get(context.Background(), "nope", 0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTemplateServiceList(t *testing.T) {
	svc := NewTemplateService(newCountingRepo(t), nil, 0)
	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "two_phase" {
		t.Errorf("list = %+v", list)
	}
}
