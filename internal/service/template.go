package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/port/cache"
	"github.com/Strob0t/OnboardForge/internal/port/templaterepo"
)

// TemplateService resolves task templates through the template cache. The
// repository is authoritative; cache failures degrade to a repository read.
type TemplateService struct {
	repo  templaterepo.Repository
	cache *cache.JSON[template.Template]
}

// NewTemplateService creates a TemplateService. c may be nil to disable caching.
func NewTemplateService(repo templaterepo.Repository, c cache.Cache, ttl time.Duration) *TemplateService {
	s := &TemplateService{repo: repo}
	if c != nil {
		s.cache = cache.NewJSON[template.Template](c, "tpl:", ttl)
	}
	return s
}

// Get returns the template revision; version <= 0 selects the latest.
func (s *TemplateService) Get(ctx context.Context, id string, version int) (*template.Template, error) {
	key := template.Key(id, version)
	if s.cache != nil {
		tpl, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "template cache read failed", "key", key, "error", err)
		}
		if ok {
			return &tpl, nil
		}
	}

	tpl, err := s.repo.Get(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", tpl.Key(), err)
	}

	if s.cache != nil {
		// "@latest" moves when a new revision ships, so it is cached under the
		// concrete key too and both expire with the same TTL.
		for _, k := range []string{key, tpl.Key()} {
			if err := s.cache.Set(ctx, k, *tpl); err != nil {
				slog.WarnContext(ctx, "template cache write failed", "key", k, "error", err)
			}
		}
	}
	return tpl, nil
}

// List returns the latest revision of every known template.
func (s *TemplateService) List(ctx context.Context) ([]template.Template, error) {
	return s.repo.List(ctx)
}
