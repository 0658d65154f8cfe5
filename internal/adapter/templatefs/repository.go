// Package templatefs serves task templates from YAML files: the embedded
// defaults plus an optional operator directory.
package templatefs

import (
	"cmp"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/port/templaterepo"
)

//go:embed templates/*.yaml
var builtin embed.FS

// Repository indexes templates by id and version. Templates are loaded once
// at construction and never change afterwards.
type Repository struct {
	byID map[string][]template.Template // sorted by version ascending
}

var _ templaterepo.Repository = (*Repository)(nil)

// New loads the embedded templates and, when dir is non-empty, every YAML file
// in dir. A directory template may not redefine an existing id+version.
func New(dir string) (*Repository, error) {
	sources := []fs.FS{builtin}
	roots := []string{"templates"}
	if dir != "" {
		sources = append(sources, os.DirFS(dir))
		roots = append(roots, ".")
	}

	r := &Repository{byID: make(map[string][]template.Template)}
	for i, fsys := range sources {
		tpls, err := template.LoadFromFS(fsys, roots[i])
		if err != nil {
			return nil, err
		}
		for j := range tpls {
			if err := r.add(tpls[j]); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// NewFromTemplates builds a repository from already-parsed templates.
func NewFromTemplates(tpls ...template.Template) (*Repository, error) {
	r := &Repository{byID: make(map[string][]template.Template)}
	for i := range tpls {
		if err := tpls[i].Validate(); err != nil {
			return nil, err
		}
		if err := r.add(tpls[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Repository) add(t template.Template) error {
	revs := r.byID[t.ID]
	if slices.ContainsFunc(revs, func(o template.Template) bool { return o.Version == t.Version }) {
		return fmt.Errorf("template %s v%d defined twice: %w", t.ID, t.Version, domain.ErrConflict)
	}
	revs = append(revs, t)
	slices.SortFunc(revs, func(a, b template.Template) int { return cmp.Compare(a.Version, b.Version) })
	r.byID[t.ID] = revs
	return nil
}

// Get implements templaterepo.Repository. The returned template is a copy.
func (r *Repository) Get(_ context.Context, id string, version int) (*template.Template, error) {
	revs := r.byID[id]
	if len(revs) == 0 {
		return nil, &domain.TemplateNotFoundError{TemplateID: id, Version: version}
	}
	if version <= 0 {
		t := revs[len(revs)-1].Clone()
		return &t, nil
	}
	for i := range revs {
		if revs[i].Version == version {
			t := revs[i].Clone()
			return &t, nil
		}
	}
	return nil, &domain.TemplateNotFoundError{TemplateID: id, Version: version}
}

// List implements templaterepo.Repository.
func (r *Repository) List(_ context.Context) ([]template.Template, error) {
	out := make([]template.Template, 0, len(r.byID))
	for _, revs := range r.byID {
		out = append(out, revs[len(revs)-1].Clone())
	}
	slices.SortFunc(out, func(a, b template.Template) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
