// Package templaterepo defines the port for loading immutable task templates.
package templaterepo

import (
	"context"

	"github.com/Strob0t/OnboardForge/internal/domain/template"
)

// Repository resolves templates by id and version.
type Repository interface {
	// Get returns the template revision. Version <= 0 selects the latest
	// revision. A miss returns *domain.TemplateNotFoundError.
	Get(ctx context.Context, id string, version int) (*template.Template, error)

	// List returns the latest revision of every known template, sorted by id.
	List(ctx context.Context) ([]template.Template, error)
}
