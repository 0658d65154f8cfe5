// Package eventstore defines the port interface for the append-only context store.
package eventstore

import (
	"context"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
)

// Store persists context records and their append-only histories.
// Every call is scoped to the tenant carried by ctx; a context owned by another
// tenant is reported as domain.ErrNotFound.
type Store interface {
	// CreateContext persists the record and its seed entry in one unit. The seed
	// entry is assigned sequence number 1.
	CreateContext(ctx context.Context, rec *taskcontext.Record, seed taskcontext.NewEntry) (*taskcontext.Entry, error)

	// Append atomically assigns the next sequence number for the context and
	// persists the entry. Concurrent appends to one context never share a number.
	Append(ctx context.Context, contextID string, e taskcontext.NewEntry) (*taskcontext.Entry, error)

	// LoadHistory returns every entry of the context ordered by sequence number.
	LoadHistory(ctx context.Context, contextID string) ([]taskcontext.Entry, error)

	// LoadHistoryPage returns entries after page.AfterSequence, at most page.Limit.
	LoadHistoryPage(ctx context.Context, contextID string, page taskcontext.HistoryPage) ([]taskcontext.Entry, error)

	// GetContext returns the stored record without history.
	GetContext(ctx context.Context, contextID string) (*taskcontext.Record, error)

	// ListContexts returns records for the tenant, newest first.
	ListContexts(ctx context.Context, filter taskcontext.ListFilter) ([]taskcontext.Record, error)
}
