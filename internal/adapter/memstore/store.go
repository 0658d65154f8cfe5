// Package memstore is the in-process eventstore.Store used for single-node
// deployments and tests. Histories live in memory and vanish on restart.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/middleware"
)

type stream struct {
	mu      sync.Mutex // serializes sequence allocation for one context
	rec     taskcontext.Record
	entries []taskcontext.Entry
}

// Store keeps contexts in a map guarded by an RWMutex; each context has its
// own mutex so appends to different contexts never contend.
type Store struct {
	mu      sync.RWMutex
	streams map[string]*stream
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{streams: make(map[string]*stream), now: time.Now}
}

// CreateContext stores rec and its seed entry. The record becomes visible
// only together with the seed entry.
func (s *Store) CreateContext(ctx context.Context, rec *taskcontext.Record, seed taskcontext.NewEntry) (*taskcontext.Entry, error) {
	if rec.ID == "" {
		return nil, domain.Validationf("context id is required")
	}
	data, err := cloneData(seed.Data)
	if err != nil {
		return nil, fmt.Errorf("create context %s: %w", rec.ID, err)
	}

	r := *rec
	r.TenantID = middleware.TenantIDFromContext(ctx)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	e := taskcontext.Entry{
		ID:             uuid.NewString(),
		ContextID:      r.ID,
		Timestamp:      r.CreatedAt,
		SequenceNumber: 1,
		Actor:          seed.Actor,
		Operation:      seed.Operation,
		Data:           data,
		Reasoning:      seed.Reasoning,
		Trigger:        seed.Trigger,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.streams[r.ID]; exists {
		return nil, fmt.Errorf("create context %s: %w", r.ID, domain.ErrConflict)
	}
	s.streams[r.ID] = &stream{rec: r, entries: []taskcontext.Entry{e}}
	rec.TenantID, rec.CreatedAt = r.TenantID, r.CreatedAt

	out := e
	return &out, nil
}

// Append assigns the next sequence number under the context's mutex.
func (s *Store) Append(ctx context.Context, contextID string, ne taskcontext.NewEntry) (*taskcontext.Entry, error) {
	st, err := s.lookup(ctx, contextID)
	if err != nil {
		return nil, err
	}
	data, err := cloneData(ne.Data)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", contextID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e := taskcontext.Entry{
		ID:             uuid.NewString(),
		ContextID:      contextID,
		Timestamp:      s.now().UTC(),
		SequenceNumber: int64(len(st.entries)) + 1,
		Actor:          ne.Actor,
		Operation:      ne.Operation,
		Data:           data,
		Reasoning:      ne.Reasoning,
		Trigger:        ne.Trigger,
	}
	st.entries = append(st.entries, e)
	return &e, nil
}

// LoadHistory returns a copy of the full history.
func (s *Store) LoadHistory(ctx context.Context, contextID string) ([]taskcontext.Entry, error) {
	return s.LoadHistoryPage(ctx, contextID, taskcontext.HistoryPage{})
}

// LoadHistoryPage returns entries with sequence > AfterSequence, at most Limit
// of them (0 means all).
func (s *Store) LoadHistoryPage(ctx context.Context, contextID string, page taskcontext.HistoryPage) ([]taskcontext.Entry, error) {
	st, err := s.lookup(ctx, contextID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	// entries[i] holds sequence i+1
	from := max(page.AfterSequence, 0)
	if from > int64(len(st.entries)) {
		return []taskcontext.Entry{}, nil
	}
	window := st.entries[from:]
	if page.Limit > 0 && len(window) > page.Limit {
		window = window[:page.Limit]
	}
	return slices.Clone(window), nil
}

// GetContext returns the record.
func (s *Store) GetContext(ctx context.Context, contextID string) (*taskcontext.Record, error) {
	st, err := s.lookup(ctx, contextID)
	if err != nil {
		return nil, err
	}
	rec := st.rec
	return &rec, nil
}

// ListContexts returns the tenant's records, newest first.
func (s *Store) ListContexts(ctx context.Context, f taskcontext.ListFilter) ([]taskcontext.Record, error) {
	tenant := middleware.TenantIDFromContext(ctx)

	s.mu.RLock()
	var out []taskcontext.Record
	for _, st := range s.streams {
		if st.rec.TenantID != tenant {
			continue
		}
		if f.TemplateID != "" && st.rec.TemplateID != f.TemplateID {
			continue
		}
		out = append(out, st.rec)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b taskcontext.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []taskcontext.Record{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Ping always succeeds; it lets the health endpoint treat every backend alike.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) lookup(ctx context.Context, contextID string) (*stream, error) {
	s.mu.RLock()
	st, ok := s.streams[contextID]
	s.mu.RUnlock()
	if !ok || st.rec.TenantID != middleware.TenantIDFromContext(ctx) {
		return nil, fmt.Errorf("context %s: %w", contextID, domain.ErrNotFound)
	}
	return st, nil
}

// cloneData round-trips through JSON so stored entries share nothing with the
// caller and carry the same value types a JSONB column would return.
func cloneData(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, domain.Validationf("entry data is not JSON-encodable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
