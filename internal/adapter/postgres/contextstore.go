package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
)

// ContextStore implements eventstore.Store on PostgreSQL. Sequence numbers
// are allocated by incrementing task_contexts.last_sequence inside the append
// transaction, so the row lock on the context is the only point where
// concurrent writers to one context are serialized.
type ContextStore struct {
	pool *pgxpool.Pool
}

// NewContextStore creates a store backed by the given connection pool.
func NewContextStore(pool *pgxpool.Pool) *ContextStore {
	return &ContextStore{pool: pool}
}

// Ping checks connectivity for the health endpoint.
func (s *ContextStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateContext inserts the record and its seed entry in one transaction.
func (s *ContextStore) CreateContext(ctx context.Context, rec *taskcontext.Record, seed taskcontext.NewEntry) (*taskcontext.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(err, "begin create context")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tid := tenantFromCtx(ctx)
	err = tx.QueryRow(ctx,
		`INSERT INTO task_contexts (id, tenant_id, template_id, template_version, template_snapshot, last_sequence)
		 VALUES ($1, $2, $3, $4, $5, 1)
		 RETURNING created_at`,
		rec.ID, tid, rec.TemplateID, rec.TemplateVersion, rec.TemplateSnapshot,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "insert context %s", rec.ID)
	}
	rec.TenantID = tid

	e, err := insertEntry(ctx, tx, tid, rec.ID, 1, seed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit create context %s", rec.ID)
	}
	return e, nil
}

// Append allocates the next sequence number and inserts the entry.
func (s *ContextStore) Append(ctx context.Context, contextID string, ne taskcontext.NewEntry) (*taskcontext.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(err, "begin append")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tid := tenantFromCtx(ctx)
	var seq int64
	err = tx.QueryRow(ctx,
		`UPDATE task_contexts SET last_sequence = last_sequence + 1
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING last_sequence`,
		contextID, tid,
	).Scan(&seq)
	if err != nil {
		return nil, wrapErr(err, "allocate sequence for %s", contextID)
	}

	e, err := insertEntry(ctx, tx, tid, contextID, seq, ne)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit append to %s", contextID)
	}
	return e, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, tid, contextID string, seq int64, ne taskcontext.NewEntry) (*taskcontext.Entry, error) {
	data := ne.Data
	if data == nil {
		data = map[string]any{}
	}
	e := &taskcontext.Entry{
		ID:             uuid.NewString(),
		ContextID:      contextID,
		SequenceNumber: seq,
		Actor:          ne.Actor,
		Operation:      ne.Operation,
		Data:           data,
		Reasoning:      ne.Reasoning,
		Trigger:        ne.Trigger,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO context_entries
		   (id, context_id, tenant_id, sequence_number, actor_type, actor_id, actor_version, operation, data, reasoning, trigger_info)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		e.ID, contextID, tid, seq, string(e.Actor.Type), e.Actor.ID, e.Actor.Version,
		string(e.Operation), data, e.Reasoning, e.Trigger,
	).Scan(&e.Timestamp)
	if err != nil {
		return nil, wrapErr(err, "insert entry %d for %s", seq, contextID)
	}
	return e, nil
}

const entryColumns = `id::text, context_id, created_at, sequence_number, actor_type, actor_id, actor_version, operation, data, reasoning, trigger_info`

func scanEntry(row scannable) (taskcontext.Entry, error) {
	var e taskcontext.Entry
	var actorType, op string
	err := row.Scan(&e.ID, &e.ContextID, &e.Timestamp, &e.SequenceNumber,
		&actorType, &e.Actor.ID, &e.Actor.Version, &op, &e.Data, &e.Reasoning, &e.Trigger)
	e.Actor.Type = taskcontext.ActorType(actorType)
	e.Operation = taskcontext.Operation(op)
	return e, err
}

// LoadHistory returns the full history ordered by sequence number.
func (s *ContextStore) LoadHistory(ctx context.Context, contextID string) ([]taskcontext.Entry, error) {
	return s.LoadHistoryPage(ctx, contextID, taskcontext.HistoryPage{})
}

// LoadHistoryPage returns entries after page.AfterSequence; Limit 0 means all.
func (s *ContextStore) LoadHistoryPage(ctx context.Context, contextID string, page taskcontext.HistoryPage) ([]taskcontext.Entry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM context_entries
		 WHERE context_id = $1 AND tenant_id = $2 AND sequence_number > $3
		 ORDER BY sequence_number ASC
		 LIMIT NULLIF($4::int, 0)`, entryColumns),
		contextID, tenantFromCtx(ctx), page.AfterSequence, page.Limit)
	if err != nil {
		return nil, wrapErr(err, "load history %s", contextID)
	}
	defer rows.Close()

	entries := []taskcontext.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapErr(err, "scan entry of %s", contextID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "load history %s", contextID)
	}

	// An empty page is ambiguous: distinguish "no such context" from "no newer entries".
	if len(entries) == 0 {
		if _, err := s.GetContext(ctx, contextID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

const contextColumns = `id, template_id, template_version, tenant_id, created_at, template_snapshot`

func scanRecord(row scannable) (taskcontext.Record, error) {
	var r taskcontext.Record
	err := row.Scan(&r.ID, &r.TemplateID, &r.TemplateVersion, &r.TenantID, &r.CreatedAt, &r.TemplateSnapshot)
	return r, err
}

// GetContext returns the record without history.
func (s *ContextStore) GetContext(ctx context.Context, contextID string) (*taskcontext.Record, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM task_contexts WHERE id = $1 AND tenant_id = $2`, contextColumns),
		contextID, tenantFromCtx(ctx))
	r, err := scanRecord(row)
	if err != nil {
		return nil, wrapErr(err, "get context %s", contextID)
	}
	return &r, nil
}

// ListContexts returns the tenant's records, newest first.
func (s *ContextStore) ListContexts(ctx context.Context, f taskcontext.ListFilter) ([]taskcontext.Record, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM task_contexts
		 WHERE tenant_id = $1 AND ($2 = '' OR template_id = $2)
		 ORDER BY created_at DESC, id ASC
		 LIMIT NULLIF($3::int, 0) OFFSET $4`, contextColumns),
		tenantFromCtx(ctx), f.TemplateID, f.Limit, max(f.Offset, 0))
	if err != nil {
		return nil, wrapErr(err, "list contexts")
	}
	defer rows.Close()

	recs := []taskcontext.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrapErr(err, "scan context")
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
