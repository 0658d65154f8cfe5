// Package stream pushes context events to clients over SSE and WebSocket.
// Both transports share one session model: subscribe to the bus first, load
// the snapshot second, and drop buffered events the snapshot already covers.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/OnboardForge/internal/adapter/otel"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
)

// ContextLoader returns a tenant-scoped context. Contexts of other tenants
// must be reported as domain.ErrNotFound.
type ContextLoader interface {
	Get(ctx context.Context, contextID string) (*taskcontext.TaskContext, error)
}

// Gateway opens per-client sessions.
type Gateway struct {
	bus       broadcast.Bus
	contexts  ContextLoader
	heartbeat time.Duration
	buffer    int
	active    atomic.Int64
	metrics   *cfotel.Metrics
}

// NewGateway creates a gateway. heartbeat is the keep-alive interval and
// buffer the per-session queue size; events beyond it are dropped.
func NewGateway(bus broadcast.Bus, contexts ContextLoader, heartbeat time.Duration, buffer int) *Gateway {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if buffer < 1 {
		buffer = 64
	}
	return &Gateway{bus: bus, contexts: contexts, heartbeat: heartbeat, buffer: buffer}
}

// SetMetrics enables session and drop counters.
func (g *Gateway) SetMetrics(m *cfotel.Metrics) { g.metrics = m }

// ActiveSessions reports open sessions across both transports.
func (g *Gateway) ActiveSessions() int64 { return g.active.Load() }

// Session is one client's view of one context.
type Session struct {
	ContextID string
	ClientID  string
	Snapshot  *taskcontext.TaskContext

	events      chan broadcast.Event
	dropped     atomic.Int64
	unsubscribe func()
	closed      atomic.Bool
	gw          *Gateway
}

// Open subscribes clientID to contextID and loads the snapshot. An empty
// clientID gets a generated one. The bus subscription is always suffixed, so a
// reused client_id opens a second session instead of replacing the first.
func (g *Gateway) Open(ctx context.Context, contextID, clientID string) (*Session, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	subscriberID := clientID + "#" + uuid.NewString()
	s := &Session{
		ContextID: contextID,
		ClientID:  clientID,
		events:    make(chan broadcast.Event, g.buffer),
		gw:        g,
	}

	unsub, err := g.bus.Subscribe(ctx, contextID, subscriberID, s.enqueue, true)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", contextID, err)
	}
	s.unsubscribe = unsub

	tc, err := g.contexts.Get(ctx, contextID)
	if err != nil {
		unsub()
		return nil, err
	}
	s.Snapshot = tc
	g.active.Add(1)
	return s, nil
}

// enqueue never blocks the bus: a full queue drops the event.
func (s *Session) enqueue(ev broadcast.Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded for this session.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.unsubscribe()
	s.gw.active.Add(-1)
	if n := s.dropped.Load(); n > 0 {
		s.gw.metrics.RecordDropped(context.Background(), n)
		slog.Warn("stream session dropped events", "context_id", s.ContextID, "client_id", s.ClientID, "dropped", n)
	}
}

// Transport writes frames for one connection.
type Transport interface {
	Send(ctx context.Context, ev broadcast.Event) error
	Heartbeat(ctx context.Context) error
}

// Run writes the CONTEXT_INITIALIZED snapshot, then live events and
// heartbeats until ctx ends or a write fails. It closes the session.
func (g *Gateway) Run(ctx context.Context, s *Session, t Transport) error {
	defer s.Close()
	ctx = logger.WithContextID(ctx, s.ContextID)

	snapSeq := s.Snapshot.State.LastSequence
	if err := t.Send(ctx, broadcast.Event{
		Type:      broadcast.EventContextInitialized,
		ContextID: s.ContextID,
		Sequence:  snapSeq,
		Payload:   s.Snapshot,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "stream closed", "client_id", s.ClientID, "dropped", s.Dropped())
			return nil
		case <-ticker.C:
			if err := t.Heartbeat(ctx); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case ev := <-s.events:
			if ev.Sequence > 0 && ev.Sequence <= snapSeq {
				continue // already part of the snapshot
			}
			if err := t.Send(ctx, ev); err != nil {
				return fmt.Errorf("send %s: %w", ev.Type, err)
			}
		}
	}
}
