// Package eventbus is the in-process broadcast.Bus. Subscribers are kept per
// context and events are fanned out synchronously on the publisher's goroutine.
// The bus is single-process: instances behind a load balancer do not see each
// other's events.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
)

// HistoryLoader is the part of the event store the bus needs for replay.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, contextID string) ([]taskcontext.Entry, error)
}

type subscription struct {
	id      string
	token   uint64
	handler broadcast.Handler

	mu        sync.Mutex // orders replay against live delivery
	replaying bool
	pending   []broadcast.Event
	lastSeq   int64
}

// Bus implements broadcast.Bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*subscription
	history HistoryLoader
	tokens  atomic.Uint64
}

var _ broadcast.Bus = (*Bus)(nil)

// New creates a bus. history may be nil, in which case Subscribe ignores
// skipHistory=false.
func New(history HistoryLoader) *Bus {
	return &Bus{subs: make(map[string]map[string]*subscription), history: history}
}

// Broadcast delivers ev to the current subscribers of contextID.
func (b *Bus) Broadcast(ctx context.Context, contextID string, ev broadcast.Event) {
	if ev.ContextID == "" {
		ev.ContextID = contextID
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[contextID]))
	for _, s := range b.subs[contextID] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(ctx, ev)
	}
}

// Subscribe registers handler. A second subscription with the same
// subscriberID replaces the first.
func (b *Bus) Subscribe(ctx context.Context, contextID, subscriberID string, handler broadcast.Handler, skipHistory bool) (func(), error) {
	replay := !skipHistory && b.history != nil
	s := &subscription{
		id:        subscriberID,
		token:     b.tokens.Add(1),
		handler:   handler,
		replaying: replay,
	}

	b.mu.Lock()
	if b.subs[contextID] == nil {
		b.subs[contextID] = make(map[string]*subscription)
	}
	b.subs[contextID][subscriberID] = s
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { b.remove(contextID, s) })
	}

	if replay {
		if err := b.replay(ctx, contextID, s); err != nil {
			unsubscribe()
			return nil, err
		}
	}

	slog.DebugContext(ctx, "bus subscribe", "context_id", contextID, "subscriber", subscriberID, "replay", replay)
	return unsubscribe, nil
}

// replay sends persisted history, then releases live events that arrived
// meanwhile and are newer than the replayed tail.
func (b *Bus) replay(ctx context.Context, contextID string, s *subscription) error {
	history, err := b.history.LoadHistory(ctx, contextID)
	if err != nil {
		return fmt.Errorf("replay history for %s: %w", contextID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range history {
		e := history[i]
		s.call(ctx, broadcast.Event{
			Type:      broadcast.EventAdded,
			ContextID: contextID,
			Sequence:  e.SequenceNumber,
			Payload:   e,
			Timestamp: e.Timestamp,
		})
		s.lastSeq = e.SequenceNumber
	}
	pending := s.pending
	s.pending, s.replaying = nil, false
	for _, ev := range pending {
		if ev.Sequence != 0 && ev.Sequence <= s.lastSeq {
			continue
		}
		s.call(ctx, ev)
	}
	return nil
}

func (s *subscription) deliver(ctx context.Context, ev broadcast.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaying {
		s.pending = append(s.pending, ev)
		return
	}
	s.call(ctx, ev)
}

// call must be invoked with s.mu held.
func (s *subscription) call(ctx context.Context, ev broadcast.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "bus subscriber panicked",
				"context_id", ev.ContextID, "subscriber", s.id, "event", ev.Type, "panic", r)
		}
	}()
	s.handler(ev)
}

func (b *Bus) remove(contextID string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[contextID]
	if cur, ok := subs[s.id]; ok && cur.token == s.token {
		delete(subs, s.id)
	}
	if len(subs) == 0 {
		delete(b.subs, contextID)
	}
}

// SubscriberCount returns the number of live subscriptions for contextID.
func (b *Bus) SubscriberCount(contextID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[contextID])
}
