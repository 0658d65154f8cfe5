package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
)

// sseTransport frames events as text/event-stream.
type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (t *sseTransport) Send(_ context.Context, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("marshal sse event", "type", ev.Type, "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	if ev.Sequence > 0 {
		if _, err := fmt.Fprintf(t.w, "id: %d\n", ev.Sequence); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) Heartbeat(context.Context) error {
	if _, err := fmt.Fprint(t.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// ServeSSE streams contextID to the client. Errors from opening the session
// (unknown context, foreign tenant) are returned before anything is written
// so the caller can map them to a status code.
func (g *Gateway) ServeSSE(w http.ResponseWriter, r *http.Request, contextID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	s, err := g.Open(r.Context(), contextID, r.URL.Query().Get("client_id"))
	if err != nil {
		return err
	}
	g.metrics.StreamOpened(r.Context(), "sse", 1)
	defer g.metrics.StreamOpened(r.Context(), "sse", -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := g.Run(r.Context(), s, &sseTransport{w: w, flusher: flusher}); err != nil {
		slog.DebugContext(r.Context(), "sse client gone", "context_id", contextID, "error", err)
	}
	return nil
}
