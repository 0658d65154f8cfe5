package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
)

const healthTimeout = 2 * time.Second

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthStatus struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Queue   string `json:"queue"`
	Version string `json:"version"`
}

// Health returns a handler for GET /health. It answers 503 when the store
// does not respond or the queue is disconnected.
func Health(store Pinger, queue messagequeue.Queue, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Store: "ok", Queue: "ok", Version: version}

		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if store != nil {
			if err := store.Ping(ctx); err != nil {
				status.Status, status.Store = "degraded", err.Error()
			}
		}
		if queue != nil && !queue.IsConnected() {
			status.Status, status.Queue = "degraded", "disconnected"
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
