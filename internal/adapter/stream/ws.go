package stream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
)

const wsWriteTimeout = 5 * time.Second

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, ev broadcast.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, t.conn, ev)
}

func (t *wsTransport) Heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return t.conn.Ping(ctx)
}

// ServeWS is the WebSocket variant of ServeSSE. Messages are the JSON
// encoding of broadcast.Event; client messages are ignored.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, contextID string) error {
	s, err := g.Open(r.Context(), contextID, r.URL.Query().Get("client_id"))
	if err != nil {
		return err
	}
	g.metrics.StreamOpened(r.Context(), "websocket", 1)
	defer g.metrics.StreamOpened(r.Context(), "websocket", -1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		s.Close()
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return nil
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// CloseRead consumes client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := g.Run(ctx, s, &wsTransport{conn: conn}); err != nil {
		slog.DebugContext(ctx, "websocket client gone", "context_id", contextID, "error", err)
	}
	return nil
}
