package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/OnboardForge/internal/adapter/stream"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
	"github.com/Strob0t/OnboardForge/internal/resilience"
	"github.com/Strob0t/OnboardForge/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

const (
	defaultListLimit    = 50
	defaultHistoryLimit = 200
	maxPageLimit        = 1000
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks        *service.TaskService
	Templates    *service.TemplateService
	Orchestrator *service.Orchestrator
	Gateway      *stream.Gateway
	Agents       *agentbackend.Registry
	Breakers     *resilience.BreakerSet
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.Templates.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "templates unavailable")
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

// GetTemplate handles GET /api/v1/templates/{id}?version=N
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	version, ok := queryInt(w, r, "version", 0)
	if !ok {
		return
	}
	tpl, err := h.Templates.Get(r.Context(), urlParam(r, "id"), version)
	if err != nil {
		writeDomainError(w, err, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// ---------------------------------------------------------------------------
// Task contexts
// ---------------------------------------------------------------------------

// CreateContext handles POST /api/v1/contexts
func (h *Handlers) CreateContext(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.CreateRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.TemplateID, "task_template_id") {
		return
	}

	tc, err := h.Tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "template not found")
		return
	}
	w.Header().Set("Location", "/api/v1/contexts/"+tc.ID)
	writeJSON(w, http.StatusCreated, tc)
}

// ListContexts handles GET /api/v1/contexts?template_id=&limit=&offset=
func (h *Handlers) ListContexts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	recs, err := h.Tasks.List(r.Context(), taskcontext.ListFilter{
		TemplateID: r.URL.Query().Get("template_id"),
		Limit:      min(limit, maxPageLimit),
		Offset:     offset,
	})
	if err != nil {
		writeDomainError(w, err, "contexts unavailable")
		return
	}
	if recs == nil {
		recs = []taskcontext.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetContext handles GET /api/v1/contexts/{id}
func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	tc, err := h.Tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// GetHistory handles GET /api/v1/contexts/{id}/history?after_sequence=&limit=
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after_sequence"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		after = n
	}
	limit, ok := queryInt(w, r, "limit", defaultHistoryLimit)
	if !ok {
		return
	}

	entries, err := h.Tasks.History(r.Context(), urlParam(r, "id"), taskcontext.HistoryPage{
		AfterSequence: after,
		Limit:         min(limit, maxPageLimit),
	})
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	if entries == nil {
		entries = []taskcontext.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AppendEntry handles POST /api/v1/contexts/{id}/entries
func (h *Handlers) AppendEntry(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[taskcontext.NewEntry](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	entry, err := h.Tasks.AppendExternal(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ---------------------------------------------------------------------------
// Orchestration
// ---------------------------------------------------------------------------

// RunContext handles POST /api/v1/contexts/{id}/run. A run that ends in a
// recorded terminal failure still answers 200 with the outcome; the failure is
// part of the context's history, not a request error.
func (h *Handlers) RunContext(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orchestrator.Run(r.Context(), urlParam(r, "id"))
	if err != nil && !out.State.IsTerminal() {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SubmitUIResponse handles POST /api/v1/contexts/{id}/ui-responses
func (h *Handlers) SubmitUIResponse(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.UIResponse](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.RequestID, "ui_request_id") {
		return
	}

	entry, err := h.Orchestrator.SubmitUIResponse(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "ui request not found")
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

type agentStatus struct {
	Role    agent.Role       `json:"role"`
	Breaker resilience.State `json:"breaker"`
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	states := map[string]resilience.State{}
	if h.Breakers != nil {
		states = h.Breakers.States()
	}

	roles := h.Agents.Available()
	out := make([]agentStatus, 0, len(roles))
	for _, role := range roles {
		st, ok := states[string(role)]
		if !ok {
			st = resilience.StateClosed
		}
		out = append(out, agentStatus{Role: role, Breaker: st})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// StreamEvents handles GET /api/v1/contexts/{id}/events (Server-Sent Events).
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if err := h.Gateway.ServeSSE(w, r, urlParam(r, "id")); err != nil {
		writeStreamError(w, err)
	}
}

// StreamWS handles GET /api/v1/contexts/{id}/ws
func (h *Handlers) StreamWS(w http.ResponseWriter, r *http.Request) {
	if err := h.Gateway.ServeWS(w, r, urlParam(r, "id")); err != nil {
		writeStreamError(w, err)
	}
}

// writeStreamError maps a session open failure. Nothing has been written yet.
func writeStreamError(w http.ResponseWriter, err error) {
	writeDomainError(w, err, "context not found")
}
