package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/OnboardForge/internal/adapter/otel"
	"github.com/Strob0t/OnboardForge/internal/config"
	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/logger"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
	"github.com/Strob0t/OnboardForge/internal/port/broadcast"
	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
	"github.com/Strob0t/OnboardForge/internal/resilience"
)

const orchestratorActor = "orchestrator"

// OrchestratorConfig bounds phase execution.
type OrchestratorConfig struct {
	MaxParallel   int
	MaxAgentCalls int // process-wide; 0 means unbounded
	AgentTimeout  time.Duration
	PauseTTL      time.Duration
}

// OrchestratorConfigFrom converts the loaded configuration section.
func OrchestratorConfigFrom(c config.Orchestrator) OrchestratorConfig {
	return OrchestratorConfig{
		MaxParallel:   c.MaxParallel,
		MaxAgentCalls: c.MaxAgentCalls,
		AgentTimeout:  c.AgentTimeout,
		PauseTTL:      c.PauseTTL,
	}
}

// Orchestrator drives a context through its template's phases. It keeps no
// state between runs: progress is replayed from history every time, so any
// instance can pick up any context. Runs on one context are serialized.
type Orchestrator struct {
	tasks    *TaskService
	agents   *agentbackend.Registry
	breakers *resilience.BreakerSet
	calls    *resilience.Bulkhead
	queue    messagequeue.Queue
	metrics  *cfotel.Metrics
	notify   *NotificationService
	cfg      OrchestratorConfig
	locks    *keyedMutex
	now      func() time.Time
}

var _ agentbackend.Agent = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(tasks *TaskService, agents *agentbackend.Registry, breakers *resilience.BreakerSet, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Orchestrator{
		tasks:    tasks,
		agents:   agents,
		breakers: breakers,
		calls:    resilience.NewBulkhead(cfg.MaxAgentCalls),
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// SetQueue enables resume triggers after UI responses.
func (o *Orchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetMetrics enables run and agent call metrics.
func (o *Orchestrator) SetMetrics(m *cfotel.Metrics) { o.metrics = m }

// SetNotifications enables operator notifications about run outcomes.
func (o *Orchestrator) SetNotifications(n *NotificationService) { o.notify = n }

// Run advances the context as far as it can go without user input.
//
// The returned error is non-nil when the run ended in a failure state
// (configuration, required agent failure, unmet goals, expiry) or could not
// record its progress. A terminal or still-waiting context is a no-op.
func (o *Orchestrator) Run(ctx context.Context, contextID string) (orchestration.Outcome, error) {
	unlock := o.locks.Lock(contextID)
	defer unlock()

	ctx = logger.WithContextID(ctx, contextID)
	ctx, span := cfotel.StartOrchestrationSpan(ctx, contextID)
	out, err := o.run(ctx, contextID)
	cfotel.EndSpan(span, err)

	if out.State != "" && !out.Noop {
		o.metrics.RecordRun(ctx, string(out.State))
		if err == nil || out.State.IsTerminal() {
			o.notifyOutcome(ctx, out)
		}
	}
	return out, err
}

// notifyOutcome sends in the background so slow webhooks never hold the
// context lock.
func (o *Orchestrator) notifyOutcome(ctx context.Context, out orchestration.Outcome) {
	if o.notify == nil || o.notify.NotifierCount() == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		o.notify.NotifyOutcome(ctx, out)
	}()
}

func (o *Orchestrator) run(ctx context.Context, contextID string) (orchestration.Outcome, error) {
	tc, err := o.tasks.Get(ctx, contextID)
	if err != nil {
		return orchestration.Outcome{ContextID: contextID}, err
	}
	if tc.Terminal() {
		return orchestration.Outcome{
			ContextID: contextID,
			State:     orchestration.StateFor(&tc.State),
			Phase:     tc.State.Phase,
			Noop:      true,
		}, nil
	}

	r := o.newRun(tc)
	if err := r.tpl.Validate(); err != nil {
		slog.ErrorContext(ctx, "template snapshot invalid", "template", r.tpl.Key(), "error", err)
		return r.fail(ctx, "", orchestration.CodeTemplateInvalid, err)
	}

	if batch := tc.State.Pause; batch != nil {
		if !r.progress.BatchAnswered(batch) {
			if batch.Expired(o.now()) {
				return r.expire(ctx, batch)
			}
			return orchestration.Outcome{
				ContextID: contextID,
				State:     orchestration.StateAwaitingUserInput,
				Phase:     batch.PhaseID,
				BatchID:   batch.ID,
				Noop:      true,
			}, nil
		}
		if err := r.resume(ctx, batch); err != nil {
			return r.outcome(orchestration.StateAwaitingUserInput), err
		}
	}

	return r.advance(ctx)
}

func (o *Orchestrator) newRun(tc *taskcontext.TaskContext) *run {
	tpl := &tc.TemplateSnapshot
	return &run{
		o:        o,
		tc:       tc,
		tpl:      tpl,
		progress: orchestration.Replay(tpl, tc.History),
	}
}

// run is the working state of one Run call. mu guards tc, progress, pending and
// failure while a parallel group records its results.
type run struct {
	o        *Orchestrator
	tpl      *template.Template
	mu       sync.Mutex
	tc       *taskcontext.TaskContext
	progress *orchestration.Progress
	pending  []uirequest.Request
	failure  error
}

func (r *run) view() *taskcontext.TaskContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tc
}

func (r *run) outcome(state orchestration.State) orchestration.Outcome {
	tc := r.view()
	return orchestration.Outcome{ContextID: tc.ID, State: state, Phase: tc.State.Phase}
}

// appendLocked writes e and swaps in a new view of the context. Views handed
// to agents are never mutated. The caller holds r.mu.
func (r *run) appendLocked(ctx context.Context, e taskcontext.NewEntry) (*taskcontext.Entry, error) {
	entry, err := r.o.tasks.AppendEntry(ctx, r.tc.ID, e)
	if err != nil {
		return nil, err
	}

	var tc *taskcontext.TaskContext
	if entry.SequenceNumber == r.tc.State.LastSequence+1 {
		tc, err = taskcontext.Rebuild(r.tc.Record, append(slices.Clip(r.tc.History), *entry))
	} else {
		// Someone else appended in between; start from the stored history.
		tc, err = r.o.tasks.Get(ctx, r.tc.ID)
	}
	if err != nil {
		return nil, err
	}
	r.tc = tc
	r.progress.Observe(entry)
	return entry, nil
}

func (r *run) append(ctx context.Context, e taskcontext.NewEntry) (*taskcontext.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(ctx, e)
}

func systemEntry(op taskcontext.Operation, data map[string]any, reasoning string, details map[string]any) taskcontext.NewEntry {
	return taskcontext.NewEntry{
		Actor:     taskcontext.Actor{Type: taskcontext.ActorSystem, ID: orchestratorActor},
		Operation: op,
		Data:      data,
		Reasoning: reasoning,
		Trigger:   taskcontext.Trigger{Type: "orchestration", Source: orchestratorActor, Details: details},
	}
}

func (r *run) resume(ctx context.Context, batch *uirequest.Batch) error {
	_, err := r.append(ctx, systemEntry(taskcontext.OpOrchestrationResumed,
		map[string]any{
			taskcontext.KeyStatus: string(taskcontext.StatusInProgress),
			taskcontext.KeyPhase:  batch.PhaseID,
			taskcontext.KeyPause:  nil,
		},
		fmt.Sprintf("All %d requests of batch %s were answered; resuming phase %s", len(batch.Requests), batch.ID, batch.PhaseID),
		map[string]any{taskcontext.DetailBatchID: batch.ID, taskcontext.DetailPhaseID: batch.PhaseID},
	))
	if err == nil {
		slog.InfoContext(ctx, "orchestration resumed", "batch_id", batch.ID, "phase_id", batch.PhaseID)
	}
	return err
}

func (r *run) advance(ctx context.Context) (orchestration.Outcome, error) {
	for idx := range r.tpl.Phases {
		phase := &r.tpl.Phases[idx]
		if !r.progress.PhaseSettled(phase) {
			slog.DebugContext(ctx, "running phase", "phase_id", phase.ID, "index", idx)
			if err := r.runPhase(ctx, phase); err != nil {
				return r.outcome(orchestration.StateRunningPhase), err
			}
			if r.failure != nil {
				return r.fail(ctx, phase.ID, orchestration.CodeRequiredFailed, r.failure)
			}
			if len(r.pending) > 0 {
				return r.pause(ctx, phase)
			}
			if !r.progress.PhaseSettled(phase) {
				return r.fail(ctx, phase.ID, orchestration.CodeIntegrity,
					fmt.Errorf("phase %s has unsettled subtasks without pending input: %w", phase.ID, domain.ErrIntegrity))
			}
		}
		if err := r.recordPhase(ctx, phase); err != nil {
			return r.outcome(orchestration.StateRunningPhase), err
		}
	}
	return r.complete(ctx)
}

// recordPhase appends phase_completed the first time a phase settles.
func (r *run) recordPhase(ctx context.Context, phase *template.Phase) error {
	if r.progress.PhaseRecorded(phase.ID) {
		return nil
	}
	_, err := r.append(ctx, systemEntry(taskcontext.OpPhaseCompleted,
		map[string]any{
			taskcontext.KeyPhase:        phase.ID,
			taskcontext.KeyCompleteness: r.progress.Completeness(),
		},
		fmt.Sprintf("Phase %s completed", phase.ID),
		map[string]any{taskcontext.DetailPhaseID: phase.ID},
	))
	if err == nil {
		slog.InfoContext(ctx, "phase completed", "phase_id", phase.ID)
	}
	return err
}

// group is a run of subtasks dispatched together: one sequential subtask or a
// maximal stretch of consecutive parallel ones.
type group struct {
	parallel bool
	subtasks []template.Subtask
}

func groupSubtasks(subtasks []template.Subtask) []group {
	var out []group
	for _, st := range subtasks {
		if st.ParallelExecution && len(out) > 0 && out[len(out)-1].parallel {
			out[len(out)-1].subtasks = append(out[len(out)-1].subtasks, st)
			continue
		}
		out = append(out, group{parallel: st.ParallelExecution, subtasks: []template.Subtask{st}})
	}
	return out
}

// runPhase dispatches every dispatchable subtask of phase. A sequential subtask
// is held back once the phase is waiting on input; a required failure stops
// the phase after the current group.
func (r *run) runPhase(ctx context.Context, phase *template.Phase) error {
	for _, g := range groupSubtasks(phase.Subtasks) {
		var todo []template.Subtask
		for _, st := range g.subtasks {
			if r.progress.Subtask(phase.ID, st.ID).Dispatchable() {
				todo = append(todo, st)
			}
		}
		if len(todo) == 0 {
			continue
		}
		if !g.parallel && len(r.pending) > 0 {
			continue
		}

		var err error
		if g.parallel {
			err = r.dispatchParallel(ctx, phase, todo)
		} else {
			err = r.dispatch(ctx, phase, todo[0])
		}
		if err != nil {
			return err
		}
		if r.failure != nil {
			return nil
		}
	}
	return nil
}

func (r *run) dispatch(ctx context.Context, phase *template.Phase, st template.Subtask) error {
	resp := r.o.invoke(ctx, phase.ID, st, r.view())
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(ctx, phase, st, resp)
}

func (r *run) dispatchParallel(ctx context.Context, phase *template.Phase, todo []template.Subtask) error {
	view := r.view()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.cfg.MaxParallel)
	for _, st := range todo {
		g.Go(func() error {
			resp := r.o.invoke(gctx, phase.ID, st, view)
			if err := gctx.Err(); err != nil {
				return err
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.recordLocked(gctx, phase, st, resp)
		})
	}
	return g.Wait()
}

// recordLocked turns an agent response into history. Completed and failed
// responses are appended immediately; input requests are held for the batch.
func (r *run) recordLocked(ctx context.Context, phase *template.Phase, st template.Subtask, resp agent.Response) error {
	details := map[string]any{
		taskcontext.DetailPhaseID:   phase.ID,
		taskcontext.DetailSubtaskID: st.ID,
		taskcontext.DetailAgent:     st.Agent,
	}
	entry := taskcontext.NewEntry{
		Actor:     taskcontext.Actor{Type: taskcontext.ActorAgent, ID: st.Agent},
		Reasoning: resp.Reasoning,
		Trigger:   taskcontext.Trigger{Type: "orchestration", Source: orchestratorActor, Details: details},
	}

	switch out := resp.Outcome.(type) {
	case agent.Completed:
		r.progress.Settle(phase.ID, st.ID, orchestration.SubtaskDone)
		entry.Operation = taskcontext.OpAgentCompleted
		entry.Data = agentData(ctx, st.Agent, resp.Data)
		entry.Data[taskcontext.KeyStatus] = string(taskcontext.StatusInProgress)
		entry.Data[taskcontext.KeyPhase] = phase.ID
		entry.Data[taskcontext.KeyCompleteness] = r.progress.Completeness()
		if resp.NextAgent != "" {
			entry.Data["next_agent"] = string(resp.NextAgent)
		}
		_, err := r.appendLocked(ctx, entry)
		return err

	case agent.NeedsInput:
		now := r.o.now().UTC()
		for _, req := range out.Requests {
			// Always fresh: agents re-ask with the same request after a bad answer.
			req.ID = uuid.NewString()
			req.AgentRole = st.Agent
			req.PhaseID = phase.ID
			req.SubtaskID = st.ID
			req.Status = uirequest.StatusPending
			if req.CreatedAt.IsZero() {
				req.CreatedAt = now
			}
			r.pending = append(r.pending, req)
		}
		r.progress.Settle(phase.ID, st.ID, orchestration.SubtaskWaiting)
		slog.InfoContext(ctx, "agent needs input", "phase_id", phase.ID, "subtask_id", st.ID, "requests", len(out.Requests))
		return nil

	case agent.Failed:
		r.progress.Settle(phase.ID, st.ID, orchestration.SubtaskFailed)
		details[taskcontext.DetailErrorCode] = out.Code
		entry.Operation = taskcontext.OpAgentFailed
		if strings.TrimSpace(entry.Reasoning) == "" {
			entry.Reasoning = out.Message
		}
		entry.Data = map[string]any{
			taskcontext.KeyStatus:       string(taskcontext.StatusInProgress),
			taskcontext.KeyPhase:        phase.ID,
			taskcontext.KeyCompleteness: r.progress.Completeness(),
			"error_code":                out.Code,
			"error":                     out.Message,
		}
		if st.Required {
			r.failure = resp.AsError(agent.Role(st.Agent))
			slog.ErrorContext(ctx, "required subtask failed", "phase_id", phase.ID, "subtask_id", st.ID, "code", out.Code, "error", out.Message)
		} else {
			slog.WarnContext(ctx, "optional subtask failed, continuing", "phase_id", phase.ID, "subtask_id", st.ID, "code", out.Code, "error", out.Message)
		}
		_, err := r.appendLocked(ctx, entry)
		return err
	}
	return fmt.Errorf("unhandled agent outcome %T", resp.Outcome)
}

// agentData copies an agent's data, dropping keys only the orchestrator may set.
func agentData(ctx context.Context, role string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+3)
	for k, v := range data {
		if taskcontext.IsReserved(k) {
			slog.WarnContext(ctx, "agent tried to set reserved key", "agent", role, "key", k)
			continue
		}
		out[k] = v
	}
	return out
}

func (r *run) pause(ctx context.Context, phase *template.Phase) (orchestration.Outcome, error) {
	now := r.o.now().UTC()
	batch := &uirequest.Batch{
		ID:        uuid.NewString(),
		PhaseID:   phase.ID,
		WaitingOn: middleware.TenantIDFromContext(ctx),
		Requests:  r.pending,
		CreatedAt: now,
		ExpiresAt: now.Add(r.o.cfg.PauseTTL),
	}
	batch.CollectFields()

	entry, err := r.append(ctx, systemEntry(taskcontext.OpUIRequestsBatched,
		map[string]any{
			taskcontext.KeyStatus:       string(taskcontext.StatusBlocked),
			taskcontext.KeyPhase:        phase.ID,
			taskcontext.KeyPause:        batch,
			taskcontext.KeyCompleteness: r.progress.Completeness(),
		},
		fmt.Sprintf("Phase %s needs user input: %s asking for %s", phase.ID, batch, strings.Join(batch.Fields, ", ")),
		map[string]any{taskcontext.DetailPhaseID: phase.ID, taskcontext.DetailBatchID: batch.ID},
	))
	if err != nil {
		return r.outcome(orchestration.StateRunningPhase), err
	}

	r.o.tasks.Broadcast(ctx, r.tc.ID, broadcast.EventUIRequest, entry.SequenceNumber, batch)
	slog.InfoContext(ctx, "awaiting user input", "phase_id", phase.ID, "batch_id", batch.ID, "requests", len(batch.Requests))

	return orchestration.Outcome{
		ContextID: r.tc.ID,
		State:     orchestration.StateAwaitingUserInput,
		Phase:     phase.ID,
		BatchID:   batch.ID,
	}, nil
}

func (r *run) complete(ctx context.Context) (orchestration.Outcome, error) {
	last := &r.tpl.Phases[len(r.tpl.Phases)-1]

	if missing := r.progress.UnsatisfiedGoals(r.tc.State.Data); len(missing) > 0 {
		return r.fail(ctx, last.ID, orchestration.CodeGoalsUnsatisfied,
			fmt.Errorf("%w: %s", domain.ErrGoalsUnsatisfied, strings.Join(missing, ", ")))
	}

	entry, err := r.append(ctx, systemEntry(taskcontext.OpAllPhasesCompleted,
		map[string]any{
			taskcontext.KeyStatus:       string(taskcontext.StatusCompleted),
			taskcontext.KeyPhase:        last.ID,
			taskcontext.KeyCompleteness: 100,
		},
		fmt.Sprintf("All %d phases completed and every required goal is satisfied", len(r.tpl.Phases)),
		nil,
	))
	if err != nil {
		return r.outcome(orchestration.StateRunningPhase), err
	}

	r.o.tasks.Broadcast(ctx, r.tc.ID, broadcast.EventTaskCompleted, entry.SequenceNumber, r.tc.State)
	slog.InfoContext(ctx, "task context completed", "phases", len(r.tpl.Phases))
	return orchestration.Outcome{ContextID: r.tc.ID, State: orchestration.StateCompleted, Phase: last.ID}, nil
}

// fail appends the terminal orchestration_failed entry and returns cause.
func (r *run) fail(ctx context.Context, phaseID, code string, cause error) (orchestration.Outcome, error) {
	data := map[string]any{
		taskcontext.KeyStatus: string(taskcontext.StatusFailed),
		taskcontext.KeyPause:  nil,
		"error_code":          code,
		"error":               cause.Error(),
	}
	details := map[string]any{taskcontext.DetailErrorCode: code}
	if phaseID != "" {
		data[taskcontext.KeyPhase] = phaseID
		details[taskcontext.DetailPhaseID] = phaseID
	}

	entry, err := r.append(ctx, systemEntry(taskcontext.OpOrchestrationFailed, data,
		fmt.Sprintf("Orchestration failed (%s): %v", code, cause), details))
	if err != nil {
		return r.outcome(orchestration.StateRunningPhase), errors.Join(cause, err)
	}

	r.o.tasks.Broadcast(ctx, r.tc.ID, broadcast.EventError, entry.SequenceNumber, map[string]any{
		"error_code": code,
		"error":      cause.Error(),
	})
	return orchestration.Outcome{
		ContextID: r.tc.ID,
		State:     orchestration.StateFailed,
		Phase:     phaseID,
		ErrorCode: code,
	}, cause
}

// expire closes a pause whose deadline passed before it was fully answered.
func (r *run) expire(ctx context.Context, batch *uirequest.Batch) (orchestration.Outcome, error) {
	msg := fmt.Sprintf("%s expired at %s before every request was answered", batch, batch.ExpiresAt.Format(time.RFC3339))
	entry, err := r.append(ctx, systemEntry(taskcontext.OpUIRequestsExpired,
		map[string]any{
			taskcontext.KeyStatus: string(taskcontext.StatusFailed),
			taskcontext.KeyPause:  nil,
			"error_code":          orchestration.CodeExpired,
			"error":               msg,
		},
		msg,
		map[string]any{
			taskcontext.DetailBatchID:   batch.ID,
			taskcontext.DetailPhaseID:   batch.PhaseID,
			taskcontext.DetailErrorCode: orchestration.CodeExpired,
		},
	))
	if err != nil {
		return r.outcome(orchestration.StateAwaitingUserInput), err
	}

	r.o.tasks.Broadcast(ctx, r.tc.ID, broadcast.EventError, entry.SequenceNumber, map[string]any{
		"error_code": orchestration.CodeExpired,
		"error":      msg,
		"batch_id":   batch.ID,
	})
	slog.WarnContext(ctx, "ui batch expired", "batch_id", batch.ID, "expires_at", batch.ExpiresAt)
	return orchestration.Outcome{
		ContextID: r.tc.ID,
		State:     orchestration.StateExpired,
		Phase:     batch.PhaseID,
		BatchID:   batch.ID,
		ErrorCode: orchestration.CodeExpired,
	}, fmt.Errorf("batch %s: %w", batch.ID, domain.ErrExpired)
}

// invoke calls the agent for one subtask. It never returns an error: every
// dispatch failure becomes an agent.Failed response with a dispatch code.
func (o *Orchestrator) invoke(ctx context.Context, phaseID string, st template.Subtask, tc *taskcontext.TaskContext) agent.Response {
	ctx, span := cfotel.StartAgentSpan(ctx, st.Agent, phaseID, st.ID)
	start := time.Now()

	role := agent.Role(st.Agent)
	req := agent.Request{
		Instruction: st.Instruction,
		Data:        maps.Clone(tc.State.Data),
		PhaseID:     phaseID,
		SubtaskID:   st.ID,
	}
	var resp agent.Response
	if err := o.calls.Run(ctx, func() error {
		resp = o.call(ctx, role, req, tc)
		return nil
	}); err != nil {
		resp = agent.Failf(agent.CodeInternal, "agent %s call cancelled while waiting for a slot", role)
	}

	o.metrics.RecordAgentCall(ctx, st.Agent, resp.Outcome.Kind(), time.Since(start))
	cfotel.EndSpan(span, resp.AsError(role))
	return resp
}

func (o *Orchestrator) call(ctx context.Context, role agent.Role, req agent.Request, tc *taskcontext.TaskContext) agent.Response {
	a, err := o.agents.Get(role)
	if err != nil {
		return agent.Failf(agent.CodeUnknownAgent, "no agent registered for role %q", role)
	}

	var resp agent.Response
	err = o.breakers.Get(string(role)).Execute(func() error {
		var callErr error
		resp, callErr = o.callWithTimeout(ctx, a, req, tc)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return agent.Failf(agent.CodeUnavailable, "agent %s is unavailable: too many recent failures", role)
	}
	return resp
}

type callResult struct {
	resp     agent.Response
	err      error
	panicked bool
}

// callWithTimeout runs the agent in its own goroutine so a stuck agent cannot
// hold the run past AgentTimeout. The error feeds the circuit breaker; the
// response is always usable.
func (o *Orchestrator) callWithTimeout(ctx context.Context, a agentbackend.Agent, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error) {
	role := a.Role()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.ErrorContext(ctx, "agent panicked", "role", role, "panic", p)
				done <- callResult{err: fmt.Errorf("agent %s panicked: %v", role, p), panicked: true}
			}
		}()
		resp, err := a.ProcessRequest(ctx, req, tc)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.panicked:
			return agent.Failf(agent.CodePanic, "agent %s panicked", role), res.err
		case res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() != nil:
			return agent.Failf(agent.CodeTimeout, "agent %s did not answer within %s", role, o.cfg.AgentTimeout), res.err
		case res.err != nil:
			return agent.Failf(agent.CodeInternal, "agent %s: %v", role, res.err), res.err
		}
		if err := res.resp.Validate(); err != nil {
			return agent.Failf(agent.CodeInvalidResponse, "agent %s returned an invalid response: %v", role, err), err
		}
		return res.resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return agent.Failf(agent.CodeTimeout, "agent %s did not answer within %s", role, o.cfg.AgentTimeout), ctx.Err()
		}
		return agent.Failf(agent.CodeInternal, "agent %s call cancelled", role), ctx.Err()
	}
}

// Role implements agentbackend.Agent.
func (o *Orchestrator) Role() agent.Role { return agent.RoleOrchestrator }

// ProcessRequest implements agentbackend.Agent by running the context to its
// next stop and reporting where it stopped.
func (o *Orchestrator) ProcessRequest(ctx context.Context, _ agent.Request, tc *taskcontext.TaskContext) (agent.Response, error) {
	out, err := o.Run(ctx, tc.ID)
	switch out.State {
	case orchestration.StateCompleted:
		return agent.Complete(fmt.Sprintf("Context %s completed", tc.ID),
			map[string]any{"orchestration_state": string(out.State)}), nil
	case orchestration.StateAwaitingUserInput:
		fresh, gerr := o.tasks.Get(ctx, tc.ID)
		if gerr != nil {
			return agent.Response{}, gerr
		}
		if fresh.State.Pause != nil {
			return agent.AskUser(fmt.Sprintf("Context %s is waiting on %s", tc.ID, fresh.State.Pause),
				fresh.State.Pause.Requests...), nil
		}
	case orchestration.StateFailed, orchestration.StateExpired, orchestration.StateCancelled:
		code := out.ErrorCode
		if code == "" {
			code = strings.ToLower(string(out.State))
		}
		msg := fmt.Sprintf("context %s ended %s", tc.ID, out.State)
		if err != nil {
			msg = err.Error()
		}
		return agent.Fail(code, msg), nil
	}
	if err != nil {
		return agent.Response{}, err
	}
	return agent.Complete(fmt.Sprintf("Context %s advanced to %s", tc.ID, out.State),
		map[string]any{"orchestration_state": string(out.State)}), nil
}
