package orchestration

import (
	"math"

	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/template"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

// SubtaskStatus is the replayed status of one subtask.
type SubtaskStatus string

const (
	SubtaskPending  SubtaskStatus = "pending"
	SubtaskWaiting  SubtaskStatus = "awaiting_input"
	SubtaskAnswered SubtaskStatus = "answered"
	SubtaskDone     SubtaskStatus = "completed"
	SubtaskFailed   SubtaskStatus = "failed"
	SubtaskSkipped  SubtaskStatus = "skipped"
)

// Settled reports whether the subtask needs no further dispatch.
func (s SubtaskStatus) Settled() bool {
	return s == SubtaskDone || s == SubtaskFailed || s == SubtaskSkipped
}

// Dispatchable reports whether the subtask should be sent to its agent.
func (s SubtaskStatus) Dispatchable() bool {
	return s == SubtaskPending || s == SubtaskAnswered
}

// SubtaskKey identifies a subtask within a template.
type SubtaskKey struct {
	PhaseID   string
	SubtaskID string
}

// Progress is the orchestrator's working memory, rebuilt from history on every
// run so any instance can pick up any context. Not safe for concurrent use.
type Progress struct {
	tpl       *template.Template
	subtasks  map[SubtaskKey]SubtaskStatus
	answered  map[string]uirequest.Action
	phaseDone map[string]bool
}

// Replay folds a history into progress against the given template snapshot.
// Entries are expected in sequence order.
func Replay(tpl *template.Template, history []taskcontext.Entry) *Progress {
	p := &Progress{
		tpl:       tpl,
		subtasks:  make(map[SubtaskKey]SubtaskStatus, tpl.TotalSubtasks()),
		answered:  make(map[string]uirequest.Action),
		phaseDone: make(map[string]bool, len(tpl.Phases)),
	}
	for i := range history {
		p.Observe(&history[i])
	}
	return p
}

// Observe folds a single entry into the progress.
func (p *Progress) Observe(e *taskcontext.Entry) {
	key := SubtaskKey{
		PhaseID:   e.Trigger.Detail(taskcontext.DetailPhaseID),
		SubtaskID: e.Trigger.Detail(taskcontext.DetailSubtaskID),
	}
	switch e.Operation {
	case taskcontext.OpAgentCompleted:
		p.subtasks[key] = SubtaskDone
	case taskcontext.OpAgentFailed:
		p.subtasks[key] = SubtaskFailed
	case taskcontext.OpSubtaskSkipped:
		p.subtasks[key] = SubtaskSkipped
	case taskcontext.OpUIRequestsBatched:
		batch, err := taskcontext.DecodePause(e.Data[taskcontext.KeyPause])
		if err != nil || batch == nil {
			return
		}
		for _, r := range batch.Requests {
			p.subtasks[SubtaskKey{PhaseID: r.PhaseID, SubtaskID: r.SubtaskID}] = SubtaskWaiting
		}
	case taskcontext.OpUIResponseSubmitted:
		reqID := e.Trigger.Detail(taskcontext.DetailRequestID)
		action := uirequest.Action(e.Trigger.Detail(taskcontext.DetailAction))
		if action == "" {
			action = uirequest.ActionSubmit
		}
		p.answered[reqID] = action
		if action == uirequest.ActionSkip {
			p.subtasks[key] = SubtaskSkipped
		} else {
			p.subtasks[key] = SubtaskAnswered
		}
	case taskcontext.OpPhaseCompleted:
		p.phaseDone[key.PhaseID] = true
	}
}

// Subtask returns the replayed status of a subtask.
func (p *Progress) Subtask(phaseID, subtaskID string) SubtaskStatus {
	if s, ok := p.subtasks[SubtaskKey{PhaseID: phaseID, SubtaskID: subtaskID}]; ok {
		return s
	}
	return SubtaskPending
}

// Answered reports whether a UI request already has a response, and with which action.
func (p *Progress) Answered(requestID string) (uirequest.Action, bool) {
	a, ok := p.answered[requestID]
	return a, ok
}

// BatchAnswered reports whether every request in the batch has a response.
func (p *Progress) BatchAnswered(b *uirequest.Batch) bool {
	for _, r := range b.Requests {
		if _, ok := p.answered[r.ID]; !ok {
			return false
		}
	}
	return true
}

// PhaseSettled reports whether every subtask in the phase is settled.
func (p *Progress) PhaseSettled(phase *template.Phase) bool {
	for _, st := range phase.Subtasks {
		if !p.Subtask(phase.ID, st.ID).Settled() {
			return false
		}
	}
	return true
}

// PhaseRecorded reports whether a phase_completed entry exists for the phase.
func (p *Progress) PhaseRecorded(phaseID string) bool {
	return p.phaseDone[phaseID]
}

// Settle records a terminal subtask status during a run.
func (p *Progress) Settle(phaseID, subtaskID string, s SubtaskStatus) {
	p.subtasks[SubtaskKey{PhaseID: phaseID, SubtaskID: subtaskID}] = s
}

// Completeness is the share of settled subtasks, as a percentage.
func (p *Progress) Completeness() int {
	total := p.tpl.TotalSubtasks()
	if total == 0 {
		return 0
	}
	settled := 0
	for i := range p.tpl.Phases {
		ph := &p.tpl.Phases[i]
		for _, st := range ph.Subtasks {
			if p.Subtask(ph.ID, st.ID).Settled() {
				settled++
			}
		}
	}
	return int(math.Floor(float64(settled) * 100 / float64(total)))
}

// UnsatisfiedGoals returns the ids of required goals that are not met. A goal is
// met when every subtask linked to it completed and each success criterion key
// is present in data.
func (p *Progress) UnsatisfiedGoals(data map[string]any) []string {
	var out []string
	for _, g := range p.tpl.Goals {
		if !g.Required {
			continue
		}
		if !p.goalMet(g, data) {
			out = append(out, g.ID)
		}
	}
	return out
}

func (p *Progress) goalMet(g template.Goal, data map[string]any) bool {
	for i := range p.tpl.Phases {
		ph := &p.tpl.Phases[i]
		for _, st := range ph.Subtasks {
			if st.Goal == g.ID && p.Subtask(ph.ID, st.ID) != SubtaskDone {
				return false
			}
		}
	}
	for _, key := range g.SuccessCriteria {
		if v, ok := data[key]; !ok || v == nil {
			return false
		}
	}
	return true
}
