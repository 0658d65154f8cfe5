package taskcontext

import (
	"cmp"
	"encoding/json"
	"math"
	"slices"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

// Compute folds a history into its current state. Entries are ordered by
// sequence number regardless of input order, and sequences must be exactly
// 1..N. Duplicates or gaps return a *domain.IntegrityError.
func Compute(history []Entry) (State, error) {
	st := State{Status: StatusPending, Data: make(map[string]any)}
	if len(history) == 0 {
		return st, nil
	}

	ordered := history
	if !slices.IsSortedFunc(history, bySequence) {
		ordered = slices.Clone(history)
		slices.SortStableFunc(ordered, bySequence)
	}

	for i := range ordered {
		e := &ordered[i]
		want := int64(i + 1)
		if e.SequenceNumber != want {
			reason := "gap in sequence"
			if i > 0 && e.SequenceNumber == ordered[i-1].SequenceNumber {
				reason = "duplicate sequence"
			} else if e.SequenceNumber < want {
				reason = "sequence below expected"
			}
			return State{}, &domain.IntegrityError{
				ContextID: e.ContextID,
				Sequence:  e.SequenceNumber,
				Reason:    reason,
			}
		}
		if err := apply(&st, e); err != nil {
			return State{}, err
		}
	}

	last := &ordered[len(ordered)-1]
	st.LastSequence = last.SequenceNumber
	st.EntryCount = len(ordered)
	st.UpdatedAt = last.Timestamp
	return st, nil
}

func bySequence(a, b Entry) int {
	return cmp.Compare(a.SequenceNumber, b.SequenceNumber)
}

func apply(st *State, e *Entry) error {
	for k, v := range e.Data {
		switch k {
		case KeyStatus:
			if s, ok := v.(string); ok && Status(s).Valid() {
				st.Status = Status(s)
			}
		case KeyPhase:
			if s, ok := v.(string); ok {
				st.Phase = s
			}
		case KeyCompleteness:
			if n, ok := toFloat(v); ok {
				st.Completeness = Clamp(n)
			}
		case KeyPause:
			p, err := DecodePause(v)
			if err != nil {
				return &domain.IntegrityError{
					ContextID: e.ContextID,
					Sequence:  e.SequenceNumber,
					Reason:    "malformed pause marker: " + err.Error(),
				}
			}
			st.Pause = p
		default:
			st.Data[k] = v
		}
	}
	return nil
}

// Clamp rounds a completeness value into [0,100].
func Clamp(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// DecodePause accepts a *Batch, a Batch or a JSON-decoded map. nil clears the pause.
func DecodePause(v any) (*uirequest.Batch, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case *uirequest.Batch:
		return p, nil
	case uirequest.Batch:
		return &p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var b uirequest.Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
