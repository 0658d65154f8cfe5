package agent_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/OnboardForge/internal/domain"
	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
)

func TestResponseValidate(t *testing.T) {
	field := uirequest.Request{Title: "EIN", Fields: []uirequest.Field{{Name: "ein", Required: true}}}

	tests := []struct {
		name    string
		resp    agent.Response
		wantErr bool
	}{
		{"completed", agent.Complete("done", nil), false},
		{"needs input", agent.AskUser("need ein", field), false},
		{"needs input without requests", agent.AskUser("need something"), true},
		{"needs input with bad request", agent.AskUser("bad", uirequest.Request{Title: "x"}), true},
		{"failed", agent.Fail("kyc_rejected", "rejected"), false},
		{"failed without code", agent.Fail("", "rejected"), true},
		{"no outcome", agent.Response{Reasoning: "?"}, true},
		{"empty reasoning", agent.Response{Outcome: agent.Completed{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAsError(t *testing.T) {
	r := agent.Failf("kyc_rejected", "entity %s rejected", "Acme")
	err := r.AsError(agent.RoleEntityCompliance)
	var ae *domain.AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AgentError, got %v", err)
	}
	if ae.Code != "kyc_rejected" || ae.Message != "entity Acme rejected" {
		t.Fatalf("unexpected %+v", ae)
	}
	if !errors.Is(err, domain.ErrTerminalAgent) {
		t.Fatal("AgentError must unwrap to ErrTerminalAgent")
	}

	ok := agent.Complete("done", nil)
	if ok.AsError(agent.RolePayment) != nil {
		t.Fatal("completed response must not convert to an error")
	}
}

func TestOutcomeKinds(t *testing.T) {
	kinds := map[string]agent.Outcome{
		"completed":   agent.Completed{},
		"needs_input": agent.NeedsInput{},
		"error":       agent.Failed{},
	}
	for want, o := range kinds {
		if o.Kind() != want {
			t.Errorf("%T.Kind() = %q, want %q", o, o.Kind(), want)
		}
	}
}
