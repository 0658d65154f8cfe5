// Package domain provides shared domain-level sentinel errors and the error taxonomy
// used across the task-context engine.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed or missing input.
var ErrValidation = errors.New("validation failed")

// ErrConfiguration indicates a bad or missing template or phase graph.
// Never retried automatically.
var ErrConfiguration = errors.New("configuration error")

// ErrIntegrity indicates a violated history invariant (sequence collision or gap).
var ErrIntegrity = errors.New("integrity error")

// ErrTransient indicates a store or external dependency is temporarily unavailable.
var ErrTransient = errors.New("transient error")

// ErrTerminalAgent indicates a required subtask agent reported unrecoverable failure.
var ErrTerminalAgent = errors.New("terminal agent error")

// ErrGoalsUnsatisfied indicates every phase finished but a required goal is not met.
var ErrGoalsUnsatisfied = errors.New("required goals unsatisfied")

// ErrExpired indicates a pause point passed its deadline before the user answered.
var ErrExpired = errors.New("pause expired")

// TemplateNotFoundError is returned when a task template cannot be loaded.
type TemplateNotFoundError struct {
	TemplateID string
	Version    int
}

func (e *TemplateNotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("template %s v%d not found", e.TemplateID, e.Version)
	}
	return fmt.Sprintf("template %s not found", e.TemplateID)
}

// Unwrap lets errors.Is match both ErrConfiguration and ErrNotFound.
func (e *TemplateNotFoundError) Unwrap() []error {
	return []error{ErrConfiguration, ErrNotFound}
}

// IntegrityError describes a sequence-number violation found while replaying a history.
type IntegrityError struct {
	ContextID string
	Sequence  int64
	Reason    string
}

func (e *IntegrityError) Error() string {
	if e.ContextID != "" {
		return fmt.Sprintf("integrity: context %s sequence %d: %s", e.ContextID, e.Sequence, e.Reason)
	}
	return fmt.Sprintf("integrity: sequence %d: %s", e.Sequence, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// AgentError carries the machine-readable code of a failed required subtask.
type AgentError struct {
	Role    string
	Code    string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed (%s): %s", e.Role, e.Code, e.Message)
}

func (e *AgentError) Unwrap() error { return ErrTerminalAgent }

// Validationf returns an error wrapping ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configurationf returns an error wrapping ErrConfiguration with a formatted message.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
