// Package notifier defines the port for operator notifications about
// onboarding outcomes (paused, completed, failed, expired).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Levels understood by every notifier.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Level     string `json:"level"`
	Event     string `json:"event"` // e.g. "onboarding.completed"
	ContextID string `json:"context_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
