package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain/orchestration"
	"github.com/Strob0t/OnboardForge/internal/middleware"
	"github.com/Strob0t/OnboardForge/internal/port/notifier"
)

// Notification events, one per run outcome worth telling an operator about.
const (
	EventOnboardingPaused    = "onboarding.paused"
	EventOnboardingCompleted = "onboarding.completed"
	EventOnboardingFailed    = "onboarding.failed"
	EventOnboardingExpired   = "onboarding.expired"
	EventOnboardingCancelled = "onboarding.cancelled"
)

const notifyTimeout = 10 * time.Second

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled events (e.g. "onboarding.failed").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Event] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "notification send failed",
				"provider", provider.Name(),
				"event", n.Event,
				"error", err,
			)
			continue
		}
		slog.DebugContext(ctx, "notification sent", "provider", provider.Name(), "event", n.Event)
	}
}

// NotifyOutcome converts a run outcome into a notification and sends it.
// No-op runs and outcomes nobody needs to hear about are ignored.
func (s *NotificationService) NotifyOutcome(ctx context.Context, out orchestration.Outcome) {
	n, ok := OutcomeNotification(out)
	if !ok {
		return
	}
	n.TenantID = middleware.TenantIDFromContext(ctx)
	s.Notify(ctx, n)
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}

// OutcomeNotification maps a run outcome to its notification.
func OutcomeNotification(out orchestration.Outcome) (notifier.Notification, bool) {
	if out.Noop {
		return notifier.Notification{}, false
	}
	n := notifier.Notification{ContextID: out.ContextID}
	switch out.State {
	case orchestration.StateAwaitingUserInput:
		n.Event = EventOnboardingPaused
		n.Level = notifier.LevelInfo
		n.Title = "Onboarding waiting for input"
		n.Message = fmt.Sprintf("Phase %s asked the user for input (batch %s).", out.Phase, out.BatchID)
	case orchestration.StateCompleted:
		n.Event = EventOnboardingCompleted
		n.Level = notifier.LevelSuccess
		n.Title = "Onboarding completed"
		n.Message = "All phases finished and every goal is met."
	case orchestration.StateFailed:
		n.Event = EventOnboardingFailed
		n.Level = notifier.LevelError
		n.Title = "Onboarding failed"
		n.Message = fmt.Sprintf("Stopped in phase %s with %s.", out.Phase, out.ErrorCode)
	case orchestration.StateExpired:
		n.Event = EventOnboardingExpired
		n.Level = notifier.LevelWarning
		n.Title = "Onboarding expired"
		n.Message = fmt.Sprintf("Nobody answered the questions of phase %s in time.", out.Phase)
	case orchestration.StateCancelled:
		n.Event = EventOnboardingCancelled
		n.Level = notifier.LevelWarning
		n.Title = "Onboarding cancelled"
		n.Message = "The user cancelled the onboarding."
	default:
		return notifier.Notification{}, false
	}
	return n, true
}
