package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/OnboardForge/internal/domain"
)

var fastPolicy = RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("append: %w", domain.ErrTransient)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func() (int, error) {
		calls++
		return 0, fmt.Errorf("append: %w", domain.ErrNotFound)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-transient error retried %d times", calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func() (string, error) {
		calls++
		return "", domain.ErrTransient
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryZeroPolicyUsesDefaults(t *testing.T) {
	got, err := Retry(context.Background(), RetryPolicy{}, func() (bool, error) { return true, nil })
	if err != nil || !got {
		t.Fatalf("got %v, %v", got, err)
	}
}
