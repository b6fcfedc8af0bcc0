package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/metahuman-os/operator/pkg/errors"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithMaxAttempts(3)
	cfg.InitialDelay = time.Millisecond
	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithMaxAttempts(5)
	cfg.InitialDelay = time.Millisecond
	fatal := errors.New(errors.CodePermissionDenied, "denied", nil).WithRecoverable(false)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return fatal
	})
	if err != fatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestWithTimeoutResult(t *testing.T) {
	value, err := WithTimeoutResult(context.Background(), TimeoutConfig{Duration: 50 * time.Millisecond},
		func(ctx context.Context) (any, error) {
			return "ok", nil
		})
	if err != nil || value != "ok" {
		t.Fatalf("unexpected: %v %v", value, err)
	}

	_, err = WithTimeoutResult(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond},
		func(ctx context.Context) (any, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		})
	if errors.CodeOf(err) != errors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}
