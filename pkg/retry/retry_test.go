package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/dashcache/dashcache/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeDeliveryFailed, "webhook returned 503")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	stats := retryer.Stats()
	if stats.Calls != 1 || stats.Attempts != 3 || stats.Successes != 1 || stats.Failures != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeExportFormat, "unsupported format")

	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if !stderr.Is(err, testErr) {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_PlainErrorsAreNotRetried(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return fmt.Errorf("boom")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_ConfiguredCodeIsRetried(t *testing.T) {
	config := fastConfig(2)
	config.RetryableErrors = []errors.ErrorCode{errors.ErrCodeNotificationFailed}
	retryer := New(config)

	notRetryable := errors.NewError(errors.ErrCodeNotificationFailed, "sink failed")
	if notRetryable.Retryable {
		t.Fatal("expected notification failures to be non-retryable by default")
	}
	if !retryer.Retryable(notRetryable) {
		t.Error("expected configured code to be retryable")
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	cause := errors.NewError(errors.ErrCodeDeliveryFailed, "webhook unreachable")
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return cause
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeDeliveryFailed) {
		t.Errorf("Expected wrapped delivery error, got %v", err)
	}
	if stats := retryer.Stats(); stats.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", stats.Failures)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig(10)
	config.InitialDelay = 50 * time.Millisecond
	config.MaxDelay = 50 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retryer.Do(ctx, func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeDeliveryFailed, "webhook unreachable")
	})

	if !stderr.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var delays []time.Duration
	retryer := New(fastConfig(3)).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	})

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeDeliveryFailed, "webhook unreachable")
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("Expected %d callbacks, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	retryer := New(Config{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{8, time.Second},
	}

	for _, tt := range tests {
		if got := retryer.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	config := fastConfig(3)
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	config.Jitter = true
	retryer := New(config)

	for i := 0; i < 50; i++ {
		d := retryer.calculateDelay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside +/-20%%", d)
		}
	}
}

func TestWithMaxAttempts(t *testing.T) {
	retryer := New(fastConfig(5)).WithMaxAttempts(2)

	attempts := 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeDeliveryFailed, "webhook unreachable")
	})

	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
