package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesMarkedErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), "test", func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	perm := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastConfig(5), "test", func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) || calls != 1 {
		t.Errorf("err = %v after %d calls, want permanent after 1", err, calls)
	}
}

func TestDoReturnsUnmarkedLastError(t *testing.T) {
	flaky := errors.New("flaky")
	err := Do(context.Background(), fastConfig(2), "test", func() error {
		return Retryable(flaky)
	})
	if err != flaky {
		t.Errorf("err = %#v, want the underlying error", err)
	}
	if IsRetryable(err) {
		t.Error("returned error should not carry the retry marker")
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(0), "test", func() error {
		return Retryable(errors.New("flaky"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), "test", func() (bool, error) {
		calls++
		if calls == 1 {
			return false, Retryable(errors.New("timeout"))
		}
		return true, nil
	})
	if err != nil || !v {
		t.Errorf("got %v, %v; want true, nil", v, err)
	}
}

func TestWaitIsCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 10}
	if w := cfg.Wait(5); w != 3*time.Second {
		t.Errorf("Wait(5) = %v, want cap", w)
	}
	if w := cfg.Wait(1); w != time.Second {
		t.Errorf("Wait(1) = %v, want initial", w)
	}
}
