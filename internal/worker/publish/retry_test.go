package publish

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleepPolicy(maxAttempts int) (RetryPolicy, *[]time.Duration) {
	var slept []time.Duration
	p := NewRetryPolicy(maxAttempts, time.Second)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestRetryPolicy_AlwaysFailingMakesExactlyMaxAttempts(t *testing.T) {
	p, slept := noSleepPolicy(3)
	calls := 0
	boom := errors.New("publish rejected")

	res := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt != calls {
			t.Errorf("attempt = %d, want %d", attempt, calls)
		}
		return boom
	})

	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls = %d, Attempts = %d, want 3", calls, res.Attempts)
	}
	if !errors.Is(res.Err, boom) || res.Succeeded() {
		t.Errorf("res = %+v", res)
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2（最後の試行後は待機しない）", len(*slept))
	}
}

func TestRetryPolicy_SucceedsOnSecondAttempt(t *testing.T) {
	p, _ := noSleepPolicy(3)
	calls := 0
	res := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("temporary")
		}
		return nil
	})
	if !res.Succeeded() || res.Attempts != 2 || calls != 2 {
		t.Errorf("res = %+v, calls = %d", res, calls)
	}
}

func TestRetryPolicy_DefaultsToThreeAttempts(t *testing.T) {
	p := NewRetryPolicy(0, 0)
	if p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestRetryPolicy_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(3, time.Hour)
	calls := 0
	res := p.Do(ctx, func(attempt int) error {
		calls++
		cancel()
		return errors.New("failed")
	})
	if calls != 1 || res.Attempts != 1 {
		t.Errorf("calls = %d, Attempts = %d, want 1", calls, res.Attempts)
	}
}
