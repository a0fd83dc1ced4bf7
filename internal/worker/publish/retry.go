package publish

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts は公開の最大試行回数（初回を含む）。
	DefaultMaxAttempts = 3
	// DefaultRetryDelay は再試行前の待機時間。
	DefaultRetryDelay = 2 * time.Second
)

// RetryPolicy は公開呼び出しの再試行方針。同じペイロードで固定間隔の再試行を行う。
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// sleep はテストで差し替える。
	sleep func(ctx context.Context, d time.Duration) error
}

// RetryResult は再試行を含む呼び出し全体の結果。
type RetryResult struct {
	Attempts int
	Err      error // 最後の試行のエラー。成功時はnil
}

// Succeeded は最終的に成功したかを返す。
func (r RetryResult) Succeeded() bool { return r.Err == nil }

// NewRetryPolicy はRetryPolicyを生成する。maxAttemptsが1未満の場合はDefaultMaxAttemptsを使う。
func NewRetryPolicy(maxAttempts int, delay time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = 0
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay, sleep: sleepContext}
}

// Do はfnを成功するか試行回数の上限に達するまで呼び出す。
// コンテキストがキャンセルされた場合は残りの試行を行わない。
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) RetryResult {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var res RetryResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		res.Err = fn(attempt)
		if res.Err == nil {
			return res
		}
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			return res
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return res
		}
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
