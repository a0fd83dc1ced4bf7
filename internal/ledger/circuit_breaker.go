package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// CircuitBreakerTransport はTransportをサーキットブレーカーでラップする。
// デーモンが停止・応答不能な場合に、以降の呼び出しを即座に失敗させる。
// デーモンが返すRPCErrorは通信としては成功なので失敗に数えない。
type CircuitBreakerTransport struct {
	next   Transport
	cb     *gobreaker.CircuitBreaker[json.RawMessage]
	logger *slog.Logger
}

// BreakerSettings はサーキットブレーカーの設定。
type BreakerSettings struct {
	// ConsecutiveFailures はオープンに遷移する連続失敗回数。
	ConsecutiveFailures uint32
	// OpenTimeout はオープンからハーフオープンに遷移するまでの時間。
	OpenTimeout time.Duration
}

// DefaultBreakerSettings は5回連続の通信失敗でオープンし、30秒後に再試行する設定。
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// NewCircuitBreakerTransport はCircuitBreakerTransportを生成する。
func NewCircuitBreakerTransport(next Transport, settings BreakerSettings, logger *slog.Logger) *CircuitBreakerTransport {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}

	t := &CircuitBreakerTransport{next: next, logger: logger}
	t.cb = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "ledger-daemon",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			var rpcErr *RPCError
			return err == nil || errors.As(err, &rpcErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return t
}

// Call はブレーカーを通してRPCを呼び出す。
// オープン状態ではgobreaker.ErrOpenStateを返す。
func (t *CircuitBreakerTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.cb.Execute(func() (json.RawMessage, error) {
		return t.next.Call(ctx, method, params)
	})
}

// State は現在のブレーカー状態を返す。
func (t *CircuitBreakerTransport) State() gobreaker.State {
	return t.cb.State()
}
