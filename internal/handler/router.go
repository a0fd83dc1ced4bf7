// Package handler は同期処理の運用HTTPエンドポイントを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/middleware"
)

// DefaultHealthTimeout は1つのヘルスチェックに許す時間。
const DefaultHealthTimeout = 3 * time.Second

// HealthChecker は依存先の稼働確認を行うインターフェース。
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして扱うアダプタ。
type HealthCheckFunc func(ctx context.Context) error

// CheckHealth はf(ctx)を呼び出す。
func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// Checks は名前ごとのヘルスチェック。空の場合は常に正常を返す。
	Checks map[string]HealthChecker
	// Gatherer が nil の場合 /metrics は登録しない。
	Gatherer      prometheus.Gatherer
	HealthTimeout time.Duration
	Logger        *slog.Logger
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → SecurityHeadersMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", healthHandler(deps.Checks, timeout, logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// healthResponse は /health のレスポンスボディ。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthChecker, timeout time.Duration, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := checks[name].CheckHealth(ctx)
			cancel()

			if err != nil {
				logger.Warn("health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
				resp.Status = "unavailable"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode health response", slog.String("error", err.Error()))
		}
	}
}
