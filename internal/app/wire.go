package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mediasync/internal/catalog"
	"github.com/hitoshi/mediasync/internal/config"
	"github.com/hitoshi/mediasync/internal/database"
	"github.com/hitoshi/mediasync/internal/handler"
	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/repository"
	"github.com/hitoshi/mediasync/internal/security"
	"github.com/hitoshi/mediasync/internal/thumbnail"
	"github.com/hitoshi/mediasync/internal/transfer"
	"github.com/hitoshi/mediasync/internal/worker/download"
)

// openStore は設定に応じたレコードストアを開く。
// SQLストアの場合はマイグレーションを適用してから接続を確認する。
// 2番目の戻り値はヘルスチェック（不要なストアではnil）。
func openStore(cfg *config.Config, logger *slog.Logger) (repository.RecordStore, handler.HealthChecker, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres, config.StoreSQLite:
		logger.Info("running database migrations",
			slog.String("driver", cfg.StoreDriver),
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.StoreDriver, cfg.DatabaseURL); err != nil {
			return nil, nil, model.NewStorageError("run migrations", err)
		}

		db, err := database.Open(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, model.NewStorageError("open database", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, model.NewStorageError("connect database", err)
		}
		logger.Info("database connection established")

		check := handler.HealthCheckFunc(db.PingContext)
		if cfg.StoreDriver == config.StorePostgres {
			return repository.NewPostgresRecordStore(db), check, nil
		}
		return repository.NewSQLiteRecordStore(db), check, nil

	case config.StoreBolt:
		s, err := repository.NewBoltRecordStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.StoreMemory:
		return repository.NewMemoryRecordStore(), nil, nil

	default:
		return nil, nil, &model.ConfigError{Problems: []string{fmt.Sprintf("unsupported store_driver %q", cfg.StoreDriver)}}
	}
}

// newCatalogClient は設定されたカタログソースのクライアントを生成する。
func newCatalogClient(cfg *config.Config, guard *security.SSRFGuard, mc metrics.MetricsCollector) catalog.APIClient {
	httpClient := guard.NewSafeClient(cfg.CatalogTimeout)
	if cfg.CatalogSource == config.SourceFeed {
		return catalog.NewFeedClient(httpClient, guard, cfg.FeedURLTemplate, cfg.CatalogRatePerSec, mc)
	}
	return catalog.NewYouTubeClient(httpClient, cfg.YouTubeAPIBase, cfg.YouTubeAPIKey, cfg.CatalogRatePerSec, mc)
}

// newTransferTool は設定された転送方式のツールを生成する。
func newTransferTool(cfg *config.Config, guard *security.SSRFGuard) transfer.Tool {
	if cfg.TransferMode == config.TransferHTTP {
		return transfer.NewHTTPTool(guard.NewSafeClient(cfg.TransferTimeout))
	}
	return transfer.NewCommandTool(cfg.TransferCommand, transfer.YTDLPArgs)
}

// newLedgerClient はサーキットブレーカー付きの台帳デーモンクライアントを生成する。
// デーモンはローカルで動作するため、SSRF対策済みクライアントは使用しない。
func newLedgerClient(cfg *config.Config, logger *slog.Logger) *ledger.Client {
	transport := ledger.NewHTTPTransport(&http.Client{Timeout: cfg.LedgerTimeout}, cfg.LedgerURL)
	breaker := ledger.NewCircuitBreakerTransport(transport, ledger.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.LedgerBreakerFailures),
		OpenTimeout:         cfg.LedgerBreakerOpen,
	}, logger)
	return ledger.NewClient(breaker)
}

// ledgerHealth は台帳デーモンの稼働状態をヘルスチェックとして返す。
func ledgerHealth(client *ledger.Client) handler.HealthChecker {
	return handler.HealthCheckFunc(func(ctx context.Context) error {
		st, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if !st.IsRunning {
			return errors.New("daemon reports is_running=false")
		}
		return nil
	})
}

// thumbnailStorer はエンドポイントが設定されている場合のみサムネイルクライアントを返す。
// 未設定の場合はインターフェースとしてnilを返す。
func thumbnailStorer(cfg *config.Config, guard *security.SSRFGuard, logger *slog.Logger) download.ThumbnailStorer {
	if cfg.ThumbnailEndpoint == "" {
		return nil
	}
	return thumbnail.NewClient(guard.NewSafeClient(30*time.Second), cfg.ThumbnailEndpoint, logger)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
