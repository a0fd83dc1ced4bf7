package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hitoshi/mediasync/internal/catalog"
	"github.com/hitoshi/mediasync/internal/config"
	"github.com/hitoshi/mediasync/internal/handler"
	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/logger"
	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/ownership"
	"github.com/hitoshi/mediasync/internal/pipeline"
	"github.com/hitoshi/mediasync/internal/security"
	"github.com/hitoshi/mediasync/internal/worker/cleanup"
	"github.com/hitoshi/mediasync/internal/worker/download"
	"github.com/hitoshi/mediasync/internal/worker/publish"
)

// opsShutdownTimeout は運用サーバーの停止待ち時間。
const opsShutdownTimeout = 5 * time.Second

func newSyncCmd(st *cliState) *cobra.Command {
	var opts pipeline.RunOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover, download and publish every item of a collection",
		Long: `Run the full pipeline for one collection.

Items already recorded in the publication ledger are never published again, so
a run can be repeated safely after a failure.

Examples:
  mediasync sync --collection UCxxxx --tag abc
  mediasync sync --collection UCxxxx --tag abc --limit 10 --group @mychannel
  mediasync sync --collection UCxxxx --tag abc --group @new --claim-group
  mediasync sync --collection UCxxxx --tag abc --skip-publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.cfg.ValidateCatalog(); err != nil {
				return err
			}
			opts.Concurrency = st.cfg.DownloadConcurrency
			if err := opts.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runSync(ctx, st.cfg, opts, cmd.ErrOrStderr())
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.CollectionID, "collection", "", "Collection (channel) id to synchronize (required)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Prefix for generated claim names, [A-Za-z0-9-]+ (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of items to publish (0 = unlimited)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "Destination grouping (channel) for published claims")
	cmd.Flags().BoolVar(&opts.ClaimGroup, "claim-group", false, "Create the grouping if the current identity does not own it")
	cmd.Flags().Int("concurrency", 0, "Concurrent downloads (overrides download_concurrency)")
	cmd.Flags().BoolVar(&opts.SkipDownload, "skip-download", false, "Skip the download stage")
	cmd.Flags().BoolVar(&opts.SkipPublish, "skip-publish", false, "Skip the publish stage")

	return cmd
}

// runSync は依存関係をワイヤリングしてパイプラインを1回実行する。
// ログはコンソールとlog_dir配下の実行ごとのファイルに出力する。
func runSync(ctx context.Context, cfg *config.Config, opts pipeline.RunOptions, console io.Writer) (*model.RunSummary, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, &model.ConfigError{Problems: []string{err.Error()}}
	}
	log, closeLog := logger.SetupRunLog(cfg.LogDir, console, level)
	defer closeLog()
	slog.SetDefault(log)

	store, storeCheck, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)
	guard := security.NewSSRFGuard()
	ledgerClient := newLedgerClient(cfg, log)

	if cfg.MetricsAddr != "" {
		checks := map[string]handler.HealthChecker{"ledger": ledgerHealth(ledgerClient)}
		if storeCheck != nil {
			checks["store"] = storeCheck
		}
		router := handler.NewRouter(&handler.RouterDeps{Checks: checks, Gatherer: reg, Logger: log})
		srv, err := startOpsServer(cfg.MetricsAddr, router, log)
		if err != nil {
			log.Warn("ops server disabled",
				slog.String("addr", cfg.MetricsAddr),
				slog.String("error", err.Error()),
			)
		} else {
			defer srv.Shutdown(opsShutdownTimeout)
		}
	}

	resolver := catalog.NewResolver(newCatalogClient(cfg, guard, mc), store, mc, log)

	worker := download.NewWorker(
		store,
		newTransferTool(cfg, guard),
		thumbnailStorer(cfg, guard, log),
		download.WorkerConfig{VideosDir: cfg.VideosDir, SourceTemplate: cfg.TransferSourceTemplate},
		mc, log,
	)
	scheduler := download.NewScheduler(store, worker, mc, log)

	owner := ownership.NewResolver(ledgerClient, ownership.Config{
		SettleInterval: cfg.GroupSettleInterval,
		ChannelBid:     cfg.PublishBid,
	}, log)

	builder := publish.NewPayloadBuilder(publish.PayloadConfig{
		VideosDir:        cfg.VideosDir,
		Bid:              cfg.PublishBid,
		License:          cfg.PublishLicense,
		Language:         cfg.PublishLanguage,
		ThumbnailBaseURL: cfg.ThumbnailBaseURL,
		Group:            opts.Group,
		Fee:              feeFromConfig(cfg),
	}, security.NewDescriptionSanitizer(), log)
	engine := publish.NewEngine(
		store,
		ledgerClient,
		builder,
		publish.NewRetryPolicy(cfg.PublishMaxAttempts, cfg.PublishRetryDelay),
		cleanup.NewCleanupJob(store, cfg.VideosDir, mc, log),
		mc, log,
	)

	driver := pipeline.NewDriver(resolver, scheduler, ledgerClient, owner, engine, log)
	return driver.Run(ctx, opts)
}

// feeFromConfig は料金設定がある場合のみledger.Feeを返す。
func feeFromConfig(cfg *config.Config) *ledger.Fee {
	if !cfg.HasFee() {
		return nil
	}
	return &ledger.Fee{
		Currency: cfg.PublishFeeCurrency,
		Amount:   cfg.PublishFeeAmount,
		Address:  cfg.PublishFeeAddress,
	}
}
