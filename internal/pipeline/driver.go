// Package pipeline は発見、ダウンロード、公開の3ステージを固定順で実行する。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mediasync/internal/catalog"
	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/model"
)

// CatalogResolver は発見ステージ。
type CatalogResolver interface {
	Resolve(ctx context.Context, collectionID string) (*catalog.Result, error)
}

// Downloader はダウンロードステージ。
type Downloader interface {
	DownloadAll(ctx context.Context, collectionID string, concurrency int) (model.StageReport, error)
}

// StatusChecker は台帳デーモンの稼働確認。
type StatusChecker interface {
	Status(ctx context.Context) (*ledger.Status, error)
}

// OwnershipEnsurer は公開先グルーピングの所有確認。
type OwnershipEnsurer interface {
	Ensure(ctx context.Context, name string, claimIfAbsent bool) error
}

// Publisher は公開ステージ。
type Publisher interface {
	PublishAll(ctx context.Context, collectionID, tag string, limit int) (model.StageReport, error)
}

// Driver は同期パイプラインを実行する。
type Driver struct {
	resolver   CatalogResolver
	downloader Downloader
	status     StatusChecker
	ownership  OwnershipEnsurer
	publisher  Publisher
	logger     *slog.Logger

	newRunID func() string
	now      func() time.Time
}

// NewDriver はDriverを生成する。
func NewDriver(
	resolver CatalogResolver,
	downloader Downloader,
	status StatusChecker,
	ownership OwnershipEnsurer,
	publisher Publisher,
	logger *slog.Logger,
) *Driver {
	return &Driver{
		resolver:   resolver,
		downloader: downloader,
		status:     status,
		ownership:  ownership,
		publisher:  publisher,
		logger:     logger,
		newRunID:   uuid.NewString,
		now:        time.Now,
	}
}

// Run はステージを発見、ダウンロード、公開の順に実行し、実行結果を返す。
// ステージ致命エラーで中断した場合もRunSummaryを返し、Fatalに原因を設定する。
// アイテム単位の失敗はRunSummaryの件数にのみ反映される。
func (d *Driver) Run(ctx context.Context, opts RunOptions) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		RunID:        d.newRunID(),
		CollectionID: opts.CollectionID,
		StartedAt:    d.now(),
	}
	logger := d.logger.With(slog.String("run_id", summary.RunID))

	finish := func(err error) (*model.RunSummary, error) {
		summary.Fatal = err
		summary.Duration = d.now().Sub(summary.StartedAt)
		attrs := []any{
			slog.String("collection_id", opts.CollectionID),
			slog.String("status", string(summary.Status())),
			slog.Int("discovered", summary.Discovered),
			slog.Int("inserted", summary.Inserted),
			slog.Int("downloaded", summary.Download.Succeeded),
			slog.Int("download_failed", summary.Download.Failed),
			slog.Int("published", summary.Publish.Succeeded),
			slog.Int("publish_failed", summary.Publish.Failed),
			slog.Int64("duration_ms", summary.Duration.Milliseconds()),
		}
		if err != nil {
			logger.Error("同期を中断しました", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("同期が完了しました", attrs...)
		}
		return summary, err
	}

	if err := opts.Validate(); err != nil {
		return finish(err)
	}

	logger.Info("同期を開始します",
		slog.String("collection_id", opts.CollectionID),
		slog.String("tag", opts.Tag),
		slog.Int("limit", opts.Limit),
		slog.String("group", opts.Group),
	)

	res, err := d.resolver.Resolve(ctx, opts.CollectionID)
	if res != nil {
		summary.Discovered = res.Discovered
		summary.Inserted = res.Inserted
	}
	if err != nil {
		return finish(err)
	}

	if !opts.SkipDownload {
		report, err := d.downloader.DownloadAll(ctx, opts.CollectionID, opts.Concurrency)
		summary.Download = report
		if err != nil {
			return finish(err)
		}
	}

	if opts.SkipPublish {
		return finish(nil)
	}

	if err := d.checkLedger(ctx); err != nil {
		return finish(err)
	}

	if opts.Group != "" {
		if err := d.ownership.Ensure(ctx, opts.Group, opts.ClaimGroup); err != nil {
			return finish(err)
		}
	}

	report, err := d.publisher.PublishAll(ctx, opts.CollectionID, opts.Tag, opts.Limit)
	summary.Publish = report
	return finish(err)
}

// checkLedger は台帳デーモンが稼働しているかを確認する。
func (d *Driver) checkLedger(ctx context.Context) error {
	st, err := d.status.Status(ctx)
	if err != nil {
		return &model.LedgerUnavailableError{Err: err}
	}
	if !st.IsRunning {
		return &model.LedgerUnavailableError{Err: fmt.Errorf("daemon reports is_running=false")}
	}
	return nil
}
