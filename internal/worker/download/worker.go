// Package download はカタログアイテムのメディアをローカルへ並列ダウンロードする。
// スケジューラ、アイテム単位のワーカー、サムネイル保存の副作用を含む。
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/repository"
	"github.com/hitoshi/mediasync/internal/transfer"
)

// DefaultSourceTemplate はアイテムIDから転送元URLを組み立てるテンプレート。
const DefaultSourceTemplate = "https://www.youtube.com/watch?v=%s"

// ThumbnailStorer はサムネイル保存のインターフェース。
type ThumbnailStorer interface {
	Store(ctx context.Context, itemID string) (string, error)
}

// WorkerConfig はWorkerの設定。
type WorkerConfig struct {
	VideosDir      string
	SourceTemplate string
}

// Worker は1アイテムのダウンロードを実行する。
// 失敗しても呼び出し元へはエラーを返さず、タグ付きの結果として報告する。
type Worker struct {
	store   repository.RecordStore
	tool    transfer.Tool
	thumbs  ThumbnailStorer
	cfg     WorkerConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewWorker はWorkerを生成する。thumbsがnilの場合はサムネイル保存を行わない。
func NewWorker(
	store repository.RecordStore,
	tool transfer.Tool,
	thumbs ThumbnailStorer,
	cfg WorkerConfig,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Worker {
	if cfg.SourceTemplate == "" {
		cfg.SourceTemplate = DefaultSourceTemplate
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Worker{
		store:   store,
		tool:    tool,
		thumbs:  thumbs,
		cfg:     cfg,
		metrics: mc,
		logger:  logger,
	}
}

// Download はアイテムのメディアを取得し、完了を確認できた場合にダウンロード済みにする。
// 部分ファイルが存在する場合はそのサイズから再開する。
// サムネイル保存は独立した副作用として並行に実行し、その失敗はアイテムの結果に影響しない。
func (w *Worker) Download(ctx context.Context, item *model.CatalogItem) model.ItemOutcome {
	start := time.Now()
	outcome := w.download(ctx, item)
	outcome.Attempts = 1
	w.metrics.RecordDownload(outcome.Status == model.OutcomeSuccess, time.Since(start))
	return outcome
}

func (w *Worker) download(ctx context.Context, item *model.CatalogItem) model.ItemOutcome {
	dest, err := transfer.MediaPath(w.cfg.VideosDir, item.CollectionID, item.ItemID)
	if err != nil {
		return w.fail(item, err)
	}

	offset, err := transfer.ResumeOffset(transfer.PartialPath(w.tool, dest))
	if err != nil {
		return w.fail(item, fmt.Errorf("inspect partial file: %w", err))
	}

	var thumbWG sync.WaitGroup
	if w.thumbs != nil && needsThumbnail(item.ThumbnailRef) {
		thumbWG.Add(1)
		go func() {
			defer thumbWG.Done()
			w.saveThumbnail(ctx, item.ItemID)
		}()
	}
	defer thumbWG.Wait()

	req := transfer.Request{
		ItemID:    item.ItemID,
		SourceURL: fmt.Sprintf(w.cfg.SourceTemplate, item.ItemID),
		DestPath:  dest,
		Offset:    offset,
	}
	err = w.tool.Transfer(ctx, req, func(ev transfer.Event) {
		switch ev.Kind {
		case transfer.EventStarted:
			w.logger.Info("ダウンロードを開始しました",
				slog.String("item_id", ev.ItemID),
				slog.Int64("offset", ev.Offset),
			)
		case transfer.EventProgress:
			w.logger.Debug("ダウンロード中です",
				slog.String("item_id", ev.ItemID),
				slog.Int64("written", ev.Written),
			)
		}
	})
	if err != nil {
		return w.fail(item, err)
	}

	if err := w.store.MarkDownloaded(ctx, item.ItemID); err != nil {
		w.logger.Error("ダウンロード済みフラグの更新に失敗しました",
			slog.String("item_id", item.ItemID),
			slog.String("error", err.Error()),
		)
		return model.Failed(item.ItemID, err)
	}

	w.logger.Info("ダウンロードが完了しました",
		slog.String("item_id", item.ItemID),
		slog.String("path", dest),
		slog.Bool("resumed", offset > 0),
	)
	return model.Succeeded(item.ItemID)
}

func (w *Worker) fail(item *model.CatalogItem, err error) model.ItemOutcome {
	w.logger.Error("ダウンロードに失敗しました",
		slog.String("item_id", item.ItemID),
		slog.String("collection_id", item.CollectionID),
		slog.String("error", err.Error()),
	)
	return model.Failed(item.ItemID, &model.DownloadError{ItemID: item.ItemID, Err: err})
}

// saveThumbnail はサムネイルを保存し、結果のURLまたは"failed"を記録する。
func (w *Worker) saveThumbnail(ctx context.Context, itemID string) {
	ref, err := w.thumbs.Store(ctx, itemID)
	if err != nil {
		w.logger.Warn("サムネイルの保存に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		ref = model.ThumbnailFailed
	}
	if err := w.store.UpdateThumbnail(ctx, itemID, ref); err != nil {
		w.logger.Error("サムネイル参照の更新に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
	}
}

// needsThumbnail は未処理または前回失敗したサムネイルかを判定する。解決済みのURLは再保存しない。
func needsThumbnail(ref string) bool {
	return ref == "" || ref == model.ThumbnailUnprocessed || ref == model.ThumbnailFailed
}
