package download

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/repository"
)

// DefaultConcurrency は並列数未指定時のワーカー数。
const DefaultConcurrency = 4

// ItemDownloader はアイテム単位のダウンロード処理のインターフェース。
type ItemDownloader interface {
	Download(ctx context.Context, item *model.CatalogItem) model.ItemOutcome
}

// Scheduler は未ダウンロードのアイテムを取得し、semaphoreパターンで並列数を制御しながら
// ワーカーへ割り当てる。1アイテムの失敗が他のアイテムを止めることはない。
type Scheduler struct {
	store   repository.RecordStore
	worker  ItemDownloader
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(store repository.RecordStore, worker ItemDownloader, mc metrics.MetricsCollector, logger *slog.Logger) *Scheduler {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Scheduler{store: store, worker: worker, metrics: mc, logger: logger}
}

// DownloadAll はコレクションの未ダウンロードアイテムをすべて処理し、結果の集計を返す。
// 対象が0件の場合は即座に成功として返す。
// エラーを返すのは候補取得やダウンロード済み更新でStorageErrorが発生した場合のみ。
// その場合は新しいアイテムの投入を止め、実行中のワーカーの終了を待ってから返す。
func (s *Scheduler) DownloadAll(ctx context.Context, collectionID string, concurrency int) (model.StageReport, error) {
	var report model.StageReport
	start := time.Now()
	defer func() {
		s.metrics.RecordStageDuration(metrics.StageDownload, time.Since(start))
	}()

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	items, err := s.store.ListCandidates(ctx, model.DownloadCandidates(collectionID))
	if err != nil {
		return report, err
	}

	if len(items) == 0 {
		s.logger.Info("ダウンロード対象のアイテムはありません",
			slog.String("collection_id", collectionID),
		)
		return report, nil
	}

	s.logger.Info("ダウンロードを開始します",
		slog.String("collection_id", collectionID),
		slog.Int("item_count", len(items)),
		slog.Int("concurrency", concurrency),
	)

	var (
		mu       sync.Mutex
		fatalErr error
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	for _, item := range items {
		mu.Lock()
		stop := fatalErr != nil
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		// 枠の取得を待つ間に致命的エラーが記録されていれば投入しない。
		mu.Lock()
		stop = fatalErr != nil
		mu.Unlock()
		if stop {
			<-sem
			break
		}

		wg.Add(1)
		go func(it *model.CatalogItem) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.worker.Download(ctx, it)

			mu.Lock()
			defer mu.Unlock()
			report.Add(outcome)
			var storageErr *model.StorageError
			if fatalErr == nil && errors.As(outcome.Reason, &storageErr) {
				fatalErr = outcome.Reason
			}
		}(item)
	}

	wg.Wait()

	s.logger.Info("ダウンロードが完了しました",
		slog.String("collection_id", collectionID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return report, fatalErr
}
