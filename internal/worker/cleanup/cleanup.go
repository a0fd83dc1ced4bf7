// Package cleanup は公開済みアイテムのローカルメディアファイルを回収するジョブを提供する。
// 公開後のファイル削除に失敗して残ったファイルを、台帳エントリをもとに削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/transfer"
)

// LedgerLister は台帳エントリの取得を抽象化するインターフェース。
type LedgerLister interface {
	ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error)
}

// CleanupJob は台帳登録済みアイテムのメディアファイルを削除するジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	store     LedgerLister
	videosDir string
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	remove func(path string) error
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store LedgerLister, videosDir string, mc metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &CleanupJob{
		store:     store,
		videosDir: videosDir,
		metrics:   mc,
		logger:    logger,
		remove:    os.Remove,
	}
}

// Run はコレクションの台帳エントリを走査し、残っているメディアファイルを削除する。
// 個別ファイルの削除失敗はログに記録して続行する。
// 台帳の取得に失敗した場合のみエラーを返す。
func (j *CleanupJob) Run(ctx context.Context, collectionID string) (int, error) {
	start := time.Now()

	entries, err := j.store.ListLedger(ctx, collectionID)
	if err != nil {
		j.logger.Error("ファイル回収ジョブの実行に失敗しました",
			slog.String("collection_id", collectionID),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("ファイル回収対象の取得に失敗: %w", err)
	}

	removed := 0
	for _, e := range entries {
		path, err := transfer.MediaPath(j.videosDir, collectionID, e.ItemID)
		if err != nil {
			j.logger.Warn("保存先を決められないため削除をスキップします",
				slog.String("item_id", e.ItemID),
				slog.String("error", err.Error()),
			)
			continue
		}
		err = j.remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			j.logger.Warn("メディアファイルの削除に失敗しました",
				slog.String("item_id", e.ItemID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	j.metrics.RecordFilesCleaned(removed)
	j.logger.Info("ファイル回収ジョブが完了しました",
		slog.String("collection_id", collectionID),
		slog.Int("ledger_entries", len(entries)),
		slog.Int("removed_count", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return removed, nil
}
