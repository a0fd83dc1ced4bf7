// Package publish はダウンロード済みアイテムをリモート台帳へ公開する。
// 公開は共有ウォレットを使うため1件ずつ逐次処理し、成功した場合のみ台帳へ記録する。
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/repository"
)

// claimAddressPrefix は台帳のクレームアドレスの先頭文字。
const claimAddressPrefix = "b"

// LedgerPublisher は公開に使う台帳クライアントのインターフェース。
type LedgerPublisher interface {
	WalletList(ctx context.Context) ([]string, error)
	Publish(ctx context.Context, params ledger.PublishParams) (*ledger.ClaimResult, error)
}

// Sweeper は公開済みファイルの回収ジョブのインターフェース。
type Sweeper interface {
	Run(ctx context.Context, collectionID string) (int, error)
}

// Engine は公開ステージを実行する。
type Engine struct {
	store   repository.RecordStore
	ledger  LedgerPublisher
	builder *PayloadBuilder
	policy  RetryPolicy
	sweeper Sweeper
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	remove func(path string) error
}

// NewEngine はEngineを生成する。sweeperがnilの場合は開始時のファイル回収を行わない。
func NewEngine(
	store repository.RecordStore,
	l LedgerPublisher,
	builder *PayloadBuilder,
	policy RetryPolicy,
	sweeper Sweeper,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Engine {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Engine{
		store:   store,
		ledger:  l,
		builder: builder,
		policy:  policy,
		sweeper: sweeper,
		metrics: mc,
		logger:  logger,
		remove:  os.Remove,
	}
}

// PublishAll はコレクションの公開候補（ダウンロード済みかつ台帳未登録）を取得順に1件ずつ公開する。
// limitが正の場合は候補数を制限する。
// 1件の公開失敗はバッチを止めず、結果として集計する。
// エラーを返すのは候補取得や台帳記録でStorageErrorが発生した場合のみ。
func (e *Engine) PublishAll(ctx context.Context, collectionID, tag string, limit int) (model.StageReport, error) {
	var report model.StageReport
	start := time.Now()
	defer func() {
		e.metrics.RecordStageDuration(metrics.StagePublish, time.Since(start))
	}()

	if !ValidTag(tag) {
		return report, &model.ConfigError{Problems: []string{fmt.Sprintf("tag %q must contain only letters, digits and dashes", tag)}}
	}

	if e.sweeper != nil {
		if _, err := e.sweeper.Run(ctx, collectionID); err != nil {
			e.logger.Warn("公開前のファイル回収に失敗しました",
				slog.String("collection_id", collectionID),
				slog.String("error", err.Error()),
			)
		}
	}

	items, err := e.store.ListCandidates(ctx, model.PublishCandidates(collectionID, limit))
	if err != nil {
		return report, err
	}
	if len(items) == 0 {
		e.logger.Info("公開対象のアイテムはありません",
			slog.String("collection_id", collectionID),
		)
		return report, nil
	}

	claimAddress := e.claimAddress(ctx)

	e.logger.Info("公開を開始します",
		slog.String("collection_id", collectionID),
		slog.String("tag", tag),
		slog.Int("item_count", len(items)),
		slog.String("group", e.builder.Group()),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome := e.publishItem(ctx, item, tag, claimAddress)
		report.Add(outcome)
		e.metrics.RecordPublish(outcome.Status == model.OutcomeSuccess, outcome.Attempts)

		var storageErr *model.StorageError
		if errors.As(outcome.Reason, &storageErr) {
			return report, outcome.Reason
		}
	}

	e.logger.Info("公開が完了しました",
		slog.String("collection_id", collectionID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return report, nil
}

// publishItem は1件を公開し、成功時に台帳へ記録してからローカルファイルを削除する。
func (e *Engine) publishItem(ctx context.Context, item *model.CatalogItem, tag, claimAddress string) model.ItemOutcome {
	claimName := ClaimName(tag, item.ItemID)
	params, err := e.builder.Build(item, claimName, claimAddress)
	if err != nil {
		e.logger.Error("公開ペイロードを組み立てられません",
			slog.String("item_id", item.ItemID),
			slog.String("claim_name", claimName),
			slog.String("error", err.Error()),
		)
		return model.Failed(item.ItemID, &model.PublishError{
			ItemID:    item.ItemID,
			ClaimName: claimName,
			Err:       err,
		})
	}

	var claim *ledger.ClaimResult
	res := e.policy.Do(ctx, func(attempt int) error {
		var err error
		claim, err = e.ledger.Publish(ctx, params)
		if err != nil {
			e.logger.Warn("公開に失敗しました",
				slog.String("item_id", item.ItemID),
				slog.String("claim_name", claimName),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
	if !res.Succeeded() {
		e.logger.Error("再試行の上限に達したため公開をスキップします",
			slog.String("item_id", item.ItemID),
			slog.String("claim_name", claimName),
			slog.Int("attempts", res.Attempts),
		)
		outcome := model.Failed(item.ItemID, &model.PublishError{
			ItemID:    item.ItemID,
			ClaimName: claimName,
			Attempts:  res.Attempts,
			Err:       res.Err,
		})
		outcome.Attempts = res.Attempts
		return outcome
	}

	inserted, err := e.store.CommitPublished(ctx, &model.LedgerEntry{
		ItemID:           item.ItemID,
		ClaimName:        claimName,
		ClaimID:          claim.ClaimID,
		DestinationGroup: e.builder.Group(),
	})
	if err != nil {
		e.logger.Error("台帳エントリの記録に失敗しました",
			slog.String("item_id", item.ItemID),
			slog.String("claim_name", claimName),
			slog.String("claim_id", claim.ClaimID),
			slog.String("error", err.Error()),
		)
		outcome := model.Failed(item.ItemID, err)
		outcome.Attempts = res.Attempts
		return outcome
	}
	if !inserted {
		e.logger.Warn("台帳エントリは既に存在します",
			slog.String("item_id", item.ItemID),
			slog.String("claim_name", claimName),
		)
	}

	e.logger.Info("公開しました",
		slog.String("item_id", item.ItemID),
		slog.String("claim_name", claimName),
		slog.String("claim_id", claim.ClaimID),
		slog.Int("attempt", res.Attempts),
	)

	path := params.FilePath
	if err := e.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("メディアファイルの削除に失敗しました",
			slog.String("item_id", item.ItemID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	outcome := model.Succeeded(item.ItemID)
	outcome.Attempts = res.Attempts
	return outcome
}

// claimAddress はウォレットのアドレス一覧からクレームアドレスを選ぶ。
// 取得できない場合は空文字列を返し、ペイロードからclaim_addressを省略する。
func (e *Engine) claimAddress(ctx context.Context) string {
	addrs, err := e.ledger.WalletList(ctx)
	if err != nil {
		e.logger.Warn("ウォレットアドレスの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return ""
	}
	for _, a := range addrs {
		if strings.HasPrefix(a, claimAddressPrefix) {
			return a
		}
	}
	e.logger.Warn("クレームアドレスが見つかりません",
		slog.Int("address_count", len(addrs)),
	)
	return ""
}
