package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/repository"
	"github.com/hitoshi/mediasync/internal/transfer"
)

// Result はResolveの結果。
type Result struct {
	CollectionID string
	ManifestID   string
	Pages        int
	Discovered   int
	Inserted     int
}

// Resolver はカタログのページを先頭から辿り、各ページをレコードストアへ保存する。
// ページ単位のアップサートは冪等なため、中断後の再実行や同一ページの再取得は安全。
type Resolver struct {
	client  APIClient
	store   repository.RecordStore
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(client APIClient, store repository.RecordStore, mc metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Resolver{client: client, store: store, metrics: mc, logger: logger}
}

// Resolve はコレクションのアップロードマニフェストを解決し、全ページを取得・保存する。
// カタログ側のエラーはmodel.CatalogError、ストアのエラーはmodel.StorageErrorとして返す。
// エラー時も保存済みのページはロールバックしない。
func (r *Resolver) Resolve(ctx context.Context, collectionID string) (*Result, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordStageDuration(metrics.StageDiscovery, time.Since(start))
	}()

	r.logger.Info("コレクションのアイテム一覧を取得します",
		slog.String("collection_id", collectionID),
	)

	manifestID, err := r.client.UploadsManifest(ctx, collectionID)
	if err != nil {
		return nil, catalogError(collectionID, "resolve uploads manifest", err)
	}

	res := &Result{CollectionID: collectionID, ManifestID: manifestID}
	seen := make(map[string]struct{})
	cursor := ""

	for {
		page, err := r.client.ListPage(ctx, collectionID, manifestID, cursor)
		if err != nil {
			return res, catalogError(collectionID, "list page", err)
		}

		items := r.acceptable(collectionID, page.Items)
		inserted, err := r.store.UpsertDiscoveredBatch(ctx, items)
		if err != nil {
			return res, err
		}

		res.Pages++
		res.Discovered += len(items)
		res.Inserted += inserted
		r.metrics.RecordDiscovered(collectionID, inserted)

		r.logger.Info("ページを保存しました",
			slog.String("collection_id", collectionID),
			slog.Int("page", res.Pages),
			slog.Int("items", len(items)),
			slog.Int("inserted", inserted),
		)

		if page.NextCursor == "" {
			break
		}
		// 同じカーソルが再び返された場合は無限ループを避けるため中断する
		if _, dup := seen[page.NextCursor]; dup {
			return res, &model.CatalogError{
				CollectionID: collectionID,
				Op:           "list page",
				Err:          errors.New("catalog returned a cursor that was already visited: " + page.NextCursor),
			}
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}

	r.logger.Info("コレクションの取得が完了しました",
		slog.String("collection_id", collectionID),
		slog.String("manifest_id", manifestID),
		slog.Int("pages", res.Pages),
		slog.Int("discovered", res.Discovered),
		slog.Int("inserted", res.Inserted),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// acceptable はローカルの保存ファイル名に使えないIDのアイテムを除外する。
func (r *Resolver) acceptable(collectionID string, items []*model.CatalogItem) []*model.CatalogItem {
	out := items[:0:0]
	for _, it := range items {
		if !transfer.ValidPathElement(it.ItemID) {
			r.logger.Warn("保存できないアイテムIDのため取り込みをスキップします",
				slog.String("collection_id", collectionID),
				slog.String("item_id", it.ItemID),
			)
			continue
		}
		out = append(out, it)
	}
	return out
}

// catalogError はクライアントのエラーをCatalogErrorでラップする。
// NoContentErrorは識別できるようにラップの内側に残す。
func catalogError(collectionID, op string, err error) error {
	var ce *model.CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return &model.CatalogError{CollectionID: collectionID, Op: op, Err: err}
}
