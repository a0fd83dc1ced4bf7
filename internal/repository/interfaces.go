// Package repository はデータ永続化のインターフェースを定義する。
// レコードストアはカタログアイテムと公開台帳の2テーブルのライフサイクルを専有し、
// 各ステージはこのインターフェース経由でのみ読み書きする。
package repository

import (
	"context"

	"github.com/hitoshi/mediasync/internal/model"
)

// RecordStore はカタログアイテムと公開台帳エントリの永続化インターフェース。
// すべての書き込みは一意制約違反時に何もしない（insert-or-ignore）ことを保証する。
// 実装のエラーはmodel.StorageErrorとして返す。
type RecordStore interface {
	// UpsertDiscovered はアイテムを未登録の場合のみ挿入する。
	// 挿入した場合はtrue、既に存在した場合はfalseを返す。
	UpsertDiscovered(ctx context.Context, item *model.CatalogItem) (bool, error)

	// UpsertDiscoveredBatch はカタログ1ページ分のアイテムを1つの原子的単位で挿入する。
	// 戻り値は新規に挿入された件数。
	UpsertDiscoveredBatch(ctx context.Context, items []*model.CatalogItem) (int, error)

	// MarkDownloaded はアイテムをダウンロード済みにする。
	// アイテムが存在しない場合はmodel.ErrNotFoundをラップしたエラーを返す。
	MarkDownloaded(ctx context.Context, itemID string) error

	// UpdateThumbnail はサムネイル参照を更新する。
	UpdateThumbnail(ctx context.Context, itemID, ref string) error

	// ListCandidates は条件に一致するアイテムを発見順に返す。
	// ExcludeLedgerがtrueの場合、台帳エントリを持つアイテムは含めない。
	ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]*model.CatalogItem, error)

	// CommitPublished は台帳エントリを未登録の場合のみ挿入する。
	// 同一ItemIDが既に存在する場合はfalseを返す。
	CommitPublished(ctx context.Context, entry *model.LedgerEntry) (bool, error)

	// ListLedger はコレクションに属するアイテムの台帳エントリを返す。
	ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error)

	// Close はストアを閉じる。
	Close() error
}
