// Package model はドメインモデルを定義する。
package model

import "time"

// サムネイル参照のセンチネル値。
const (
	// ThumbnailUnprocessed は発見直後のサムネイル状態。
	ThumbnailUnprocessed = "unprocessed"
	// ThumbnailFailed はサムネイル保存に失敗したことを表す。
	ThumbnailFailed = "failed"
)

// CatalogItem はカタログから発見されたメディアアイテムを表す。
// ItemIDはストア全体で一意であり、再発見は何もしない（insert-if-absent）。
// Downloadedはダウンロードスケジューラのみがtrueに遷移させる。
type CatalogItem struct {
	ItemID       string
	CollectionID string
	Title        string
	Description  string
	ThumbnailRef string // "unprocessed" / 解決済みURL / "failed"
	RawMetadata  []byte // カタログAPIのスニペットをそのまま保持する
	Downloaded   bool
	DiscoveredAt time.Time
}

// LedgerEntry はリモート台帳への公開成功を記録する追記専用エントリ。
// エントリが存在するItemIDは二度と公開対象にならない。
type LedgerEntry struct {
	ItemID           string
	ClaimName        string
	ClaimID          string
	DestinationGroup string // グルーピング未指定の場合は空文字列
	PublishedAt      time.Time
}

// CandidateFilter は候補アイテム取得の条件を表す。
type CandidateFilter struct {
	CollectionID  string
	Downloaded    bool
	ExcludeLedger bool
	Limit         int // 0以下は無制限
}

// DownloadCandidates はダウンロード対象（未ダウンロード）の条件を返す。
func DownloadCandidates(collectionID string) CandidateFilter {
	return CandidateFilter{CollectionID: collectionID, Downloaded: false}
}

// PublishCandidates は公開対象（ダウンロード済みかつ台帳未登録）の条件を返す。
func PublishCandidates(collectionID string, limit int) CandidateFilter {
	return CandidateFilter{
		CollectionID:  collectionID,
		Downloaded:    true,
		ExcludeLedger: true,
		Limit:         limit,
	}
}

// Matches はアイテムがフィルタ条件（台帳除外を除く）を満たすかを判定する。
// 台帳除外はストア側で判定する。
func (f CandidateFilter) Matches(item *CatalogItem) bool {
	return item.CollectionID == f.CollectionID && item.Downloaded == f.Downloaded
}
