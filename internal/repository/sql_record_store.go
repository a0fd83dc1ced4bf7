package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/mediasync/internal/model"
)

// dialect はSQL方言ごとの差分を表す。
// クエリは$n形式のプレースホルダで記述し、rebindで方言に合わせて変換する。
type dialect struct {
	name        string
	orderColumn string
	rebind      func(query string) string
}

var postgresDialect = dialect{
	name:        "postgres",
	orderColumn: "c.seq",
	rebind:      func(q string) string { return q },
}

// SQLiteは?NNN形式の番号付きパラメータを受け付けるため、$を?に置換するだけでよい。
var sqliteDialect = dialect{
	name:        "sqlite",
	orderColumn: "c.rowid",
	rebind:      func(q string) string { return strings.ReplaceAll(q, "$", "?") },
}

// sqlRecordStore はdatabase/sqlを使用したRecordStoreの共通実装。
// PostgreSQLとSQLiteで同じクエリを共有する。
type sqlRecordStore struct {
	db      *sql.DB
	dialect dialect
}

const insertItemQuery = `INSERT INTO catalog_items
	(item_id, collection_id, title, description, thumbnail_ref, raw_metadata, downloaded, discovered_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (item_id) DO NOTHING`

// UpsertDiscovered はアイテムを未登録の場合のみ挿入する。
func (s *sqlRecordStore) UpsertDiscovered(ctx context.Context, item *model.CatalogItem) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(insertItemQuery), itemArgs(item)...)
	if err != nil {
		return false, model.NewStorageError("upsert discovered", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewStorageError("upsert discovered", err)
	}
	return n > 0, nil
}

// UpsertDiscoveredBatch はページ内の全アイテムを1トランザクションで挿入する。
// 途中で失敗した場合はページ全体をロールバックする。
func (s *sqlRecordStore) UpsertDiscoveredBatch(ctx context.Context, items []*model.CatalogItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, model.NewStorageError("begin page upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(insertItemQuery))
	if err != nil {
		return 0, model.NewStorageError("prepare page upsert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, item := range items {
		if item.ItemID == "" {
			return 0, model.NewStorageError("upsert discovered batch", errEmptyItemID)
		}
		res, err := stmt.ExecContext(ctx, itemArgs(item)...)
		if err != nil {
			return 0, model.NewStorageError(fmt.Sprintf("upsert item %s", item.ItemID), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, model.NewStorageError("upsert rows affected", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, model.NewStorageError("commit page upsert", err)
	}
	return inserted, nil
}

// MarkDownloaded はアイテムをダウンロード済みにする。
func (s *sqlRecordStore) MarkDownloaded(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`UPDATE catalog_items SET downloaded = $1 WHERE item_id = $2`),
		true, itemID,
	)
	if err != nil {
		return model.NewStorageError("mark downloaded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("mark downloaded", err)
	}
	if n == 0 {
		return model.NewStorageError("mark downloaded", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound))
	}
	return nil
}

// UpdateThumbnail はサムネイル参照を更新する。未登録のアイテムはErrNotFound。
func (s *sqlRecordStore) UpdateThumbnail(ctx context.Context, itemID, ref string) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`UPDATE catalog_items SET thumbnail_ref = $1 WHERE item_id = $2`),
		ref, itemID,
	)
	if err != nil {
		return model.NewStorageError("update thumbnail", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError("update thumbnail", err)
	}
	if n == 0 {
		return model.NewStorageError("update thumbnail", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound))
	}
	return nil
}

// ListCandidates は条件に一致するアイテムを発見順に返す。
// コレクションIDや上限値はすべてパラメータとして渡す。
func (s *sqlRecordStore) ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]*model.CatalogItem, error) {
	var b strings.Builder
	b.WriteString(`SELECT c.item_id, c.collection_id, c.title, c.description, c.thumbnail_ref,
		c.raw_metadata, c.downloaded, c.discovered_at
		FROM catalog_items c
		WHERE c.collection_id = $1 AND c.downloaded = $2`)
	args := []any{filter.CollectionID, filter.Downloaded}

	if filter.ExcludeLedger {
		b.WriteString(` AND NOT EXISTS (SELECT 1 FROM sync_ledger l WHERE l.item_id = c.item_id)`)
	}
	b.WriteString(" ORDER BY " + s.dialect.orderColumn)
	if filter.Limit > 0 {
		b.WriteString(` LIMIT $3`)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(b.String()), args...)
	if err != nil {
		return nil, model.NewStorageError("list candidates", err)
	}
	defer rows.Close()

	var items []*model.CatalogItem
	for rows.Next() {
		item := &model.CatalogItem{}
		if err := rows.Scan(
			&item.ItemID, &item.CollectionID, &item.Title, &item.Description, &item.ThumbnailRef,
			&item.RawMetadata, &item.Downloaded, &item.DiscoveredAt,
		); err != nil {
			return nil, model.NewStorageError("scan candidate", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate candidates", err)
	}
	return items, nil
}

// CommitPublished は台帳エントリを未登録の場合のみ挿入する。
func (s *sqlRecordStore) CommitPublished(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	publishedAt := entry.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO sync_ledger (item_id, claim_name, claim_id, destination_group, published_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (item_id) DO NOTHING`),
		entry.ItemID, entry.ClaimName, entry.ClaimID, entry.DestinationGroup, publishedAt,
	)
	if err != nil {
		return false, model.NewStorageError("commit published", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewStorageError("commit published", err)
	}
	return n > 0, nil
}

// ListLedger はコレクションに属するアイテムの台帳エントリを公開順に返す。
func (s *sqlRecordStore) ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT l.item_id, l.claim_name, l.claim_id, l.destination_group, l.published_at
		 FROM sync_ledger l
		 JOIN catalog_items c ON c.item_id = l.item_id
		 WHERE c.collection_id = $1
		 ORDER BY l.published_at, l.item_id`),
		collectionID,
	)
	if err != nil {
		return nil, model.NewStorageError("list ledger", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e := &model.LedgerEntry{}
		if err := rows.Scan(&e.ItemID, &e.ClaimName, &e.ClaimID, &e.DestinationGroup, &e.PublishedAt); err != nil {
			return nil, model.NewStorageError("scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("iterate ledger", err)
	}
	return entries, nil
}

// Close はデータベース接続を閉じる。
func (s *sqlRecordStore) Close() error {
	return s.db.Close()
}

// itemArgs はINSERT用の引数列を組み立てる。
func itemArgs(item *model.CatalogItem) []any {
	thumb := item.ThumbnailRef
	if thumb == "" {
		thumb = model.ThumbnailUnprocessed
	}
	discoveredAt := item.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = time.Now().UTC()
	}
	return []any{
		item.ItemID, item.CollectionID, item.Title, item.Description, thumb,
		item.RawMetadata, item.Downloaded, discoveredAt,
	}
}
