package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/hitoshi/mediasync/internal/model"
)

// バケット名
var (
	bucketItems  = []byte("catalog_items")
	bucketOrder  = []byte("discovery_order")
	bucketLedger = []byte("sync_ledger")
)

// boltItem はBoltDBに保存するカタログアイテムのJSON表現。
type boltItem struct {
	ItemID       string    `json:"item_id"`
	CollectionID string    `json:"collection_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailRef string    `json:"thumbnail_ref"`
	RawMetadata  []byte    `json:"raw_metadata,omitempty"`
	Downloaded   bool      `json:"downloaded"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// boltLedgerEntry はBoltDBに保存する台帳エントリのJSON表現。
type boltLedgerEntry struct {
	ItemID           string    `json:"item_id"`
	ClaimName        string    `json:"claim_name"`
	ClaimID          string    `json:"claim_id"`
	DestinationGroup string    `json:"destination_group"`
	PublishedAt      time.Time `json:"published_at"`
}

// BoltRecordStore はBoltDB（キーバリューストア）を使用したレコードストア。
// 発見順はdiscovery_orderバケットのシーケンス番号で保持する。
type BoltRecordStore struct {
	db *bolt.DB
}

// NewBoltRecordStore は指定パスのBoltDBを開き、必要なバケットを作成する。
func NewBoltRecordStore(path string) (*BoltRecordStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, model.NewStorageError("create bolt dir", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, model.NewStorageError("open bolt db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketOrder, bucketLedger} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, model.NewStorageError("create buckets", err)
	}

	return &BoltRecordStore{db: db}, nil
}

// UpsertDiscovered はアイテムを未登録の場合のみ挿入する。
func (s *BoltRecordStore) UpsertDiscovered(ctx context.Context, item *model.CatalogItem) (bool, error) {
	n, err := s.UpsertDiscoveredBatch(ctx, []*model.CatalogItem{item})
	return n > 0, err
}

// UpsertDiscoveredBatch はページ全体を1つのUpdateトランザクションで挿入する。
func (s *BoltRecordStore) UpsertDiscoveredBatch(ctx context.Context, items []*model.CatalogItem) (int, error) {
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		itemsB := tx.Bucket(bucketItems)
		orderB := tx.Bucket(bucketOrder)

		for _, item := range items {
			key := []byte(item.ItemID)
			if itemsB.Get(key) != nil {
				continue
			}

			data, err := json.Marshal(toBoltItem(item))
			if err != nil {
				return fmt.Errorf("encode item %s: %w", item.ItemID, err)
			}
			if err := itemsB.Put(key, data); err != nil {
				return err
			}

			seq, err := orderB.NextSequence()
			if err != nil {
				return err
			}
			if err := orderB.Put(seqKey(seq), key); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, model.NewStorageError("upsert discovered batch", err)
	}
	return inserted, nil
}

// MarkDownloaded はアイテムをダウンロード済みにする。
func (s *BoltRecordStore) MarkDownloaded(ctx context.Context, itemID string) error {
	err := s.updateItem(itemID, func(it *boltItem) { it.Downloaded = true })
	return model.NewStorageError("mark downloaded", err)
}

// UpdateThumbnail はサムネイル参照を更新する。
func (s *BoltRecordStore) UpdateThumbnail(ctx context.Context, itemID, ref string) error {
	err := s.updateItem(itemID, func(it *boltItem) { it.ThumbnailRef = ref })
	return model.NewStorageError("update thumbnail", err)
}

func (s *BoltRecordStore) updateItem(itemID string, mutate func(*boltItem)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		data := b.Get([]byte(itemID))
		if data == nil {
			return fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
		}
		var it boltItem
		if err := json.Unmarshal(data, &it); err != nil {
			return fmt.Errorf("decode item %s: %w", itemID, err)
		}
		mutate(&it)
		updated, err := json.Marshal(it)
		if err != nil {
			return err
		}
		return b.Put([]byte(itemID), updated)
	})
}

// ListCandidates は発見順にカーソルを走査し、条件に一致するアイテムを返す。
func (s *BoltRecordStore) ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]*model.CatalogItem, error) {
	var result []*model.CatalogItem
	err := s.db.View(func(tx *bolt.Tx) error {
		itemsB := tx.Bucket(bucketItems)
		ledgerB := tx.Bucket(bucketLedger)

		c := tx.Bucket(bucketOrder).Cursor()
		for _, id := c.First(); id != nil; _, id = c.Next() {
			data := itemsB.Get(id)
			if data == nil {
				continue
			}
			var it boltItem
			if err := json.Unmarshal(data, &it); err != nil {
				return fmt.Errorf("decode item %s: %w", id, err)
			}
			item := it.toModel()
			if !filter.Matches(item) {
				continue
			}
			if filter.ExcludeLedger && ledgerB.Get(id) != nil {
				continue
			}
			result = append(result, item)
			if filter.Limit > 0 && len(result) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.NewStorageError("list candidates", err)
	}
	return result, nil
}

// CommitPublished は台帳エントリを未登録の場合のみ挿入する。
func (s *BoltRecordStore) CommitPublished(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(entry.ItemID)
		if tx.Bucket(bucketItems).Get(key) == nil {
			return fmt.Errorf("item %s: %w", entry.ItemID, model.ErrNotFound)
		}
		b := tx.Bucket(bucketLedger)
		if b.Get(key) != nil {
			return nil
		}

		publishedAt := entry.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = time.Now().UTC()
		}
		data, err := json.Marshal(boltLedgerEntry{
			ItemID:           entry.ItemID,
			ClaimName:        entry.ClaimName,
			ClaimID:          entry.ClaimID,
			DestinationGroup: entry.DestinationGroup,
			PublishedAt:      publishedAt,
		})
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, model.NewStorageError("commit published", err)
	}
	return inserted, nil
}

// ListLedger はコレクションに属するアイテムの台帳エントリを発見順に返す。
func (s *BoltRecordStore) ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		itemsB := tx.Bucket(bucketItems)
		ledgerB := tx.Bucket(bucketLedger)

		c := tx.Bucket(bucketOrder).Cursor()
		for _, id := c.First(); id != nil; _, id = c.Next() {
			raw := ledgerB.Get(id)
			if raw == nil {
				continue
			}
			var it boltItem
			if err := json.Unmarshal(itemsB.Get(id), &it); err != nil {
				return fmt.Errorf("decode item %s: %w", id, err)
			}
			if it.CollectionID != collectionID {
				continue
			}
			var le boltLedgerEntry
			if err := json.Unmarshal(raw, &le); err != nil {
				return fmt.Errorf("decode ledger entry %s: %w", id, err)
			}
			entries = append(entries, &model.LedgerEntry{
				ItemID:           le.ItemID,
				ClaimName:        le.ClaimName,
				ClaimID:          le.ClaimID,
				DestinationGroup: le.DestinationGroup,
				PublishedAt:      le.PublishedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, model.NewStorageError("list ledger", err)
	}
	return entries, nil
}

// Close はBoltDBを閉じる。
func (s *BoltRecordStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func toBoltItem(item *model.CatalogItem) boltItem {
	thumb := item.ThumbnailRef
	if thumb == "" {
		thumb = model.ThumbnailUnprocessed
	}
	discoveredAt := item.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = time.Now().UTC()
	}
	return boltItem{
		ItemID:       item.ItemID,
		CollectionID: item.CollectionID,
		Title:        item.Title,
		Description:  item.Description,
		ThumbnailRef: thumb,
		RawMetadata:  item.RawMetadata,
		Downloaded:   item.Downloaded,
		DiscoveredAt: discoveredAt,
	}
}

func (it boltItem) toModel() *model.CatalogItem {
	return &model.CatalogItem{
		ItemID:       it.ItemID,
		CollectionID: it.CollectionID,
		Title:        it.Title,
		Description:  it.Description,
		ThumbnailRef: it.ThumbnailRef,
		RawMetadata:  it.RawMetadata,
		Downloaded:   it.Downloaded,
		DiscoveredAt: it.DiscoveredAt,
	}
}
