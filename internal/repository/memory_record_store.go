package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/mediasync/internal/model"
)

// MemoryRecordStore はプロセス内メモリのレコードストア。
// 永続化を伴わない試験実行とテストで使用する。
type MemoryRecordStore struct {
	mu     sync.RWMutex
	items  map[string]*model.CatalogItem
	order  []string
	ledger map[string]*model.LedgerEntry
}

// NewMemoryRecordStore はMemoryRecordStoreを生成する。
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		items:  make(map[string]*model.CatalogItem),
		ledger: make(map[string]*model.LedgerEntry),
	}
}

// UpsertDiscovered はアイテムを未登録の場合のみ挿入する。
func (s *MemoryRecordStore) UpsertDiscovered(ctx context.Context, item *model.CatalogItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(item), nil
}

// errEmptyItemID はIDが空のアイテムを保存しようとしたことを表す。
var errEmptyItemID = errors.New("item id is required")

// UpsertDiscoveredBatch はロックを保持したままページ全体を挿入する。
// IDが空のアイテムを含むページは1件も挿入しない。
func (s *MemoryRecordStore) UpsertDiscoveredBatch(ctx context.Context, items []*model.CatalogItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item.ItemID == "" {
			return 0, model.NewStorageError("upsert discovered batch", errEmptyItemID)
		}
	}

	inserted := 0
	for _, item := range items {
		if s.insertLocked(item) {
			inserted++
		}
	}
	return inserted, nil
}

func (s *MemoryRecordStore) insertLocked(item *model.CatalogItem) bool {
	if _, ok := s.items[item.ItemID]; ok {
		return false
	}
	cp := *item
	if cp.ThumbnailRef == "" {
		cp.ThumbnailRef = model.ThumbnailUnprocessed
	}
	if cp.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = time.Now().UTC()
	}
	s.items[cp.ItemID] = &cp
	s.order = append(s.order, cp.ItemID)
	return true
}

// MarkDownloaded はアイテムをダウンロード済みにする。
func (s *MemoryRecordStore) MarkDownloaded(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return model.NewStorageError("mark downloaded", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound))
	}
	item.Downloaded = true
	return nil
}

// UpdateThumbnail はサムネイル参照を更新する。
func (s *MemoryRecordStore) UpdateThumbnail(ctx context.Context, itemID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return model.NewStorageError("update thumbnail", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound))
	}
	item.ThumbnailRef = ref
	return nil
}

// ListCandidates は条件に一致するアイテムのコピーを発見順に返す。
func (s *MemoryRecordStore) ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]*model.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.CatalogItem
	for _, id := range s.order {
		item := s.items[id]
		if !filter.Matches(item) {
			continue
		}
		if filter.ExcludeLedger {
			if _, published := s.ledger[id]; published {
				continue
			}
		}
		cp := *item
		result = append(result, &cp)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// CommitPublished は台帳エントリを未登録の場合のみ挿入する。
// 参照先アイテムが存在しない場合は外部キー違反相当のエラーを返す。
func (s *MemoryRecordStore) CommitPublished(ctx context.Context, entry *model.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[entry.ItemID]; !ok {
		return false, model.NewStorageError("commit published", fmt.Errorf("item %s: %w", entry.ItemID, model.ErrNotFound))
	}
	if _, ok := s.ledger[entry.ItemID]; ok {
		return false, nil
	}
	cp := *entry
	if cp.PublishedAt.IsZero() {
		cp.PublishedAt = time.Now().UTC()
	}
	s.ledger[cp.ItemID] = &cp
	return true, nil
}

// ListLedger はコレクションに属するアイテムの台帳エントリを発見順に返す。
func (s *MemoryRecordStore) ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*model.LedgerEntry
	for _, id := range s.order {
		if s.items[id].CollectionID != collectionID {
			continue
		}
		if e, ok := s.ledger[id]; ok {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

// Close は何もしない。
func (s *MemoryRecordStore) Close() error { return nil }
