package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hitoshi/mediasync/internal/model"
)

// runRecordStoreContract はすべてのRecordStore実装が満たすべき振る舞いを検証する。
func runRecordStoreContract(t *testing.T, newStore func(t *testing.T) RecordStore) {
	t.Run("重複発見でも1行のみ", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		page := []*model.CatalogItem{item("vid-1", "chan-a"), item("vid-2", "chan-a")}
		n, err := s.UpsertDiscoveredBatch(ctx, page)
		if err != nil {
			t.Fatalf("UpsertDiscoveredBatch: %v", err)
		}
		if n != 2 {
			t.Errorf("inserted = %d, want 2", n)
		}

		// 同じページの再取得
		n, err = s.UpsertDiscoveredBatch(ctx, []*model.CatalogItem{item("vid-1", "chan-a"), item("vid-2", "chan-a")})
		if err != nil {
			t.Fatalf("UpsertDiscoveredBatch (2回目): %v", err)
		}
		if n != 0 {
			t.Errorf("再取得時の inserted = %d, want 0", n)
		}

		inserted, err := s.UpsertDiscovered(ctx, item("vid-1", "chan-a"))
		if err != nil {
			t.Fatalf("UpsertDiscovered: %v", err)
		}
		if inserted {
			t.Error("既存アイテムの UpsertDiscovered が true を返した")
		}

		items, err := s.ListCandidates(ctx, model.DownloadCandidates("chan-a"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("len(items) = %d, want 2", len(items))
		}
	})

	t.Run("途中で失敗したページは1件も保存されない", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedItems(t, s, "chan-a", "old")

		page := []*model.CatalogItem{item("p1", "chan-a"), item("p2", "chan-a"), item("", "chan-a")}
		n, err := s.UpsertDiscoveredBatch(ctx, page)
		var storageErr *model.StorageError
		if !errors.As(err, &storageErr) {
			t.Fatalf("StorageError でない: %v", err)
		}
		if n != 0 {
			t.Errorf("inserted = %d, want 0", n)
		}

		items, err := s.ListCandidates(ctx, model.DownloadCandidates("chan-a"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, items, "old")

		// 同じページを正しい内容で再取得すれば保存される
		n, err = s.UpsertDiscoveredBatch(ctx, page[:2])
		if err != nil {
			t.Fatalf("UpsertDiscoveredBatch: %v", err)
		}
		if n != 2 {
			t.Errorf("再取得時の inserted = %d, want 2", n)
		}
	})

	t.Run("発見時の初期値", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		it := item("vid-1", "chan-a")
		it.ThumbnailRef = ""
		it.RawMetadata = []byte(`{"channelTitle":"Chan A"}`)
		if _, err := s.UpsertDiscovered(ctx, it); err != nil {
			t.Fatalf("UpsertDiscovered: %v", err)
		}

		items, err := s.ListCandidates(ctx, model.DownloadCandidates("chan-a"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("len(items) = %d, want 1", len(items))
		}
		got := items[0]
		if got.ThumbnailRef != model.ThumbnailUnprocessed {
			t.Errorf("ThumbnailRef = %q, want %q", got.ThumbnailRef, model.ThumbnailUnprocessed)
		}
		if got.Downloaded {
			t.Error("Downloaded = true, want false")
		}
		if string(got.RawMetadata) != `{"channelTitle":"Chan A"}` {
			t.Errorf("RawMetadata = %s", got.RawMetadata)
		}
		if got.Title != "title vid-1" {
			t.Errorf("Title = %q", got.Title)
		}
	})

	t.Run("ダウンロード済みへの遷移と発見順", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "c", "a", "b")
		if err := s.MarkDownloaded(ctx, "a"); err != nil {
			t.Fatalf("MarkDownloaded: %v", err)
		}

		pending, err := s.ListCandidates(ctx, model.DownloadCandidates("chan-a"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, pending, "c", "b")

		done, err := s.ListCandidates(ctx, model.PublishCandidates("chan-a", 0))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, done, "a")
	})

	t.Run("存在しないアイテムのMarkDownloaded", func(t *testing.T) {
		s := newStore(t)
		err := s.MarkDownloaded(context.Background(), "missing")
		if err == nil {
			t.Fatal("エラーが返らない")
		}
		var storageErr *model.StorageError
		if !errors.As(err, &storageErr) {
			t.Errorf("StorageError でない: %T", err)
		}
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("ErrNotFound をラップしていない: %v", err)
		}
	})

	t.Run("台帳登録済みアイテムは公開候補に含まれない", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "v1", "v2", "v3")
		for _, id := range []string{"v1", "v2", "v3"} {
			if err := s.MarkDownloaded(ctx, id); err != nil {
				t.Fatalf("MarkDownloaded: %v", err)
			}
		}

		ok, err := s.CommitPublished(ctx, &model.LedgerEntry{ItemID: "v2", ClaimName: "abc-v2", ClaimID: "claim-2"})
		if err != nil {
			t.Fatalf("CommitPublished: %v", err)
		}
		if !ok {
			t.Fatal("CommitPublished が false を返した")
		}

		candidates, err := s.ListCandidates(ctx, model.PublishCandidates("chan-a", 0))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, candidates, "v1", "v3")
	})

	t.Run("台帳除外はダウンロード状態に依存しない", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "v1", "v2")
		if _, err := s.CommitPublished(ctx, &model.LedgerEntry{ItemID: "v1", ClaimName: "abc-v1", ClaimID: "c1"}); err != nil {
			t.Fatalf("CommitPublished: %v", err)
		}

		got, err := s.ListCandidates(ctx, model.CandidateFilter{
			CollectionID:  "chan-a",
			Downloaded:    false,
			ExcludeLedger: true,
		})
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, got, "v2")
	})

	t.Run("CommitPublishedの重複は無視される", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "v1")
		entry := &model.LedgerEntry{ItemID: "v1", ClaimName: "abc-v1", ClaimID: "c1", DestinationGroup: "@group"}
		if ok, err := s.CommitPublished(ctx, entry); err != nil || !ok {
			t.Fatalf("1回目 CommitPublished = (%v, %v), want (true, nil)", ok, err)
		}
		if ok, err := s.CommitPublished(ctx, &model.LedgerEntry{ItemID: "v1", ClaimName: "other", ClaimID: "c2"}); err != nil || ok {
			t.Fatalf("2回目 CommitPublished = (%v, %v), want (false, nil)", ok, err)
		}

		entries, err := s.ListLedger(ctx, "chan-a")
		if err != nil {
			t.Fatalf("ListLedger: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("len(entries) = %d, want 1", len(entries))
		}
		if entries[0].ClaimID != "c1" || entries[0].DestinationGroup != "@group" {
			t.Errorf("entry = %+v, 最初のエントリが保持されていない", entries[0])
		}
	})

	t.Run("上限とコレクションの絞り込み", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "a1", "a2", "a3")
		seedItems(t, s, "chan-b", "b1")

		got, err := s.ListCandidates(ctx, model.CandidateFilter{CollectionID: "chan-a", Limit: 2})
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, got, "a1", "a2")

		got, err = s.ListCandidates(ctx, model.DownloadCandidates("chan-b"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		assertIDs(t, got, "b1")
	})

	t.Run("ListLedgerはコレクションで絞り込む", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "a1")
		seedItems(t, s, "chan-b", "b1")
		for _, id := range []string{"a1", "b1"} {
			if _, err := s.CommitPublished(ctx, &model.LedgerEntry{ItemID: id, ClaimName: "t-" + id, ClaimID: "c-" + id}); err != nil {
				t.Fatalf("CommitPublished: %v", err)
			}
		}

		entries, err := s.ListLedger(ctx, "chan-b")
		if err != nil {
			t.Fatalf("ListLedger: %v", err)
		}
		if len(entries) != 1 || entries[0].ItemID != "b1" {
			t.Errorf("entries = %+v, want [b1]", entries)
		}
	})

	t.Run("サムネイル参照の更新", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seedItems(t, s, "chan-a", "v1")
		if err := s.UpdateThumbnail(ctx, "v1", "https://cdn.example.com/v1.jpg"); err != nil {
			t.Fatalf("UpdateThumbnail: %v", err)
		}
		got, err := s.ListCandidates(ctx, model.DownloadCandidates("chan-a"))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if got[0].ThumbnailRef != "https://cdn.example.com/v1.jpg" {
			t.Errorf("ThumbnailRef = %q", got[0].ThumbnailRef)
		}
	})

	t.Run("存在しないアイテムのUpdateThumbnail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateThumbnail(ctx, "missing", model.ThumbnailFailed)
		var storageErr *model.StorageError
		if !errors.As(err, &storageErr) {
			t.Fatalf("StorageError でない: %v", err)
		}
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("ErrNotFound をラップしていない: %v", err)
		}

		items, err := s.ListCandidates(ctx, model.DownloadCandidates(""))
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(items) != 0 {
			t.Errorf("未登録アイテムが作成された: %+v", items)
		}
	})
}

func item(id, collection string) *model.CatalogItem {
	return &model.CatalogItem{
		ItemID:       id,
		CollectionID: collection,
		Title:        "title " + id,
		Description:  "description " + id,
		ThumbnailRef: model.ThumbnailUnprocessed,
	}
}

func seedItems(t *testing.T, s RecordStore, collection string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := s.UpsertDiscovered(context.Background(), item(id, collection)); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func assertIDs(t *testing.T, items []*model.CatalogItem, want ...string) {
	t.Helper()
	got := make([]string, len(items))
	for i, it := range items {
		got[i] = it.ItemID
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("item ids = %v, want %v", got, want)
	}
}
