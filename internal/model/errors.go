package model

import (
	"errors"
	"fmt"
)

// ErrNotFound は対象レコードが存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// StorageError はレコードストアのI/O失敗を表す。
// 呼び出し元ステージの現在の作業単位を中断する致命エラー。
type StorageError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError はStorageErrorを生成する。errがnilの場合はnilを返す。
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// CatalogError はカタログAPIの通信・パース失敗を表す。
// 発見ステージに対して致命的だが、保存済みのページはロールバックしない。
type CatalogError struct {
	CollectionID string
	Op           string
	Err          error
}

// Error はerrorインターフェースを実装する。
func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s: %s: %v", e.CollectionID, e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *CatalogError) Unwrap() error { return e.Err }

// NoContentError はコレクションにアップロードマニフェストが存在しないことを表す。
type NoContentError struct {
	CollectionID string
}

// Error はerrorインターフェースを実装する。
func (e *NoContentError) Error() string {
	return fmt.Sprintf("no uploads found for collection %s", e.CollectionID)
}

// DownloadError はアイテム単位の転送失敗を表す。ステージ内で回復される。
type DownloadError struct {
	ItemID string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.ItemID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *DownloadError) Unwrap() error { return e.Err }

// NotOwnedError は指定グルーピングが現在のアイデンティティに所有されていないことを表す。
type NotOwnedError struct {
	Group string
}

// Error はerrorインターフェースを実装する。
func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("group %q is not owned by the current identity", e.Group)
}

// PublishError はリトライ上限到達後のアイテム単位の公開失敗を表す。
type PublishError struct {
	ItemID    string
	ClaimName string
	Attempts  int
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s (%s) failed after %d attempts: %v", e.ItemID, e.ClaimName, e.Attempts, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *PublishError) Unwrap() error { return e.Err }

// ConfigError は不正な設定・CLI入力を表す。どのステージよりも前に致命となる。
type ConfigError struct {
	Problems []string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Problems)
}

// LedgerUnavailableError は台帳デーモンが稼働していないことを表す。
type LedgerUnavailableError struct {
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger daemon unavailable: %v", e.Err)
}

// Unwrap は元のエラーを返す。
func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// IsStageFatal はエラーがパイプライン全体を中断すべき種別かを判定する。
// アイテム単位のエラー（DownloadError、PublishError）は致命ではない。
func IsStageFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		storageErr   *StorageError
		catalogErr   *CatalogError
		noContentErr *NoContentError
		notOwnedErr  *NotOwnedError
		configErr    *ConfigError
		ledgerErr    *LedgerUnavailableError
	)
	switch {
	case errors.As(err, &storageErr),
		errors.As(err, &catalogErr),
		errors.As(err, &noContentErr),
		errors.As(err, &notOwnedErr),
		errors.As(err, &configErr),
		errors.As(err, &ledgerErr):
		return true
	}
	return false
}
