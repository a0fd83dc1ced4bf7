// Package catalog は外部カタログAPIのページングを辿り、発見したアイテムをレコードストアに保存する。
package catalog

import (
	"context"

	"github.com/hitoshi/mediasync/internal/model"
)

// MaxPageSize はカタログAPIが1ページで返す最大件数。
const MaxPageSize = 50

// Page はカタログAPIの1ページ分の取得結果。
// NextCursorが空の場合はコレクションの終端を表す。
type Page struct {
	Items      []*model.CatalogItem
	NextCursor string
}

// APIClient はカタログAPIのインターフェース。
type APIClient interface {
	// UploadsManifest はコレクションIDをアップロードマニフェストIDに解決する。
	// マニフェストが存在しない場合はmodel.NoContentErrorを返す。
	UploadsManifest(ctx context.Context, collectionID string) (string, error)

	// ListPage はマニフェストの1ページを取得する。cursorが空の場合は先頭ページ。
	ListPage(ctx context.Context, collectionID, manifestID, cursor string) (*Page, error)
}
