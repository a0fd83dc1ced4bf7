package publish

import (
	"log/slog"

	"github.com/hitoshi/mediasync/internal/catalog"
	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/security"
	"github.com/hitoshi/mediasync/internal/transfer"
)

// 公開ペイロードの既定値。
const (
	DefaultBid      = 0.01
	DefaultLicense  = "Creative Commons License"
	DefaultLanguage = "en"
)

// PayloadConfig は公開ペイロードに付与する設定値。
type PayloadConfig struct {
	VideosDir        string
	Bid              float64
	License          string
	Language         string
	ThumbnailBaseURL string
	Group            string      // 空の場合はグルーピングに紐付けない
	Fee              *ledger.Fee // nilの場合は無料
}

// PayloadBuilder はカタログアイテムから公開RPCのパラメータを組み立てる。
type PayloadBuilder struct {
	cfg       PayloadConfig
	sanitizer *security.DescriptionSanitizer
	logger    *slog.Logger
}

// NewPayloadBuilder はPayloadBuilderを生成する。
func NewPayloadBuilder(cfg PayloadConfig, sanitizer *security.DescriptionSanitizer, logger *slog.Logger) *PayloadBuilder {
	if cfg.Bid <= 0 {
		cfg.Bid = DefaultBid
	}
	if cfg.License == "" {
		cfg.License = DefaultLicense
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if sanitizer == nil {
		sanitizer = security.NewDescriptionSanitizer()
	}
	return &PayloadBuilder{cfg: cfg, sanitizer: sanitizer, logger: logger}
}

// Group は紐付け先のグルーピング名を返す。
func (b *PayloadBuilder) Group() string {
	return b.cfg.Group
}

// Build はアイテムの公開パラメータを生成する。
// 投稿者名はRawMetadataのチャンネル名から取り、説明文はHTMLを除去した平文にする。
// RawMetadataが壊れている場合は警告を記録し、アイテム本体の値だけで組み立てる。
// ローカルの保存先を決められないアイテムはエラーを返す。
func (b *PayloadBuilder) Build(item *model.CatalogItem, claimName, claimAddress string) (ledger.PublishParams, error) {
	path, err := transfer.MediaPath(b.cfg.VideosDir, item.CollectionID, item.ItemID)
	if err != nil {
		return ledger.PublishParams{}, err
	}

	meta, err := catalog.ParseRawMetadata(item.RawMetadata)
	if err != nil {
		b.logger.Warn("メタデータの解析に失敗しました",
			slog.String("item_id", item.ItemID),
			slog.String("error", err.Error()),
		)
	}

	title := item.Title
	if title == "" {
		title = meta.Title
	}
	description := item.Description
	if description == "" {
		description = meta.Description
	}

	p := ledger.PublishParams{
		Name:         claimName,
		FilePath:     path,
		Bid:          b.cfg.Bid,
		ClaimAddress: claimAddress,
		Author:       meta.ChannelTitle,
		Title:        title,
		Description:  b.sanitizer.PlainText(description),
		Language:     b.cfg.Language,
		License:      b.cfg.License,
		NSFW:         false,
		Thumbnail:    b.thumbnail(item),
		ChannelName:  b.cfg.Group,
	}
	if b.cfg.Fee != nil {
		fee := *b.cfg.Fee
		if fee.Address == "" {
			fee.Address = claimAddress
		}
		p.Fee = &fee
	}
	return p, nil
}

func (b *PayloadBuilder) thumbnail(item *model.CatalogItem) string {
	if b.cfg.ThumbnailBaseURL != "" {
		return b.cfg.ThumbnailBaseURL + item.ItemID
	}
	if isURL(item.ThumbnailRef) {
		return item.ThumbnailRef
	}
	return ""
}
