package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/transfer"
)

// DefaultFeedURLTemplate はチャンネルIDからアップロードフィードURLを組み立てるテンプレート。
const DefaultFeedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// maxFeedBody はフィード・チャンネルページの読み取り上限。
const maxFeedBody = 10 * 1024 * 1024

// URLValidator は外部URLの事前検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FeedClient はチャンネルのRSS/Atomフィードを使用したAPIClient実装。
// APIキーが不要な代わりに、フィードに含まれる最新分のみが対象となる（1ページで終端）。
//
// collectionIDがhttp(s)のURLの場合は、そのページ自体がフィードであればそのまま使用し、
// HTMLであれば<link rel="alternate">からフィードURLを検出する。
type FeedClient struct {
	httpClient  *http.Client
	validator   URLValidator
	urlTemplate string
	limiter     *rate.Limiter
	parser      *gofeed.Parser
	metrics     metrics.MetricsCollector
}

// NewFeedClient はFeedClientを生成する。validatorがnilの場合はURL検証を行わない。
func NewFeedClient(httpClient *http.Client, validator URLValidator, urlTemplate string, ratePerSec float64, mc metrics.MetricsCollector) *FeedClient {
	if urlTemplate == "" {
		urlTemplate = DefaultFeedURLTemplate
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &FeedClient{
		httpClient:  httpClient,
		validator:   validator,
		urlTemplate: urlTemplate,
		limiter:     rate.NewLimiter(limit, 1),
		parser:      gofeed.NewParser(),
		metrics:     mc,
	}
}

// UploadsManifest はフィードURLをマニフェストIDとして返す。
func (c *FeedClient) UploadsManifest(ctx context.Context, collectionID string) (string, error) {
	if !isHTTPURL(collectionID) {
		return fmt.Sprintf(c.urlTemplate, url.QueryEscape(collectionID)), nil
	}

	body, contentType, err := c.fetch(ctx, collectionID)
	if err != nil {
		return "", err
	}
	if isFeedDocument(contentType, body) {
		return collectionID, nil
	}

	feedURL := findAlternateFeed(body, collectionID)
	if feedURL == "" {
		return "", &model.NoContentError{CollectionID: collectionID}
	}
	return feedURL, nil
}

// feedMetadata はフィードアイテムのRawMetadataとして保存するJSON。
// 公開ペイロードのauthorはchannelTitleから取得される。
type feedMetadata struct {
	ChannelTitle string `json:"channelTitle"`
	Title        string `json:"title"`
	Link         string `json:"link,omitempty"`
	PublishedAt  string `json:"publishedAt,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

// ListPage はフィードを取得してアイテムに変換する。フィードはページングしないため常に終端。
func (c *FeedClient) ListPage(ctx context.Context, collectionID, manifestID, cursor string) (*Page, error) {
	body, _, err := c.fetch(ctx, manifestID)
	if err != nil {
		return nil, err
	}

	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	page := &Page{}
	for _, it := range feed.Items {
		id := feedItemID(it)
		// IDは保存ファイル名になるため、単一のパス要素にならないエントリは取り込まない
		if !transfer.ValidPathElement(id) {
			continue
		}

		meta := feedMetadata{
			ChannelTitle: feed.Title,
			Title:        it.Title,
			Link:         it.Link,
			PublishedAt:  it.Published,
		}
		if it.Author != nil && it.Author.Name != "" {
			meta.ChannelTitle = it.Author.Name
		}
		if it.Image != nil {
			meta.Thumbnail = it.Image.URL
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", id, err)
		}

		page.Items = append(page.Items, &model.CatalogItem{
			ItemID:       id,
			CollectionID: collectionID,
			Title:        it.Title,
			Description:  feedItemDescription(it),
			ThumbnailRef: model.ThumbnailUnprocessed,
			RawMetadata:  raw,
		})
	}
	return page, nil
}

func (c *FeedClient) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if c.validator != nil {
		if err := c.validator.ValidateURL(rawURL); err != nil {
			return nil, "", fmt.Errorf("URL検証に失敗: %w", err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "mediasync/1.0")
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordCatalogStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// feedItemID はyt:videoId拡張があればそれを、なければGUIDをアイテムIDとして返す。
func feedItemID(it *gofeed.Item) string {
	if yt, ok := it.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return ids[0].Value
		}
	}
	return it.GUID
}

// feedItemDescription はmedia:group/media:descriptionを優先して説明文を返す。
func feedItemDescription(it *gofeed.Item) string {
	if media, ok := it.Extensions["media"]; ok {
		for _, group := range media["group"] {
			if desc := group.Children["description"]; len(desc) > 0 && desc[0].Value != "" {
				return desc[0].Value
			}
		}
	}
	if it.Description != "" {
		return it.Description
	}
	return it.Content
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// isFeedDocument はContent-Typeとボディ先頭からRSS/Atom文書かを判定する。
func isFeedDocument(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	switch strings.ToLower(mediaType) {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml":
		n := len(body)
		if n > 4096 {
			n = 4096
		}
		prefix := strings.ToLower(string(body[:n]))
		return strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<feed")
	}
	return false
}

// findAlternateFeed はHTMLのheadから最初のRSS/Atomの代替リンクを探し、絶対URLで返す。
func findAlternateFeed(body []byte, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "head" {
				return ""
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			if string(tn) == "body" {
				return ""
			}
			if string(tn) != "link" || !hasAttr {
				continue
			}

			var rel, typ, href string
			for {
				key, val, more := z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}
			if rel != "alternate" || href == "" {
				continue
			}
			if typ != "application/rss+xml" && typ != "application/atom+xml" {
				continue
			}
			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref).String()
		}
	}
}
