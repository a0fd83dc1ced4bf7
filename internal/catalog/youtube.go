package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mediasync/internal/metrics"
	"github.com/hitoshi/mediasync/internal/model"
)

// DefaultYouTubeBaseURL はYouTube Data API v3のベースURL。
const DefaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// maxErrorBody はエラー時にログへ含めるレスポンスボディの最大バイト数。
const maxErrorBody = 512

// YouTubeClient はYouTube Data API v3を使用したAPIClient実装。
// チャンネルのuploadsプレイリストをマニフェストとして扱う。
type YouTubeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
}

// NewYouTubeClient はYouTubeClientを生成する。
// ratePerSec はAPI呼び出しの上限レート（0以下の場合は無制限）。
func NewYouTubeClient(httpClient *http.Client, baseURL, apiKey string, ratePerSec float64, mc metrics.MetricsCollector) *YouTubeClient {
	if baseURL == "" {
		baseURL = DefaultYouTubeBaseURL
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &YouTubeClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    mc,
	}
}

type channelListResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet json.RawMessage `json:"snippet"`
	} `json:"items"`
}

// snippet はplaylistItemのsnippetのうち、アイテム生成に必要なフィールド。
// 元のJSONはRawMetadataとしてそのまま保持する。
type snippet struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ResourceID  struct {
		VideoID string `json:"videoId"`
	} `json:"resourceId"`
}

// UploadsManifest はchannels.listでuploadsプレイリストIDを取得する。
func (c *YouTubeClient) UploadsManifest(ctx context.Context, collectionID string) (string, error) {
	q := url.Values{}
	q.Set("part", "contentDetails,brandingSettings")
	q.Set("id", collectionID)

	var resp channelListResponse
	if err := c.get(ctx, "channels", q, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", &model.NoContentError{CollectionID: collectionID}
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// ListPage はplaylistItems.listで1ページ（最大50件）を取得する。
func (c *YouTubeClient) ListPage(ctx context.Context, collectionID, manifestID, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("playlistId", manifestID)
	q.Set("maxResults", strconv.Itoa(MaxPageSize))
	if cursor != "" {
		q.Set("pageToken", cursor)
	}

	var resp playlistItemsResponse
	if err := c.get(ctx, "playlistItems", q, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextPageToken}
	for _, it := range resp.Items {
		var sn snippet
		if err := json.Unmarshal(it.Snippet, &sn); err != nil {
			return nil, fmt.Errorf("decode snippet: %w", err)
		}
		if sn.ResourceID.VideoID == "" {
			continue
		}
		page.Items = append(page.Items, &model.CatalogItem{
			ItemID:       sn.ResourceID.VideoID,
			CollectionID: collectionID,
			Title:        sn.Title,
			Description:  sn.Description,
			ThumbnailRef: model.ThumbnailUnprocessed,
			RawMetadata:  []byte(it.Snippet),
		})
	}
	return page, nil
}

// get はAPIキーを付与してGETリクエストを送り、JSONレスポンスをdstにデコードする。
func (c *YouTubeClient) get(ctx context.Context, resource string, q url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", resource, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", resource, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordCatalogStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: unexpected status %d: %s", resource, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", resource, err)
	}
	return nil
}
