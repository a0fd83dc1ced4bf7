// Package thumbnail はサムネイル画像をブロブストアへ保存するエンドポイントのクライアントを提供する。
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// maxResponseBody はレスポンスボディの読み取り上限。
const maxResponseBody = 64 * 1024

// Client はサムネイル保存エンドポイントのクライアント。
// PUT {"videoid": id} を送信し、{"error": 0, "url": ...} を成功として扱う。
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, endpoint string, logger *slog.Logger) *Client {
	return &Client{httpClient: httpClient, endpoint: endpoint, logger: logger}
}

type storeRequest struct {
	VideoID string `json:"videoid"`
}

type storeResponse struct {
	Error *int   `json:"error"`
	URL   string `json:"url"`
}

// Store はアイテムのサムネイルを保存し、公開URLを返す。
func (c *Client) Store(ctx context.Context, itemID string) (string, error) {
	payload, err := json.Marshal(storeRequest{VideoID: itemID})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("サムネイル保存APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result storeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました (status %d): %w", resp.StatusCode, err)
	}
	if result.Error == nil || *result.Error != 0 || result.URL == "" {
		return "", fmt.Errorf("サムネイル保存APIがエラーを返しました (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	c.logger.Debug("サムネイルを保存しました",
		slog.String("item_id", itemID),
		slog.String("url", result.URL),
	)
	return result.URL, nil
}
