// Package ledger はリモート台帳デーモンのJSON-RPCクライアントを提供する。
// デーモンの状態確認、グルーピング（チャンネル）の一覧と作成、ウォレットアドレス取得、
// 公開、名前解決の各RPCを扱う。
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultURL はローカルで稼働するデーモンのAPIエンドポイント。
const DefaultURL = "http://localhost:5279"

// maxResponseBody はRPCレスポンスの読み取り上限。
const maxResponseBody = 8 * 1024 * 1024

// Transport はRPCの送受信を抽象化する。
type Transport interface {
	// Call はメソッドを呼び出し、resultフィールドの生JSONを返す。
	// レスポンスにerrorフィールドがある場合は*RPCErrorを返す。
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// RPCError はデーモンが返したエラーペイロード。
// 通信障害ではなく、要求がデーモンに拒否されたことを表す。
type RPCError struct {
	Method  string
	Code    int
	Message string
	Raw     json.RawMessage
}

// Error はerrorインターフェースを実装する。
func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger %s: error response: %s", e.Method, e.Raw)
	}
	return fmt.Sprintf("ledger %s: %s (code %d)", e.Method, e.Message, e.Code)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// HTTPTransport はHTTP POSTでJSON-RPCを送るTransport。
type HTTPTransport struct {
	httpClient *http.Client
	url        string
}

// NewHTTPTransport はHTTPTransportを生成する。
func NewHTTPTransport(httpClient *http.Client, url string) *HTTPTransport {
	if url == "" {
		url = DefaultURL
	}
	return &HTTPTransport{httpClient: httpClient, url: url}
}

// Call はJSON-RPCリクエストを送信する。
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if len(rr.Error) > 0 && !isJSONNull(rr.Error) {
		return nil, parseRPCError(method, rr.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger %s: unexpected status %d", method, resp.StatusCode)
	}
	return rr.Result, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// parseRPCError はerrorフィールドを解釈する。オブジェクトと文字列の両形式に対応する。
func parseRPCError(method string, raw json.RawMessage) *RPCError {
	e := &RPCError{Method: method, Raw: raw}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		e.Code = obj.Code
		e.Message = obj.Message
		return e
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		e.Message = msg
	}
	return e
}
