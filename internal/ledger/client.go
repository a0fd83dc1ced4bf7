package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Client はデーモンの各RPCを型付きで呼び出すクライアント。
type Client struct {
	transport Transport
}

// NewClient はClientを生成する。
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Status はデーモンの稼働状態。
type Status struct {
	IsRunning bool `json:"is_running"`
}

// Channel は現在のアイデンティティが所有するグルーピング。
type Channel struct {
	Name    string `json:"name"`
	ClaimID string `json:"claim_id"`
}

// Fee は公開時に設定する料金条件。
type Fee struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Address  string  `json:"address,omitempty"`
}

// PublishParams はpublish RPCのパラメータ。
type PublishParams struct {
	Name         string  `json:"name"`
	FilePath     string  `json:"file_path"`
	Bid          float64 `json:"bid"`
	ClaimAddress string  `json:"claim_address,omitempty"`
	Author       string  `json:"author,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Language     string  `json:"language,omitempty"`
	License      string  `json:"license,omitempty"`
	NSFW         bool    `json:"nsfw"`
	Thumbnail    string  `json:"thumbnail,omitempty"`
	ChannelName  string  `json:"channel_name,omitempty"`
	Fee          *Fee    `json:"fee,omitempty"`
}

// ClaimResult は公開・チャンネル作成の成功レスポンス。
type ClaimResult struct {
	ClaimID string `json:"claim_id"`
	TxID    string `json:"txid"`
	Nout    int    `json:"nout"`
}

// ResolvedClaim は名前解決の結果。該当クレームがない場合はnil。
type ResolvedClaim struct {
	Name    string
	ClaimID string
}

// Status はstatus RPCを呼び出す。
func (c *Client) Status(ctx context.Context) (*Status, error) {
	raw, err := c.transport.Call(ctx, "status", nil)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// ChannelListMine は所有チャンネルの一覧を返す。
// 配列形式と{"items": [...]}形式の両方のresultに対応する。
func (c *Client) ChannelListMine(ctx context.Context) ([]Channel, error) {
	raw, err := c.transport.Call(ctx, "channel_list_mine", nil)
	if err != nil {
		return nil, err
	}

	var list []Channel
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var paged struct {
		Items []Channel `json:"items"`
	}
	if err := json.Unmarshal(raw, &paged); err != nil {
		return nil, fmt.Errorf("decode channel list: %w", err)
	}
	return paged.Items, nil
}

// ChannelNew はチャンネルを作成する。
func (c *Client) ChannelNew(ctx context.Context, name string, bid float64) (*ClaimResult, error) {
	params := map[string]any{"channel_name": name, "amount": bid}
	raw, err := c.transport.Call(ctx, "channel_new", params)
	if err != nil {
		return nil, err
	}
	var res ClaimResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode channel_new result: %w", err)
	}
	return &res, nil
}

// WalletList はウォレットのアドレス一覧を返す。
// 文字列配列と{"address": ...}オブジェクト配列の両方に対応する。
func (c *Client) WalletList(ctx context.Context) ([]string, error) {
	raw, err := c.transport.Call(ctx, "wallet_list", nil)
	if err != nil {
		return nil, err
	}

	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err == nil {
		return addrs, nil
	}
	var objs []struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, fmt.Errorf("decode wallet list: %w", err)
	}
	addrs = make([]string, 0, len(objs))
	for _, o := range objs {
		addrs = append(addrs, o.Address)
	}
	return addrs, nil
}

// Publish はクレームを公開する。デーモンがエラーを返した場合は*RPCErrorを返す。
func (c *Client) Publish(ctx context.Context, params PublishParams) (*ClaimResult, error) {
	raw, err := c.transport.Call(ctx, "publish", params)
	if err != nil {
		return nil, err
	}
	var res ClaimResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode publish result: %w", err)
	}
	if res.ClaimID == "" {
		return nil, &RPCError{Method: "publish", Message: "response has no claim_id", Raw: raw}
	}
	return &res, nil
}

// Resolve はクレーム名を解決し、現在有効なクレームを返す。
func (c *Client) Resolve(ctx context.Context, name string) (*ResolvedClaim, error) {
	raw, err := c.transport.Call(ctx, "resolve", map[string]any{"uri": name})
	if err != nil {
		return nil, err
	}

	var byURI map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byURI); err != nil {
		return nil, fmt.Errorf("decode resolve result: %w", err)
	}
	entry, ok := byURI[name]
	if !ok {
		entry, ok = byURI["lbry://"+strings.TrimPrefix(name, "lbry://")]
	}
	if !ok || isJSONNull(entry) {
		return nil, nil
	}

	var claim struct {
		ClaimID string `json:"claim_id"`
		Name    string `json:"name"`
		Claim   *struct {
			ClaimID string `json:"claim_id"`
			Name    string `json:"name"`
		} `json:"claim"`
	}
	if err := json.Unmarshal(entry, &claim); err != nil {
		return nil, fmt.Errorf("decode resolved claim: %w", err)
	}
	if claim.Claim != nil && claim.Claim.ClaimID != "" {
		return &ResolvedClaim{Name: claim.Claim.Name, ClaimID: claim.Claim.ClaimID}, nil
	}
	if claim.ClaimID != "" {
		return &ResolvedClaim{Name: claim.Name, ClaimID: claim.ClaimID}, nil
	}
	return nil, nil
}
