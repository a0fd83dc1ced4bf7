package catalog

import "github.com/goccy/go-json"

// RawMetadata はRawMetadataのうち公開ペイロード生成で参照するフィールド。
// YouTubeのsnippetとFeedClientのfeedMetadataの両方がこの形に読める。
type RawMetadata struct {
	ChannelTitle string `json:"channelTitle"`
	Title        string `json:"title"`
	Description  string `json:"description"`
}

// ParseRawMetadata はRawMetadataをデコードする。空の場合はゼロ値を返す。
func ParseRawMetadata(raw []byte) (RawMetadata, error) {
	var m RawMetadata
	if len(raw) == 0 {
		return m, nil
	}
	err := json.Unmarshal(raw, &m)
	return m, err
}
