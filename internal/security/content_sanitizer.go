package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// lineBreakTags は改行として扱うタグ。タグ除去前に改行文字へ置換する。
var lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>`)

var blankLines = regexp.MustCompile(`\n{3,}`)

// DescriptionSanitizer はカタログの説明文からHTMLを除去し、公開ペイロード用の平文に変換する。
// bluemondayのStrictPolicyを使用するため、すべてのタグと属性が除去される。
type DescriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer は新しいDescriptionSanitizerを生成する。
func NewDescriptionSanitizer() *DescriptionSanitizer {
	return &DescriptionSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はHTMLを平文に変換する。
// 改行タグは改行として残し、エンティティはデコードする。同一入力に対して常に同一出力を返す。
func (s *DescriptionSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}

	text := lineBreakTags.ReplaceAllString(raw, "\n")
	text = s.policy.Sanitize(text)
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
