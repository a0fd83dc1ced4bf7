package publish

import (
	"regexp"
	"strings"
)

// claimNameInvalid は台帳のクレーム名に使用できない文字。
var claimNameInvalid = regexp.MustCompile(`[^A-Za-z0-9-]`)

// tagPattern はタグとして受け付ける文字列。
var tagPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// SanitizeClaimName は英数字とダッシュ以外の文字をダッシュに置換する。
func SanitizeClaimName(s string) string {
	return claimNameInvalid.ReplaceAllString(s, "-")
}

// ClaimName はタグとアイテムIDからクレーム名を組み立てる。
func ClaimName(tag, itemID string) string {
	return SanitizeClaimName(tag) + "-" + SanitizeClaimName(itemID)
}

// ValidTag はタグが英数字とダッシュのみで構成されているかを判定する。
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// isURL はサムネイル参照がURLとして解決済みかを判定する。
func isURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
