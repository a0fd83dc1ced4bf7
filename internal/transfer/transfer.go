// Package transfer はメディアのバイト列をローカルファイルへ転送するツールを抽象化する。
// 既存の部分ファイルがある場合はそのバイト長から転送を再開する。
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EventKind は転送ツールが発する信号の種類。
type EventKind int

const (
	// EventStarted は転送開始。
	EventStarted EventKind = iota
	// EventProgress は転送途中の進捗。
	EventProgress
	// EventComplete は転送完了。
	EventComplete
	// EventError は転送失敗。
	EventError
)

// String はログ出力用の名前を返す。
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event は転送ツールが発する信号。
type Event struct {
	Kind   EventKind
	ItemID string
	// Offset は転送開始時点のバイト位置。
	Offset int64
	// Written はこの転送で書き込んだバイト数。
	Written int64
	Err     error
}

// Request は1アイテム分の転送要求。
type Request struct {
	ItemID    string
	SourceURL string
	DestPath  string
	// Offset は再開位置。PartialPathが示す既存の部分ファイルのサイズ。
	Offset int64
}

// Tool は転送ツールのインターフェース。
// Transferは確認済みの完了時のみnilを返す。onEventはnilでもよい。
type Tool interface {
	Transfer(ctx context.Context, req Request, onEvent func(Event)) error
}

// ErrIncomplete は転送ツールが正常終了したが出力ファイルが存在しないことを表す。
var ErrIncomplete = errors.New("transfer finished without producing the output file")

// ResumeOffset は既存の部分ファイルのサイズを返す。ファイルがなければ0。
func ResumeOffset(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// ErrUnsafePath は保存先が保存ディレクトリの外を指すことを表す。
var ErrUnsafePath = errors.New("media path escapes videos dir")

// ValidPathElement はIDが単一のローカルなパス要素として使えるかを判定する。
func ValidPathElement(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.IsLocal(id)
}

// MediaPath はアイテムのローカル保存先を返す。<dir>/<collection>/<itemID>.mp4
// アイテムIDが単一のパス要素でない場合はErrUnsafePathを返す。
// コレクションIDはフィードURLの場合もあるため、CollectionDirで1要素に変換する。
func MediaPath(dir, collectionID, itemID string) (string, error) {
	if !ValidPathElement(itemID) {
		return "", fmt.Errorf("%w: item %q", ErrUnsafePath, itemID)
	}
	path := filepath.Join(dir, CollectionDir(collectionID), itemID+".mp4")
	rel, err := filepath.Rel(dir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}
	return path, nil
}

// CollectionDir はコレクションIDを保存ディレクトリ直下の1要素に変換する。
// 英数字と._-以外は_に置き換える。
func CollectionDir(collectionID string) string {
	if ValidPathElement(collectionID) && !strings.ContainsAny(collectionID, ":?#%") {
		return collectionID
	}
	var b strings.Builder
	for _, r := range collectionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	dir := b.String()
	if dir == "" || dir == "." || dir == ".." {
		return "_"
	}
	return dir
}

// PartialPather は部分ファイルを出力先とは別のパスに保持する転送ツールが実装する。
type PartialPather interface {
	PartialPath(dest string) string
}

// PartialPath はtoolが再開に使う部分ファイルのパスを返す。
// PartialPatherを実装しないツールは出力先へ直接追記する。
func PartialPath(tool Tool, dest string) string {
	if p, ok := tool.(PartialPather); ok {
		return p.PartialPath(dest)
	}
	return dest
}

func emit(onEvent func(Event), ev Event) {
	if onEvent != nil {
		onEvent(ev)
	}
}
