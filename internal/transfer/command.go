package transfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxStderr はエラーメッセージに含める標準エラー出力の最大バイト数。
const maxStderr = 2048

// ArgsFunc は転送要求から外部コマンドの引数を組み立てる。
type ArgsFunc func(req Request) []string

// YTDLPArgs はyt-dlp/youtube-dl互換ツール用の引数。
// --continueにより既存の部分ファイルから再開する。
func YTDLPArgs(req Request) []string {
	return []string{
		"--continue",
		"--no-progress",
		"--format", "mp4",
		"--output", req.DestPath,
		req.SourceURL,
	}
}

// partSuffix はyt-dlpが転送途中のファイルに付ける拡張子。
const partSuffix = ".part"

// CommandTool は外部ダウンローダープロセスを起動する転送ツール。
type CommandTool struct {
	command string
	args    ArgsFunc
}

// NewCommandTool はCommandToolを生成する。argsがnilの場合はYTDLPArgsを使用する。
func NewCommandTool(command string, args ArgsFunc) *CommandTool {
	if args == nil {
		args = YTDLPArgs
	}
	return &CommandTool{command: command, args: args}
}

// PartialPath はyt-dlpの命名規則に従い、転送途中のファイル<dest>.partを返す。
func (t *CommandTool) PartialPath(dest string) string {
	return dest + partSuffix
}

// Transfer は外部コマンドを実行し、終了コード0かつ出力ファイルが存在する場合に完了とする。
func (t *CommandTool) Transfer(ctx context.Context, req Request, onEvent func(Event)) error {
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
		return t.fail(onEvent, req, 0, fmt.Errorf("create destination dir: %w", err))
	}

	emit(onEvent, Event{Kind: EventStarted, ItemID: req.ItemID, Offset: req.Offset})

	cmd := exec.CommandContext(ctx, t.command, t.args(req)...)
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%s: %w: %s", t.command, err, msg)
		} else {
			err = fmt.Errorf("%s: %w", t.command, err)
		}
		return t.fail(onEvent, req, 0, err)
	}

	size, err := ResumeOffset(req.DestPath)
	if err != nil {
		return t.fail(onEvent, req, 0, err)
	}
	if size == 0 {
		return t.fail(onEvent, req, 0, ErrIncomplete)
	}

	emit(onEvent, Event{Kind: EventComplete, ItemID: req.ItemID, Offset: req.Offset, Written: size - req.Offset})
	return nil
}

func (t *CommandTool) fail(onEvent func(Event), req Request, written int64, err error) error {
	emit(onEvent, Event{Kind: EventError, ItemID: req.ItemID, Offset: req.Offset, Written: written, Err: err})
	return err
}

// limitedBuffer は先頭maxバイトのみ保持するio.Writer。
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
