// Package logger はJSON構造化ログの出力設定を提供する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSONロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// ParseLevel はログレベル名（debug/info/warn/error）を解釈する。空文字列はinfo。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
}

// RunLogName は実行開始時刻からログファイル名を生成する。
// ファイル名に使えない":"は"-"に置換する。
func RunLogName(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(time.RFC3339), ":", "-") + ".log"
}

// SetupRunLog は実行ごとのログファイルとコンソールの両方へ出力するロガーを生成する。
// ファイルを作成できない場合はコンソールのみに出力し、警告を記録する。
// 戻り値のcloseはファイルを閉じる。コンソールのみの場合は何もしない。
func SetupRunLog(dir string, console io.Writer, level slog.Level) (*slog.Logger, func() error) {
	if console == nil {
		console = os.Stdout
	}
	noop := func() error { return nil }
	if dir == "" {
		return SetupWithLevel(console, level), noop
	}

	path := filepath.Join(dir, RunLogName(time.Now()))
	f, err := openRunLog(dir, path)
	if err != nil {
		l := SetupWithLevel(console, level)
		l.Warn("ログファイルを作成できないためコンソールのみに出力します",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return l, noop
	}

	return SetupWithLevel(io.MultiWriter(console, f), level), f.Close
}

func openRunLog(dir, path string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
