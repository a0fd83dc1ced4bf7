package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// progressInterval は進捗イベントを発するバイト間隔。
const progressInterval = 4 * 1024 * 1024

// HTTPTool はHTTPのRangeリクエストで再開可能な転送ツール。
// サーバーがRangeを無視して200を返した場合は先頭から取得し直す。
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool はHTTPToolを生成する。clientにはSSRF対策済みのクライアントを渡す。
func NewHTTPTool(client *http.Client) *HTTPTool {
	return &HTTPTool{client: client}
}

// Transfer はSourceURLをDestPathへ書き込む。
func (t *HTTPTool) Transfer(ctx context.Context, req Request, onEvent func(Event)) error {
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
		return t.fail(onEvent, req, 0, fmt.Errorf("create destination dir: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SourceURL, nil)
	if err != nil {
		return t.fail(onEvent, req, 0, fmt.Errorf("build request: %w", err))
	}
	if req.Offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.Offset))
	}

	emit(onEvent, Event{Kind: EventStarted, ItemID: req.ItemID, Offset: req.Offset})

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return t.fail(onEvent, req, 0, fmt.Errorf("request %s: %w", req.SourceURL, err))
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	offset := req.Offset
	switch {
	case resp.StatusCode == http.StatusPartialContent && req.Offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && req.Offset > 0:
		// 部分ファイルが既に全体を含んでいる
		emit(onEvent, Event{Kind: EventComplete, ItemID: req.ItemID, Offset: req.Offset})
		return nil
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	default:
		return t.fail(onEvent, req, 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.SourceURL))
	}

	f, err := os.OpenFile(req.DestPath, flags, 0o644)
	if err != nil {
		return t.fail(onEvent, req, 0, fmt.Errorf("open destination: %w", err))
	}

	pw := &progressWriter{w: f, onEvent: onEvent, itemID: req.ItemID, offset: offset}
	written, copyErr := io.Copy(pw, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return t.fail(onEvent, req, written, fmt.Errorf("write %s: %w", req.DestPath, copyErr))
	}
	if closeErr != nil {
		return t.fail(onEvent, req, written, fmt.Errorf("close %s: %w", req.DestPath, closeErr))
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return t.fail(onEvent, req, written, fmt.Errorf("short transfer: got %d of %d bytes", written, resp.ContentLength))
	}

	emit(onEvent, Event{Kind: EventComplete, ItemID: req.ItemID, Offset: offset, Written: written})
	return nil
}

func (t *HTTPTool) fail(onEvent func(Event), req Request, written int64, err error) error {
	emit(onEvent, Event{Kind: EventError, ItemID: req.ItemID, Offset: req.Offset, Written: written, Err: err})
	return err
}

// progressWriter は一定バイトごとに進捗イベントを発する。
type progressWriter struct {
	w        io.Writer
	onEvent  func(Event)
	itemID   string
	offset   int64
	written  int64
	reported int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.written-p.reported >= progressInterval {
		p.reported = p.written
		emit(p.onEvent, Event{Kind: EventProgress, ItemID: p.itemID, Offset: p.offset, Written: p.written})
	}
	return n, err
}
