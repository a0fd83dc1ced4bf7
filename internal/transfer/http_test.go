package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const testMedia = "0123456789abcdefghijklmnopqrstuvwxyz"

// rangeServer はRangeヘッダーに対応した固定コンテンツのサーバー。
func rangeServer(t *testing.T, honorRange bool) (*httptest.Server, *[]string) {
	t.Helper()
	var ranges []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rh := r.Header.Get("Range")
		ranges = append(ranges, rh)
		if rh == "" || !honorRange {
			w.Header().Set("Content-Length", strconv.Itoa(len(testMedia)))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(testMedia))
			return
		}
		var start int
		if _, err := fmt.Sscanf(rh, "bytes=%d-", &start); err != nil {
			t.Errorf("bad range %q", rh)
		}
		if start >= len(testMedia) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		rest := testMedia[start:]
		w.Header().Set("Content-Length", strconv.Itoa(len(rest)))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(testMedia)-1, len(testMedia)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(rest))
	}))
	t.Cleanup(ts.Close)
	return ts, &ranges
}

func TestHTTPTool_FreshDownload(t *testing.T) {
	ts, ranges := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "chan", "vid.mp4")

	var kinds []string
	err := NewHTTPTool(ts.Client()).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: ts.URL + "/vid", DestPath: dest,
	}, func(ev Event) { kinds = append(kinds, ev.Kind.String()) })
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != testMedia {
		t.Errorf("content = %q", got)
	}
	if (*ranges)[0] != "" {
		t.Errorf("新規ダウンロードでRangeヘッダーが送られた: %q", (*ranges)[0])
	}
	if strings.Join(kinds, ",") != "started,complete" {
		t.Errorf("events = %v", kinds)
	}
}

// TestHTTPTool_ResumesFromPartialFile は部分ファイルのサイズから再開することを検証する。
func TestHTTPTool_ResumesFromPartialFile(t *testing.T) {
	ts, ranges := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "vid.mp4")
	if err := os.WriteFile(dest, []byte(testMedia[:10]), 0o644); err != nil {
		t.Fatal(err)
	}

	offset, err := ResumeOffset(dest)
	if err != nil || offset != 10 {
		t.Fatalf("ResumeOffset = (%d, %v), want (10, nil)", offset, err)
	}

	var complete Event
	err = NewHTTPTool(ts.Client()).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: ts.URL, DestPath: dest, Offset: offset,
	}, func(ev Event) {
		if ev.Kind == EventComplete {
			complete = ev
		}
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if (*ranges)[0] != "bytes=10-" {
		t.Errorf("Range = %q, want bytes=10-", (*ranges)[0])
	}
	got, _ := os.ReadFile(dest)
	if string(got) != testMedia {
		t.Errorf("content = %q, want %q", got, testMedia)
	}
	if complete.Offset != 10 || complete.Written != int64(len(testMedia)-10) {
		t.Errorf("complete event = %+v", complete)
	}
}

// TestHTTPTool_ServerIgnoresRange はRange非対応サーバーで先頭から取り直すことを検証する。
func TestHTTPTool_ServerIgnoresRange(t *testing.T) {
	ts, _ := rangeServer(t, false)
	dest := filepath.Join(t.TempDir(), "vid.mp4")
	os.WriteFile(dest, []byte("garbage-prefix"), 0o644)

	err := NewHTTPTool(ts.Client()).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: ts.URL, DestPath: dest, Offset: 14,
	}, nil)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != testMedia {
		t.Errorf("content = %q, want full media", got)
	}
}

func TestHTTPTool_AlreadyComplete(t *testing.T) {
	ts, _ := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "vid.mp4")
	os.WriteFile(dest, []byte(testMedia), 0o644)

	err := NewHTTPTool(ts.Client()).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: ts.URL, DestPath: dest, Offset: int64(len(testMedia)),
	}, nil)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != testMedia {
		t.Errorf("content changed: %q", got)
	}
}

func TestHTTPTool_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	var gotErr error
	err := NewHTTPTool(ts.Client()).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: ts.URL, DestPath: filepath.Join(t.TempDir(), "vid.mp4"),
	}, func(ev Event) {
		if ev.Kind == EventError {
			gotErr = ev.Err
		}
	})
	if err == nil {
		t.Fatal("404でエラーが返らない")
	}
	if gotErr == nil {
		t.Error("errorイベントが発行されない")
	}
}
