package transfer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh が見つかりません（スキップ）")
	}
}

// shArgs はsh -cのスクリプトに出力先パスを$1として渡す。
func shArgs(script string) ArgsFunc {
	return func(req Request) []string {
		return []string{"-c", script, "sh", req.DestPath}
	}
}

func TestCommandTool_Success(t *testing.T) {
	requireShell(t)
	dest := filepath.Join(t.TempDir(), "chan", "vid.mp4")

	var kinds []string
	err := NewCommandTool("sh", shArgs(`printf 'media-bytes' >> "$1"`)).Transfer(context.Background(), Request{
		ItemID: "vid", SourceURL: "https://example.com/vid", DestPath: dest,
	}, func(ev Event) { kinds = append(kinds, ev.Kind.String()) })
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "media-bytes" {
		t.Errorf("content = %q", got)
	}
	if strings.Join(kinds, ",") != "started,complete" {
		t.Errorf("events = %v", kinds)
	}
}

func TestCommandTool_NonZeroExit(t *testing.T) {
	requireShell(t)
	dest := filepath.Join(t.TempDir(), "vid.mp4")

	err := NewCommandTool("sh", shArgs(`echo "ERROR: video unavailable" >&2; exit 1`)).Transfer(context.Background(), Request{
		ItemID: "vid", DestPath: dest,
	}, nil)
	if err == nil {
		t.Fatal("終了コード1でエラーが返らない")
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Errorf("標準エラー出力がエラーに含まれない: %v", err)
	}
}

func TestCommandTool_NoOutputFile(t *testing.T) {
	requireShell(t)
	dest := filepath.Join(t.TempDir(), "vid.mp4")

	err := NewCommandTool("sh", shArgs(`exit 0`)).Transfer(context.Background(), Request{ItemID: "vid", DestPath: dest}, nil)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
}

func TestYTDLPArgs(t *testing.T) {
	args := YTDLPArgs(Request{SourceURL: "https://www.youtube.com/watch?v=abc", DestPath: "/v/c/abc.mp4"})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--continue", "--output /v/c/abc.mp4", "https://www.youtube.com/watch?v=abc"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q does not contain %q", joined, want)
		}
	}
}

func TestMediaPath(t *testing.T) {
	got, err := MediaPath("/videos", "UC123", "abc")
	if err != nil {
		t.Fatalf("MediaPath: %v", err)
	}
	if got != filepath.Join("/videos", "UC123", "abc.mp4") {
		t.Errorf("MediaPath = %q", got)
	}
}

// TestMediaPath_RejectsEscapingIDs は保存ディレクトリの外を指すIDを拒否することを検証する。
func TestMediaPath_RejectsEscapingIDs(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		item       string
	}{
		{name: "親ディレクトリへの遡り", collection: "chan", item: "../../../../tmp/escaped"},
		{name: "区切り文字を含むID", collection: "chan", item: "a/b"},
		{name: "バックスラッシュを含むID", collection: "chan", item: `a\b`},
		{name: "絶対パス", collection: "chan", item: "/etc/passwd"},
		{name: "ドットのみ", collection: "chan", item: ".."},
		{name: "空のID", collection: "chan", item: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MediaPath("/srv/videos", tt.collection, tt.item)
			if !errors.Is(err, ErrUnsafePath) {
				t.Fatalf("MediaPath = (%q, %v), want ErrUnsafePath", got, err)
			}
		})
	}
}

func TestCollectionDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"UC123", "UC123"},
		{"..", "_"},
		{"https://example.com/@ch", "https___example.com__ch"},
		{"../../etc", ".._.._etc"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := CollectionDir(tt.in); got != tt.want {
			t.Errorf("CollectionDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	got, err := MediaPath("/srv/videos", "..", "abc")
	if err != nil || got != filepath.Join("/srv/videos", "_", "abc.mp4") {
		t.Errorf("MediaPath = (%q, %v)", got, err)
	}
}

func TestPartialPath(t *testing.T) {
	if got := PartialPath(NewCommandTool("yt-dlp", nil), "/v/c/abc.mp4"); got != "/v/c/abc.mp4.part" {
		t.Errorf("CommandTool PartialPath = %q", got)
	}
	if got := PartialPath(NewHTTPTool(nil), "/v/c/abc.mp4"); got != "/v/c/abc.mp4" {
		t.Errorf("HTTPTool PartialPath = %q", got)
	}
}

func TestResumeOffset_Missing(t *testing.T) {
	n, err := ResumeOffset(filepath.Join(t.TempDir(), "none.mp4"))
	if err != nil || n != 0 {
		t.Errorf("ResumeOffset = (%d, %v), want (0, nil)", n, err)
	}
}
