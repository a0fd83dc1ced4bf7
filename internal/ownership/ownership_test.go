package ownership

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/model"
)

type mockGroupLedger struct {
	listFunc func(ctx context.Context) ([]ledger.Channel, error)
	newFunc  func(ctx context.Context, name string, bid float64) (*ledger.ClaimResult, error)

	created []string
}

func (m *mockGroupLedger) ChannelListMine(ctx context.Context) ([]ledger.Channel, error) {
	return m.listFunc(ctx)
}

func (m *mockGroupLedger) ChannelNew(ctx context.Context, name string, bid float64) (*ledger.ClaimResult, error) {
	m.created = append(m.created, name)
	if m.newFunc != nil {
		return m.newFunc(ctx, name, bid)
	}
	return &ledger.ClaimResult{ClaimID: "new-claim"}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func owned(names ...string) func(ctx context.Context) ([]ledger.Channel, error) {
	return func(ctx context.Context) ([]ledger.Channel, error) {
		chs := make([]ledger.Channel, len(names))
		for i, n := range names {
			chs[i] = ledger.Channel{Name: n, ClaimID: "claim-" + n}
		}
		return chs, nil
	}
}

func TestVerifyOwnership(t *testing.T) {
	tests := []struct {
		name    string
		owned   []string
		group   string
		wantErr bool
	}{
		{"完全一致は所有", []string{"@other", "@berkeley"}, "@berkeley", false},
		{"部分一致は所有でない", []string{"@berkeley-lectures"}, "@berkeley", true},
		{"前方一致は所有でない", []string{"@berk"}, "@berkeley", true},
		{"大文字小文字違いは所有でない", []string{"@Berkeley"}, "@berkeley", true},
		{"一覧が空", nil, "@berkeley", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewResolver(&mockGroupLedger{listFunc: owned(tt.owned...)}, Config{}, newTestLogger(&buf))

			err := r.VerifyOwnership(context.Background(), tt.group)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			var notOwned *model.NotOwnedError
			if !errors.As(err, &notOwned) {
				t.Fatalf("err = %v, want NotOwnedError", err)
			}
			if notOwned.Group != tt.group {
				t.Errorf("Group = %q, want %q", notOwned.Group, tt.group)
			}
		})
	}
}

func TestVerifyOwnership_TransportError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("connection refused")
	r := NewResolver(&mockGroupLedger{
		listFunc: func(ctx context.Context) ([]ledger.Channel, error) { return nil, boom },
	}, Config{}, newTestLogger(&buf))

	err := r.VerifyOwnership(context.Background(), "@g")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
	var notOwned *model.NotOwnedError
	if errors.As(err, &notOwned) {
		t.Error("通信エラーがNotOwnedErrorとして扱われた")
	}
}

func TestEnsure_AlreadyOwned(t *testing.T) {
	var buf bytes.Buffer
	m := &mockGroupLedger{listFunc: owned("@g")}
	r := NewResolver(m, Config{SettleInterval: time.Minute}, newTestLogger(&buf))
	r.sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("所有済みなのに待機した")
		return nil
	}

	if err := r.Ensure(context.Background(), "@g", true); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(m.created) != 0 {
		t.Errorf("created = %v, want none", m.created)
	}
}

func TestEnsure_NotOwnedWithoutClaim(t *testing.T) {
	var buf bytes.Buffer
	m := &mockGroupLedger{listFunc: owned()}
	r := NewResolver(m, Config{}, newTestLogger(&buf))

	err := r.Ensure(context.Background(), "@g", false)
	var notOwned *model.NotOwnedError
	if !errors.As(err, &notOwned) {
		t.Fatalf("err = %v, want NotOwnedError", err)
	}
	if !model.IsStageFatal(err) {
		t.Error("未解決のNotOwnedErrorは致命であるべき")
	}
	if len(m.created) != 0 {
		t.Errorf("created = %v, want none", m.created)
	}
}

func TestEnsure_ClaimIfAbsent_CreatesAndWaits(t *testing.T) {
	var buf bytes.Buffer
	m := &mockGroupLedger{listFunc: owned()}
	r := NewResolver(m, Config{SettleInterval: 90 * time.Second}, newTestLogger(&buf))

	var waited time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	if err := r.Ensure(context.Background(), "@g", true); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(m.created) != 1 || m.created[0] != "@g" {
		t.Errorf("created = %v, want [@g]", m.created)
	}
	if waited != 90*time.Second {
		t.Errorf("waited = %v, want 90s", waited)
	}
}

func TestEnsure_CreateFails(t *testing.T) {
	var buf bytes.Buffer
	m := &mockGroupLedger{
		listFunc: owned(),
		newFunc: func(ctx context.Context, name string, bid float64) (*ledger.ClaimResult, error) {
			return nil, &ledger.RPCError{Method: "channel_new", Message: "insufficient funds"}
		},
	}
	r := NewResolver(m, Config{}, newTestLogger(&buf))
	r.sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("作成失敗時に待機した")
		return nil
	}

	err := r.Ensure(context.Background(), "@g", true)
	var rpcErr *ledger.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want RPCError", err)
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
