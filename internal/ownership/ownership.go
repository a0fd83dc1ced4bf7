// Package ownership は公開先グルーピング（チャンネル）の所有確認と、
// 未所有時の作成・待機を扱う。
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/model"
)

const (
	// DefaultSettleInterval は作成したグルーピングが利用可能になるまでの待機時間。
	DefaultSettleInterval = 60 * time.Second
	// DefaultChannelBid はグルーピング作成時の入札額。
	DefaultChannelBid = 0.01
)

// GroupLedger はグルーピングの一覧と作成を行う台帳クライアントのインターフェース。
type GroupLedger interface {
	ChannelListMine(ctx context.Context) ([]ledger.Channel, error)
	ChannelNew(ctx context.Context, name string, bid float64) (*ledger.ClaimResult, error)
}

// Config はResolverの設定。
type Config struct {
	SettleInterval time.Duration
	ChannelBid     float64
}

// Resolver はグルーピングの所有を確認する。
type Resolver struct {
	ledger GroupLedger
	cfg    Config
	logger *slog.Logger

	// sleep はテストで差し替える。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver はResolverを生成する。
func NewResolver(l GroupLedger, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.SettleInterval < 0 {
		cfg.SettleInterval = 0
	}
	if cfg.ChannelBid <= 0 {
		cfg.ChannelBid = DefaultChannelBid
	}
	return &Resolver{ledger: l, cfg: cfg, logger: logger, sleep: sleepContext}
}

// VerifyOwnership はグルーピング名が現在のアイデンティティの所有一覧に
// 完全一致で含まれるかを確認する。含まれない場合は*model.NotOwnedErrorを返す。
// 部分一致や大文字小文字違いは所有とみなさない。
func (r *Resolver) VerifyOwnership(ctx context.Context, name string) error {
	channels, err := r.ledger.ChannelListMine(ctx)
	if err != nil {
		return fmt.Errorf("list owned groups: %w", err)
	}
	for _, ch := range channels {
		if ch.Name == name {
			r.logger.Info("グルーピングの所有を確認しました",
				slog.String("group", name),
				slog.String("claim_id", ch.ClaimID),
			)
			return nil
		}
	}
	return &model.NotOwnedError{Group: name}
}

// Ensure はグルーピングの所有を保証する。
// 未所有でclaimIfAbsentがfalseの場合はNotOwnedErrorを返す。
// trueの場合はグルーピングを作成し、台帳に反映されるまで一定時間待機する。
func (r *Resolver) Ensure(ctx context.Context, name string, claimIfAbsent bool) error {
	err := r.VerifyOwnership(ctx, name)
	var notOwned *model.NotOwnedError
	if !errors.As(err, &notOwned) {
		return err
	}
	if !claimIfAbsent {
		r.logger.Error("グルーピングを所有していません",
			slog.String("group", name),
		)
		return err
	}

	res, cerr := r.ledger.ChannelNew(ctx, name, r.cfg.ChannelBid)
	if cerr != nil {
		return fmt.Errorf("create group %q: %w", name, cerr)
	}
	r.logger.Info("グルーピングを作成しました。反映を待機します",
		slog.String("group", name),
		slog.String("claim_id", res.ClaimID),
		slog.Duration("settle_interval", r.cfg.SettleInterval),
	)

	if err := r.sleep(ctx, r.cfg.SettleInterval); err != nil {
		return fmt.Errorf("wait for group %q: %w", name, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
