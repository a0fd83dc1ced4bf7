package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mediasync/internal/ledger"
	"github.com/hitoshi/mediasync/internal/model"
)

// ClaimStatus は台帳エントリのクレームの検証結果。
type ClaimStatus string

const (
	// ClaimVerified は記録したクレームが名前の有効なクレームである状態。
	ClaimVerified ClaimStatus = "verified"
	// ClaimNotWinning は同名の別クレームが有効になっている状態。
	ClaimNotWinning ClaimStatus = "not_winning"
	// ClaimMissing は名前が解決できない状態。
	ClaimMissing ClaimStatus = "missing"
)

// LedgerReader は台帳エントリの取得。
type LedgerReader interface {
	ListLedger(ctx context.Context, collectionID string) ([]*model.LedgerEntry, error)
}

// NameResolver はクレーム名の解決。
type NameResolver interface {
	Resolve(ctx context.Context, name string) (*ledger.ResolvedClaim, error)
}

// ClaimCheck は1エントリの検証結果。
type ClaimCheck struct {
	ItemID         string
	ClaimName      string
	ClaimID        string
	WinningClaimID string
	Status         ClaimStatus
}

// VerifyReport はコレクション全体の検証結果。
type VerifyReport struct {
	CollectionID string
	Checks       []ClaimCheck
	Counts       map[ClaimStatus]int
}

// Verifier は台帳エントリのクレームが現在も有効かを確認する。ストアへの書き込みは行わない。
type Verifier struct {
	store    LedgerReader
	resolver NameResolver
	logger   *slog.Logger
}

// NewVerifier はVerifierを生成する。
func NewVerifier(store LedgerReader, resolver NameResolver, logger *slog.Logger) *Verifier {
	return &Verifier{store: store, resolver: resolver, logger: logger}
}

// Verify はコレクションの全台帳エントリについてクレーム名を解決し、結果を返す。
func (v *Verifier) Verify(ctx context.Context, collectionID string) (*VerifyReport, error) {
	entries, err := v.store.ListLedger(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{
		CollectionID: collectionID,
		Counts:       make(map[ClaimStatus]int),
	}
	for _, e := range entries {
		claim, err := v.resolver.Resolve(ctx, e.ClaimName)
		if err != nil {
			return report, fmt.Errorf("resolve %s: %w", e.ClaimName, err)
		}

		check := ClaimCheck{ItemID: e.ItemID, ClaimName: e.ClaimName, ClaimID: e.ClaimID}
		switch {
		case claim == nil:
			check.Status = ClaimMissing
		case claim.ClaimID == e.ClaimID:
			check.Status = ClaimVerified
			check.WinningClaimID = claim.ClaimID
		default:
			check.Status = ClaimNotWinning
			check.WinningClaimID = claim.ClaimID
		}
		if check.Status != ClaimVerified {
			v.logger.Warn("クレームを確認できません",
				slog.String("item_id", e.ItemID),
				slog.String("claim_name", e.ClaimName),
				slog.String("status", string(check.Status)),
			)
		}
		report.Checks = append(report.Checks, check)
		report.Counts[check.Status]++
	}

	v.logger.Info("クレームの検証が完了しました",
		slog.String("collection_id", collectionID),
		slog.Int("verified", report.Counts[ClaimVerified]),
		slog.Int("not_winning", report.Counts[ClaimNotWinning]),
		slog.Int("missing", report.Counts[ClaimMissing]),
	)
	return report, nil
}
