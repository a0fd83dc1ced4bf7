package app

import (
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/mediasync/internal/model"
	"github.com/hitoshi/mediasync/internal/pipeline"
)

// printSummary は実行結果を端末向けに整形して出力する。
func printSummary(w io.Writer, s *model.RunSummary) {
	fmt.Fprintln(w)
	header(w, "Run %s (collection %s)", s.RunID, s.CollectionID)

	ok(w, "discovered %d items (%d new)", s.Discovered, s.Inserted)
	printStage(w, "downloaded", s.Download)
	printStage(w, "published", s.Publish)

	switch s.Status() {
	case model.RunCompleted:
		ok(w, "completed in %s", s.Duration.Round(time.Millisecond))
	case model.RunCompletedWithFailures:
		warn(w, "completed with %d item failures in %s", s.ItemFailures(), s.Duration.Round(time.Millisecond))
	case model.RunFatal:
		failLine(w, "aborted after %s", s.Duration.Round(time.Millisecond))
	}
}

func printStage(w io.Writer, verb string, r model.StageReport) {
	if r.Total == 0 {
		fmt.Fprintf(w, "  %s: nothing to do\n", verb)
		return
	}
	if r.Failed == 0 {
		ok(w, "%s %d/%d", verb, r.Succeeded, r.Total)
		return
	}
	warn(w, "%s %d/%d (%d failed)", verb, r.Succeeded, r.Total, r.Failed)
	for _, f := range r.Failures {
		failLine(w, "  %s: %v", f.ItemID, f.Reason)
	}
}

// printVerifyReport はクレーム検証の結果を出力する。
func printVerifyReport(w io.Writer, r *pipeline.VerifyReport) {
	header(w, "Ledger entries for collection %s", r.CollectionID)
	if len(r.Checks) == 0 {
		fmt.Fprintln(w, "  no ledger entries")
		return
	}
	for _, c := range r.Checks {
		switch c.Status {
		case pipeline.ClaimVerified:
			ok(w, "%s %s", c.ItemID, c.ClaimName)
		case pipeline.ClaimNotWinning:
			warn(w, "%s %s: winning claim is %s, recorded %s", c.ItemID, c.ClaimName, c.WinningClaimID, c.ClaimID)
		default:
			failLine(w, "%s %s: claim not found", c.ItemID, c.ClaimName)
		}
	}
	fmt.Fprintf(w, "\nverified %d, not winning %d, missing %d\n",
		r.Counts[pipeline.ClaimVerified], r.Counts[pipeline.ClaimNotWinning], r.Counts[pipeline.ClaimMissing])
}
