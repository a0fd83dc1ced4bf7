package model

import "time"

// OutcomeStatus はアイテム単位の処理結果の種別。
type OutcomeStatus string

const (
	// OutcomeSuccess は処理成功。
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailed は処理失敗（ステージ内で回復済み）。
	OutcomeFailed OutcomeStatus = "failed"
)

// ItemOutcome はワーカーが返すタグ付きの処理結果。
// 失敗してもバッチは停止せず、結果として集計される。
type ItemOutcome struct {
	ItemID   string
	Status   OutcomeStatus
	Reason   error
	Attempts int
}

// Succeeded は成功結果を生成する。
func Succeeded(itemID string) ItemOutcome {
	return ItemOutcome{ItemID: itemID, Status: OutcomeSuccess}
}

// Failed は失敗結果を生成する。
func Failed(itemID string, reason error) ItemOutcome {
	return ItemOutcome{ItemID: itemID, Status: OutcomeFailed, Reason: reason}
}

// StageReport はステージ単位のアイテム結果の集計。
type StageReport struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []ItemOutcome
}

// Add は結果を集計に加える。
func (r *StageReport) Add(o ItemOutcome) {
	r.Total++
	if o.Status == OutcomeSuccess {
		r.Succeeded++
		return
	}
	r.Failed++
	r.Failures = append(r.Failures, o)
}

// RunStatus はパイプライン実行の終了状態。
type RunStatus string

const (
	// RunCompleted は全アイテムが成功した状態。
	RunCompleted RunStatus = "completed"
	// RunCompletedWithFailures は一部アイテムが失敗したが実行は完了した状態。
	RunCompletedWithFailures RunStatus = "completed_with_failures"
	// RunFatal はステージ致命エラーで中断した状態。
	RunFatal RunStatus = "fatal"
)

// RunSummary はパイプライン1回分の実行結果。
type RunSummary struct {
	RunID        string
	CollectionID string
	Discovered   int
	Inserted     int
	Download     StageReport
	Publish      StageReport
	Fatal        error
	StartedAt    time.Time
	Duration     time.Duration
}

// Status は実行の終了状態を返す。
func (s *RunSummary) Status() RunStatus {
	switch {
	case s.Fatal != nil:
		return RunFatal
	case s.Download.Failed > 0 || s.Publish.Failed > 0:
		return RunCompletedWithFailures
	default:
		return RunCompleted
	}
}

// ItemFailures はダウンロードと公開の失敗件数の合計を返す。
func (s *RunSummary) ItemFailures() int {
	return s.Download.Failed + s.Publish.Failed
}
