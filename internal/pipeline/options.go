package pipeline

import (
	"fmt"
	"regexp"

	"github.com/hitoshi/mediasync/internal/model"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// RunOptions は1回の同期実行の入力。ステージ間で共有する可変状態は持たず、
// 各ステージの入口へ明示的に渡す。
type RunOptions struct {
	CollectionID string
	Tag          string
	Limit        int    // 0は無制限
	Group        string // 公開先グルーピング。空の場合は紐付けない
	ClaimGroup   bool   // グルーピング未所有時に作成する
	Concurrency  int
	SkipDownload bool
	SkipPublish  bool
}

// Validate は入力を検証し、問題をまとめたmodel.ConfigErrorを返す。
func (o RunOptions) Validate() error {
	var problems []string
	if o.CollectionID == "" {
		problems = append(problems, "collection is required")
	}
	if o.Tag == "" {
		problems = append(problems, "tag is required")
	} else if !tagPattern.MatchString(o.Tag) {
		problems = append(problems, fmt.Sprintf("tag %q must contain only letters, digits and dashes", o.Tag))
	}
	if o.Limit < 0 {
		problems = append(problems, "limit must not be negative")
	}
	if o.Concurrency < 0 {
		problems = append(problems, "concurrency must not be negative")
	}
	if o.ClaimGroup && o.Group == "" {
		problems = append(problems, "claim-group requires group")
	}
	if len(problems) > 0 {
		return &model.ConfigError{Problems: problems}
	}
	return nil
}
