package repository

import (
	"context"
	"errors"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

var ErrNoRows = errors.New("no rows in result set")

// ReferenceStatsRepository persists per-corner baselines across
// sessions, keyed by (driver, track, filter key, corner).
type ReferenceStatsRepository interface {
	Get(ctx context.Context, key model.StatsKey) (*model.ReferenceStats, error)
	Put(ctx context.Context, key model.StatsKey, stats *model.ReferenceStats) error
}

// BanditStateRepository persists bandit arms across laps and sessions.
type BanditStateRepository interface {
	Get(ctx context.Context, key model.ArmKey) (*model.BanditArm, error)
	Put(ctx context.Context, arm *model.BanditArm) error
	// LoadCorner returns all known arms of one corner for one driver.
	LoadCorner(ctx context.Context, driver, trackID string, cornerID int) (
		[]*model.BanditArm, error,
	)
}

// PendingReviewRepository keeps issued tips until classification.
type PendingReviewRepository interface {
	Put(ctx context.Context, review *model.PendingReview) error
	Delete(ctx context.Context, tipID string) error
	LoadOpen(ctx context.Context, driver, trackID string) (
		[]*model.PendingReview, error,
	)
}

type Repositories interface {
	Reference() ReferenceStatsRepository
	Bandit() BanditStateRepository
	Reviews() PendingReviewRepository
}
