//nolint:thelper,lll // ok for tests
package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbmigrate "github.com/yannicktuerk/F1-Lap-Bot/pkg/db/migrate"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
)

func setupRepos(t *testing.T) *Repos {
	path := filepath.Join(t.TempDir(), "f1coach.db")
	require.NoError(t, dbmigrate.MigrateDb(path))
	repos, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

func TestReferenceStatsRoundtrip(t *testing.T) {
	ctx := context.Background()
	repos := setupRepos(t)
	key := model.StatsKey{
		Driver: "alice", TrackID: "track",
		Filter: model.FilterKey{Assists: "none", Device: "wheel"}, CornerID: 3,
	}

	_, err := repos.Reference().Get(ctx, key)
	assert.True(t, errors.Is(err, repository.ErrNoRows))

	stats := &model.ReferenceStats{Laps: 7, Lines: 2}
	stats.Metrics[model.MetricBrakeOnset] = model.MetricStats{Median: 350, IQR: 10, Count: 7}
	stats.Metrics[model.MetricCornerTime] = model.MetricStats{Median: 8.0, IQR: 0.2, Count: 7}
	require.NoError(t, repos.Reference().Put(ctx, key, stats))

	got, err := repos.Reference().Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(stats, got))

	// upsert replaces in place
	stats.Laps = 8
	require.NoError(t, repos.Reference().Put(ctx, key, stats))
	got, err = repos.Reference().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Laps)

	// a different filter key is a different bucket
	other := key
	other.Filter.Device = "pad"
	_, err = repos.Reference().Get(ctx, other)
	assert.True(t, errors.Is(err, repository.ErrNoRows))
}

func TestBanditArmRoundtrip(t *testing.T) {
	ctx := context.Background()
	repos := setupRepos(t)
	arm := &model.BanditArm{
		Driver: "alice", TrackID: "track", CornerID: 3,
		Action: model.ThrottleEarlierProgressive, Successes: 2.0, Failures: 1.0,
		LastCoachedLap: 12, LastOutcome: model.ReviewOvershoot,
	}
	require.NoError(t, repos.Bandit().Put(ctx, arm))

	got, err := repos.Bandit().Get(ctx, model.ArmKey{
		Driver: "alice", TrackID: "track", CornerID: 3,
		Action: model.ThrottleEarlierProgressive,
	})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(arm, got))

	arm.Successes = 3
	require.NoError(t, repos.Bandit().Put(ctx, arm))
	got, err = repos.Bandit().Get(ctx, model.ArmKey{
		Driver: "alice", TrackID: "track", CornerID: 3,
		Action: model.ThrottleEarlierProgressive,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Successes)
}

func TestBanditLoadCorner(t *testing.T) {
	ctx := context.Background()
	repos := setupRepos(t)
	for _, a := range []model.ActionClass{model.BrakeEarlier, model.ReleaseEarlier} {
		require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
			Driver: "alice", TrackID: "track", CornerID: 3, Action: a,
		}))
	}
	require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
		Driver: "alice", TrackID: "track", CornerID: 4, Action: model.BrakeEarlier,
	}))

	arms, err := repos.Bandit().LoadCorner(ctx, "alice", "track", 3)
	require.NoError(t, err)
	assert.Len(t, arms, 2)
}

func TestPendingReviewRoundtrip(t *testing.T) {
	ctx := context.Background()
	repos := setupRepos(t)
	review := &model.PendingReview{
		TipID: "tip-1", Driver: "alice", TrackID: "track",
		CornerID: 3, Action: model.BrakeEarlier, Intensity: model.IntensitySoft,
		IssuedLap: 5, LapsRemaining: 3,
		BaselineMetric: 350, BaselineNoise: 10,
		BaselineApexSpeed: 95, BaselineExitSpeed: 160, BaselineCornerMs: 8000,
	}
	require.NoError(t, repos.Reviews().Put(ctx, review))

	open, err := repos.Reviews().LoadOpen(ctx, "alice", "track")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, cmp.Diff(review, open[0]))

	review.LapsRemaining = 2
	require.NoError(t, repos.Reviews().Put(ctx, review))
	open, err = repos.Reviews().LoadOpen(ctx, "alice", "track")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].LapsRemaining)

	require.NoError(t, repos.Reviews().Delete(ctx, "tip-1"))
	open, err = repos.Reviews().LoadOpen(ctx, "alice", "track")
	require.NoError(t, err)
	assert.Empty(t, open)
}
