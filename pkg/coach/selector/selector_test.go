//nolint:thelper,funlen,lll // ok for tests
package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository/memory"
)

var green = model.PhaseStates{Entry: model.SlipGreen, Exit: model.SlipGreen}

func est(a model.ActionClass, gain float64) model.UtilityEstimate {
	return model.UtilityEstimate{
		Candidate: model.Candidate{
			CornerID: 10, Phase: a.Phase(), Action: a,
			Intensity: model.IntensityProgressive,
		},
		ExpectedGain: gain,
		Confidence:   0.5,
	}
}

func TestSelector_PicksOneAndMarksArm(t *testing.T) {
	repos := memory.New()
	s := NewSelector(repos.Bandit())

	ests := []model.UtilityEstimate{
		est(model.BrakeEarlier, 20),
		est(model.BuildPressureFaster, 25),
	}
	picked, err := s.Select(context.Background(), "alice", "track", 5, ests, green)
	require.NoError(t, err)

	arm, err := repos.Bandit().Get(context.Background(), model.ArmKey{
		Driver: "alice", TrackID: "track", CornerID: 10, Action: picked.Candidate.Action,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, arm.LastCoachedLap)
	assert.Equal(t, model.ReviewPending, arm.LastOutcome)
}

func TestSelector_Deterministic(t *testing.T) {
	ests := []model.UtilityEstimate{
		est(model.BrakeEarlier, 20),
		est(model.BuildPressureFaster, 22),
		est(model.ReleaseEarlier, 18),
	}
	run := func() model.ActionClass {
		s := NewSelector(memory.New().Bandit())
		picked, err := s.Select(context.Background(), "alice", "track", 5, ests, green)
		require.NoError(t, err)
		return picked.Candidate.Action
	}
	first := run()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, run(), "identical inputs must select identically")
	}
}

func TestSelector_SeedVariesWithIdentity(t *testing.T) {
	c := model.Candidate{CornerID: 10, Action: model.BrakeEarlier}
	base := seed("alice", "track", 5, c)
	assert.NotEqual(t, base, seed("bob", "track", 5, c))
	assert.NotEqual(t, base, seed("alice", "track", 6, c))
	other := c
	other.CornerID = 11
	assert.NotEqual(t, base, seed("alice", "track", 5, other))
}

func TestSelector_NonGreenUsesArgmax(t *testing.T) {
	s := NewSelector(memory.New().Bandit())
	ests := []model.UtilityEstimate{
		est(model.BrakeEarlier, 12),
		est(model.ReleaseEarlier, 30),
	}
	states := model.PhaseStates{Entry: model.SlipYellow, Exit: model.SlipGreen}
	picked, err := s.Select(context.Background(), "alice", "track", 5, ests, states)
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseEarlier, picked.Candidate.Action,
		"no exploration off the green state, highest gain wins")
}

func TestSelector_Cooldown(t *testing.T) {
	ctx := context.Background()
	repos := memory.New()
	s := NewSelector(repos.Bandit(), WithCooldownLaps(1))
	ests := []model.UtilityEstimate{est(model.BrakeEarlier, 20)}

	_, err := s.Select(ctx, "alice", "track", 5, ests, green)
	require.NoError(t, err)

	// still pending on the very next lap
	_, err = s.Select(ctx, "alice", "track", 6, ests, green)
	assert.True(t, errors.Is(err, ErrNoEligible))

	// cooled down one lap later
	_, err = s.Select(ctx, "alice", "track", 7, ests, green)
	assert.NoError(t, err)
}

func TestSelector_OutcomeOverridesCooldown(t *testing.T) {
	for _, outcome := range []model.ReviewOutcome{model.ReviewSuccess, model.ReviewOvershoot} {
		t.Run(outcome.String(), func(t *testing.T) {
			ctx := context.Background()
			repos := memory.New()
			require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
				Driver: "alice", TrackID: "track", CornerID: 10,
				Action: model.BrakeEarlier, LastCoachedLap: 5, LastOutcome: outcome,
			}))

			s := NewSelector(repos.Bandit(), WithCooldownLaps(1))
			ests := []model.UtilityEstimate{est(model.BrakeEarlier, 20)}
			_, err := s.Select(ctx, "alice", "track", 6, ests, green)
			assert.NoError(t, err, "a settled outcome is informative, coach again")
		})
	}
}

func TestSelector_DirectiveBypassesCooldown(t *testing.T) {
	ctx := context.Background()
	repos := memory.New()
	require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
		Driver: "alice", TrackID: "track", CornerID: 10,
		Action: model.BrakeEarlier, LastCoachedLap: 5,
		LastOutcome: model.ReviewNoAttempt,
	}))
	s := NewSelector(repos.Bandit(), WithCooldownLaps(1))

	plain := []model.UtilityEstimate{est(model.BrakeEarlier, 20)}
	_, err := s.Select(ctx, "alice", "track", 6, plain, green)
	assert.True(t, errors.Is(err, ErrNoEligible))

	directed := est(model.BrakeEarlier, 20)
	directed.Candidate.Directed = true
	_, err = s.Select(ctx, "alice", "track", 6, []model.UtilityEstimate{directed}, green)
	assert.NoError(t, err, "a reviewer directive must not be held back by cooldown")
}

func TestSelector_CooldownProtectsLapZeroTips(t *testing.T) {
	ctx := context.Background()
	s := NewSelector(memory.New().Bandit(), WithCooldownLaps(1))
	ests := []model.UtilityEstimate{est(model.BrakeEarlier, 20)}

	_, err := s.Select(ctx, "alice", "track", 0, ests, green)
	require.NoError(t, err)

	_, err = s.Select(ctx, "alice", "track", 1, ests, green)
	assert.True(t, errors.Is(err, ErrNoEligible),
		"a tip issued on lap 0 cools down like any other")
}

func TestSelector_NoCandidates(t *testing.T) {
	s := NewSelector(memory.New().Bandit())
	_, err := s.Select(context.Background(), "alice", "track", 5, nil, green)
	assert.True(t, errors.Is(err, ErrNoEligible))
}

func TestSelector_RewardedArmWinsEventually(t *testing.T) {
	ctx := context.Background()
	repos := memory.New()
	// heavily rewarded arm vs a heavily punished one, equal gains
	require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
		Driver: "alice", TrackID: "track", CornerID: 10,
		Action: model.BrakeEarlier, Successes: 30,
	}))
	require.NoError(t, repos.Bandit().Put(ctx, &model.BanditArm{
		Driver: "alice", TrackID: "track", CornerID: 10,
		Action: model.BuildPressureFaster, Failures: 30,
	}))

	s := NewSelector(repos.Bandit(), WithCooldownLaps(0))
	ests := []model.UtilityEstimate{
		est(model.BrakeEarlier, 20),
		est(model.BuildPressureFaster, 20),
	}
	wins := 0
	for lap := 1; lap <= 20; lap++ {
		picked, err := s.Select(ctx, "alice", "track", lap*3, ests, green)
		require.NoError(t, err)
		if picked.Candidate.Action == model.BrakeEarlier {
			wins++
		}
	}
	assert.Greater(t, wins, 15, "posterior sampling should strongly favour the rewarded arm")
}
