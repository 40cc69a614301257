//nolint:thelper,funlen,lll // ok for tests
package utility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

func TestClassifyCorner(t *testing.T) {
	tests := []struct {
		name      string
		corner    model.CornerDefinition
		apexSpeed float64
		want      SpeedClass
	}{
		{name: "hairpin", corner: model.CornerDefinition{EntryS: 500, ExitS: 800}, apexSpeed: 70, want: ClassSlow},
		{name: "medium sweep", corner: model.CornerDefinition{EntryS: 500, ExitS: 800}, apexSpeed: 120, want: ClassMedium},
		{name: "flat-out kink", corner: model.CornerDefinition{EntryS: 500, ExitS: 800}, apexSpeed: 210, want: ClassFast},
		{name: "short section is a chicane", corner: model.CornerDefinition{EntryS: 500, ExitS: 600}, apexSpeed: 210, want: ClassChicane},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCorner(tt.corner, tt.apexSpeed))
		})
	}
}

func TestHeuristic_Estimate(t *testing.T) {
	cand := func(a model.ActionClass, i model.Intensity) model.Candidate {
		return model.Candidate{CornerID: 1, Phase: a.Phase(), Action: a, Intensity: i}
	}
	green := model.PhaseStates{Entry: model.SlipGreen, Exit: model.SlipGreen}
	baseCtx := Context{
		Impact: model.CornerImpact{DeltaMs: 100},
		States: green,
		Class:  ClassMedium,
		Filter: model.FilterKey{Device: "wheel"},
	}

	tests := []struct {
		name   string
		c      model.Candidate
		ctx    Context
		checks func(t *testing.T, est model.UtilityEstimate)
	}{
		{
			name: "base gain for medium corner",
			c:    cand(model.BrakeEarlier, model.IntensityProgressive),
			ctx:  baseCtx,
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 20, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "throttle pays most in fast corners",
			c:    cand(model.ThrottleEarlierProgressive, model.IntensityProgressive),
			ctx: Context{
				Impact: baseCtx.Impact, States: green,
				Class: ClassFast, Filter: baseCtx.Filter,
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 45, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "intensity scales the gain",
			c:    cand(model.BrakeEarlier, model.IntensityVerySoft),
			ctx:  baseCtx,
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 8, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "yellow entry slip discounts entry actions",
			c:    cand(model.BrakeEarlier, model.IntensityProgressive),
			ctx: Context{
				Impact: baseCtx.Impact,
				States: model.PhaseStates{Entry: model.SlipYellow, Exit: model.SlipGreen},
				Class:  ClassMedium, Filter: baseCtx.Filter,
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 14, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "exit action rides on the exit state",
			c:    cand(model.ReduceSteerThenThrottle, model.IntensityProgressive),
			ctx: Context{
				Impact: baseCtx.Impact,
				States: model.PhaseStates{Entry: model.SlipGreen, Exit: model.SlipRed},
				Class:  ClassMedium, Filter: baseCtx.Filter,
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				// 10 * 0.3, floored at 5
				assert.InDelta(t, 5, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "small delta leaves little to gain",
			c:    cand(model.BrakeEarlier, model.IntensityProgressive),
			ctx: Context{
				Impact: model.CornerImpact{DeltaMs: 30},
				States: green, Class: ClassMedium, Filter: baseCtx.Filter,
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 12, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "large delta boosts the estimate",
			c:    cand(model.BrakeEarlier, model.IntensityProgressive),
			ctx: Context{
				Impact: model.CornerImpact{DeltaMs: 300},
				States: green, Class: ClassMedium, Filter: baseCtx.Filter,
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 26, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "pad input discounted",
			c:    cand(model.BrakeEarlier, model.IntensityProgressive),
			ctx: Context{
				Impact: baseCtx.Impact, States: green,
				Class: ClassMedium, Filter: model.FilterKey{Device: "pad"},
			},
			checks: func(t *testing.T, est model.UtilityEstimate) {
				assert.InDelta(t, 16, est.ExpectedGain, 1e-9)
			},
		},
		{
			name: "consistency drill targets repeatability",
			c: model.Candidate{
				CornerID: 1, Phase: model.PhaseEntry,
				Action: model.BrakeEarlier, Intensity: model.IntensityProgressive,
				Consistency: true,
			},
			ctx: baseCtx,
			checks: func(t *testing.T, est model.UtilityEstimate) {
				// 20 * 0.2, floored at 5
				assert.InDelta(t, 5, est.ExpectedGain, 1e-9)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Heuristic{}
			est := h.Estimate(tt.c, tt.ctx)
			assert.True(t, est.Heuristic)
			assert.InDelta(t, 0.3, est.Confidence, 1e-9)
			tt.checks(t, est)
		})
	}
}

func TestHeuristic_Conservative(t *testing.T) {
	c := model.Candidate{Action: model.BrakeEarlier, Intensity: model.IntensityProgressive}
	ctx := Context{Impact: model.CornerImpact{DeltaMs: 100}, Class: ClassMedium}

	normal := (&Heuristic{}).Estimate(c, ctx)
	conservative := (&Heuristic{Conservative: true}).Estimate(c, ctx)
	assert.InDelta(t, normal.ExpectedGain*0.5, conservative.ExpectedGain, 1e-9)
}

func TestLearned_TrainAndEstimate(t *testing.T) {
	l := NewLearned(WithMinSamples(10))
	assert.False(t, l.Ready())

	c := model.Candidate{Action: model.BrakeEarlier, Intensity: model.IntensityProgressive}
	ctx := Context{Impact: model.CornerImpact{DeltaMs: 100, NormalizedImpact: 2}, Class: ClassMedium}

	est := l.Estimate(c, ctx)
	assert.True(t, est.Heuristic, "unfit model defers to the heuristic")

	// a stable outcome of 25ms for this exact context
	for i := 0; i < 20; i++ {
		l.Train(c, ctx, 25)
	}
	require.True(t, l.Ready())

	est = l.Estimate(c, ctx)
	assert.False(t, est.Heuristic)
	assert.InDelta(t, 25, est.ExpectedGain, 3, "ridge shrinks the fit slightly")
	assert.Greater(t, est.Confidence, 0.3)
	assert.LessOrEqual(t, est.Confidence, 1.0)
}

func TestLearned_ConfidenceGrowsWithCleanData(t *testing.T) {
	l := NewLearned(WithMinSamples(5))
	c := model.Candidate{Action: model.ThrottleEarlierProgressive, Intensity: model.IntensitySoft}
	ctx := Context{Impact: model.CornerImpact{DeltaMs: 150}, Class: ClassFast}

	for i := 0; i < 5; i++ {
		l.Train(c, ctx, 30)
	}
	early := l.Estimate(c, ctx).Confidence

	for i := 0; i < 40; i++ {
		l.Train(c, ctx, 30)
	}
	late := l.Estimate(c, ctx).Confidence
	assert.Greater(t, late, early)
}

func TestChooser(t *testing.T) {
	c := model.Candidate{Action: model.BrakeEarlier, Intensity: model.IntensityProgressive}
	ctx := Context{Impact: model.CornerImpact{DeltaMs: 100}, Class: ClassMedium}

	t.Run("unfit model falls back", func(t *testing.T) {
		ch := NewChooser(NewLearned(), &Heuristic{})
		assert.True(t, ch.Estimate(c, ctx).Heuristic)
	})

	t.Run("low confidence falls back", func(t *testing.T) {
		l := NewLearned(WithMinSamples(3))
		// noisy outcomes keep the residual spread wide
		for _, v := range []float64{100, -80, 60, -40, 90, -70} {
			l.Train(c, ctx, v)
		}
		require.True(t, l.Ready())
		ch := NewChooser(l, &Heuristic{}, WithThreshold(0.9))
		assert.True(t, ch.Estimate(c, ctx).Heuristic)
	})

	t.Run("confident model wins", func(t *testing.T) {
		l := NewLearned(WithMinSamples(2))
		for i := 0; i < 50; i++ {
			l.Train(c, ctx, 25)
		}
		require.True(t, l.Ready())
		ch := NewChooser(l, &Heuristic{}, WithThreshold(0.1))
		est := ch.Estimate(c, ctx)
		assert.False(t, est.Heuristic)
		assert.InDelta(t, 25, est.ExpectedGain, 3)
	})
}
