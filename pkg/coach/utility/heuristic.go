package utility

import (
	"math"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// baseGains holds the conservative expected gain in ms per action class
// and corner speed class.
var baseGains = map[model.ActionClass]map[SpeedClass]float64{
	model.BrakeEarlier: {
		ClassSlow: 30, ClassMedium: 20, ClassFast: 15, ClassChicane: 25,
	},
	model.BuildPressureFaster: {
		ClassSlow: 15, ClassMedium: 25, ClassFast: 20, ClassChicane: 20,
	},
	model.ReleaseEarlier: {
		ClassSlow: 10, ClassMedium: 15, ClassFast: 12, ClassChicane: 18,
	},
	model.ThrottleEarlierProgressive: {
		ClassSlow: 20, ClassMedium: 35, ClassFast: 45, ClassChicane: 15,
	},
	model.ReduceSteerThenThrottle: {
		ClassSlow: 5, ClassMedium: 10, ClassFast: 15, ClassChicane: 8,
	},
}

var intensityMultipliers = map[model.Intensity]float64{
	model.IntensityVerySoft:    0.4,
	model.IntensitySoft:        0.6,
	model.IntensityProgressive: 1.0,
	model.IntensityFirm:        1.4,
}

// Heuristic is the rule-based fallback path. It never reports high
// confidence; the chooser prefers the learned model once it is trained.
type Heuristic struct {
	// Conservative halves every estimate, used after an estimation error.
	Conservative bool
}

const heuristicConfidence = 0.3

func (h *Heuristic) Estimate(c model.Candidate, ctx Context) model.UtilityEstimate {
	gain := 20.0 // default for an unknown combination
	if perClass, ok := baseGains[c.Action]; ok {
		if v, ok := perClass[ctx.Class]; ok {
			gain = v
		}
	}
	gain *= intensityMultipliers[c.Intensity]
	gain = h.adjust(gain, c, ctx)
	if h.Conservative {
		gain *= 0.5
	}
	return model.UtilityEstimate{
		Candidate:    c,
		ExpectedGain: gain,
		Confidence:   heuristicConfidence,
		Heuristic:    true,
	}
}

func (h *Heuristic) adjust(gain float64, c model.Candidate, ctx Context) float64 {
	state := ctx.States.Entry
	if c.Phase == model.PhaseExit {
		state = ctx.States.Exit
	}
	switch state {
	case model.SlipRed:
		gain *= 0.3
	case model.SlipYellow:
		gain *= 0.7
	case model.SlipGreen:
	}

	// close to reference means little left to gain, far means more
	delta := math.Abs(ctx.Impact.DeltaMs)
	if delta < 50 {
		gain *= 0.6
	} else if delta > 200 {
		gain *= 1.3
	}

	if ctx.Filter.Device == "pad" {
		gain *= 0.8
	}
	if c.Consistency {
		// drills target repeatability, not pace
		gain *= 0.2
	}
	return math.Max(gain, 5)
}
