package utility

import (
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// SpeedClass buckets a corner by its apex speed for gain lookup.
type SpeedClass int

const (
	ClassSlow SpeedClass = iota
	ClassMedium
	ClassFast
	ClassChicane
)

func (s SpeedClass) String() string {
	switch s {
	case ClassSlow:
		return "slow"
	case ClassMedium:
		return "medium"
	case ClassFast:
		return "fast"
	case ClassChicane:
		return "chicane"
	}
	return "unknown"
}

// ClassifyCorner derives the speed class from geometry and the apex
// speed of the reference.
func ClassifyCorner(corner model.CornerDefinition, apexSpeed float64) SpeedClass {
	if corner.ExitS-corner.EntryS < 120 {
		return ClassChicane
	}
	switch {
	case apexSpeed < 90:
		return ClassSlow
	case apexSpeed < 150:
		return ClassMedium
	default:
		return ClassFast
	}
}

// Context carries everything an estimator may condition on besides the
// candidate itself.
type Context struct {
	Impact model.CornerImpact
	States model.PhaseStates
	Class  SpeedClass
	Filter model.FilterKey
}

// Estimator predicts the expected per-lap gain of a candidate.
type Estimator interface {
	Estimate(c model.Candidate, ctx Context) model.UtilityEstimate
}
