package model

// ActionClass is the closed set of coachable actions. Gating logic must
// switch exhaustively over these so new classes get safety review.
type ActionClass int

const (
	BrakeEarlier ActionClass = iota
	BuildPressureFaster
	ReleaseEarlier
	ThrottleEarlierProgressive
	ReduceSteerThenThrottle
)

func ActionClasses() []ActionClass {
	return []ActionClass{
		BrakeEarlier, BuildPressureFaster, ReleaseEarlier,
		ThrottleEarlierProgressive, ReduceSteerThenThrottle,
	}
}

func (a ActionClass) String() string {
	switch a {
	case BrakeEarlier:
		return "brakeEarlier"
	case BuildPressureFaster:
		return "buildPressureFaster"
	case ReleaseEarlier:
		return "releaseEarlier"
	case ThrottleEarlierProgressive:
		return "throttleEarlierProgressive"
	case ReduceSteerThenThrottle:
		return "reduceSteerThenThrottle"
	}
	return "unknown"
}

// Phase returns the turn phase an action class belongs to.
func (a ActionClass) Phase() Phase {
	switch a {
	case BrakeEarlier, BuildPressureFaster:
		return PhaseEntry
	case ReleaseEarlier:
		return PhaseRotation
	case ThrottleEarlierProgressive, ReduceSteerThenThrottle:
		return PhaseExit
	}
	return PhaseEntry
}

type Intensity int

const (
	IntensityVerySoft Intensity = iota
	IntensitySoft
	IntensityProgressive
	IntensityFirm
)

func (i Intensity) String() string {
	switch i {
	case IntensityVerySoft:
		return "verySoft"
	case IntensitySoft:
		return "soft"
	case IntensityProgressive:
		return "progressive"
	case IntensityFirm:
		return "firm"
	}
	return "unknown"
}

// Reduce returns the next softer intensity level.
func (i Intensity) Reduce() Intensity {
	if i > IntensityVerySoft {
		return i - 1
	}
	return IntensityVerySoft
}

// Candidate is one proposed coaching action for one corner phase,
// generated fresh each cycle and never mutated.
type Candidate struct {
	CornerID  int
	Phase     Phase
	Action    ActionClass
	Intensity Intensity
	// Consistency marks a low-stakes drill issued instead of a pace tip
	// (insufficient reference data or erratic corner times).
	Consistency bool
	// Directed marks a candidate built under a reviewer directive; the
	// selector must not hold it back on cooldown.
	Directed bool
}

// UtilityEstimate is a transient per-cycle prediction for one candidate.
type UtilityEstimate struct {
	Candidate    Candidate
	ExpectedGain float64 // unit: ms per lap
	Confidence   float64 // 0..1
	Heuristic    bool    // true when produced by the fallback path
}

// CornerImpact ranks a corner against its reference.
type CornerImpact struct {
	CornerID         int
	DeltaMs          float64 // driver corner time minus reference median
	NormalizedImpact float64 // |delta| / reference IQR
	ConsistencyScore float64 // driver IQR / reference IQR
	SampleCount      int
	// InsufficientRef marks a corner observed this lap whose reference
	// is not yet coachable; only consistency framing may be offered.
	InsufficientRef bool
}

// Recommendation is the structured output handed to message templating.
// It carries no raw measurements.
type Recommendation struct {
	ID        string // uuid of the issued tip
	TrackID   string
	Driver    string
	Lap       int
	CornerID  int
	Phase     Phase
	Action    ActionClass
	Intensity Intensity
	// MicroDrill marks a re-issued theme after a NoAttempt outcome.
	MicroDrill bool
	// Consistency marks consistency framing rather than a pace tip.
	Consistency bool
}
