package model

type Phase int

const (
	PhaseEntry Phase = iota
	PhaseRotation
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseEntry:
		return "entry"
	case PhaseRotation:
		return "rotation"
	case PhaseExit:
		return "exit"
	}
	return "unknown"
}

// SlipState is the three-level safety classification of a corner phase.
type SlipState int

const (
	SlipGreen SlipState = iota
	SlipYellow
	SlipRed
)

func (s SlipState) String() string {
	switch s {
	case SlipGreen:
		return "green"
	case SlipYellow:
		return "yellow"
	case SlipRed:
		return "red"
	}
	return "unknown"
}

// PhaseStates holds the slip classification per coached phase.
// Rotation shares the entry state.
type PhaseStates struct {
	Entry SlipState
	Exit  SlipState
}

// CornerObservation captures one corner of one lap, derived from the
// frame stream. Handed by value downstream; never mutated after emission.
type CornerObservation struct {
	TrackID  string
	CornerID int
	Lap      int

	EntrySpeed float64 // km/h at entryS
	MinSpeed   float64 // km/h, corner minimum
	ExitSpeed  float64 // km/h at exitS

	BrakeOnset    float64 // m, lap distance where braking started
	BrakePeak     float64 // 0..1, max pressure in the braking window
	BrakePeakDist float64 // m, lap distance of peak pressure
	BrakeRelease  float64 // m, lap distance where braking ended
	ThrottleOnset float64 // m, lap distance of throttle pickup
	ThrottleSlope float64 // throttle fraction per second after pickup

	EntrySlip float64 // max combined slip factor entryS..apexS
	ExitSlip  float64 // max combined slip factor apexS..exitS

	CornerTime float64 // s from entryS to exitS crossing

	Braked    bool // braking was detected at all
	Throttled bool // throttle pickup was detected
	LapValid  bool
	Gapped    bool // a telemetry gap exceeded the bridge limit inside the corner
}

// Complete reports whether the phase markers are present and ordered
// (brake onset <= peak <= release <= throttle onset). Incomplete
// observations are excluded from learning and ranking.
func (o *CornerObservation) Complete() bool {
	if o.Gapped || !o.Braked || !o.Throttled {
		return false
	}
	return o.BrakeOnset <= o.BrakePeakDist &&
		o.BrakePeakDist <= o.BrakeRelease &&
		o.BrakeRelease <= o.ThrottleOnset
}

// Metric identifies one derived corner metric tracked by the reference model.
type Metric int

const (
	MetricBrakeOnset Metric = iota
	MetricBrakePeak
	MetricBrakeRelease
	MetricThrottleOnset
	MetricThrottleSlope
	MetricEntrySpeed
	MetricMinSpeed
	MetricExitSpeed
	MetricCornerTime
	numMetrics
)

func Metrics() []Metric {
	ret := make([]Metric, 0, numMetrics)
	for m := MetricBrakeOnset; m < numMetrics; m++ {
		ret = append(ret, m)
	}
	return ret
}

func (m Metric) String() string {
	switch m {
	case MetricBrakeOnset:
		return "brakeOnset"
	case MetricBrakePeak:
		return "brakePeak"
	case MetricBrakeRelease:
		return "brakeRelease"
	case MetricThrottleOnset:
		return "throttleOnset"
	case MetricThrottleSlope:
		return "throttleSlope"
	case MetricEntrySpeed:
		return "entrySpeed"
	case MetricMinSpeed:
		return "minSpeed"
	case MetricExitSpeed:
		return "exitSpeed"
	case MetricCornerTime:
		return "cornerTime"
	}
	return "unknown"
}

// MetricValue extracts the named metric from the observation.
func (o *CornerObservation) MetricValue(m Metric) float64 {
	switch m {
	case MetricBrakeOnset:
		return o.BrakeOnset
	case MetricBrakePeak:
		return o.BrakePeak
	case MetricBrakeRelease:
		return o.BrakeRelease
	case MetricThrottleOnset:
		return o.ThrottleOnset
	case MetricThrottleSlope:
		return o.ThrottleSlope
	case MetricEntrySpeed:
		return o.EntrySpeed
	case MetricMinSpeed:
		return o.MinSpeed
	case MetricExitSpeed:
		return o.ExitSpeed
	case MetricCornerTime:
		return o.CornerTime
	}
	return 0
}
