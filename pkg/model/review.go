package model

type ReviewOutcome int

const (
	ReviewPending ReviewOutcome = iota
	ReviewSuccess
	ReviewOvershoot
	ReviewNoAttempt
	// ReviewDiscarded: observation window never completed (session end).
	// Neutral, no learning update.
	ReviewDiscarded
)

func (r ReviewOutcome) String() string {
	switch r {
	case ReviewPending:
		return "pending"
	case ReviewSuccess:
		return "success"
	case ReviewOvershoot:
		return "overshoot"
	case ReviewNoAttempt:
		return "noAttempt"
	case ReviewDiscarded:
		return "discarded"
	}
	return "unknown"
}

// PendingReview tracks one issued tip until the reviewer classifies it
// or its observation window expires.
type PendingReview struct {
	TipID     string
	Driver    string
	TrackID   string
	CornerID  int
	Action    ActionClass
	Intensity Intensity
	IssuedLap int
	// LapsRemaining counts down on valid laps only.
	LapsRemaining int
	// Baseline of the coached metric before the tip, with the noise band
	// used for the attempt test.
	BaselineMetric    float64
	BaselineNoise     float64
	BaselineApexSpeed float64
	BaselineExitSpeed float64
	BaselineCornerMs  float64
}

// ReviewOutcomeEvent is published for KPI collection after classification.
type ReviewOutcomeEvent struct {
	TipID          string        `json:"tipId"`
	Driver         string        `json:"driver"`
	TrackID        string        `json:"trackId"`
	CornerID       int           `json:"cornerId"`
	Action         ActionClass   `json:"action"`
	Outcome        ReviewOutcome `json:"outcome"`
	RealizedDelta  float64       `json:"realizedDelta"` // unit: ms
	LapsObserved   int           `json:"lapsObserved"`
	IssuedLap      int           `json:"issuedLap"`
	ClassifiedLap  int           `json:"classifiedLap"`
	IntensityLevel Intensity     `json:"intensityLevel"`
}

// BanditArm holds the belief state of one (driver, corner, action) tuple.
type BanditArm struct {
	Driver         string
	TrackID        string
	CornerID       int
	Action         ActionClass
	Successes float64
	Failures  float64
	// LastCoachedLap is -1 until the arm is first selected.
	LastCoachedLap int
	LastOutcome    ReviewOutcome
}

// Alpha and Beta are the Beta-distribution parameters for Thompson
// sampling, with a uniform prior.
func (b *BanditArm) Alpha() float64 { return b.Successes + 1 }
func (b *BanditArm) Beta() float64  { return b.Failures + 1 }

// ArmKey identifies a bandit arm in the repository.
type ArmKey struct {
	Driver   string
	TrackID  string
	CornerID int
	Action   ActionClass
}

// StatsKey identifies a reference statistics bucket in the repository.
type StatsKey struct {
	Driver   string
	TrackID  string
	Filter   FilterKey
	CornerID int
}
