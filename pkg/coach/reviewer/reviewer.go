package reviewer

import (
	"context"
	"errors"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach/candidate"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
)

// overshootLossMs is the corner time regression beyond which an
// attempted tip counts as overdone.
const overshootLossMs = 50.0

// OutcomeFunc receives terminal review classifications for KPI
// collection.
type OutcomeFunc func(ev model.ReviewOutcomeEvent)

// Reviewer watches the laps after an issued tip and classifies the
// driver's response. Success and Overshoot feed the bandit; NoAttempt
// is neutral and triggers a micro-drill re-issue of the same theme.
type Reviewer struct {
	reviews repository.PendingReviewRepository
	arms    repository.BanditStateRepository
	// windowLaps counts valid laps only; invalid laps neither confirm
	// nor deny an attempt.
	windowLaps int
	// speedTolerance in km/h below baseline before apex/exit speed
	// counts as regressed.
	speedTolerance float64
	onOutcome      OutcomeFunc
	logger         *log.Logger
}

type Option func(r *Reviewer)

func WithWindowLaps(n int) Option {
	return func(r *Reviewer) { r.windowLaps = n }
}

func WithSpeedTolerance(v float64) Option {
	return func(r *Reviewer) { r.speedTolerance = v }
}

func WithOutcomeFunc(f OutcomeFunc) Option {
	return func(r *Reviewer) { r.onOutcome = f }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Reviewer) { r.logger = l }
}

func NewReviewer(
	reviews repository.PendingReviewRepository,
	arms repository.BanditStateRepository,
	opts ...Option,
) *Reviewer {
	ret := &Reviewer{
		reviews:        reviews,
		arms:           arms,
		windowLaps:     3,
		speedTolerance: 1.0,
		onOutcome:      func(model.ReviewOutcomeEvent) {},
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// CoachedMetric is the phase marker a tip is expected to move. All
// action classes push their marker earlier in lap distance.
func CoachedMetric(action model.ActionClass) model.Metric {
	switch action {
	case model.BrakeEarlier:
		return model.MetricBrakeOnset
	case model.BuildPressureFaster:
		return model.MetricBrakePeak
	case model.ReleaseEarlier:
		return model.MetricBrakeRelease
	case model.ThrottleEarlierProgressive, model.ReduceSteerThenThrottle:
		return model.MetricThrottleOnset
	}
	return model.MetricBrakeOnset
}

func baselineValue(obs *model.CornerObservation, action model.ActionClass) float64 {
	if action == model.BuildPressureFaster {
		// pressure build is judged by how close the peak sits to the onset
		return obs.BrakePeakDist
	}
	return obs.MetricValue(CoachedMetric(action))
}

// Track registers an issued recommendation for review against the
// driver's pre-tip baseline. noise is the driver's own spread of the
// coached metric; movements inside it are indistinguishable from lap
// to lap variation.
func (r *Reviewer) Track(
	ctx context.Context,
	rec model.Recommendation,
	baseline *model.CornerObservation,
	noise float64,
) error {
	review := &model.PendingReview{
		TipID:             rec.ID,
		Driver:            rec.Driver,
		TrackID:           rec.TrackID,
		CornerID:          rec.CornerID,
		Action:            rec.Action,
		Intensity:         rec.Intensity,
		IssuedLap:         rec.Lap,
		LapsRemaining:     r.windowLaps,
		BaselineMetric:    baselineValue(baseline, rec.Action),
		BaselineNoise:     noise,
		BaselineApexSpeed: baseline.MinSpeed,
		BaselineExitSpeed: baseline.ExitSpeed,
		BaselineCornerMs:  baseline.CornerTime * 1000,
	}
	return r.reviews.Put(ctx, review)
}

// Observe evaluates a completed lap against all open reviews for the
// session and returns next-cycle directives for corners whose review
// reached a terminal state.
func (r *Reviewer) Observe(
	ctx context.Context,
	driver, trackID string,
	lap int,
	observations map[int]*model.CornerObservation,
	states func(cornerID int) model.PhaseStates,
) ([]candidate.Directive, error) {
	open, err := r.reviews.LoadOpen(ctx, driver, trackID)
	if err != nil {
		return nil, err
	}
	var directives []candidate.Directive
	for _, review := range open {
		obs, ok := observations[review.CornerID]
		if !ok || !obs.LapValid || !obs.Complete() {
			// not a valid lap for this corner, window does not advance
			continue
		}
		outcome, delta := r.classify(review, obs, states(review.CornerID))
		if outcome == model.ReviewPending {
			review.LapsRemaining--
			if review.LapsRemaining > 0 {
				if err := r.reviews.Put(ctx, review); err != nil {
					return nil, err
				}
				continue
			}
			// window exhausted without a detectable attempt
			outcome = model.ReviewNoAttempt
		}
		dir, err := r.settle(ctx, review, outcome, delta, lap)
		if err != nil {
			return nil, err
		}
		if dir != nil {
			directives = append(directives, *dir)
		}
	}
	return directives, nil
}

// classify evaluates one lap. ReviewPending means this lap was
// inconclusive and the window keeps running.
func (r *Reviewer) classify(
	review *model.PendingReview,
	obs *model.CornerObservation,
	states model.PhaseStates,
) (model.ReviewOutcome, float64) {
	delta := review.BaselineCornerMs - obs.CornerTime*1000

	metric := baselineValue(obs, review.Action)
	moved := review.BaselineMetric-metric > review.BaselineNoise
	if !moved {
		// indistinguishable from the pre-tip baseline
		return model.ReviewPending, delta
	}

	phaseState := states.Entry
	if review.Action.Phase() == model.PhaseExit {
		phaseState = states.Exit
	}
	if phaseState == model.SlipRed || delta < -overshootLossMs {
		return model.ReviewOvershoot, delta
	}

	apexHeld := obs.MinSpeed >= review.BaselineApexSpeed-r.speedTolerance
	exitHeld := obs.ExitSpeed >= review.BaselineExitSpeed-r.speedTolerance
	if apexHeld && exitHeld {
		return model.ReviewSuccess, delta
	}
	return model.ReviewPending, delta
}

// settle finalizes a review: reward to the bandit, outcome event, and
// the directive the next cycle must honor.
func (r *Reviewer) settle(
	ctx context.Context,
	review *model.PendingReview,
	outcome model.ReviewOutcome,
	delta float64,
	lap int,
) (*candidate.Directive, error) {
	if err := r.reviews.Delete(ctx, review.TipID); err != nil {
		return nil, err
	}

	arm, err := r.loadArm(ctx, review)
	if err != nil {
		return nil, err
	}
	var dir *candidate.Directive
	switch outcome {
	case model.ReviewSuccess:
		arm.Successes++
	case model.ReviewOvershoot:
		arm.Failures++
		dir = &candidate.Directive{
			CornerID:        review.CornerID,
			Action:          review.Action,
			MaxIntensity:    review.Intensity.Reduce(),
			StabilitySwitch: true,
			IssuedLap:       lap,
		}
	case model.ReviewNoAttempt:
		// neutral: no belief update, re-issue the theme as a drill
		dir = &candidate.Directive{
			CornerID:     review.CornerID,
			Action:       review.Action,
			MicroDrill:   true,
			MaxIntensity: model.IntensityVerySoft,
			IssuedLap:    lap,
		}
	case model.ReviewPending, model.ReviewDiscarded:
	}
	arm.LastOutcome = outcome
	if err := r.arms.Put(ctx, arm); err != nil {
		return nil, err
	}

	r.logger.Info("review settled",
		log.String("tipId", review.TipID),
		log.Int("corner", review.CornerID),
		log.String("action", review.Action.String()),
		log.String("outcome", outcome.String()),
		log.Float64("deltaMs", delta))
	r.onOutcome(model.ReviewOutcomeEvent{
		TipID:          review.TipID,
		Driver:         review.Driver,
		TrackID:        review.TrackID,
		CornerID:       review.CornerID,
		Action:         review.Action,
		Outcome:        outcome,
		RealizedDelta:  delta,
		LapsObserved:   r.windowLaps - review.LapsRemaining + 1,
		IssuedLap:      review.IssuedLap,
		ClassifiedLap:  lap,
		IntensityLevel: review.Intensity,
	})
	return dir, nil
}

func (r *Reviewer) loadArm(
	ctx context.Context, review *model.PendingReview,
) (*model.BanditArm, error) {
	key := model.ArmKey{
		Driver:   review.Driver,
		TrackID:  review.TrackID,
		CornerID: review.CornerID,
		Action:   review.Action,
	}
	arm, err := r.arms.Get(ctx, key)
	if err == nil {
		return arm, nil
	}
	if errors.Is(err, repository.ErrNoRows) {
		return &model.BanditArm{
			Driver:         review.Driver,
			TrackID:        review.TrackID,
			CornerID:       review.CornerID,
			Action:         review.Action,
			LastCoachedLap: -1,
		}, nil
	}
	return nil, err
}

// Discard drops all open reviews for a session with a neutral outcome.
// Called on session end when the observation window can never complete.
func (r *Reviewer) Discard(ctx context.Context, driver, trackID string) error {
	open, err := r.reviews.LoadOpen(ctx, driver, trackID)
	if err != nil {
		return err
	}
	for _, review := range open {
		if err := r.reviews.Delete(ctx, review.TipID); err != nil {
			return err
		}
		r.onOutcome(model.ReviewOutcomeEvent{
			TipID:          review.TipID,
			Driver:         review.Driver,
			TrackID:        review.TrackID,
			CornerID:       review.CornerID,
			Action:         review.Action,
			Outcome:        model.ReviewDiscarded,
			LapsObserved:   r.windowLaps - review.LapsRemaining,
			IssuedLap:      review.IssuedLap,
			IntensityLevel: review.Intensity,
		})
	}
	return nil
}
