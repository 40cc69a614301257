package selector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
)

// ErrNoEligible is returned when cooldown or gating leaves no arm to
// coach on a corner this cycle.
var ErrNoEligible = errors.New("no eligible candidate")

// Selector runs Thompson sampling over the per (driver, corner, action)
// Beta belief state. Sampling uses a source seeded from the call
// identity so an identical replay selects identically.
type Selector struct {
	arms         repository.BanditStateRepository
	cooldownLaps int
	// nudgeWeight scales the expected-gain prior added to each sample.
	nudgeWeight float64
	logger      *log.Logger
}

type Option func(s *Selector)

func WithCooldownLaps(n int) Option {
	return func(s *Selector) { s.cooldownLaps = n }
}

func WithNudgeWeight(v float64) Option {
	return func(s *Selector) { s.nudgeWeight = v }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Selector) { s.logger = l }
}

func NewSelector(arms repository.BanditStateRepository, opts ...Option) *Selector {
	ret := &Selector{
		arms:         arms,
		cooldownLaps: 1,
		nudgeWeight:  0.25,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Select narrows a corner's estimated candidate set down to one.
// Exploration via posterior sampling only happens with both phases
// green; under yellow or red the highest expected utility wins
// outright. The chosen arm's cooldown marker is advanced.
func (s *Selector) Select(
	ctx context.Context,
	driver, trackID string,
	lap int,
	ests []model.UtilityEstimate,
	states model.PhaseStates,
) (model.UtilityEstimate, error) {
	eligible := make([]model.UtilityEstimate, 0, len(ests))
	armByAction := make(map[model.ActionClass]*model.BanditArm, len(ests))
	for _, est := range ests {
		arm, err := s.arm(ctx, driver, trackID, est.Candidate)
		if err != nil {
			return model.UtilityEstimate{}, err
		}
		if !est.Candidate.Directed && s.cooledDown(arm, lap) {
			continue
		}
		armByAction[est.Candidate.Action] = arm
		eligible = append(eligible, est)
	}
	if len(eligible) == 0 {
		return model.UtilityEstimate{}, ErrNoEligible
	}

	var best model.UtilityEstimate
	if states.Entry == model.SlipGreen && states.Exit == model.SlipGreen {
		best = s.sample(driver, trackID, lap, eligible, armByAction)
	} else {
		best = argmaxGain(eligible)
	}

	arm := armByAction[best.Candidate.Action]
	arm.LastCoachedLap = lap
	arm.LastOutcome = model.ReviewPending
	if err := s.arms.Put(ctx, arm); err != nil {
		return model.UtilityEstimate{}, err
	}
	return best, nil
}

func (s *Selector) arm(
	ctx context.Context, driver, trackID string, c model.Candidate,
) (*model.BanditArm, error) {
	key := model.ArmKey{
		Driver: driver, TrackID: trackID, CornerID: c.CornerID, Action: c.Action,
	}
	arm, err := s.arms.Get(ctx, key)
	if errors.Is(err, repository.ErrNoRows) {
		return &model.BanditArm{
			Driver: driver, TrackID: trackID, CornerID: c.CornerID, Action: c.Action,
			LastCoachedLap: -1,
		}, nil
	}
	return arm, err
}

// cooledDown reports whether the arm was coached too recently. A clear
// Success or Overshoot overrides the cooldown: both are informative
// and should be acted on immediately.
func (s *Selector) cooledDown(arm *model.BanditArm, lap int) bool {
	if arm.LastCoachedLap < 0 || lap-arm.LastCoachedLap > s.cooldownLaps {
		return false
	}
	return arm.LastOutcome != model.ReviewSuccess && arm.LastOutcome != model.ReviewOvershoot
}

func (s *Selector) sample(
	driver, trackID string,
	lap int,
	ests []model.UtilityEstimate,
	arms map[model.ActionClass]*model.BanditArm,
) model.UtilityEstimate {
	best := ests[0]
	bestScore := -1.0
	for _, est := range ests {
		arm := arms[est.Candidate.Action]
		dist := distuv.Beta{
			Alpha: arm.Alpha(),
			Beta:  arm.Beta(),
			Src:   rand.NewSource(seed(driver, trackID, lap, est.Candidate)),
		}
		score := dist.Rand() + s.nudgeWeight*est.ExpectedGain/100
		if score > bestScore {
			bestScore = score
			best = est
		}
	}
	s.logger.Debug("thompson selection",
		log.Int("corner", best.Candidate.CornerID),
		log.String("action", best.Candidate.Action.String()),
		log.Float64("score", bestScore))
	return best
}

func argmaxGain(ests []model.UtilityEstimate) model.UtilityEstimate {
	best := ests[0]
	for _, est := range ests[1:] {
		if est.ExpectedGain > best.ExpectedGain {
			best = est
		}
	}
	return best
}

// seed derives a stable per-decision seed so replays are idempotent.
func seed(driver, trackID string, lap int, c model.Candidate) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d", driver, trackID, lap, c.CornerID, int(c.Action))
	return h.Sum64()
}
