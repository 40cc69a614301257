package coach

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach/candidate"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach/reviewer"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach/selector"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/coach/utility"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/extractor"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/reference"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/processing/safety"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/repository"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/sink"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/utils/cache"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/utils/cache/loadercache"
)

// directiveTTLLaps is how many laps a pending directive survives
// without its corner re-entering the ranking.
const directiveTTLLaps = 2

// Pipeline runs the post-lap decision cycle for one session: rank
// corners, generate gated candidates, estimate utility, select via the
// bandit, review the laps after. Frames are consumed sequentially;
// the cycle itself is synchronous under a hard time budget.
type Pipeline struct {
	driver  string
	trackID string
	filter  model.FilterKey
	track   *model.Track

	extractor  *extractor.Extractor
	reference  *reference.Model
	classifier *safety.Classifier
	generator  *candidate.Generator
	estimator  utility.Estimator
	heuristic  *utility.Heuristic
	selector   *selector.Selector
	reviewer   *reviewer.Reviewer
	repos      repository.Repositories
	out        sink.Sink

	budget       time.Duration
	estBudget    time.Duration
	cooldownLaps int
	reviewWindow int

	refCache cache.Cache[model.StatsKey, model.ReferenceStats]
	seeded   map[int]bool

	// directives from settled reviews, consumed on the next cycle
	directives map[int]candidate.Directive
	// corners that already got their one consistency framing this session
	drilled map[int]bool

	// learned is non-nil only for the default estimator; realized
	// outcomes train it using the context captured at issue time
	learned *utility.Learned
	tips    map[string]trainSample

	cycleMu     sync.Mutex
	cancelCycle context.CancelFunc

	persistCh chan persistReq
	done      chan struct{}

	degraded   metric.Int64Counter
	superseded metric.Int64Counter
	issued     metric.Int64Counter

	logger *log.Logger
}

type persistReq struct {
	key   model.StatsKey
	stats *model.ReferenceStats
}

type trainSample struct {
	cand   model.Candidate
	estCtx utility.Context
}

type PipelineOption func(p *Pipeline)

func WithBudget(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.budget = d }
}

func WithEstimatorBudget(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.estBudget = d }
}

func WithCooldownLaps(n int) PipelineOption {
	return func(p *Pipeline) { p.cooldownLaps = n }
}

func WithReviewWindowLaps(n int) PipelineOption {
	return func(p *Pipeline) { p.reviewWindow = n }
}

func WithEstimator(e utility.Estimator) PipelineOption {
	return func(p *Pipeline) { p.estimator = e }
}

func WithSelector(s *selector.Selector) PipelineOption {
	return func(p *Pipeline) { p.selector = s }
}

func WithReviewer(r *reviewer.Reviewer) PipelineOption {
	return func(p *Pipeline) { p.reviewer = r }
}

func WithGenerator(g *candidate.Generator) PipelineOption {
	return func(p *Pipeline) { p.generator = g }
}

func WithClassifier(c *safety.Classifier) PipelineOption {
	return func(p *Pipeline) { p.classifier = c }
}

func WithReferenceModel(m *reference.Model) PipelineOption {
	return func(p *Pipeline) { p.reference = m }
}

func WithFilterKey(k model.FilterKey) PipelineOption {
	return func(p *Pipeline) { p.filter = k }
}

func WithLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

//nolint:funlen // wiring
func NewPipeline(
	driver string,
	track *model.Track,
	repos repository.Repositories,
	out sink.Sink,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		driver:     driver,
		trackID:    track.ID,
		track:      track,
		repos:      repos,
		out:        out,
		budget:     150 * time.Millisecond,
		estBudget:  50 * time.Millisecond,
		seeded:     make(map[int]bool),
		directives: make(map[int]candidate.Directive),
		drilled:    make(map[int]bool),
		tips:       make(map[string]trainSample),
		persistCh:  make(chan persistReq, 64),
		done:       make(chan struct{}),
		logger:     log.Default().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reference == nil {
		p.reference = reference.NewModel(reference.WithLogger(p.logger))
	}
	if p.classifier == nil {
		p.classifier = safety.NewClassifier(safety.WithLogger(p.logger))
	}
	if p.generator == nil {
		p.generator = candidate.NewGenerator(candidate.WithLogger(p.logger))
	}
	if p.heuristic == nil {
		p.heuristic = &utility.Heuristic{}
	}
	if p.estimator == nil {
		p.learned = utility.NewLearned()
		p.estimator = utility.NewChooser(
			p.learned, p.heuristic, utility.WithLogger(p.logger))
	}
	if p.selector == nil {
		selOpts := []selector.Option{selector.WithLogger(p.logger)}
		if p.cooldownLaps > 0 {
			selOpts = append(selOpts, selector.WithCooldownLaps(p.cooldownLaps))
		}
		p.selector = selector.NewSelector(repos.Bandit(), selOpts...)
	}
	if p.reviewer == nil {
		revOpts := []reviewer.Option{
			reviewer.WithLogger(p.logger),
			reviewer.WithOutcomeFunc(p.publishOutcome),
		}
		if p.reviewWindow > 0 {
			revOpts = append(revOpts, reviewer.WithWindowLaps(p.reviewWindow))
		}
		p.reviewer = reviewer.NewReviewer(repos.Reviews(), repos.Bandit(), revOpts...)
	}
	p.extractor = extractor.NewExtractor(
		extractor.WithTrack(track),
		extractor.WithDriver(driver),
		extractor.WithLogger(p.logger))
	p.refCache = loadercache.New(
		loadercache.WithLoader(func(key model.StatsKey) (*model.ReferenceStats, error) {
			return repos.Reference().Get(context.Background(), key)
		}),
		loadercache.WithLogger[model.StatsKey, model.ReferenceStats](p.logger))
	p.setupMetrics()
	go p.persistLoop()
	return p
}

func (p *Pipeline) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("f1coach.pipeline")
	var err error
	if p.degraded, err = meter.Int64Counter("f1coach.cycles.degraded",
		metric.WithDescription("Cycles that fell back to the heuristic estimator"),
	); err != nil {
		p.logger.Error("failed to register metric", log.ErrorField(err))
	}
	if p.superseded, err = meter.Int64Counter("f1coach.cycles.superseded",
		metric.WithDescription("Cycles abandoned because a newer lap completed"),
	); err != nil {
		p.logger.Error("failed to register metric", log.ErrorField(err))
	}
	if p.issued, err = meter.Int64Counter("f1coach.recommendations.issued",
		metric.WithDescription("Recommendations handed to templating"),
	); err != nil {
		p.logger.Error("failed to register metric", log.ErrorField(err))
	}
}

// publishOutcome receives terminal review classifications. Success and
// Overshoot carry a realized gain the learned estimator trains on.
func (p *Pipeline) publishOutcome(ev model.ReviewOutcomeEvent) {
	if sample, ok := p.tips[ev.TipID]; ok {
		delete(p.tips, ev.TipID)
		if p.learned != nil &&
			(ev.Outcome == model.ReviewSuccess || ev.Outcome == model.ReviewOvershoot) {
			p.learned.Train(sample.cand, sample.estCtx, ev.RealizedDelta)
		}
	}
	if err := p.out.PublishOutcome(context.Background(), ev); err != nil {
		p.logger.Error("publishing review outcome", log.ErrorField(err))
	}
}

// OnFrame feeds one telemetry frame. When the frame completes a lap
// the decision cycle runs and its recommendations are published.
func (p *Pipeline) OnFrame(ctx context.Context, frame model.TelemetryFrame) {
	observations := p.extractor.ProcessFrame(frame)
	if len(observations) == 0 {
		return
	}
	lap := observations[0].Lap
	recs, err := p.RunCycle(ctx, lap, observations)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("decision cycle failed",
			log.Int("lap", lap), log.ErrorField(err))
		return
	}
	if len(recs) == 0 {
		return
	}
	if err := p.out.PublishRecommendations(ctx, recs); err != nil {
		p.logger.Error("publishing recommendations", log.ErrorField(err))
		return
	}
	p.issued.Add(ctx, int64(len(recs)))
}

// RunCycle executes one synchronous decision cycle for a completed
// lap. A new lap supersedes any cycle still in flight.
//
//nolint:funlen,gocognit // the cycle is one linear procedure
func (p *Pipeline) RunCycle(
	ctx context.Context, lap int, observations []model.CornerObservation,
) ([]model.Recommendation, error) {
	p.cycleMu.Lock()
	if p.cancelCycle != nil {
		// previous cycle still in flight, its output is superseded
		p.cancelCycle()
		p.superseded.Add(ctx, 1)
	}
	cycleCtx, cancel := context.WithTimeout(ctx, p.budget)
	p.cancelCycle = cancel
	p.cycleMu.Unlock()
	defer func() {
		p.cycleMu.Lock()
		p.cancelCycle = nil
		p.cycleMu.Unlock()
		cancel()
	}()

	started := time.Now()

	obsByCorner := make(map[int]*model.CornerObservation, len(observations))
	statesByCorner := make(map[int]model.PhaseStates, len(observations))
	for i := range observations {
		obs := &observations[i]
		obsByCorner[obs.CornerID] = obs
		statesByCorner[obs.CornerID] = p.classifier.Classify(obs)
	}
	statesFor := func(cornerID int) model.PhaseStates {
		return statesByCorner[cornerID]
	}

	// close the loop on earlier tips first so directives apply this cycle
	directives, err := p.reviewer.Observe(
		cycleCtx, p.driver, p.trackID, lap, obsByCorner, statesFor)
	if err != nil {
		return nil, err
	}
	for _, dir := range directives {
		p.directives[dir.CornerID] = dir
	}
	// a directive for a corner that stopped ranking must not linger forever
	for id, dir := range p.directives {
		if lap-dir.IssuedLap > directiveTTLLaps {
			p.logger.Debug("expiring stale directive",
				log.Int("corner", id), log.Int("issuedLap", dir.IssuedLap))
			delete(p.directives, id)
		}
	}

	p.updateReference(obsByCorner)

	impacts := p.generator.Rank(obsByCorner, p.statsFor, p.driverIQRFor)

	recs := make([]model.Recommendation, 0, len(impacts))
	for _, impact := range impacts {
		if cerr := cycleCtx.Err(); cerr != nil {
			if errors.Is(cerr, context.Canceled) {
				// a newer lap took over
				return nil, cerr
			}
			p.logger.Warn("cycle budget exhausted, truncating",
				log.Int("lap", lap), log.Int("corner", impact.CornerID))
			break
		}
		rec, ok := p.decideCorner(cycleCtx, lap, impact, obsByCorner, statesByCorner)
		if ok {
			recs = append(recs, rec)
		}
	}

	if elapsed := time.Since(started); elapsed > p.budget {
		p.logger.Warn("decision cycle over budget",
			log.Int("lap", lap),
			log.Duration("elapsed", elapsed))
	}
	return recs, nil
}

func (p *Pipeline) decideCorner(
	ctx context.Context,
	lap int,
	impact model.CornerImpact,
	obsByCorner map[int]*model.CornerObservation,
	statesByCorner map[int]model.PhaseStates,
) (model.Recommendation, bool) {
	obs := obsByCorner[impact.CornerID]
	states := statesByCorner[impact.CornerID]
	ref, err := p.statsFor(impact.CornerID)
	if err != nil && !impact.InsufficientRef {
		return model.Recommendation{}, false
	}

	// the directive stays pending until a recommendation actually carries
	// it; a cycle that emits nothing must not swallow it
	var dir *candidate.Directive
	if d, ok := p.directives[impact.CornerID]; ok {
		dir = &d
	}
	set := p.generator.Generate(impact, obs, ref, states, dir)
	if len(set) == 0 {
		return model.Recommendation{}, false
	}
	if impact.InsufficientRef && !(dir != nil && dir.MicroDrill) {
		return p.consistencyRec(lap, impact.CornerID, set[0])
	}

	estCtx := utility.Context{
		Impact: impact,
		States: states,
		Filter: p.filter,
	}
	if def, ok := p.track.Corner(impact.CornerID); ok {
		minSpeed := obs.MinSpeed
		if ref != nil {
			minSpeed = ref.Metric(model.MetricMinSpeed).Median
		}
		estCtx.Class = utility.ClassifyCorner(def, minSpeed)
	}
	ests := make([]model.UtilityEstimate, 0, len(set))
	for _, c := range set {
		ests = append(ests, p.estimate(ctx, c, estCtx))
	}

	best, err := p.selector.Select(ctx, p.driver, p.trackID, lap, ests, states)
	if err != nil {
		if !errors.Is(err, selector.ErrNoEligible) {
			p.logger.Error("selector failed",
				log.Int("corner", impact.CornerID), log.ErrorField(err))
		}
		return model.Recommendation{}, false
	}

	rec := model.Recommendation{
		ID:          uuid.NewString(),
		TrackID:     p.trackID,
		Driver:      p.driver,
		Lap:         lap,
		CornerID:    impact.CornerID,
		Phase:       best.Candidate.Phase,
		Action:      best.Candidate.Action,
		Intensity:   best.Candidate.Intensity,
		MicroDrill:  dir != nil && dir.MicroDrill,
		Consistency: best.Candidate.Consistency,
	}
	noise := p.reference.DriverIQR(
		p.statsKey(impact.CornerID), reviewer.CoachedMetric(best.Candidate.Action))
	if err := p.reviewer.Track(ctx, rec, obs, noise); err != nil {
		p.logger.Error("tracking recommendation", log.ErrorField(err))
		return model.Recommendation{}, false
	}
	if dir != nil {
		delete(p.directives, impact.CornerID)
	}
	p.tips[rec.ID] = trainSample{cand: best.Candidate, estCtx: estCtx}
	return rec, true
}

// consistencyRec frames a corner without a coachable reference: there
// is no baseline to review the driver against, so the framing bypasses
// the selector and the review loop and is issued at most once per
// corner per session.
func (p *Pipeline) consistencyRec(
	lap, cornerID int, c model.Candidate,
) (model.Recommendation, bool) {
	if p.drilled[cornerID] {
		return model.Recommendation{}, false
	}
	p.drilled[cornerID] = true
	return model.Recommendation{
		ID:          uuid.NewString(),
		TrackID:     p.trackID,
		Driver:      p.driver,
		Lap:         lap,
		CornerID:    cornerID,
		Phase:       c.Phase,
		Action:      c.Action,
		Intensity:   c.Intensity,
		Consistency: true,
	}, true
}

// estimate runs the configured estimator under its sub-budget and
// fails over to the heuristic rather than blocking the cycle.
func (p *Pipeline) estimate(
	ctx context.Context, c model.Candidate, estCtx utility.Context,
) model.UtilityEstimate {
	deadline, ok := ctx.Deadline()
	if ok && time.Until(deadline) < p.estBudget {
		p.degraded.Add(ctx, 1)
		return p.heuristic.Estimate(c, estCtx)
	}

	result := make(chan model.UtilityEstimate, 1)
	go func() {
		result <- p.estimator.Estimate(c, estCtx)
	}()
	select {
	case est := <-result:
		return est
	case <-time.After(p.estBudget):
		p.degraded.Add(ctx, 1)
		p.logger.Warn("estimator exceeded sub-budget, using heuristic",
			log.Int("corner", c.CornerID),
			log.String("action", c.Action.String()))
		return p.heuristic.Estimate(c, estCtx)
	}
}

// updateReference feeds valid complete observations into the in-memory
// model, seeding from persisted stats on first contact with a corner,
// and queues the refreshed stats for persistence off the hot path.
func (p *Pipeline) updateReference(obsByCorner map[int]*model.CornerObservation) {
	for id, obs := range obsByCorner {
		key := p.statsKey(id)
		if !p.seeded[id] {
			p.seeded[id] = true
			if stats, err := p.refCache.Get(context.Background(), key); err == nil {
				p.reference.Seed(key, stats)
			}
		}
		if !obs.LapValid || !obs.Complete() {
			continue
		}
		p.reference.Update(key, obs)
		if stats, err := p.reference.Get(key); err == nil {
			select {
			case p.persistCh <- persistReq{key: key, stats: stats}:
			default:
				p.logger.Warn("persist queue full, dropping stats write",
					log.Int("corner", id))
			}
		}
	}
}

func (p *Pipeline) persistLoop() {
	for {
		select {
		case req := <-p.persistCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.repos.Reference().Put(ctx, req.key, req.stats); err != nil {
				p.logger.Error("persisting reference stats", log.ErrorField(err))
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) statsKey(cornerID int) model.StatsKey {
	return model.StatsKey{
		Driver:   p.driver,
		TrackID:  p.trackID,
		Filter:   p.filter,
		CornerID: cornerID,
	}
}

func (p *Pipeline) statsFor(cornerID int) (*model.ReferenceStats, error) {
	return p.reference.Get(p.statsKey(cornerID))
}

func (p *Pipeline) driverIQRFor(cornerID int) float64 {
	return p.reference.DriverIQR(p.statsKey(cornerID), model.MetricCornerTime)
}

// Close ends the session. The reorder buffer is flushed first so a lap
// it still holds settles open reviews on real data; whatever remains
// open after that is discarded neutrally, and the persistence queue is
// drained.
func (p *Pipeline) Close(ctx context.Context) error {
	var err error
	if flushed := p.extractor.Flush(); len(flushed) > 0 {
		obsByCorner := make(map[int]*model.CornerObservation, len(flushed))
		statesByCorner := make(map[int]model.PhaseStates, len(flushed))
		for i := range flushed {
			obs := &flushed[i]
			obsByCorner[obs.CornerID] = obs
			statesByCorner[obs.CornerID] = p.classifier.Classify(obs)
		}
		p.updateReference(obsByCorner)
		_, err = p.reviewer.Observe(ctx, p.driver, p.trackID, flushed[0].Lap,
			obsByCorner, func(cornerID int) model.PhaseStates {
				return statesByCorner[cornerID]
			})
	}
	if derr := p.reviewer.Discard(ctx, p.driver, p.trackID); err == nil {
		err = derr
	}
	close(p.done)
	for {
		select {
		case req := <-p.persistCh:
			if perr := p.repos.Reference().Put(ctx, req.key, req.stats); perr != nil {
				p.logger.Error("persisting reference stats", log.ErrorField(perr))
			}
		default:
			return err
		}
	}
}
