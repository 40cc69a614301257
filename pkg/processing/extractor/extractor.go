package extractor

import (
	"context"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

const (
	// grip circle normalization: typical racing ranges before traction loss
	slipRatioNorm = 0.3
	slipAngleNorm = 0.2 // rad
)

// CombinedSlip maps the longitudinal/lateral slip proxies onto a single
// 0..1 grip utilization factor (1.0 = at the limit).
func CombinedSlip(ratio, angle float64) float64 {
	long := math.Min(1.0, math.Abs(ratio)/slipRatioNorm)
	lat := math.Min(1.0, math.Abs(angle)/slipAngleNorm)
	return math.Min(1.0, math.Hypot(long, lat)/math.Sqrt2)
}

type cornerState struct {
	def model.CornerDefinition
	obs model.CornerObservation

	entered      bool
	exited       bool
	entryTime    float64
	throttleRef  float64 // throttle value at pickup, for the slope
	throttleTime float64
	slopeDone    bool
}

// Extractor turns the per-frame stream of one session into per-corner
// observations at lap completion. Frames must be fed sequentially; the
// extractor owns all cross-frame state.
type Extractor struct {
	track  *model.Track
	l      *log.Logger
	driver string

	brakeOn       float64 // rising threshold
	brakeOff      float64 // falling threshold (hysteresis)
	throttleOn    float64
	throttleOff   float64
	dwellFrames   int     // frames a crossing must persist before it fires
	maxGap        float64 // s, longest bridgeable telemetry gap
	reorderWindow int     // frames held back for out-of-order arrival

	buf       []model.TelemetryFrame // pending frames, sorted by session time
	highWater float64                // session time of the last consumed frame

	currentLap int
	lapValid   bool
	corners    map[int]*cornerState
	last       *model.TelemetryFrame

	brakeActive    bool
	brakeDwell     int
	throttleActive bool
	throttleDwell  int

	dropped metric.Int64Counter
}

type Option func(e *Extractor)

func WithTrack(t *model.Track) Option {
	return func(e *Extractor) { e.track = t }
}

func WithDriver(driver string) Option {
	return func(e *Extractor) { e.driver = driver }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Extractor) { e.l = l }
}

func WithThresholds(brakeOn, brakeOff, throttleOn, throttleOff float64) Option {
	return func(e *Extractor) {
		e.brakeOn, e.brakeOff = brakeOn, brakeOff
		e.throttleOn, e.throttleOff = throttleOn, throttleOff
	}
}

func WithDwellFrames(n int) Option {
	return func(e *Extractor) { e.dwellFrames = n }
}

func WithMaxGap(seconds float64) Option {
	return func(e *Extractor) { e.maxGap = seconds }
}

func WithReorderWindow(frames int) Option {
	return func(e *Extractor) { e.reorderWindow = frames }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		l:             log.Default().Named("extractor"),
		brakeOn:       0.1,
		brakeOff:      0.05,
		throttleOn:    0.1,
		throttleOff:   0.05,
		dwellFrames:   3,
		maxGap:        0.5,
		reorderWindow: 16,
		currentLap:    -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	meter := otel.GetMeterProvider().Meter("f1coach.extractor")
	e.dropped, _ = meter.Int64Counter("f1coach.frames.dropped",
		metric.WithDescription("Frames dropped outside the reordering tolerance"),
		metric.WithUnit("{count}"))
	return e
}

// ProcessFrame ingests one frame. When the frame stream rolls over to a
// new lap, the completed lap's corner observations are returned,
// otherwise nil. Frames older than the reordering tolerance are dropped
// and counted, never an error.
func (e *Extractor) ProcessFrame(frame model.TelemetryFrame) []model.CornerObservation {
	if frame.SessionTime < e.highWater {
		e.countDropped()
		return nil
	}
	// insert sorted; duplicates (same session time) are dropped
	idx := sort.Search(len(e.buf), func(i int) bool {
		return e.buf[i].SessionTime >= frame.SessionTime
	})
	if idx < len(e.buf) && e.buf[idx].SessionTime == frame.SessionTime {
		e.countDropped()
		return nil
	}
	e.buf = append(e.buf, model.TelemetryFrame{})
	copy(e.buf[idx+1:], e.buf[idx:])
	e.buf[idx] = frame

	var completed []model.CornerObservation
	for len(e.buf) > e.reorderWindow {
		next := e.buf[0]
		e.buf = e.buf[1:]
		if obs := e.consume(next); obs != nil {
			completed = append(completed, obs...)
		}
	}
	return completed
}

// Flush drains the reordering buffer, e.g. at session end, and returns
// any observations it completes. The current (incomplete) lap yields no
// observations.
func (e *Extractor) Flush() []model.CornerObservation {
	var completed []model.CornerObservation
	for _, f := range e.buf {
		if obs := e.consume(f); obs != nil {
			completed = append(completed, obs...)
		}
	}
	e.buf = nil
	return completed
}

func (e *Extractor) consume(frame model.TelemetryFrame) []model.CornerObservation {
	e.highWater = frame.SessionTime

	var completed []model.CornerObservation
	if frame.Lap != e.currentLap {
		completed = e.finishLap()
		e.startLap(frame.Lap)
	}
	if !frame.LapValid {
		e.lapValid = false
	}
	e.detectGap(&frame)
	e.updateDetectors(&frame)
	e.updateCorners(&frame)
	e.last = &frame
	return completed
}

func (e *Extractor) startLap(lap int) {
	e.currentLap = lap
	e.lapValid = true
	e.corners = make(map[int]*cornerState, len(e.track.Corners))
	for _, def := range e.track.Corners {
		e.corners[def.ID] = &cornerState{
			def: def,
			obs: model.CornerObservation{
				TrackID:  e.track.ID,
				CornerID: def.ID,
				Lap:      lap,
				MinSpeed: math.MaxFloat64,
			},
		}
	}
	e.brakeActive = false
	e.throttleActive = false
	e.brakeDwell = 0
	e.throttleDwell = 0
}

// finishLap emits observations for all corners the lap passed through.
// Corners with undetectable phases are simply excluded.
func (e *Extractor) finishLap() []model.CornerObservation {
	if e.corners == nil {
		return nil
	}
	ret := make([]model.CornerObservation, 0, len(e.corners))
	for _, cs := range e.corners {
		if !cs.entered || !cs.exited {
			continue
		}
		cs.obs.LapValid = e.lapValid
		ret = append(ret, cs.obs)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CornerID < ret[j].CornerID })
	e.corners = nil
	if len(ret) > 0 {
		e.l.Debug("lap complete",
			log.Int("lap", e.currentLap),
			log.Int("corners", len(ret)),
			log.Bool("valid", e.lapValid))
	}
	return ret
}

// detectGap marks corners whose distance range intersects a telemetry
// gap longer than the bridge limit. Shorter gaps are bridged by holding
// the previous state.
func (e *Extractor) detectGap(frame *model.TelemetryFrame) {
	if e.last == nil || frame.Lap != e.last.Lap {
		return
	}
	if frame.SessionTime-e.last.SessionTime <= e.maxGap {
		return
	}
	from, to := e.last.LapDistance, frame.LapDistance
	for _, cs := range e.corners {
		if cs.def.ExitS >= from && cs.def.EntryS <= to {
			cs.obs.Gapped = true
		}
	}
	e.l.Debug("telemetry gap",
		log.Float64("seconds", frame.SessionTime-e.last.SessionTime),
		log.Float64("from", from), log.Float64("to", to))
}

// updateDetectors runs the hysteresis state machines for the brake and
// throttle channels. A crossing only fires after it persisted for the
// dwell window, which debounces telemetry jitter.
func (e *Extractor) updateDetectors(frame *model.TelemetryFrame) {
	// brake
	if !e.brakeActive {
		if frame.Brake >= e.brakeOn {
			e.brakeDwell++
			if e.brakeDwell >= e.dwellFrames {
				e.brakeActive = true
				e.brakeDwell = 0
				e.onBrakeOnset(frame)
			}
		} else {
			e.brakeDwell = 0
		}
	} else {
		if frame.Brake <= e.brakeOff {
			e.brakeDwell++
			if e.brakeDwell >= e.dwellFrames {
				e.brakeActive = false
				e.brakeDwell = 0
				e.onBrakeRelease(frame)
			}
		} else {
			e.brakeDwell = 0
			e.onBraking(frame)
		}
	}
	// throttle, symmetric
	if !e.throttleActive {
		if frame.Throttle >= e.throttleOn {
			e.throttleDwell++
			if e.throttleDwell >= e.dwellFrames {
				e.throttleActive = true
				e.throttleDwell = 0
				e.onThrottleOnset(frame)
			}
		} else {
			e.throttleDwell = 0
		}
	} else {
		if frame.Throttle <= e.throttleOff {
			e.throttleDwell++
			if e.throttleDwell >= e.dwellFrames {
				e.throttleActive = false
				e.throttleDwell = 0
			}
		} else {
			e.throttleDwell = 0
			e.onThrottling(frame)
		}
	}
}

// activeCorner finds the corner whose coaching window covers the given
// lap distance. The window opens a braking-zone margin before entry.
func (e *Extractor) activeCorner(dist float64) *cornerState {
	const approachMargin = 150.0 // m before entryS where braking may start
	var best *cornerState
	for _, cs := range e.corners {
		if dist >= cs.def.EntryS-approachMargin && dist <= cs.def.ExitS {
			if best == nil || cs.def.ExitS < best.def.ExitS {
				best = cs
			}
		}
	}
	return best
}

func (e *Extractor) onBrakeOnset(frame *model.TelemetryFrame) {
	cs := e.activeCorner(frame.LapDistance)
	if cs == nil || cs.obs.Braked {
		return
	}
	cs.obs.Braked = true
	cs.obs.BrakeOnset = frame.LapDistance
	cs.obs.BrakePeak = frame.Brake
	cs.obs.BrakePeakDist = frame.LapDistance
}

func (e *Extractor) onBraking(frame *model.TelemetryFrame) {
	cs := e.activeCorner(frame.LapDistance)
	if cs == nil || !cs.obs.Braked || cs.obs.BrakeRelease > 0 {
		return
	}
	if frame.Brake > cs.obs.BrakePeak {
		cs.obs.BrakePeak = frame.Brake
		cs.obs.BrakePeakDist = frame.LapDistance
	}
}

func (e *Extractor) onBrakeRelease(frame *model.TelemetryFrame) {
	cs := e.activeCorner(frame.LapDistance)
	if cs == nil || !cs.obs.Braked || cs.obs.BrakeRelease > 0 {
		return
	}
	cs.obs.BrakeRelease = frame.LapDistance
}

func (e *Extractor) onThrottleOnset(frame *model.TelemetryFrame) {
	cs := e.activeCorner(frame.LapDistance)
	// only a pickup after the braking phase counts as corner-exit throttle
	if cs == nil || cs.obs.Throttled || !cs.obs.Braked {
		return
	}
	cs.obs.Throttled = true
	cs.obs.ThrottleOnset = frame.LapDistance
	cs.throttleRef = frame.Throttle
	cs.throttleTime = frame.SessionTime
}

func (e *Extractor) onThrottling(frame *model.TelemetryFrame) {
	cs := e.activeCorner(frame.LapDistance)
	if cs == nil || !cs.obs.Throttled || cs.slopeDone {
		return
	}
	// opening slope: throttle increase rate until (nearly) full throttle
	if frame.Throttle >= 0.9 && frame.SessionTime > cs.throttleTime {
		cs.obs.ThrottleSlope = (frame.Throttle - cs.throttleRef) /
			(frame.SessionTime - cs.throttleTime)
		cs.slopeDone = true
	}
}

// updateCorners samples the distance checkpoints and the per-phase slip.
func (e *Extractor) updateCorners(frame *model.TelemetryFrame) {
	for _, cs := range e.corners {
		d := frame.LapDistance
		if d < cs.def.EntryS-150 || d > cs.def.ExitS {
			continue
		}
		if d >= cs.def.EntryS && !cs.entered {
			cs.entered = true
			cs.entryTime = frame.SessionTime
			cs.obs.EntrySpeed = frame.Speed
		}
		if cs.entered && !cs.exited {
			if frame.Speed < cs.obs.MinSpeed {
				cs.obs.MinSpeed = frame.Speed
			}
			slip := CombinedSlip(frame.SlipRatio, frame.SlipAngle)
			if d <= cs.def.ApexS {
				cs.obs.EntrySlip = math.Max(cs.obs.EntrySlip, slip)
			} else {
				cs.obs.ExitSlip = math.Max(cs.obs.ExitSlip, slip)
			}
		}
		if d >= cs.def.ExitS && cs.entered && !cs.exited {
			cs.exited = true
			cs.obs.ExitSpeed = frame.Speed
			cs.obs.CornerTime = frame.SessionTime - cs.entryTime
			// slope never completed: estimate from the exit sample
			if cs.obs.Throttled && !cs.slopeDone &&
				frame.SessionTime > cs.throttleTime {
				cs.obs.ThrottleSlope = (frame.Throttle - cs.throttleRef) /
					(frame.SessionTime - cs.throttleTime)
				cs.slopeDone = true
			}
		}
	}
}

func (e *Extractor) countDropped() {
	e.dropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("driver", e.driver)))
}
