package candidate

import (
	"sort"

	"github.com/samber/lo"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Directive carries the reviewer's instruction for the next cycle on a
// corner: re-issue the same theme as a micro-drill, cap the intensity,
// or switch to a stability action.
type Directive struct {
	CornerID        int
	Action          model.ActionClass
	MicroDrill      bool
	MaxIntensity    model.Intensity
	StabilitySwitch bool
	// IssuedLap lets the pipeline expire directives that never found a
	// cycle to apply in.
	IssuedLap int
}

// Generator ranks corners against their reference and produces the
// gated candidate set per corner. Deterministic and side-effect free:
// identical inputs always yield identical output.
type Generator struct {
	maxCorners int
	// minImpact is the IQR-normalized delta below which a phase is
	// considered already on reference.
	minImpact        float64
	consistencyRatio float64
	logger           *log.Logger
}

type Option func(g *Generator)

func WithMaxCorners(n int) Option {
	return func(g *Generator) { g.maxCorners = n }
}

func WithMinImpact(v float64) Option {
	return func(g *Generator) { g.minImpact = v }
}

func WithConsistencyRatio(v float64) Option {
	return func(g *Generator) { g.consistencyRatio = v }
}

func WithLogger(l *log.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

func NewGenerator(opts ...Option) *Generator {
	ret := &Generator{
		maxCorners:       3,
		minImpact:        1.0,
		consistencyRatio: 1.5,
		logger:           log.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// StatsLookup resolves the active reference for a corner. Returning an
// error marks the corner as having insufficient reference data.
type StatsLookup func(cornerID int) (*model.ReferenceStats, error)

// IQRLookup returns the driver's own spread of corner times (ms).
type IQRLookup func(cornerID int) float64

// Rank orders the lap's corners by IQR-normalized corner-time delta
// against the reference, descending, and returns at most maxCorners
// entries. Corners without a complete observation are excluded; corners
// without sufficient reference data are kept at the bottom of the
// ranking, flagged so downstream offers consistency framing instead of
// a pace tip.
func (g *Generator) Rank(
	observations map[int]*model.CornerObservation,
	stats StatsLookup,
	driverIQR IQRLookup,
) []model.CornerImpact {
	impacts := make([]model.CornerImpact, 0, len(observations))
	for id, obs := range observations {
		if !obs.LapValid || !obs.Complete() {
			continue
		}
		ref, err := stats(id)
		if err != nil {
			impacts = append(impacts, model.CornerImpact{
				CornerID:        id,
				InsufficientRef: true,
			})
			continue
		}
		ct := ref.Metric(model.MetricCornerTime)
		if ct.IQR <= 0 {
			continue
		}
		deltaMs := (obs.CornerTime - ct.Median) * 1000
		iqrMs := ct.IQR * 1000
		impacts = append(impacts, model.CornerImpact{
			CornerID:         id,
			DeltaMs:          deltaMs,
			NormalizedImpact: abs(deltaMs) / iqrMs,
			ConsistencyScore: driverIQR(id) * 1000 / iqrMs,
			SampleCount:      ct.Count,
		})
	}
	sort.Slice(impacts, func(i, j int) bool {
		if impacts[i].NormalizedImpact != impacts[j].NormalizedImpact {
			return impacts[i].NormalizedImpact > impacts[j].NormalizedImpact
		}
		return impacts[i].CornerID < impacts[j].CornerID
	})
	return lo.Slice(impacts, 0, g.maxCorners)
}

// Generate produces the gated candidate set for one ranked corner.
// Phase priority is Entry, then Rotation, then Exit: only the first
// phase showing a meaningful delta contributes candidates. The
// returned set holds one or two actions for the selector to narrow
// down; an empty set drops the corner this cycle.
func (g *Generator) Generate(
	impact model.CornerImpact,
	obs *model.CornerObservation,
	ref *model.ReferenceStats,
	states model.PhaseStates,
	dir *Directive,
) []model.Candidate {
	if dir != nil && dir.MicroDrill {
		return g.microDrill(impact.CornerID, dir, states)
	}
	if impact.InsufficientRef || impact.ConsistencyScore > g.consistencyRatio {
		return g.gateAll([]model.Candidate{consistencyDrill(impact.CornerID)}, states, dir)
	}

	for _, phase := range []model.Phase{model.PhaseEntry, model.PhaseRotation, model.PhaseExit} {
		if !g.meaningful(phase, obs, ref) {
			continue
		}
		set := g.phaseSet(impact.CornerID, phase, obs, ref)
		if gated := g.gateAll(set, states, dir); len(gated) > 0 {
			return gated
		}
		// gating emptied this phase, fall through to the next
	}
	return nil
}

// meaningful reports whether the phase metric deviates from the
// reference by more than minImpact IQRs.
func (g *Generator) meaningful(
	phase model.Phase, obs *model.CornerObservation, ref *model.ReferenceStats,
) bool {
	m := phaseMetric(phase)
	st := ref.Metric(m)
	if st.IQR <= 0 {
		return false
	}
	return abs(obs.MetricValue(m)-st.Median)/st.IQR >= g.minImpact
}

func phaseMetric(phase model.Phase) model.Metric {
	switch phase {
	case model.PhaseEntry:
		return model.MetricBrakeOnset
	case model.PhaseRotation:
		return model.MetricBrakeRelease
	case model.PhaseExit:
		return model.MetricThrottleOnset
	}
	return model.MetricCornerTime
}

// phaseSet builds the raw (ungated) candidate set for a phase.
func (g *Generator) phaseSet(
	cornerID int, phase model.Phase, obs *model.CornerObservation, ref *model.ReferenceStats,
) []model.Candidate {
	switch phase {
	case model.PhaseEntry:
		ret := []model.Candidate{{
			CornerID:  cornerID,
			Phase:     phase,
			Action:    model.BrakeEarlier,
			Intensity: model.IntensityProgressive,
		}}
		// pressure build is only worth coaching when the onset itself
		// is not the problem
		onset := ref.Metric(model.MetricBrakeOnset)
		if obs.BrakeOnset <= onset.Median+onset.IQR {
			ret = append(ret, model.Candidate{
				CornerID:  cornerID,
				Phase:     phase,
				Action:    model.BuildPressureFaster,
				Intensity: model.IntensityFirm,
			})
		}
		return ret
	case model.PhaseRotation:
		return []model.Candidate{{
			CornerID:  cornerID,
			Phase:     phase,
			Action:    model.ReleaseEarlier,
			Intensity: model.IntensityProgressive,
		}}
	case model.PhaseExit:
		return []model.Candidate{
			{
				CornerID:  cornerID,
				Phase:     phase,
				Action:    model.ThrottleEarlierProgressive,
				Intensity: model.IntensityProgressive,
			},
			{
				CornerID:  cornerID,
				Phase:     phase,
				Action:    model.ReduceSteerThenThrottle,
				Intensity: model.IntensityProgressive,
			},
		}
	}
	return nil
}

func consistencyDrill(cornerID int) model.Candidate {
	return model.Candidate{
		CornerID:    cornerID,
		Phase:       model.PhaseEntry,
		Action:      model.BrakeEarlier,
		Intensity:   model.IntensityVerySoft,
		Consistency: true,
	}
}

func (g *Generator) microDrill(
	cornerID int, dir *Directive, states model.PhaseStates,
) []model.Candidate {
	c := model.Candidate{
		CornerID:  cornerID,
		Phase:     dir.Action.Phase(),
		Action:    dir.Action,
		Intensity: model.IntensityVerySoft,
	}
	return g.gateAll([]model.Candidate{c}, states, dir)
}

func (g *Generator) gateAll(
	set []model.Candidate, states model.PhaseStates, dir *Directive,
) []model.Candidate {
	ret := make([]model.Candidate, 0, len(set))
	for _, c := range set {
		gated, ok := Gate(c, states)
		if !ok {
			continue
		}
		if dir != nil {
			gated.Directed = true
			if dir.StabilitySwitch && gated.Action == model.ThrottleEarlierProgressive {
				gated.Action = model.ReduceSteerThenThrottle
			}
			if gated.Intensity > dir.MaxIntensity {
				gated.Intensity = dir.MaxIntensity
			}
		}
		if Violates(gated, states) {
			// contract violation, drop rather than emit
			g.logger.Error("gated candidate still violates slip gate",
				log.Int("corner", gated.CornerID),
				log.String("action", gated.Action.String()))
			continue
		}
		ret = append(ret, gated)
	}
	return lo.UniqBy(ret, func(c model.Candidate) model.ActionClass { return c.Action })
}

// Gate applies the slip-state safety rules to one candidate. Red on
// entry forbids faster pressure build (fall back to braking earlier);
// red on exit forbids earlier throttle (fall back to unwinding steering
// first). Yellow permits only the softest variants. The switch is
// exhaustive over the action classes so a new class cannot ship
// without a gating decision.
func Gate(c model.Candidate, states model.PhaseStates) (model.Candidate, bool) {
	// rotation rides on the entry slip state
	state := states.Entry
	if c.Phase == model.PhaseExit {
		state = states.Exit
	}

	switch c.Action {
	case model.BrakeEarlier:
		// always safe, soften on yellow and red
		if state != model.SlipGreen {
			c.Intensity = minIntensity(c.Intensity, model.IntensitySoft)
		}
		return c, true
	case model.BuildPressureFaster:
		if state == model.SlipRed {
			c.Action = model.BrakeEarlier
			c.Intensity = model.IntensityProgressive
			return c, true
		}
		if state == model.SlipYellow {
			c.Intensity = minIntensity(c.Intensity, model.IntensitySoft)
		}
		return c, true
	case model.ReleaseEarlier:
		switch state {
		case model.SlipRed:
			c.Intensity = model.IntensityVerySoft
		case model.SlipYellow:
			c.Intensity = minIntensity(c.Intensity, model.IntensitySoft)
		case model.SlipGreen:
		}
		return c, true
	case model.ThrottleEarlierProgressive:
		if state == model.SlipRed {
			c.Action = model.ReduceSteerThenThrottle
			c.Intensity = model.IntensityProgressive
			return c, true
		}
		if state == model.SlipYellow {
			c.Intensity = minIntensity(c.Intensity, model.IntensityVerySoft)
		}
		return c, true
	case model.ReduceSteerThenThrottle:
		if state == model.SlipYellow {
			c.Intensity = minIntensity(c.Intensity, model.IntensitySoft)
		}
		return c, true
	}
	return c, false
}

// Violates reports whether a candidate breaks a hard safety invariant.
// Used as a final contract check before emission.
func Violates(c model.Candidate, states model.PhaseStates) bool {
	if states.Entry == model.SlipRed && c.Action == model.BuildPressureFaster {
		return true
	}
	if states.Exit == model.SlipRed && c.Action == model.ThrottleEarlierProgressive {
		return true
	}
	return false
}

func minIntensity(a, b model.Intensity) model.Intensity {
	if a < b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
