package reference

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// ErrInsufficientData is returned until enough valid laps back a corner.
// Callers must withhold pace tips and offer consistency framing instead.
var ErrInsufficientData = errors.New("insufficient reference data")

type row [9]float64

type bucket struct {
	rows []row
	// prior carries the persisted stats of earlier sessions
	prior *model.ReferenceStats
}

// Model maintains per-corner median/IQR baselines per filter key.
// It is pure in-memory state; repository IO is the caller's concern.
type Model struct {
	l       *log.Logger
	minLaps int
	window  int
	buckets map[model.StatsKey]*bucket
}

type Option func(m *Model)

func WithMinLaps(n int) Option {
	return func(m *Model) { m.minLaps = n }
}

func WithWindow(n int) Option {
	return func(m *Model) { m.window = n }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Model) { m.l = l }
}

func NewModel(opts ...Option) *Model {
	m := &Model{
		l:       log.Default().Named("reference"),
		minLaps: 5,
		window:  50,
		buckets: make(map[model.StatsKey]*bucket),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed installs persisted stats from an earlier session. They stay the
// active reference until the in-session window reaches the lap
// threshold on its own, so deltas are never measured against a
// baseline of just a couple of fresh laps.
func (m *Model) Seed(key model.StatsKey, stats *model.ReferenceStats) {
	cp := *stats
	m.bucket(key).prior = &cp
}

// Update incorporates one observation. Invalid or incomplete
// observations are ignored.
func (m *Model) Update(key model.StatsKey, obs *model.CornerObservation) {
	if !obs.LapValid || !obs.Complete() {
		return
	}
	b := m.bucket(key)
	var r row
	for _, metric := range model.Metrics() {
		r[metric] = obs.MetricValue(metric)
	}
	b.rows = append(b.rows, r)
	if len(b.rows) > m.window {
		b.rows = b.rows[len(b.rows)-m.window:]
	}
}

// Get computes the current statistics for one corner. When the corner
// time distribution splits into multiple driving lines, the faster line
// is the active reference; with more than two clusters the most-sampled
// one wins.
func (m *Model) Get(key model.StatsKey) (*model.ReferenceStats, error) {
	b, ok := m.buckets[key]
	if !ok {
		return nil, ErrInsufficientData
	}
	clusters := splitLines(b.rows)
	active := rejectOutliers(pickActive(clusters))
	if len(clusters) > 2 {
		m.l.Warn("more than two driving lines detected",
			log.Int("corner", key.CornerID),
			log.Int("lines", len(clusters)))
	}
	if len(active) < m.minLaps {
		// not enough fresh laps yet, the persisted baseline serves
		if b.prior != nil && b.prior.Laps >= m.minLaps {
			cp := *b.prior
			return &cp, nil
		}
		return nil, ErrInsufficientData
	}
	ret := &model.ReferenceStats{
		Laps:  len(active),
		Lines: len(clusters),
	}
	for _, metric := range model.Metrics() {
		vals := make([]float64, len(active))
		for i, r := range active {
			vals[i] = r[metric]
		}
		med, iqr := quantiles(vals)
		ret.Metrics[metric] = model.MetricStats{
			Median: med, IQR: iqr, Count: len(vals),
		}
	}
	return ret, nil
}

// DriverIQR exposes the driver's own spread on one metric, used by the
// reviewer as a noise band and by the ranking as a consistency score.
func (m *Model) DriverIQR(key model.StatsKey, metric model.Metric) float64 {
	b, ok := m.buckets[key]
	if !ok || len(b.rows) < 2 {
		return 0
	}
	vals := make([]float64, len(b.rows))
	for i, r := range b.rows {
		vals[i] = r[metric]
	}
	_, iqr := quantiles(vals)
	return iqr
}

// Samples reports how many in-session laps back the given corner.
func (m *Model) Samples(key model.StatsKey) int {
	if b, ok := m.buckets[key]; ok {
		return len(b.rows)
	}
	return 0
}

func (m *Model) bucket(key model.StatsKey) *bucket {
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}
	return b
}

func quantiles(vals []float64) (median, iqr float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	return median, q3 - q1
}

// rejectOutliers drops rows whose corner time lies outside the 1.5*IQR
// fences. Below four samples everything is kept.
func rejectOutliers(rows []row) []row {
	if len(rows) < 4 {
		return rows
	}
	times := make([]float64, len(rows))
	for i, r := range rows {
		times[i] = r[model.MetricCornerTime]
	}
	med, iqr := quantiles(times)
	if iqr <= 0 {
		return rows
	}
	lo, hi := med-1.5*iqr, med+1.5*iqr
	ret := make([]row, 0, len(rows))
	for i, r := range rows {
		if times[i] >= lo && times[i] <= hi {
			ret = append(ret, r)
		}
	}
	return ret
}

// splitLines clusters rows by corner time using gap splitting: a gap
// between neighbouring sorted times well above the typical spacing
// separates driving lines. One-lap clusters are excursions, not lines,
// and are discarded here rather than fed to the outlier fences.
func splitLines(rows []row) [][]row {
	if len(rows) < 4 {
		return [][]row{rows}
	}
	sorted := make([]row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i][model.MetricCornerTime] < sorted[j][model.MetricCornerTime]
	})
	times := make([]float64, len(sorted))
	for i, r := range sorted {
		times[i] = r[model.MetricCornerTime]
	}
	gaps := make([]float64, len(times)-1)
	for i := range gaps {
		gaps[i] = times[i+1] - times[i]
	}
	medGap, _ := quantiles(gaps)
	medTime, _ := quantiles(times)
	// two lines through the same corner differ by a couple percent at least
	threshold := math.Max(3*medGap, 0.02*medTime)
	var clusters [][]row
	start := 0
	for i := 1; i < len(sorted); i++ {
		if times[i]-times[i-1] > threshold {
			clusters = append(clusters, sorted[start:i])
			start = i
		}
	}
	clusters = append(clusters, sorted[start:])

	kept := make([][]row, 0, len(clusters))
	for _, c := range clusters {
		if len(c) >= 2 {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return [][]row{rows}
	}
	return kept
}

// pickActive selects the reference line: the faster of two clusters,
// the most-sampled one when more than two exist.
func pickActive(clusters [][]row) []row {
	switch len(clusters) {
	case 0:
		return nil
	case 1:
		return clusters[0]
	case 2:
		// clusters are ordered by corner time, fastest first
		return clusters[0]
	default:
		best := clusters[0]
		for _, c := range clusters[1:] {
			if len(c) > len(best) {
				best = c
			}
		}
		return best
	}
}
