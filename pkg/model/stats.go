package model

// MetricStats is the running median/IQR summary of one corner metric.
type MetricStats struct {
	Median float64
	IQR    float64
	Count  int
}

// ReferenceStats aggregates per-metric statistics for one corner under
// one filter key, restricted to the active driving line when the
// distribution is multimodal.
type ReferenceStats struct {
	Metrics [9]MetricStats
	// Laps is the number of valid laps that contributed to the active line.
	Laps int
	// Lines is the number of detected corner-time clusters (1 = unimodal).
	Lines int
}

func (r *ReferenceStats) Metric(m Metric) MetricStats {
	return r.Metrics[m]
}

// Sufficient reports whether enough laps back the statistics for pace
// coaching. Below the threshold only consistency framing is offered.
func (r *ReferenceStats) Sufficient(minLaps int) bool {
	return r != nil && r.Laps >= minLaps
}
