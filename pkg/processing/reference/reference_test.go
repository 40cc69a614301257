//nolint:thelper,funlen,lll // ok for tests
package reference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

var testKey = model.StatsKey{
	Driver:  "tester",
	TrackID: "testtrack",
	Filter:  model.FilterKey{Assists: "none", Device: "wheel"},
}

// obs builds a complete, valid observation whose corner time and brake
// onset are the only distinguishing values.
func obs(cornerTime, brakeOnset float64) *model.CornerObservation {
	return &model.CornerObservation{
		TrackID:       "testtrack",
		CornerID:      1,
		EntrySpeed:    180,
		MinSpeed:      95,
		ExitSpeed:     160,
		BrakeOnset:    brakeOnset,
		BrakePeak:     0.95,
		BrakePeakDist: brakeOnset + 30,
		BrakeRelease:  brakeOnset + 120,
		ThrottleOnset: brakeOnset + 160,
		ThrottleSlope: 1.2,
		CornerTime:    cornerTime,
		Braked:        true,
		Throttled:     true,
		LapValid:      true,
	}
}

func TestModel_InsufficientData(t *testing.T) {
	m := NewModel(WithMinLaps(5))

	_, err := m.Get(testKey)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	for i := 0; i < 4; i++ {
		m.Update(testKey, obs(8.0, 350))
	}
	_, err = m.Get(testKey)
	assert.True(t, errors.Is(err, ErrInsufficientData), "4 laps are below the threshold")

	m.Update(testKey, obs(8.0, 350))
	_, err = m.Get(testKey)
	assert.NoError(t, err)
}

func TestModel_SeededPriorServesAsReference(t *testing.T) {
	m := NewModel(WithMinLaps(5))
	prior := &model.ReferenceStats{Laps: 10, Lines: 1}
	prior.Metrics[model.MetricBrakeOnset] = model.MetricStats{Median: 350, IQR: 10, Count: 10}
	prior.Metrics[model.MetricCornerTime] = model.MetricStats{Median: 8.0, IQR: 0.2, Count: 10}
	m.Seed(testKey, prior)

	// two fresh laps are no baseline of their own
	m.Update(testKey, obs(8.4, 350))
	m.Update(testKey, obs(8.5, 350))

	stats, err := m.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Laps)
	assert.InDelta(t, 8.0, stats.Metric(model.MetricCornerTime).Median, 1e-9,
		"the persisted medians serve until the session stands on its own")

	// once the session reaches the threshold it takes over
	for _, ct := range []float64{8.4, 8.45, 8.5} {
		m.Update(testKey, obs(ct, 350))
	}
	stats, err = m.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Laps)
	assert.InDelta(t, 8.45, stats.Metric(model.MetricCornerTime).Median, 0.1)
}

func TestModel_InsufficientPriorDoesNotUnlockCoaching(t *testing.T) {
	m := NewModel(WithMinLaps(5))
	m.Seed(testKey, &model.ReferenceStats{Laps: 4})
	m.Update(testKey, obs(8.0, 350))

	_, err := m.Get(testKey)
	assert.True(t, errors.Is(err, ErrInsufficientData),
		"neither the prior nor the session reaches the threshold alone")
}

func TestModel_InvalidAndIncompleteIgnored(t *testing.T) {
	m := NewModel(WithMinLaps(1))

	invalid := obs(8.0, 350)
	invalid.LapValid = false
	m.Update(testKey, invalid)

	gapped := obs(8.0, 350)
	gapped.Gapped = true
	m.Update(testKey, gapped)

	assert.Equal(t, 0, m.Samples(testKey))
}

func TestModel_MedianAndIQR(t *testing.T) {
	m := NewModel(WithMinLaps(5))
	onsets := []float64{340, 345, 350, 355, 360, 350, 348}
	for _, on := range onsets {
		m.Update(testKey, obs(8.0, on))
	}

	stats, err := m.Get(testKey)
	require.NoError(t, err)
	bo := stats.Metric(model.MetricBrakeOnset)
	assert.InDelta(t, 350, bo.Median, 1)
	assert.Greater(t, bo.IQR, 0.0)
	assert.Less(t, bo.IQR, 20.0)
	assert.Equal(t, len(onsets), bo.Count)
	assert.Equal(t, 1, stats.Lines)
}

func TestModel_OutlierRejected(t *testing.T) {
	m := NewModel(WithMinLaps(5))
	for _, ct := range []float64{8.0, 8.1, 7.9, 8.05, 7.95, 8.0} {
		m.Update(testKey, obs(ct, 350))
	}
	// an off-track excursion, far outside the fences
	m.Update(testKey, obs(14.0, 350))

	stats, err := m.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Laps, "the excursion lap must not contribute")
	assert.InDelta(t, 8.0, stats.Metric(model.MetricCornerTime).Median, 0.1)
}

func TestModel_BimodalPrefersFasterLine(t *testing.T) {
	m := NewModel(WithMinLaps(3))
	// slow line, wide entry
	for _, ct := range []float64{9.0, 9.05, 9.1, 8.95} {
		m.Update(testKey, obs(ct, 320))
	}
	// fast line, later braking
	for _, ct := range []float64{8.0, 8.05, 7.95} {
		m.Update(testKey, obs(ct, 370))
	}

	stats, err := m.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Lines)
	assert.Equal(t, 3, stats.Laps, "only the faster line is active")
	assert.InDelta(t, 8.0, stats.Metric(model.MetricCornerTime).Median, 0.1)
	assert.InDelta(t, 370, stats.Metric(model.MetricBrakeOnset).Median, 2)
}

func TestModel_WindowBoundsMemory(t *testing.T) {
	m := NewModel(WithMinLaps(1), WithWindow(10))
	for i := 0; i < 40; i++ {
		m.Update(testKey, obs(8.0+float64(i)*0.001, 350))
	}
	assert.Equal(t, 10, m.Samples(testKey))
}

func TestModel_DriverIQR(t *testing.T) {
	m := NewModel(WithMinLaps(1))
	assert.Zero(t, m.DriverIQR(testKey, model.MetricBrakeOnset))

	for _, on := range []float64{340, 350, 360, 345, 355} {
		m.Update(testKey, obs(8.0, on))
	}
	iqr := m.DriverIQR(testKey, model.MetricBrakeOnset)
	assert.Greater(t, iqr, 0.0)
	// driver spread over the full bucket, not the active line
	assert.Less(t, iqr, 25.0)
}

func TestModel_KeysAreIndependent(t *testing.T) {
	m := NewModel(WithMinLaps(1))
	other := testKey
	other.CornerID = 2

	m.Update(testKey, obs(8.0, 350))
	assert.Equal(t, 1, m.Samples(testKey))
	assert.Equal(t, 0, m.Samples(other))
}
