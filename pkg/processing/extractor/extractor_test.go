//nolint:thelper,funlen,lll // ok for tests
package extractor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
	"github.com/yannicktuerk/F1-Lap-Bot/testsupport/basedata"
)

func feedLap(e *Extractor, frames []model.TelemetryFrame) []model.CornerObservation {
	var ret []model.CornerObservation
	for _, f := range frames {
		ret = append(ret, e.ProcessFrame(f)...)
	}
	return ret
}

func TestCombinedSlip(t *testing.T) {
	tests := []struct {
		name         string
		ratio, angle float64
		want         float64
	}{
		{name: "no slip", ratio: 0, angle: 0, want: 0},
		{name: "full longitudinal only", ratio: 0.3, angle: 0, want: 1 / math.Sqrt2},
		{name: "both at limit", ratio: 0.3, angle: 0.2, want: 1},
		{name: "beyond limit clamps", ratio: 2.0, angle: 1.0, want: 1},
		{name: "sign ignored", ratio: -0.15, angle: 0, want: 0.5 / math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CombinedSlip(tt.ratio, tt.angle), 1e-9)
		})
	}
}

func TestExtractor_LapObservations(t *testing.T) {
	e := NewExtractor(
		WithTrack(basedata.SampleTrack()),
		WithDriver("tester"))

	obs := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(0)))
	assert.Empty(t, obs, "no observations before the lap rolls over")

	obs = feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))
	require.Len(t, obs, 3)

	trk := basedata.SampleTrack()
	for i, o := range obs {
		def := trk.Corners[i]
		assert.Equal(t, def.ID, o.CornerID)
		assert.Equal(t, 0, o.Lap)
		assert.True(t, o.LapValid)
		assert.True(t, o.Complete(), "corner %d should be complete", o.CornerID)
		// the driver brakes ~150m before entry
		assert.InDelta(t, def.EntryS-150, o.BrakeOnset, 40)
		assert.Greater(t, o.BrakePeak, 0.9)
		assert.True(t, o.BrakeOnset <= o.BrakePeakDist)
		assert.True(t, o.BrakeRelease <= o.ThrottleOnset)
		assert.Greater(t, o.ThrottleOnset, def.ApexS)
		assert.Greater(t, o.ThrottleSlope, 0.0)
		assert.Greater(t, o.EntrySpeed, o.MinSpeed)
		assert.Greater(t, o.ExitSpeed, o.MinSpeed)
		assert.Greater(t, o.CornerTime, 0.0)
	}
}

func TestExtractor_BrakeOnsetShiftIsMeasured(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	feedLap(e, basedata.Frames(basedata.DefaultLapSpec(0)))
	baseline := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))
	require.Len(t, baseline, 3)

	early := basedata.DefaultLapSpec(2)
	early.BrakeOnsetOffset = -40
	feedLap(e, basedata.Frames(early))
	shifted := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(3)))
	require.Len(t, shifted, 3)

	assert.InDelta(t, baseline[0].BrakeOnset-40, shifted[0].BrakeOnset, 15)
}

func TestExtractor_SlipReachesObservation(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	spec := basedata.DefaultLapSpec(0)
	spec.ExitSlip = 0.28 // combined ~0.93
	feedLap(e, basedata.Frames(spec))
	obs := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))
	require.Len(t, obs, 3)
	assert.Greater(t, obs[0].ExitSlip, 0.85)
	assert.Less(t, obs[0].EntrySlip, 0.1)
}

func TestExtractor_OutOfOrderWithinWindow(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	frames := basedata.Frames(basedata.DefaultLapSpec(0))
	// swap two adjacent frames inside the braking zone of T1
	frames[37], frames[38] = frames[38], frames[37]
	feedLap(e, frames)
	obs := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))
	require.Len(t, obs, 3)
	assert.True(t, obs[0].Complete())
}

func TestExtractor_StaleFrameDropped(t *testing.T) {
	e := NewExtractor(
		WithTrack(basedata.SampleTrack()),
		WithReorderWindow(4))

	frames := basedata.Frames(basedata.DefaultLapSpec(0))
	for _, f := range frames[:20] {
		e.ProcessFrame(f)
	}
	// far behind the high water mark
	stale := frames[0]
	assert.Empty(t, e.ProcessFrame(stale))
	// a duplicate of a pending frame is dropped too
	assert.Empty(t, e.ProcessFrame(frames[19]))
}

func TestExtractor_GapMarksCorner(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	frames := basedata.Frames(basedata.DefaultLapSpec(0))
	// remove ~60 frames (>1s) covering corner 2
	gapped := append([]model.TelemetryFrame{}, frames[:110]...)
	gapped = append(gapped, frames[170:]...)
	feedLap(e, gapped)
	obs := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))

	byID := make(map[int]model.CornerObservation)
	for _, o := range obs {
		byID[o.CornerID] = o
	}
	if o, ok := byID[2]; ok {
		assert.True(t, o.Gapped)
		assert.False(t, o.Complete())
	}
	require.Contains(t, byID, 1)
	o1 := byID[1]
	assert.True(t, o1.Complete())
}

func TestExtractor_FlushEmitsBufferedLap(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	feedLap(e, basedata.Frames(basedata.DefaultLapSpec(0)))
	// the rollover frame sits in the reorder buffer, the lap is not
	// emitted yet
	emitted := e.ProcessFrame(basedata.FirstFrameOfLap(1))
	assert.Empty(t, emitted)

	obs := e.Flush()
	require.Len(t, obs, 3)
	for _, o := range obs {
		assert.Equal(t, 0, o.Lap)
		assert.True(t, o.Complete())
	}
	assert.Empty(t, e.Flush(), "second flush has nothing left")
}

func TestExtractor_InvalidLapPropagates(t *testing.T) {
	e := NewExtractor(WithTrack(basedata.SampleTrack()))

	spec := basedata.DefaultLapSpec(0)
	spec.Valid = false
	feedLap(e, basedata.Frames(spec))
	obs := feedLap(e, basedata.Frames(basedata.DefaultLapSpec(1)))
	require.NotEmpty(t, obs)
	for _, o := range obs {
		assert.False(t, o.LapValid)
	}
}
