package basedata

import (
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// SampleTrack is a short synthetic circuit with three corners spaced
// far enough apart that their approach windows do not overlap.
func SampleTrack() *model.Track {
	return &model.Track{
		ID:     "testtrack",
		Name:   "Test Track",
		Length: 3000,
		Corners: []model.CornerDefinition{
			{ID: 1, Name: "T1", EntryS: 500, ApexS: 650, ExitS: 800},
			{ID: 2, Name: "T2", EntryS: 1400, ApexS: 1500, ExitS: 1650},
			{ID: 3, Name: "T3", EntryS: 2200, ApexS: 2350, ExitS: 2500},
		},
	}
}

// LapSpec parameterizes a synthetic lap trace.
type LapSpec struct {
	Lap   int
	Valid bool
	// BrakeOnsetOffset shifts braking points in meters, negative brakes
	// earlier. Applied to every corner.
	BrakeOnsetOffset float64
	// ThrottleOffset shifts throttle pickup in meters.
	ThrottleOffset float64
	// EntrySlip and ExitSlip are the combined slip ratio/angle proxies
	// injected inside the corner phases.
	EntrySlip float64
	ExitSlip  float64
	// SpeedScale scales the whole speed trace, >1 is faster.
	SpeedScale float64
}

func DefaultLapSpec(lap int) LapSpec {
	return LapSpec{Lap: lap, Valid: true, SpeedScale: 1.0}
}

// Frames renders one lap of telemetry at 10m steps over SampleTrack.
// The driver brakes 150m before each corner entry, trails off to the
// apex and picks the throttle up after it.
//
//nolint:funlen,gocognit // trace generation is one linear procedure
func Frames(spec LapSpec) []model.TelemetryFrame {
	trk := SampleTrack()
	if spec.SpeedScale == 0 {
		spec.SpeedScale = 1.0
	}
	baseTime := float64(spec.Lap) * 90.0
	elapsed := 0.0
	frames := make([]model.TelemetryFrame, 0, int(trk.Length/10))
	for dist := 0.0; dist < trk.Length; dist += 10 {
		frame := model.TelemetryFrame{
			LapDistance: dist,
			Speed:       250 * spec.SpeedScale,
			Throttle:    1.0,
			Gear:        7,
			Lap:         spec.Lap,
			LapValid:    spec.Valid,
		}
		for _, corner := range trk.Corners {
			brakeOn := corner.EntryS - 150 + spec.BrakeOnsetOffset
			throttleOn := corner.ApexS + 20 + spec.ThrottleOffset
			switch {
			case dist >= brakeOn && dist < corner.ApexS:
				// braking zone, pressure ramps up then trails off
				progress := (dist - brakeOn) / (corner.ApexS - brakeOn)
				frame.Throttle = 0
				frame.Brake = brakeTrace(progress)
				frame.Speed = (250 - 170*progress) * spec.SpeedScale
				frame.Steer = 0.3 * progress
				if dist >= corner.EntryS {
					// both channels so the combined factor can reach red
					frame.SlipRatio = spec.EntrySlip
					frame.SlipAngle = spec.EntrySlip * 2.0 / 3.0
				}
			case dist >= corner.ApexS && dist <= corner.ExitS:
				progress := (dist - corner.ApexS) / (corner.ExitS - corner.ApexS)
				frame.Brake = 0
				frame.Speed = (80 + 120*progress) * spec.SpeedScale
				frame.Steer = 0.3 * (1 - progress)
				if dist < throttleOn {
					frame.Throttle = 0
				} else {
					frame.Throttle = minF(1.0, (dist-throttleOn)/80)
					frame.SlipRatio = spec.ExitSlip
					frame.SlipAngle = spec.ExitSlip * 2.0 / 3.0
				}
			}
		}
		// time follows the speed trace so braking points shift the
		// corner time between laps
		frame.SessionTime = baseTime + elapsed
		elapsed += 10 / (frame.Speed / 3.6)
		frames = append(frames, frame)
	}
	return frames
}

// brakeTrace peaks at a third of the zone and releases toward the apex.
func brakeTrace(progress float64) float64 {
	if progress < 0.33 {
		return 0.2 + 0.8*(progress/0.33)
	}
	return maxF(0.05, 1.0-(progress-0.33)/0.67)
}

// FirstFrameOfLap marks a lap rollover so the extractor finishes the
// previous lap.
func FirstFrameOfLap(lap int) model.TelemetryFrame {
	return model.TelemetryFrame{
		SessionTime: float64(lap) * 90.0,
		LapDistance: 0,
		Speed:       250,
		Throttle:    1.0,
		Gear:        7,
		Lap:         lap,
		LapValid:    true,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
