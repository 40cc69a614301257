package model

// TelemetryFrame is one decoded per-frame sample for the coached car.
// Frames arrive weakly ordered by SessionTime and may contain gaps.
type TelemetryFrame struct {
	SessionTime float64 `json:"sessionTime"` // unit: s
	LapDistance float64 `json:"lapDistance"` // unit: m along the lap
	Speed       float64 `json:"speed"`       // unit: km/h
	Throttle    float64 `json:"throttle"`    // 0..1
	Brake       float64 `json:"brake"`       // 0..1
	Steer       float64 `json:"steer"`       // -1..1
	Gear        int     `json:"gear"`
	LatAccel    float64 `json:"latAccel"`  // unit: g
	LongAccel   float64 `json:"longAccel"` // unit: g
	SlipRatio   float64 `json:"slipRatio"` // worst-wheel longitudinal slip proxy
	SlipAngle   float64 `json:"slipAngle"` // worst-wheel lateral slip proxy, rad
	Lap         int     `json:"lap"`
	LapValid    bool    `json:"lapValid"`
}

// CornerDefinition locates a corner by distance range along the lap.
// Provided once per track by the track geometry collaborator.
type CornerDefinition struct {
	ID     int     `yaml:"id"      json:"id"`
	Name   string  `yaml:"name"    json:"name"`
	EntryS float64 `yaml:"entryS"  json:"entryS"` // unit: m
	ApexS  float64 `yaml:"apexS"   json:"apexS"`
	ExitS  float64 `yaml:"exitS"   json:"exitS"`
}

type Track struct {
	ID      string             `yaml:"id"      json:"id"`
	Name    string             `yaml:"name"    json:"name"`
	Length  float64            `yaml:"length"  json:"length"` // unit: m
	Corners []CornerDefinition `yaml:"corners" json:"corners"`
}

func (t *Track) Corner(id int) (CornerDefinition, bool) {
	for i := range t.Corners {
		if t.Corners[i].ID == id {
			return t.Corners[i], true
		}
	}
	return CornerDefinition{}, false
}

// FilterKey groups reference statistics by assist configuration and
// input device class. Stats from different keys are never mixed.
type FilterKey struct {
	Assists string `json:"assists"` // e.g. "none", "abs", "full"
	Device  string `json:"device"`  // e.g. "wheel", "pad"
}

func (k FilterKey) String() string {
	return k.Assists + "|" + k.Device
}
