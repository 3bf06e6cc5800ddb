package weather

import (
	"math"
	"sort"

	"github.com/mjthree/gfs-wind-interpolator/internal/atmosphere"
	"k8s.io/utils/ptr"
)

// LevelSummary condenses a set of altitude samples for display.
type LevelSummary struct {
	Count              int     `json:"count"`
	MinSpeedKts        float64 `json:"minSpeedKts"`
	MaxSpeedKts        float64 `json:"maxSpeedKts"`
	MeanSpeedKts       float64 `json:"meanSpeedKts"`
	MaxSpeedAltitudeFt float64 `json:"maxSpeedAltitudeFt"`
	LowestAltitudeFt   float64 `json:"lowestAltitudeFt"`
	HighestAltitudeFt  float64 `json:"highestAltitudeFt"`
}

// Summarize computes speed and altitude ranges. Speeds are averaged
// arithmetically; directions are not summarized.
func Summarize(samples []AltitudeSample) LevelSummary {
	if len(samples) == 0 {
		return LevelSummary{}
	}

	s := LevelSummary{
		Count:             len(samples),
		MinSpeedKts:       math.Inf(1),
		MaxSpeedKts:       math.Inf(-1),
		LowestAltitudeFt:  math.Inf(1),
		HighestAltitudeFt: math.Inf(-1),
	}
	var sum float64
	for _, a := range samples {
		sum += a.SpeedKts
		if a.SpeedKts < s.MinSpeedKts {
			s.MinSpeedKts = a.SpeedKts
		}
		if a.SpeedKts > s.MaxSpeedKts {
			s.MaxSpeedKts = a.SpeedKts
			s.MaxSpeedAltitudeFt = a.AltitudeFt
		}
		s.LowestAltitudeFt = math.Min(s.LowestAltitudeFt, a.AltitudeFt)
		s.HighestAltitudeFt = math.Max(s.HighestAltitudeFt, a.AltitudeFt)
	}
	s.MeanSpeedKts = sum / float64(len(samples))
	return s
}

// BuildLevelRows converts decoded levels into the raw table, highest
// pressure (nearest the surface) first. Unusable levels are skipped.
func BuildLevelRows(levels []LevelSample) []LevelRow {
	rows := make([]LevelRow, 0, len(levels))
	for _, l := range levels {
		if !usableLevel(l) {
			continue
		}
		row := LevelRow{
			PressureHpa:   l.PressureHpa,
			ISAAltitudeFt: atmosphere.PressureToAltitudeFt(l.PressureHpa),
			UMS:           l.UMS,
			VMS:           l.VMS,
			SpeedMS:       math.Hypot(l.UMS, l.VMS),
			SpeedKts:      WindSpeedKts(l.UMS, l.VMS),
			DirectionDeg:  WindDirection(l.UMS, l.VMS),
		}
		if l.GeopotentialHeightM != nil {
			row.HeightFt = ptr.To(atmosphere.MetresToFeet(*l.GeopotentialHeightM))
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PressureHpa > rows[j].PressureHpa })
	return rows
}

// AltitudeFt prefers the geopotential height over the ISA altitude.
func (r LevelRow) AltitudeFt() float64 {
	if r.HeightFt != nil {
		return *r.HeightFt
	}
	return r.ISAAltitudeFt
}

// SummarizeRows summarizes a raw level table.
func SummarizeRows(rows []LevelRow) LevelSummary {
	samples := make([]AltitudeSample, len(rows))
	for i, r := range rows {
		samples[i] = AltitudeSample{AltitudeFt: r.AltitudeFt(), SpeedKts: r.SpeedKts, DirectionDeg: r.DirectionDeg}
	}
	return Summarize(samples)
}
