package weather

import (
	"fmt"
	"math"
	"sort"

	"github.com/mjthree/gfs-wind-interpolator/internal/atmosphere"
)

// DefaultStepFt is the spacing of the output altitude grid.
const DefaultStepFt = 1000

// ProfileParams controls the output grid of BuildProfile.
type ProfileParams struct {
	CeilingFt int
	StepFt    int // DefaultStepFt when zero
	Reference Reference
	// GroundElevationFt is feet MSL; used only for ReferenceAGL.
	GroundElevationFt float64
}

// WindSpeedKts converts u/v components in m/s to a speed in knots.
func WindSpeedKts(u, v float64) float64 {
	return atmosphere.MSToKnots(math.Hypot(u, v))
}

// WindDirection returns the meteorological direction the wind blows from,
// in [0,360): 0 is north, 90 east.
func WindDirection(u, v float64) float64 {
	return normalizeDeg(270 - math.Atan2(v, u)*180/math.Pi)
}

// InterpolateDirection blends a toward b by frac along the shorter arc.
func InterpolateDirection(a, b, frac float64) float64 {
	d := math.Mod(b-a+540, 360) - 180
	return normalizeDeg(a + d*frac)
}

func normalizeDeg(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r -= 360
	}
	return r
}

// LevelAltitudeFt is the altitude of a level: geopotential height when the
// decoder reported it, otherwise the ISA altitude of its pressure.
func LevelAltitudeFt(l LevelSample) float64 {
	if l.GeopotentialHeightM != nil && !math.IsNaN(*l.GeopotentialHeightM) && !math.IsInf(*l.GeopotentialHeightM, 0) {
		return atmosphere.MetresToFeet(*l.GeopotentialHeightM)
	}
	return atmosphere.PressureToAltitudeFt(l.PressureHpa)
}

type basisPoint struct {
	altitudeFt  float64
	pressureHpa float64
	speedKts    float64
	directionDg float64
}

func usableLevel(l LevelSample) bool {
	for _, x := range []float64{l.PressureHpa, l.UMS, l.VMS} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return l.PressureHpa > 0
}

// interpolationBasis converts levels into altitude-ordered points. Equal
// altitudes keep the lower-pressure level.
func interpolationBasis(levels []LevelSample) []basisPoint {
	pts := make([]basisPoint, 0, len(levels))
	for _, l := range levels {
		if !usableLevel(l) {
			continue
		}
		pts = append(pts, basisPoint{
			altitudeFt:  LevelAltitudeFt(l),
			pressureHpa: l.PressureHpa,
			speedKts:    WindSpeedKts(l.UMS, l.VMS),
			directionDg: WindDirection(l.UMS, l.VMS),
		})
	}
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].altitudeFt != pts[j].altitudeFt {
			return pts[i].altitudeFt < pts[j].altitudeFt
		}
		return pts[i].pressureHpa < pts[j].pressureHpa
	})

	out := pts[:0]
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1].altitudeFt == p.altitudeFt {
			continue
		}
		out = append(out, p)
	}
	return out
}

// sampleAt interpolates speed and direction at alt, clamping outside the basis.
func sampleAt(pts []basisPoint, alt float64) (speed, dir float64) {
	first, last := pts[0], pts[len(pts)-1]
	if alt <= first.altitudeFt {
		return first.speedKts, first.directionDg
	}
	if alt >= last.altitudeFt {
		return last.speedKts, last.directionDg
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].altitudeFt >= alt })
	b := pts[i]
	if b.altitudeFt == alt {
		return b.speedKts, b.directionDg
	}
	a := pts[i-1]
	frac := (alt - a.altitudeFt) / (b.altitudeFt - a.altitudeFt)
	return a.speedKts + (b.speedKts-a.speedKts)*frac, InterpolateDirection(a.directionDg, b.directionDg, frac)
}

// BuildProfile interpolates pressure-level winds onto a uniform altitude
// grid from 0 to the ceiling. For AGL, grid altitude 0 is the ground
// elevation and sub-surface levels still bound the interpolation.
func BuildProfile(levels []LevelSample, p ProfileParams) (WindProfile, error) {
	step := p.StepFt
	if step == 0 {
		step = DefaultStepFt
	}
	if step < 0 || p.CeilingFt < 0 {
		return WindProfile{}, fmt.Errorf("%w: ceiling %d ft, step %d ft", ErrInvalidInput, p.CeilingFt, step)
	}
	ref := p.Reference
	if ref == "" {
		ref = ReferenceMSL
	}
	if ref != ReferenceMSL && ref != ReferenceAGL {
		return WindProfile{}, fmt.Errorf("%w: reference %q", ErrInvalidInput, p.Reference)
	}

	pts := interpolationBasis(levels)
	if len(pts) < 2 {
		return WindProfile{}, fmt.Errorf("%w: %d usable levels", ErrInsufficientData, len(pts))
	}

	var offset float64
	if ref == ReferenceAGL {
		offset = p.GroundElevationFt
	}

	n := p.CeilingFt / step
	samples := make([]AltitudeSample, 0, n+1)
	for i := 0; i <= n; i++ {
		alt := i * step
		speed, dir := sampleAt(pts, float64(alt)+offset)
		samples = append(samples, AltitudeSample{
			AltitudeFt:   float64(alt),
			SpeedKts:     speed,
			DirectionDeg: dir,
		})
	}

	profile := WindProfile{
		Reference:     ref,
		StepFt:        step,
		CeilingFt:     p.CeilingFt,
		Samples:       samples,
		ObservedTopFt: pts[len(pts)-1].altitudeFt - offset,
	}
	if ref == ReferenceAGL {
		profile.GroundElevationFt = p.GroundElevationFt
	}
	return profile, nil
}
