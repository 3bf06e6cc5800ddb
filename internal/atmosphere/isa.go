// Package atmosphere maps pressure to altitude under the International
// Standard Atmosphere.
package atmosphere

import "math"

const (
	// SeaLevelPressureHpa is the ISA reference pressure at mean sea level.
	SeaLevelPressureHpa = 1013.25
	// SeaLevelTemperatureK is the ISA reference temperature (15 °C).
	SeaLevelTemperatureK = 288.15
	// LapseRateKPerM is the temperature lapse rate in the troposphere.
	LapseRateKPerM = 0.0065
	// TropopauseM is where the lapse rate drops to zero.
	TropopauseM = 11000.0

	gravity    = 9.80665    // m/s²
	gasConst   = 287.052874 // J/(kg·K), dry air
	tropoTempK = SeaLevelTemperatureK - LapseRateKPerM*TropopauseM

	// FeetPerMetre converts metres to international feet.
	FeetPerMetre = 1 / 0.3048
	// KnotsPerMS converts m/s to knots (1 kt = 1852 m/h).
	KnotsPerMS = 3600.0 / 1852.0
)

// exponent g/(R·L) of the barometric formula below the tropopause.
var baroExp = gravity / (gasConst * LapseRateKPerM)

// tropopausePressureHpa is the ISA pressure at 11 km (~226.32 hPa).
var tropopausePressureHpa = SeaLevelPressureHpa * math.Pow(tropoTempK/SeaLevelTemperatureK, baroExp)

// PressureToAltitudeM returns the ISA geopotential altitude in metres for a
// pressure in hPa.
func PressureToAltitudeM(pressureHpa float64) float64 {
	if pressureHpa >= tropopausePressureHpa {
		return SeaLevelTemperatureK / LapseRateKPerM * (1 - math.Pow(pressureHpa/SeaLevelPressureHpa, 1/baroExp))
	}
	// isothermal layer above 11 km
	return TropopauseM + gasConst*tropoTempK/gravity*math.Log(tropopausePressureHpa/pressureHpa)
}

// AltitudeMToPressure is the inverse of PressureToAltitudeM.
func AltitudeMToPressure(altitudeM float64) float64 {
	if altitudeM <= TropopauseM {
		return SeaLevelPressureHpa * math.Pow(1-LapseRateKPerM*altitudeM/SeaLevelTemperatureK, baroExp)
	}
	return tropopausePressureHpa * math.Exp(-gravity*(altitudeM-TropopauseM)/(gasConst*tropoTempK))
}

// PressureToAltitudeFt returns the ISA altitude in feet for a pressure in hPa.
func PressureToAltitudeFt(pressureHpa float64) float64 {
	return MetresToFeet(PressureToAltitudeM(pressureHpa))
}

// AltitudeFtToPressure returns the ISA pressure in hPa for an altitude in feet.
func AltitudeFtToPressure(altitudeFt float64) float64 {
	return AltitudeMToPressure(FeetToMetres(altitudeFt))
}

// MetresToFeet converts metres to feet.
func MetresToFeet(m float64) float64 { return m * FeetPerMetre }

// FeetToMetres converts feet to metres.
func FeetToMetres(ft float64) float64 { return ft / FeetPerMetre }

// MSToKnots converts a speed in m/s to knots.
func MSToKnots(ms float64) float64 { return ms * KnotsPerMS }
