package weather

import (
	"fmt"
	"math"
	"time"
)

// ModelID identifies a forecast model in the catalog.
type ModelID string

const (
	ModelHRRR ModelID = "hrrr"
	ModelRAP  ModelID = "rap"
	ModelGFS  ModelID = "gfs"

	// ModelAuto asks the selector to pick the freshest suitable model.
	ModelAuto ModelID = "auto"
)

// Reference is the altitude datum of a profile.
type Reference string

const (
	ReferenceMSL Reference = "msl"
	ReferenceAGL Reference = "agl"
)

// Location is a geographic point. Build it with NewLocation; the selector
// rejects literals outside the valid range.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewLocation validates the coordinates and returns a Location.
func NewLocation(lat, lon float64) (Location, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidInput, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidInput, lon)
	}
	return Location{Lat: lat, Lon: lon}, nil
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lon)
}

// RunKey identifies one remote forecast file and one cache entry.
type RunKey struct {
	Model        ModelID   `json:"model"`
	Cycle        time.Time `json:"cycle"` // UTC, hour aligned
	ForecastHour int       `json:"forecastHour"`
}

// NewRunKey normalizes the cycle to a UTC hour so equal runs compare equal.
func NewRunKey(model ModelID, cycle time.Time, forecastHour int) RunKey {
	return RunKey{Model: model, Cycle: cycle.UTC().Truncate(time.Hour), ForecastHour: forecastHour}
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s %sZ f%03d", k.Model, k.Cycle.UTC().Format("2006-01-02T15"), k.ForecastHour)
}

// ValidTime is the time the forecast is valid for.
func (k RunKey) ValidTime() time.Time {
	return k.Cycle.Add(time.Duration(k.ForecastHour) * time.Hour)
}

// CacheEntry describes a completed forecast file in the local cache.
type CacheEntry struct {
	Key        RunKey    `json:"key"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"sizeBytes"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Superseded bool      `json:"superseded"`
}

// LevelSample is the decoded wind at one pressure level for one location.
type LevelSample struct {
	PressureHpa float64 `json:"pressureHpa"`
	UMS         float64 `json:"u"`
	VMS         float64 `json:"v"`

	// GeopotentialHeightM is nil when the decoder did not report HGT.
	GeopotentialHeightM *float64 `json:"geopotentialHeightM,omitempty"`
}

// AltitudeSample is wind speed and direction at one altitude.
type AltitudeSample struct {
	AltitudeFt   float64 `json:"altitudeFt"`
	SpeedKts     float64 `json:"speedKts"`
	DirectionDeg float64 `json:"directionDeg"`
}

// WindProfile is an altitude-indexed wind profile on a uniform grid.
// Samples are strictly increasing in altitude with StepFt spacing.
type WindProfile struct {
	Reference         Reference        `json:"reference"`
	GroundElevationFt float64          `json:"groundElevationFt,omitempty"`
	StepFt            int              `json:"stepFt"`
	CeilingFt         int              `json:"ceilingFt"`
	Samples           []AltitudeSample `json:"samples"`

	// ObservedTopFt is the highest source altitude; samples above it are clamped.
	ObservedTopFt float64 `json:"observedTopFt"`
}

// DecodeResult is what a Decoder extracts from one forecast file.
type DecodeResult struct {
	Levels  []LevelSample `json:"levels"`
	GridLat float64       `json:"gridLat"`
	GridLon float64       `json:"gridLon"`
}

// ProfileResult is the output artifact handed to exporters.
type ProfileResult struct {
	Location     Location     `json:"location"`
	Run          RunKey       `json:"run"`
	ModelName    string       `json:"modelName"`
	ResolutionKm float64      `json:"resolutionKm"`
	ValidTime    time.Time    `json:"validTime"`
	GridLat      float64      `json:"gridLat"`
	GridLon      float64      `json:"gridLon"`
	FromCache    bool         `json:"fromCache"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Profile      WindProfile  `json:"profile"`
	Summary      LevelSummary `json:"summary"`
}

// LevelRow is one row of the raw per-level table.
type LevelRow struct {
	PressureHpa   float64  `json:"pressureHpa"`
	ISAAltitudeFt float64  `json:"isaAltitudeFt"`
	HeightFt      *float64 `json:"heightFt,omitempty"`
	UMS           float64  `json:"u"`
	VMS           float64  `json:"v"`
	SpeedMS       float64  `json:"speedMs"`
	SpeedKts      float64  `json:"speedKts"`
	DirectionDeg  float64  `json:"directionDeg"`
}

// LevelsResult is the raw pressure-level view of a forecast file.
type LevelsResult struct {
	Location  Location     `json:"location"`
	Run       RunKey       `json:"run"`
	ModelName string       `json:"modelName"`
	ValidTime time.Time    `json:"validTime"`
	GridLat   float64      `json:"gridLat"`
	GridLon   float64      `json:"gridLon"`
	FromCache bool         `json:"fromCache"`
	Rows      []LevelRow   `json:"rows"`
	Summary   LevelSummary `json:"summary"`
}
