package weather

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the NOMADS production root shared by all models.
const DefaultBaseURL = "https://nomads.ncep.noaa.gov/pub/data/nccf/com"

// Coverage is a region predicate over locations.
type Coverage interface {
	Contains(loc Location) bool
	Describe() string
}

// Global covers every location.
type Global struct{}

func (Global) Contains(Location) bool { return true }
func (Global) Describe() string       { return "global" }

// BoundingBox is a lat/lon rectangle that does not cross the antimeridian.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.MinLat && loc.Lat <= b.MaxLat && loc.Lon >= b.MinLon && loc.Lon <= b.MaxLon
}

func (b BoundingBox) Describe() string {
	return fmt.Sprintf("box %.2f..%.2f N, %.2f..%.2f E", b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
}

// earthRadiusM is the spherical earth used by NCEP Lambert grids.
const earthRadiusM = 6371229.0

// LambertGrid is the footprint of a tangent Lambert conformal grid. A
// location is covered when it projects inside the grid's index range.
type LambertGrid struct {
	LoVDeg   float64 // orientation longitude
	LatinDeg float64 // tangent latitude
	La1Deg   float64 // first (south-west) grid point
	Lo1Deg   float64
	DxM      float64
	DyM      float64
	Nx, Ny   int
}

func (g LambertGrid) project(lat, lon float64) (float64, float64) {
	n := math.Sin(g.LatinDeg * math.Pi / 180)
	f := math.Cos(g.LatinDeg*math.Pi/180) * math.Pow(math.Tan(math.Pi/4+g.LatinDeg*math.Pi/360), n) / n
	rho := earthRadiusM * f / math.Pow(math.Tan(math.Pi/4+lat*math.Pi/360), n)
	theta := n * (math.Mod(lon-g.LoVDeg+540, 360) - 180) * math.Pi / 180
	return rho * math.Sin(theta), -rho * math.Cos(theta)
}

// GridIndex returns the fractional (i, j) of loc; (0, 0) is the first point.
func (g LambertGrid) GridIndex(loc Location) (float64, float64) {
	x0, y0 := g.project(g.La1Deg, g.Lo1Deg)
	x, y := g.project(loc.Lat, loc.Lon)
	return (x - x0) / g.DxM, (y - y0) / g.DyM
}

// Contains allows half a cell beyond the outer grid points.
func (g LambertGrid) Contains(loc Location) bool {
	if loc.Lat <= -90 {
		return false
	}
	i, j := g.GridIndex(loc)
	return i >= -0.5 && i <= float64(g.Nx)-0.5 && j >= -0.5 && j <= float64(g.Ny)-0.5
}

func (g LambertGrid) Describe() string {
	return fmt.Sprintf("lambert conformal %dx%d, %.0f km", g.Nx, g.Ny, g.DxM/1000)
}

// ModelSpec describes one forecast model: schedule, coverage, file layout.
type ModelSpec struct {
	ID               ModelID
	Name             string
	Coverage         Coverage
	GridResolutionKm float64

	CycleIntervalHours int
	// LagMinutes is how long after the nominal cycle time files appear.
	LagMinutes int

	ForecastHourStep int
	// Hours past ExtendedStepAfter must also be multiples of ExtendedStep.
	ExtendedStepAfter int
	ExtendedStep      int

	// MaxForecastHour is the horizon of the longest cycles. Cycles where
	// (hour-LongRunOffset)%LongRunEvery != 0 stop at StandardMaxHour.
	MaxForecastHour int
	StandardMaxHour int
	LongRunEvery    int
	LongRunOffset   int

	BaseURL      string
	PathTemplate string

	// Fallback models are appended to every candidate list.
	Fallback bool
}

// LatestCycle is the most recent cycle expected to be published at now.
func (m ModelSpec) LatestCycle(now time.Time) time.Time {
	t := now.UTC().Add(-time.Duration(m.LagMinutes) * time.Minute)
	hour := t.Hour() / m.CycleIntervalHours * m.CycleIntervalHours
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
}

// PreviousCycle steps back n cycles from cycle.
func (m ModelSpec) PreviousCycle(cycle time.Time, n int) time.Time {
	return cycle.Add(-time.Duration(n*m.CycleIntervalHours) * time.Hour)
}

// MaxHourFor returns the forecast horizon of the given cycle.
func (m ModelSpec) MaxHourFor(cycle time.Time) int {
	if m.StandardMaxHour == 0 || m.LongRunEvery == 0 {
		return m.MaxForecastHour
	}
	if (cycle.UTC().Hour()-m.LongRunOffset)%m.LongRunEvery == 0 {
		return m.MaxForecastHour
	}
	return m.StandardMaxHour
}

// ValidHour reports whether hour is published for cycle.
func (m ModelSpec) ValidHour(cycle time.Time, hour int) bool {
	return m.stepValid(hour) && hour <= m.MaxHourFor(cycle)
}

// ValidHourAnyCycle reports whether some cycle publishes hour.
func (m ModelSpec) ValidHourAnyCycle(hour int) bool {
	return m.stepValid(hour) && hour <= m.MaxForecastHour
}

func (m ModelSpec) stepValid(hour int) bool {
	if hour < 0 || hour%m.ForecastHourStep != 0 {
		return false
	}
	if m.ExtendedStep > 0 && hour > m.ExtendedStepAfter && hour%m.ExtendedStep != 0 {
		return false
	}
	return true
}

// URL expands the path template for key.
func (m ModelSpec) URL(key RunKey) string {
	c := key.Cycle.UTC()
	r := strings.NewReplacer(
		"{date}", c.Format("20060102"),
		"{cycle}", fmt.Sprintf("%02d", c.Hour()),
		"{fh2}", fmt.Sprintf("%02d", key.ForecastHour),
		"{fh3}", fmt.Sprintf("%03d", key.ForecastHour),
	)
	return strings.TrimRight(m.BaseURL, "/") + r.Replace(m.PathTemplate)
}

// FileName is the stable cache file name for key.
func FileName(key RunKey) string {
	c := key.Cycle.UTC()
	return fmt.Sprintf("%s.%s.t%02dz.f%03d.grib2", key.Model, c.Format("20060102"), c.Hour(), key.ForecastHour)
}

var fileNameRE = regexp.MustCompile(`^([a-z0-9]+)\.(\d{8})\.t(\d{2})z\.f(\d{3})\.grib2$`)

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (RunKey, bool) {
	m := fileNameRE.FindStringSubmatch(name)
	if m == nil {
		return RunKey{}, false
	}
	day, err := time.Parse("20060102", m[2])
	if err != nil {
		return RunKey{}, false
	}
	hour, _ := strconv.Atoi(m[3])
	fh, _ := strconv.Atoi(m[4])
	if hour > 23 {
		return RunKey{}, false
	}
	return NewRunKey(ModelID(m[1]), day.Add(time.Duration(hour)*time.Hour), fh), true
}

// Catalog is the read-only set of model definitions. Build it once at
// startup and pass it to consumers.
type Catalog struct {
	models []ModelSpec
}

// NewCatalog validates and returns a catalog. Order is preserved and is the
// tie-break between models of equal resolution.
func NewCatalog(models ...ModelSpec) (*Catalog, error) {
	if len(models) == 0 {
		return nil, errors.New("catalog: no models defined")
	}
	seen := make(map[ModelID]bool, len(models))
	for _, m := range models {
		switch {
		case m.ID == "" || m.ID == ModelAuto:
			return nil, fmt.Errorf("catalog: invalid model id %q", m.ID)
		case seen[m.ID]:
			return nil, fmt.Errorf("catalog: duplicate model %q", m.ID)
		case m.CycleIntervalHours <= 0 || 24%m.CycleIntervalHours != 0:
			return nil, fmt.Errorf("catalog: %s: cycle interval must divide 24 hours", m.ID)
		case m.ForecastHourStep <= 0:
			return nil, fmt.Errorf("catalog: %s: forecast hour step must be positive", m.ID)
		case m.Coverage == nil:
			return nil, fmt.Errorf("catalog: %s: coverage is required", m.ID)
		case m.PathTemplate == "":
			return nil, fmt.Errorf("catalog: %s: path template is required", m.ID)
		}
		seen[m.ID] = true
	}
	return &Catalog{models: append([]ModelSpec(nil), models...)}, nil
}

// DefaultCatalog returns HRRR, RAP and GFS served from baseURL (empty for NOMADS).
func DefaultCatalog(baseURL string) *Catalog {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c, err := NewCatalog(
		ModelSpec{
			ID:   ModelHRRR,
			Name: "High-Resolution Rapid Refresh",
			// CONUS 3 km grid
			Coverage: LambertGrid{
				LoVDeg: -97.5, LatinDeg: 38.5,
				La1Deg: 21.138123, Lo1Deg: -122.719528,
				DxM: 3000, DyM: 3000,
				Nx: 1799, Ny: 1059,
			},
			GridResolutionKm:   3,
			CycleIntervalHours: 1,
			LagMinutes:         50,
			ForecastHourStep:   1,
			MaxForecastHour:    48,
			StandardMaxHour:    18,
			LongRunEvery:       6,
			BaseURL:            baseURL,
			PathTemplate:       "/hrrr/prod/hrrr.{date}/conus/hrrr.t{cycle}z.wrfprsf{fh2}.grib2",
		},
		ModelSpec{
			ID:   ModelRAP,
			Name: "Rapid Refresh",
			// AWIPS grid 130
			Coverage: LambertGrid{
				LoVDeg: -95, LatinDeg: 25,
				La1Deg: 16.281, Lo1Deg: -126.138,
				DxM: 13545.087, DyM: 13545.087,
				Nx: 451, Ny: 337,
			},
			GridResolutionKm:   13,
			CycleIntervalHours: 1,
			LagMinutes:         50,
			ForecastHourStep:   1,
			MaxForecastHour:    51,
			StandardMaxHour:    21,
			LongRunEvery:       6,
			LongRunOffset:      3,
			BaseURL:            baseURL,
			PathTemplate:       "/rap/prod/rap.{date}/rap.t{cycle}z.awp130pgrbf{fh2}.grib2",
		},
		ModelSpec{
			ID:                 ModelGFS,
			Name:               "Global Forecast System",
			Coverage:           Global{},
			GridResolutionKm:   25,
			CycleIntervalHours: 6,
			LagMinutes:         210,
			ForecastHourStep:   3,
			ExtendedStepAfter:  120,
			ExtendedStep:       6,
			MaxForecastHour:    384,
			BaseURL:            baseURL,
			PathTemplate:       "/gfs/prod/gfs.{date}/{cycle}/atmos/gfs.t{cycle}z.pgrb2.0p25.f{fh3}",
			Fallback:           true,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Models returns a copy of every model in catalog order.
func (c *Catalog) Models() []ModelSpec {
	return append([]ModelSpec(nil), c.models...)
}

// Model looks up a model by id.
func (c *Catalog) Model(id ModelID) (ModelSpec, bool) {
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// CandidatesFor returns the models covering loc, finest resolution first,
// with fallback models appended last.
func (c *Catalog) CandidatesFor(loc Location) []ModelSpec {
	var regional, fallback []ModelSpec
	for _, m := range c.models {
		switch {
		case m.Fallback:
			fallback = append(fallback, m)
		case m.Coverage.Contains(loc):
			regional = append(regional, m)
		}
	}
	sort.SliceStable(regional, func(i, j int) bool {
		return regional[i].GridResolutionKm < regional[j].GridResolutionKm
	})
	return append(regional, fallback...)
}
