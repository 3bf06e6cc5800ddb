package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mjthree/gfs-wind-interpolator/internal/cache"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

var validate = validator.New()

const requestIDHeader = "X-Request-ID"

// ProfileService is the part of weather.Service the API serves.
type ProfileService interface {
	Catalog() *weather.Catalog
	Profile(ctx context.Context, req weather.ProfileRequest) (weather.ProfileResult, error)
	Levels(ctx context.Context, req weather.LevelsRequest) (weather.LevelsResult, error)
	Latest(ctx context.Context, loc weather.Location) (weather.ProfileResult, error)
	History(ctx context.Context, loc weather.Location, from, to time.Time) ([]weather.ProfileResult, error)
}

// CacheAdmin lists and purges cached forecast files.
type CacheAdmin interface {
	Entries() ([]weather.CacheEntry, error)
	Purge(filter cache.PurgeFilter) (cache.PurgeResult, error)
}

// Geocoder resolves a city to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, city, country string) (weather.Location, error)
}

// Deps are the collaborators behind the routes. Cache and Geocoder may be nil.
type Deps struct {
	Service  ProfileService
	Cache    CacheAdmin
	Geocoder Geocoder
}

// RequestID tags every request with a fresh id, echoed in the response header.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDHeader, id)
		c.Set(requestIDHeader, id)
		return c.Next()
	}
}

// ErrorHandler renders errors as JSON, mapping domain errors to status codes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := fiber.Map{
		"error":   true,
		"message": err.Error(),
	}

	var fe *fiber.Error
	var nf *weather.NoForecastError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.As(err, &nf):
		code = fiber.StatusNotFound
		body["attempts"] = nf.Attempts
	case errors.Is(err, weather.ErrInvalidInput):
		code = fiber.StatusBadRequest
	case errors.Is(err, weather.ErrNotFound), errors.Is(err, weather.ErrNoForecastAvailable):
		code = fiber.StatusNotFound
	case errors.Is(err, weather.ErrInsufficientData):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, weather.ErrTransport), errors.Is(err, weather.ErrDecodeFailed):
		code = fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusGatewayTimeout
	}

	if id, ok := c.Locals(requestIDHeader).(string); ok {
		body["requestId"] = id
	}
	if code >= fiber.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(body)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	h := &handlers{Deps: deps}
	v1 := app.Group("/api/v1")

	v1.Get("/models", h.models)
	v1.Get("/profile", h.profile)
	v1.Get("/levels", h.levels)
	v1.Get("/profile/latest", h.latest)
	v1.Get("/profile/history", h.history)
	v1.Get("/cache", h.cacheList)
	v1.Delete("/cache", h.cachePurge)
}

type handlers struct {
	Deps
}

type modelView struct {
	ID                 weather.ModelID `json:"id"`
	Name               string          `json:"name"`
	ResolutionKm       float64         `json:"resolutionKm"`
	CycleIntervalHours int             `json:"cycleIntervalHours"`
	MaxForecastHour    int             `json:"maxForecastHour"`
	Coverage           string          `json:"coverage"`
	Fallback           bool            `json:"fallback"`
}

func (h *handlers) models(c *fiber.Ctx) error {
	specs := h.Service.Catalog().Models()
	out := make([]modelView, 0, len(specs))
	for _, m := range specs {
		out = append(out, modelView{
			ID:                 m.ID,
			Name:               m.Name,
			ResolutionKm:       m.GridResolutionKm,
			CycleIntervalHours: m.CycleIntervalHours,
			MaxForecastHour:    m.MaxForecastHour,
			Coverage:           m.Coverage.Describe(),
			Fallback:           m.Fallback,
		})
	}
	return c.JSON(fiber.Map{"models": out})
}

func (h *handlers) profile(c *fiber.Ctx) error {
	loc, err := h.location(c)
	if err != nil {
		return err
	}
	req := weather.ProfileRequest{
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		Model:     weather.ModelID(c.Query("model")),
		Reference: weather.Reference(c.Query("reference")),
	}
	if req.CeilingFt, err = queryInt(c, "ceiling", weather.DefaultCeilingFt); err != nil {
		return err
	}
	if req.ForecastHour, err = queryInt(c, "hour", 0); err != nil {
		return err
	}
	if req.GroundElevationFt, _, err = queryFloat(c, "elevation"); err != nil {
		return err
	}

	res, err := h.Service.Profile(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *handlers) levels(c *fiber.Ctx) error {
	loc, err := h.location(c)
	if err != nil {
		return err
	}
	req := weather.LevelsRequest{
		Lat:   loc.Lat,
		Lon:   loc.Lon,
		Model: weather.ModelID(c.Query("model")),
	}
	if req.ForecastHour, err = queryInt(c, "hour", 0); err != nil {
		return err
	}

	res, err := h.Service.Levels(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *handlers) latest(c *fiber.Ctx) error {
	loc, err := h.location(c)
	if err != nil {
		return err
	}
	res, err := h.Service.Latest(c.UserContext(), loc)
	if err != nil {
		if errors.Is(err, weather.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no stored profile for requested location")
		}
		return err
	}
	return c.JSON(res)
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *handlers) history(c *fiber.Ctx) error {
	loc, err := h.location(c)
	if err != nil {
		return err
	}
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return fiber.NewError(fiber.StatusBadRequest, "from and to query parameters are required")
	}
	var q historyQuery
	if q.From, err = parseTime(fromStr); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if q.To, err = parseTime(toStr); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	profiles, err := h.Service.History(c.UserContext(), loc, q.From, q.To)
	if err != nil {
		if errors.Is(err, weather.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no profile history for requested range")
		}
		return err
	}
	return c.JSON(fiber.Map{
		"location": loc,
		"from":     q.From,
		"to":       q.To,
		"profiles": profiles,
	})
}

func (h *handlers) cacheList(c *fiber.Ctx) error {
	if h.Cache == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "cache administration is not enabled")
	}
	entries, err := h.Cache.Entries()
	if err != nil {
		return err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return c.JSON(fiber.Map{
		"entries":    entries,
		"count":      len(entries),
		"totalBytes": total,
	})
}

func (h *handlers) cachePurge(c *fiber.Ctx) error {
	if h.Cache == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "cache administration is not enabled")
	}
	var filter cache.PurgeFilter
	if m := c.Query("model"); m != "" {
		if _, ok := h.Service.Catalog().Model(weather.ModelID(m)); !ok {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown model %q", m))
		}
		filter.Model = weather.ModelID(m)
	}
	if s := c.Query("older_than"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid older_than; use a duration such as 6h")
		}
		filter.OlderThan = d
	}

	res, err := h.Cache.Purge(filter)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// location reads lat/lon, or city/country when coordinates are absent.
func (h *handlers) location(c *fiber.Ctx) (weather.Location, error) {
	lat, hasLat, err := queryFloat(c, "lat")
	if err != nil {
		return weather.Location{}, err
	}
	lon, hasLon, err := queryFloat(c, "lon")
	if err != nil {
		return weather.Location{}, err
	}
	if hasLat && hasLon {
		return weather.NewLocation(lat, lon)
	}
	if hasLat || hasLon {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lat and lon must be given together")
	}

	city := c.Query("city")
	if city == "" {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "lat and lon, or city, are required")
	}
	if h.Geocoder == nil {
		return weather.Location{}, fiber.NewError(fiber.StatusBadRequest, "city lookup is not enabled; pass lat and lon")
	}
	return h.Geocoder.Geocode(c.UserContext(), city, c.Query("country"))
}

func queryFloat(c *fiber.Ctx, key string) (float64, bool, error) {
	s := c.Query(key)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s: %q", key, s))
	}
	return f, true, nil
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s: %q", key, s))
	}
	return n, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
