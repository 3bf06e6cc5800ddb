package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kelvins/geocoder"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

var errNoGeocoderKey = errors.New("geocoding requires GEOCODER_API_KEY")

// GeocodeFunc resolves an address to coordinates.
type GeocodeFunc func(geocoder.Address) (geocoder.Location, error)

// GoogleGeocoder resolves city names through the Google Geocoding API.
type GoogleGeocoder struct {
	lookup GeocodeFunc
}

// NewGoogleGeocoder sets the package-wide API key used by kelvins/geocoder.
// An empty key yields a geocoder that always fails.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	if apiKey == "" {
		return &GoogleGeocoder{}
	}
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{lookup: geocoder.Geocoding}
}

// WithLookup replaces the geocoding call (used by tests).
func (g *GoogleGeocoder) WithLookup(fn GeocodeFunc) *GoogleGeocoder {
	g.lookup = fn
	return g
}

// Geocode returns the location of city, country.
func (g *GoogleGeocoder) Geocode(ctx context.Context, city, country string) (weather.Location, error) {
	if g.lookup == nil {
		return weather.Location{}, fmt.Errorf("%w: %v", weather.ErrInvalidInput, errNoGeocoderKey)
	}
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	if city == "" {
		return weather.Location{}, fmt.Errorf("%w: city is required", weather.ErrInvalidInput)
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	// the library call takes no context
	done := make(chan result, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: city, Country: country})
		done <- result{loc, err}
	}()

	select {
	case <-ctx.Done():
		return weather.Location{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return weather.Location{}, fmt.Errorf("geocode %s, %s: %w", city, country, r.err)
		}
		return weather.NewLocation(r.loc.Latitude, r.loc.Longitude)
	}
}
