package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

type AppConfig struct {
	Port string

	// GRIB cache and NOMADS access.
	CacheDir           string
	NOMADSBaseURL      string
	DownloadTimeout    time.Duration
	ProbeTimeout       time.Duration
	ProbeConcurrency   int
	LookbackCycles     int
	CacheMaxAge        time.Duration
	CacheSizeTolerance float64
	DecodeAttempts     int
	Wgrib2Path         string

	// Profile history. An empty DatabaseURL keeps history in memory.
	DatabaseURL     string
	StoreMaxHistory int
	StoreMaxAge     time.Duration

	// PrefetchInterval controls how often the scheduler refreshes each location.
	PrefetchInterval  time.Duration
	PrefetchLocations []weather.Location

	GeocoderAPIKey string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{
		Port:           getenvDefault("PORT", "8080"),
		CacheDir:       getenvDefault("CACHE_DIR", "./grib_cache"),
		NOMADSBaseURL:  getenvDefault("NOMADS_BASE_URL", weather.DefaultBaseURL),
		Wgrib2Path:     getenvDefault("WGRIB2_PATH", "wgrib2"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		GeocoderAPIKey: os.Getenv("GEOCODER_API_KEY"),
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"DOWNLOAD_TIMEOUT", "20m", &cfg.DownloadTimeout},
		{"PROBE_TIMEOUT", "5s", &cfg.ProbeTimeout},
		{"CACHE_MAX_AGE", "6h", &cfg.CacheMaxAge},
		{"STORE_MAX_AGE", "48h", &cfg.StoreMaxAge},
		{"PREFETCH_INTERVAL", "60m", &cfg.PrefetchInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"PROBE_CONCURRENCY", 4, 1, &cfg.ProbeConcurrency},
		{"LOOKBACK_CYCLES", 6, 1, &cfg.LookbackCycles},
		{"DECODE_ATTEMPTS", 3, 1, &cfg.DecodeAttempts},
		{"STORE_MAX_HISTORY", 48, 0, &cfg.StoreMaxHistory},
	}
	for _, n := range ints {
		if *n.dst, err = getenvInt(n.key, n.def); err != nil {
			return nil, err
		}
		if *n.dst < n.min {
			return nil, fmt.Errorf("invalid %s: must be >= %d", n.key, n.min)
		}
	}

	if cfg.CacheSizeTolerance, err = getenvFloat("CACHE_SIZE_TOLERANCE", 0.2); err != nil {
		return nil, err
	}
	if cfg.CacheSizeTolerance < 0 || cfg.CacheSizeTolerance >= 1 {
		return nil, fmt.Errorf("invalid CACHE_SIZE_TOLERANCE: must be in [0, 1)")
	}

	locs, err := ParseLocations(os.Getenv("PREFETCH_LOCATIONS"))
	if err != nil {
		return nil, fmt.Errorf("invalid PREFETCH_LOCATIONS: %w", err)
	}
	cfg.PrefetchLocations = locs

	return cfg, nil
}

// ParseLocations parses "lat,lon;lat,lon". Empty input yields no locations.
func ParseLocations(s string) ([]weather.Location, error) {
	var locs []weather.Location
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		latStr, lonStr, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("%q: want lat,lon", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		loc, err := weather.NewLocation(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
