// Command windprofile prints an altitude wind profile for one location.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/mjthree/gfs-wind-interpolator/internal/cache"
	"github.com/mjthree/gfs-wind-interpolator/internal/config"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather/providers"
)

func main() {
	lat := flag.Float64("lat", 0, "Latitude in decimal degrees")
	lon := flag.Float64("lon", 0, "Longitude in decimal degrees")
	ceiling := flag.Int("ceiling", weather.DefaultCeilingFt, "Top of the profile in feet")
	hour := flag.Int("hour", 0, "Forecast hour")
	model := flag.String("model", string(weather.ModelAuto), "Model: auto, hrrr, rap or gfs")
	agl := flag.Bool("agl", false, "Report altitudes above ground level")
	elevation := flag.Float64("elevation", 0, "Ground elevation in feet (with -agl)")
	csvPath := flag.String("csv", "", "Also write the table as CSV to this file")
	raw := flag.Bool("raw", false, "Show the raw pressure-level table instead of the profile")
	noColor := flag.Bool("no-color", false, "Disable color output")
	purge := flag.Bool("purge", false, "Delete cached files (all, or -model only) and exit")
	list := flag.Bool("list", false, "List cached files and exit")
	cacheDir := flag.String("cache-dir", "", "Cache directory (default $CACHE_DIR or ./grib_cache)")
	verbose := flag.Bool("v", false, "Log pipeline activity to stderr")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	diskCache, err := cache.New(cfg.CacheDir, nil)
	if err != nil {
		fatal(err)
	}

	switch {
	case *purge:
		filter := cache.PurgeFilter{}
		if *model != string(weather.ModelAuto) {
			filter.Model = weather.ModelID(*model)
		}
		res, err := diskCache.Purge(filter)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("removed %d files (%s)\n", res.Files, humanize.Bytes(uint64(res.Bytes)))
		return
	case *list:
		entries, err := diskCache.Entries()
		if err != nil {
			fatal(err)
		}
		printEntries(os.Stdout, entries, time.Now())
		return
	}

	if !isFlagSet("lat") || !isFlagSet("lon") {
		fmt.Fprintln(os.Stderr, "usage: windprofile -lat <deg> -lon <deg> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	service := weather.NewService(
		weather.DefaultCatalog(cfg.NOMADSBaseURL),
		diskCache,
		providers.NewNOMADSTransport(&http.Client{}, providers.DefaultBackoff),
		providers.NewWgrib2Decoder(cfg.Wgrib2Path),
		nil,
		weather.ServiceOptions{
			Selector: weather.SelectorConfig{
				LookbackCycles:   cfg.LookbackCycles,
				ProbeTimeout:     cfg.ProbeTimeout,
				ProbeConcurrency: cfg.ProbeConcurrency,
				Reuse: weather.ReusePolicy{
					MaxAge:        cfg.CacheMaxAge,
					SizeTolerance: cfg.CacheSizeTolerance,
				},
			},
			DecodeAttempts:  cfg.DecodeAttempts,
			DownloadTimeout: cfg.DownloadTimeout,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	progress := newProgressPrinter(os.Stderr)
	now := time.Now()

	if *raw {
		res, err := service.Levels(ctx, weather.LevelsRequest{
			Lat:          *lat,
			Lon:          *lon,
			ForecastHour: *hour,
			Model:        weather.ModelID(*model),
			Progress:     progress.update,
		})
		progress.done()
		if err != nil {
			fatal(err)
		}
		printLevels(os.Stdout, res, now)
		if *csvPath != "" {
			exportCSV(*csvPath, func(w io.Writer) error { return writeLevelsCSV(w, res) })
		}
		return
	}

	ref := weather.ReferenceMSL
	if *agl {
		ref = weather.ReferenceAGL
	}
	res, err := service.Profile(ctx, weather.ProfileRequest{
		Lat:               *lat,
		Lon:               *lon,
		CeilingFt:         *ceiling,
		ForecastHour:      *hour,
		Model:             weather.ModelID(*model),
		Reference:         ref,
		GroundElevationFt: *elevation,
		Progress:          progress.update,
	})
	progress.done()
	if err != nil {
		fatal(err)
	}
	printProfile(os.Stdout, res, now)
	if *csvPath != "" {
		exportCSV(*csvPath, func(w io.Writer) error { return writeProfileCSV(w, res) })
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func exportCSV(path string, write func(io.Writer) error) {
	f, err := os.Create(path)
	if err != nil {
		fatal(err)
	}
	if err := write(f); err != nil {
		f.Close()
		fatal(err)
	}
	if err := f.Close(); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", path)
}

func fatal(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// progressPrinter redraws a single download status line at most every
// quarter second.
type progressPrinter struct {
	w io.Writer

	mu      sync.Mutex
	last    time.Time
	printed bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) update(done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.last) < 250*time.Millisecond && done != total {
		return
	}
	p.last = time.Now()
	p.printed = true
	if total > 0 {
		fmt.Fprintf(p.w, "\rdownloading %s / %s (%.0f%%)   ", humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)), 100*float64(done)/float64(total))
		return
	}
	fmt.Fprintf(p.w, "\rdownloading %s   ", humanize.Bytes(uint64(done)))
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
		p.printed = false
	}
}
