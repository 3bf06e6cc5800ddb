package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/mjthree/gfs-wind-interpolator/internal/api/http"
	"github.com/mjthree/gfs-wind-interpolator/internal/cache"
	"github.com/mjthree/gfs-wind-interpolator/internal/config"
	"github.com/mjthree/gfs-wind-interpolator/internal/scheduler"
	"github.com/mjthree/gfs-wind-interpolator/internal/store"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather/providers"
)

type historyStore interface {
	weather.Store
	Close()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// no client timeout: downloads are bounded by DOWNLOAD_TIMEOUT per request
	httpClient := &http.Client{}

	diskCache, err := cache.New(cfg.CacheDir, nil)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}

	var history historyStore
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		history, err = store.NewPostgres(ctx, cfg.DatabaseURL, cfg.StoreMaxHistory, cfg.StoreMaxAge)
		cancel()
		if err != nil {
			log.Fatalf("failed to open history store: %v", err)
		}
		log.Println("INFO: profile history in PostgreSQL")
	} else {
		history = store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
		log.Println("INFO: profile history in memory")
	}
	defer history.Close()

	service := weather.NewService(
		weather.DefaultCatalog(cfg.NOMADSBaseURL),
		diskCache,
		providers.NewNOMADSTransport(httpClient, providers.DefaultBackoff),
		providers.NewWgrib2Decoder(cfg.Wgrib2Path),
		history,
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

	sched := scheduler.New(cfg.PrefetchLocations, cfg.PrefetchInterval, cfg.DownloadTimeout, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	deps := httpapi.Deps{Service: service, Cache: diskCache}
	if cfg.GeocoderAPIKey != "" {
		deps.Geocoder = providers.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	}

	app := fiber.New(fiber.Config{
		AppName:               "wind-profiler",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// a cold request may download a full GRIB file
		WriteTimeout: cfg.DownloadTimeout + time.Minute,
		ErrorHandler: httpapi.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(httpapi.RequestID())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:X-Request-ID} ${status} ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "wind-profiler",
		})
	})

	httpapi.RegisterRoutes(app, deps)

	go func() {
		log.Printf("INFO: listening on :%s (cache %s)", cfg.Port, diskCache.Root())
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
