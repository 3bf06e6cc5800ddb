// Package scheduler keeps the cache and the profile history warm for a
// fixed set of locations.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

const (
	defaultInterval = time.Hour
	defaultTimeout  = 30 * time.Minute
)

// Prefetcher builds and stores the current profile for a location.
type Prefetcher interface {
	FetchAndStore(ctx context.Context, loc weather.Location) error
}

// Scheduler periodically prefetches profiles for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Prefetcher
	locations []weather.Location
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. timeout bounds one location's fetch; zero
// uses a default long enough for a full GRIB download.
func New(locations []weather.Location, interval, timeout time.Duration, service Prefetcher) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		service:   service,
		locations: locations,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the prefetch job, runs it once immediately and starts the
// underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		log.Println("INFO: scheduler: no locations configured; nothing to schedule")
		return nil
	}

	if _, err := s.scheduler.Every(s.interval).Do(func() { s.RunOnce() }); err != nil {
		return err
	}
	log.Printf("INFO: scheduler: prefetching %d locations every %s", len(s.locations), s.interval)
	s.scheduler.StartAsync()
	return nil
}

// RunOnce prefetches every location concurrently and returns how many failed.
func (s *Scheduler) RunOnce() int {
	log.Println("INFO: scheduler: running prefetch job")
	start := time.Now()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, loc := range s.locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()

			if err := s.service.FetchAndStore(ctx, loc); err != nil {
				log.Printf("ERROR: scheduler: prefetch failed for %s: %v", loc.Key(), err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	log.Printf("INFO: scheduler: completed prefetch job in %s (%d/%d failed)", time.Since(start).Round(time.Millisecond), failed, len(s.locations))
	return failed
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
