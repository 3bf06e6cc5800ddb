package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"k8s.io/utils/clock"
)

// ErrNotFound is returned when no profile is stored for a location.
var ErrNotFound = weather.ErrNotFound

// profileHistory holds profiles for one location ordered by GeneratedAt.
type profileHistory struct {
	profiles []weather.ProfileResult
}

// MemoryStore is a concurrency-safe in-memory profile history.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key
	data map[string]*profileHistory

	maxHistory int           // max profiles per location
	maxAge     time.Duration // max age by GeneratedAt
	clock      clock.PassiveClock
}

// NewMemoryStore creates a new MemoryStore. Non-positive limits are unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*profileHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		clock:      clock.RealClock{},
	}
}

// WithClock replaces the clock used for age retention.
func (s *MemoryStore) WithClock(clk clock.PassiveClock) *MemoryStore {
	s.clock = clk
	return s
}

// SaveProfile appends result to its location's history and enforces retention.
func (s *MemoryStore) SaveProfile(_ context.Context, result weather.ProfileResult) error {
	key := result.Location.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &profileHistory{}
		s.data[key] = history
	}

	history.profiles = append(history.profiles, result)
	// scheduler and API writes can interleave
	sort.SliceStable(history.profiles, func(i, j int) bool {
		return history.profiles[i].GeneratedAt.Before(history.profiles[j].GeneratedAt)
	})

	if s.maxHistory > 0 && len(history.profiles) > s.maxHistory {
		over := len(history.profiles) - s.maxHistory
		history.profiles = history.profiles[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.clock.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.profiles); i++ {
			if !history.profiles[i].GeneratedAt.Before(cutoff) {
				break
			}
		}
		history.profiles = history.profiles[i:]
	}

	if len(history.profiles) == 0 {
		delete(s.data, key)
	}
	return nil
}

// GetLatest returns the most recent profile for a location.
func (s *MemoryStore) GetLatest(_ context.Context, loc weather.Location) (weather.ProfileResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || len(history.profiles) == 0 {
		return weather.ProfileResult{}, ErrNotFound
	}
	return history.profiles[len(history.profiles)-1], nil
}

// GetRange returns profiles for a location generated between from and to (inclusive).
func (s *MemoryStore) GetRange(_ context.Context, loc weather.Location, from, to time.Time) ([]weather.ProfileResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || len(history.profiles) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.ProfileResult
	for _, p := range history.profiles {
		if !p.GeneratedAt.Before(from) && !p.GeneratedAt.After(to) {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

var _ weather.Store = (*MemoryStore)(nil)
