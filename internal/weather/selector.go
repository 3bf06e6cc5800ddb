package weather

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// SelectRequest asks for the freshest usable run for a location.
type SelectRequest struct {
	Location     Location
	Model        ModelID // ModelAuto or a catalog id
	ForecastHour int
	// Exclude lists keys that already failed during this request.
	Exclude []RunKey
}

// Selection is the run chosen by RunSelector.
type Selection struct {
	Key       RunKey
	Spec      ModelSpec
	URL       string
	ValidTime time.Time
	// Cached is set when a usable cache entry was found; no probe was made.
	Cached *CacheEntry
}

// SelectorConfig bounds the candidate walk.
type SelectorConfig struct {
	LookbackCycles   int
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	Reuse            ReusePolicy
}

// RunSelector walks candidate runs in priority order and returns the first
// that is cached or published.
type RunSelector struct {
	catalog   *Catalog
	cache     Cache
	transport Transport
	clock     clock.PassiveClock
	cfg       SelectorConfig
}

// NewRunSelector creates a new RunSelector. A nil clock uses the wall clock.
func NewRunSelector(catalog *Catalog, cache Cache, transport Transport, clk clock.PassiveClock, cfg SelectorConfig) *RunSelector {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.LookbackCycles <= 0 {
		cfg.LookbackCycles = 6
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 1
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &RunSelector{catalog: catalog, cache: cache, transport: transport, clock: clk, cfg: cfg}
}

// models resolves the model list for req and validates the forecast hour.
func (s *RunSelector) models(req SelectRequest) ([]ModelSpec, error) {
	// Location literals bypass NewLocation
	if _, err := NewLocation(req.Location.Lat, req.Location.Lon); err != nil {
		return nil, err
	}
	if req.ForecastHour < 0 {
		return nil, fmt.Errorf("%w: forecast hour %d is negative", ErrInvalidInput, req.ForecastHour)
	}

	if req.Model == "" || req.Model == ModelAuto {
		models := s.catalog.CandidatesFor(req.Location)
		for _, m := range models {
			if m.ValidHourAnyCycle(req.ForecastHour) {
				return models, nil
			}
		}
		return nil, fmt.Errorf("%w: forecast hour %d not published by any model covering %s", ErrInvalidInput, req.ForecastHour, req.Location.Key())
	}

	m, ok := s.catalog.Model(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidInput, req.Model)
	}
	if !m.Coverage.Contains(req.Location) {
		return nil, fmt.Errorf("%w: %s does not cover %s", ErrInvalidInput, m.ID, req.Location.Key())
	}
	if !m.ValidHourAnyCycle(req.ForecastHour) {
		return nil, fmt.Errorf("%w: %s does not publish forecast hour %d", ErrInvalidInput, m.ID, req.ForecastHour)
	}
	return []ModelSpec{m}, nil
}

// Candidates returns the ordered candidate keys for req: every model's
// bounded lookback merged newest cycle first, with catalog order (finest
// grid) breaking ties between cycles issued at the same time.
func (s *RunSelector) Candidates(req SelectRequest) ([]RunKey, error) {
	models, err := s.models(req)
	if err != nil {
		return nil, err
	}
	auto := req.Model == "" || req.Model == ModelAuto

	type modelCycle struct {
		spec  ModelSpec
		cycle time.Time
	}
	now := s.clock.Now()
	cycles := make([]modelCycle, 0, len(models)*s.cfg.LookbackCycles)
	for _, m := range models {
		latest := m.LatestCycle(now)
		for r := 0; r < s.cfg.LookbackCycles; r++ {
			cycles = append(cycles, modelCycle{spec: m, cycle: m.PreviousCycle(latest, r)})
		}
	}
	sort.SliceStable(cycles, func(i, j int) bool { return cycles[i].cycle.After(cycles[j].cycle) })

	seen := make(map[RunKey]bool)
	for _, k := range req.Exclude {
		seen[k] = true
	}
	var keys []RunKey
	add := func(k RunKey) {
		if seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for _, mc := range cycles {
		m := mc.spec
		if m.ValidHour(mc.cycle, req.ForecastHour) {
			add(NewRunKey(m.ID, mc.cycle, req.ForecastHour))
		}
		if auto && req.ForecastHour != 0 {
			add(NewRunKey(m.ID, mc.cycle, 0))
		}
	}
	return keys, nil
}

type probeResult struct {
	cached    *CacheEntry
	available bool
	err       error
}

// Select returns the first candidate that is cached-valid or remotely
// available. Probes run concurrently within a window but results are applied
// in candidate order.
func (s *RunSelector) Select(ctx context.Context, req SelectRequest) (Selection, error) {
	keys, err := s.Candidates(req)
	if err != nil {
		return Selection{}, err
	}
	log.Printf("DEBUG: selector: %d candidates for %s (model=%s hour=%d)", len(keys), req.Location.Key(), req.Model, req.ForecastHour)

	var attempts []Attempt
	for start := 0; start < len(keys); start += s.cfg.ProbeConcurrency {
		end := min(start+s.cfg.ProbeConcurrency, len(keys))
		window := keys[start:end]
		results := s.checkWindow(ctx, window)
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}

		for i, k := range window {
			res := results[i]
			switch {
			case res.cached != nil:
				log.Printf("INFO: selector: using cached %s (%s)", k, res.cached.Path)
				return s.selection(k, res.cached), nil
			case res.available:
				log.Printf("INFO: selector: %s is published", k)
				return s.selection(k, nil), nil
			case res.err != nil:
				log.Printf("DEBUG: selector: probe %s failed: %v", k, res.err)
				attempts = append(attempts, Attempt{Key: k, Reason: res.err.Error()})
			default:
				attempts = append(attempts, Attempt{Key: k, Reason: "not published"})
			}
		}
	}

	return Selection{}, &NoForecastError{Attempts: attempts}
}

// checkWindow consults the cache, then probes only keys ahead of the first
// cache hit.
func (s *RunSelector) checkWindow(ctx context.Context, window []RunKey) []probeResult {
	results := make([]probeResult, len(window))
	probeUpTo := len(window)
	for i, k := range window {
		if entry, ok := s.cachedEntry(k); ok {
			results[i].cached = &entry
			probeUpTo = i
			break
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.ProbeConcurrency)
	for i := 0; i < probeUpTo; i++ {
		i, k := i, window[i]
		spec, _ := s.catalog.Model(k.Model)
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
			defer cancel()
			results[i].available, results[i].err = s.transport.Probe(pctx, spec.URL(k))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *RunSelector) cachedEntry(k RunKey) (CacheEntry, bool) {
	if s.cache == nil {
		return CacheEntry{}, false
	}
	entry, ok := s.cache.Lookup(k)
	if !ok {
		return CacheEntry{}, false
	}
	if !s.cache.ShouldReuse(entry, s.cfg.Reuse) {
		log.Printf("DEBUG: selector: cached %s not reusable (size=%d fetched=%s)", k, entry.SizeBytes, entry.FetchedAt.Format(time.RFC3339))
		return CacheEntry{}, false
	}
	return entry, true
}

func (s *RunSelector) selection(k RunKey, cached *CacheEntry) Selection {
	spec, _ := s.catalog.Model(k.Model)
	return Selection{
		Key:       k,
		Spec:      spec,
		URL:       spec.URL(k),
		ValidTime: k.ValidTime(),
		Cached:    cached,
	}
}
