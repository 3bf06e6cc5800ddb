package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/utils/clock"
)

// DefaultCeilingFt is used when a request leaves the ceiling unset.
const DefaultCeilingFt = 20000

// ProfileRequest is a validated request for an altitude wind profile.
type ProfileRequest struct {
	Lat               float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon               float64   `json:"lon" validate:"gte=-180,lte=180"`
	CeilingFt         int       `json:"ceilingFt" validate:"gte=1000,lte=50000"`
	ForecastHour      int       `json:"forecastHour" validate:"gte=0"`
	Model             ModelID   `json:"model" validate:"omitempty,oneof=auto hrrr rap gfs"`
	Reference         Reference `json:"reference" validate:"omitempty,oneof=msl agl"`
	GroundElevationFt float64   `json:"groundElevationFt" validate:"gte=-1500,lte=30000"`

	Progress ProgressFunc `json:"-" validate:"-"`
}

// LevelsRequest is a validated request for the raw pressure-level table.
type LevelsRequest struct {
	Lat          float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon          float64 `json:"lon" validate:"gte=-180,lte=180"`
	ForecastHour int     `json:"forecastHour" validate:"gte=0"`
	Model        ModelID `json:"model" validate:"omitempty,oneof=auto hrrr rap gfs"`

	Progress ProgressFunc `json:"-" validate:"-"`
}

// ServiceOptions tunes the pipeline.
type ServiceOptions struct {
	Selector SelectorConfig
	// DecodeAttempts bounds how many files may fail to decode per request.
	DecodeAttempts  int
	DownloadTimeout time.Duration
	Clock           clock.PassiveClock
}

// Service orchestrates run selection, fetching, decoding and profile building.
type Service struct {
	catalog  *Catalog
	cache    Cache
	decoder  Decoder
	store    Store
	selector *RunSelector
	fetcher  *Fetcher
	clock    clock.PassiveClock
	validate *validator.Validate
	opts     ServiceOptions
}

// NewService creates a new Service. store may be nil to skip history.
func NewService(catalog *Catalog, cache Cache, transport Transport, decoder Decoder, store Store, opts ServiceOptions) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.DecodeAttempts <= 0 {
		opts.DecodeAttempts = 3
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 20 * time.Minute
	}
	return &Service{
		catalog:  catalog,
		cache:    cache,
		decoder:  decoder,
		store:    store,
		selector: NewRunSelector(catalog, cache, transport, opts.Clock, opts.Selector),
		fetcher:  NewFetcher(cache, transport),
		clock:    opts.Clock,
		validate: validator.New(),
		opts:     opts,
	}
}

// Catalog returns the model catalog the service was built with.
func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) validateStruct(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

type resolved struct {
	sel       Selection
	entry     CacheEntry
	fromCache bool
	decoded   DecodeResult
}

// resolve selects, fetches and decodes, falling through to the next
// candidate on transport or decode failure.
func (s *Service) resolve(ctx context.Context, loc Location, model ModelID, hour int, progress ProgressFunc) (resolved, error) {
	var (
		exclude        []RunKey
		attempts       []Attempt
		decodeFailures int
	)

	for {
		sel, err := s.selector.Select(ctx, SelectRequest{
			Location:     loc,
			Model:        model,
			ForecastHour: hour,
			Exclude:      exclude,
		})
		if err != nil {
			var nf *NoForecastError
			if errors.As(err, &nf) {
				return resolved{}, &NoForecastError{Attempts: append(attempts, nf.Attempts...)}
			}
			return resolved{}, err
		}

		entry, fromCache, err := s.fetch(ctx, sel, progress)
		if err != nil {
			if ctx.Err() != nil {
				return resolved{}, ctx.Err()
			}
			log.Printf("WARN: fetch %s failed, trying next candidate: %v", sel.Key, err)
			attempts = append(attempts, Attempt{Key: sel.Key, Reason: err.Error()})
			exclude = append(exclude, sel.Key)
			continue
		}

		decoded, err := s.decoder.Decode(ctx, entry.Path, loc)
		if err != nil {
			if ctx.Err() != nil {
				return resolved{}, ctx.Err()
			}
			log.Printf("ERROR: decode %s failed, discarding cache entry: %v", sel.Key, err)
			if ierr := s.cache.Invalidate(sel.Key); ierr != nil {
				log.Printf("ERROR: invalidate %s: %v", sel.Key, ierr)
			}
			attempts = append(attempts, Attempt{Key: sel.Key, Reason: err.Error()})
			exclude = append(exclude, sel.Key)
			decodeFailures++
			if decodeFailures >= s.opts.DecodeAttempts {
				return resolved{}, &NoForecastError{Attempts: attempts}
			}
			continue
		}

		if err := s.cache.MarkGood(entry); err != nil {
			log.Printf("ERROR: record known-good size for %s: %v", sel.Key, err)
		}
		return resolved{sel: sel, entry: entry, fromCache: fromCache, decoded: decoded}, nil
	}
}

func (s *Service) fetch(ctx context.Context, sel Selection, progress ProgressFunc) (CacheEntry, bool, error) {
	if sel.Cached != nil {
		return s.fetcher.Fetch(ctx, sel, progress)
	}
	dctx, cancel := context.WithTimeout(ctx, s.opts.DownloadTimeout)
	defer cancel()
	return s.fetcher.Fetch(dctx, sel, progress)
}

// Profile runs the full pipeline for one location and saves the result to
// the history store.
func (s *Service) Profile(ctx context.Context, req ProfileRequest) (ProfileResult, error) {
	if req.CeilingFt == 0 {
		req.CeilingFt = DefaultCeilingFt
	}
	if req.Model == "" {
		req.Model = ModelAuto
	}
	if req.Reference == "" {
		req.Reference = ReferenceMSL
	}
	if err := s.validateStruct(req); err != nil {
		return ProfileResult{}, err
	}
	loc, err := NewLocation(req.Lat, req.Lon)
	if err != nil {
		return ProfileResult{}, err
	}

	log.Printf("DEBUG: Profile called for %s (model=%s hour=%d ceiling=%d %s)", loc.Key(), req.Model, req.ForecastHour, req.CeilingFt, req.Reference)

	r, err := s.resolve(ctx, loc, req.Model, req.ForecastHour, req.Progress)
	if err != nil {
		return ProfileResult{}, err
	}

	profile, err := BuildProfile(r.decoded.Levels, ProfileParams{
		CeilingFt:         req.CeilingFt,
		Reference:         req.Reference,
		GroundElevationFt: req.GroundElevationFt,
	})
	if err != nil {
		return ProfileResult{}, fmt.Errorf("%s: %w", r.sel.Key, err)
	}

	result := ProfileResult{
		Location:     loc,
		Run:          r.sel.Key,
		ModelName:    r.sel.Spec.Name,
		ResolutionKm: r.sel.Spec.GridResolutionKm,
		ValidTime:    r.sel.ValidTime,
		GridLat:      r.decoded.GridLat,
		GridLon:      r.decoded.GridLon,
		FromCache:    r.fromCache,
		GeneratedAt:  s.clock.Now().UTC(),
		Profile:      profile,
		Summary:      Summarize(profile.Samples),
	}

	if s.store != nil {
		if err := s.store.SaveProfile(ctx, result); err != nil {
			log.Printf("ERROR: saving profile for %s: %v", loc.Key(), err)
		}
	}
	return result, nil
}

// Levels returns the raw per-level table for one location.
func (s *Service) Levels(ctx context.Context, req LevelsRequest) (LevelsResult, error) {
	if req.Model == "" {
		req.Model = ModelAuto
	}
	if err := s.validateStruct(req); err != nil {
		return LevelsResult{}, err
	}
	loc, err := NewLocation(req.Lat, req.Lon)
	if err != nil {
		return LevelsResult{}, err
	}

	r, err := s.resolve(ctx, loc, req.Model, req.ForecastHour, req.Progress)
	if err != nil {
		return LevelsResult{}, err
	}

	rows := BuildLevelRows(r.decoded.Levels)
	return LevelsResult{
		Location:  loc,
		Run:       r.sel.Key,
		ModelName: r.sel.Spec.Name,
		ValidTime: r.sel.ValidTime,
		GridLat:   r.decoded.GridLat,
		GridLon:   r.decoded.GridLon,
		FromCache: r.fromCache,
		Rows:      rows,
		Summary:   SummarizeRows(rows),
	}, nil
}

// FetchAndStore builds the analysis-hour auto profile for loc with the
// default ceiling and stores it.
func (s *Service) FetchAndStore(ctx context.Context, loc Location) error {
	_, err := s.Profile(ctx, ProfileRequest{
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		CeilingFt: DefaultCeilingFt,
		Model:     ModelAuto,
	})
	return err
}

// Latest delegates to the underlying store.
func (s *Service) Latest(ctx context.Context, loc Location) (ProfileResult, error) {
	if s.store == nil {
		return ProfileResult{}, ErrNotFound
	}
	return s.store.GetLatest(ctx, loc)
}

// History delegates to the underlying store.
func (s *Service) History(ctx context.Context, loc Location, from, to time.Time) ([]ProfileResult, error) {
	if s.store == nil {
		return nil, ErrNotFound
	}
	return s.store.GetRange(ctx, loc, from, to)
}
