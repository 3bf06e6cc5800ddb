package weather

import (
	"context"
	"io"
	"time"
)

// ProgressFunc observes a download. total is -1 when the server did not
// report a length.
type ProgressFunc func(done, total int64)

// Transport abstracts the remote file server (e.g. NOMADS over HTTP).
type Transport interface {
	// Probe reports whether url exists. A missing file is (false, nil).
	Probe(ctx context.Context, url string) (bool, error)
	// Download streams url into w and returns the bytes written.
	Download(ctx context.Context, url string, w io.Writer, progress ProgressFunc) (int64, error)
}

// Decoder extracts pressure-level winds near loc from a forecast file.
type Decoder interface {
	Decode(ctx context.Context, path string, loc Location) (DecodeResult, error)
}

// ReusePolicy is the caller-supplied freshness and integrity threshold.
type ReusePolicy struct {
	MaxAge time.Duration
	// SizeTolerance is the allowed shortfall against the last known-good
	// size, as a fraction (0.2 accepts files down to 80%).
	SizeTolerance float64
}

// Cache is the contract the disk cache must satisfy.
type Cache interface {
	Lookup(key RunKey) (CacheEntry, bool)
	ShouldReuse(entry CacheEntry, policy ReusePolicy) bool
	// Store promotes r into the cache only after a complete, valid write.
	Store(key RunKey, r io.Reader) (CacheEntry, error)
	Invalidate(key RunKey) error
	// MarkGood records entry's size as known-good for its model.
	MarkGood(entry CacheEntry) error
}

// Store is the contract the in-memory store (and the postgres store) must satisfy.
type Store interface {
	SaveProfile(ctx context.Context, result ProfileResult) error
	GetLatest(ctx context.Context, loc Location) (ProfileResult, error)
	GetRange(ctx context.Context, loc Location, from, to time.Time) ([]ProfileResult, error)
}
