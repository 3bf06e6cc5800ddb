package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dustin/go-humanize"
)

// Fetcher moves a selected run from the transport into the cache.
type Fetcher struct {
	cache     Cache
	transport Transport
}

// NewFetcher creates a new Fetcher.
func NewFetcher(cache Cache, transport Transport) *Fetcher {
	return &Fetcher{cache: cache, transport: transport}
}

type storeResult struct {
	entry CacheEntry
	err   error
}

// Fetch returns the cache entry for sel, downloading it first unless the
// selection was served from cache. The download is piped straight into
// Cache.Store so a failed or cancelled transfer is never promoted.
func (f *Fetcher) Fetch(ctx context.Context, sel Selection, progress ProgressFunc) (CacheEntry, bool, error) {
	if sel.Cached != nil {
		return *sel.Cached, true, nil
	}

	pr, pw := io.Pipe()
	done := make(chan storeResult, 1)
	go func() {
		entry, err := f.cache.Store(sel.Key, pr)
		// unblock the writer if Store gave up early
		pr.CloseWithError(err)
		done <- storeResult{entry: entry, err: err}
	}()

	start := time.Now()
	n, derr := f.transport.Download(ctx, sel.URL, pw, progress)
	if derr != nil {
		pw.CloseWithError(derr)
	} else {
		pw.Close()
	}
	res := <-done

	switch {
	case derr != nil && res.err != nil && !errors.Is(res.err, derr):
		// Store rejected the stream; the download error is only the broken pipe.
		return CacheEntry{}, false, fmt.Errorf("store %s: %w", sel.Key, res.err)
	case derr != nil:
		log.Printf("ERROR: download %s failed after %s: %v", sel.Key, humanize.Bytes(uint64(max(n, 0))), derr)
		return CacheEntry{}, false, derr
	case res.err != nil:
		return CacheEntry{}, false, fmt.Errorf("store %s: %w", sel.Key, res.err)
	}

	log.Printf("INFO: downloaded %s (%s in %s)", sel.Key, humanize.Bytes(uint64(res.entry.SizeBytes)), time.Since(start).Round(time.Millisecond))
	return res.entry, false, nil
}
