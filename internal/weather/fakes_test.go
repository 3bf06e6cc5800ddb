package weather

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type fakeTransport struct {
	mu        sync.Mutex
	available map[string]bool
	probeErr  map[string]error
	dlErr     map[string]error
	body      []byte
	probed    []string
	fetched   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		available: make(map[string]bool),
		probeErr:  make(map[string]error),
		dlErr:     make(map[string]error),
		body:      []byte("GRIB fake payload 7777"),
	}
}

func (f *fakeTransport) publish(urls ...string) {
	for _, u := range urls {
		f.available[u] = true
	}
}

func (f *fakeTransport) Probe(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, url)
	if err := f.probeErr[url]; err != nil {
		return false, err
	}
	return f.available[url], nil
}

func (f *fakeTransport) Download(_ context.Context, url string, w io.Writer, progress ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	err := f.dlErr[url]
	f.mu.Unlock()
	if err != nil {
		// half a body, then the failure
		n, _ := w.Write(f.body[:len(f.body)/2])
		return int64(n), err
	}
	n, err := w.Write(f.body)
	if progress != nil {
		progress(int64(n), int64(len(f.body)))
	}
	return int64(n), err
}

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probed)
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[RunKey]CacheEntry
	reusable    bool
	invalidated []RunKey
	good        []CacheEntry
	storeErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[RunKey]CacheEntry), reusable: true}
}

func (c *fakeCache) put(k RunKey) CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := CacheEntry{Key: k, Path: "mem://" + FileName(k), SizeBytes: 100, FetchedAt: time.Now()}
	c.entries[k] = e
	return e
}

func (c *fakeCache) Lookup(k RunKey) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	return e, ok
}

func (c *fakeCache) ShouldReuse(CacheEntry, ReusePolicy) bool { return c.reusable }

func (c *fakeCache) Store(k RunKey, r io.Reader) (CacheEntry, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return CacheEntry{}, fmt.Errorf("copy: %w", err)
	}
	if c.storeErr != nil {
		return CacheEntry{}, c.storeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := CacheEntry{Key: k, Path: "mem://" + FileName(k), SizeBytes: int64(buf.Len()), FetchedAt: time.Now()}
	c.entries[k] = e
	return e, nil
}

func (c *fakeCache) Invalidate(k RunKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
	c.invalidated = append(c.invalidated, k)
	return nil
}

func (c *fakeCache) MarkGood(e CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.good = append(c.good, e)
	return nil
}

type fakeDecoder struct {
	mu      sync.Mutex
	failFor map[string]bool
	result  DecodeResult
	decoded []string
}

func newFakeDecoder(levels []LevelSample) *fakeDecoder {
	return &fakeDecoder{
		failFor: make(map[string]bool),
		result:  DecodeResult{Levels: levels, GridLat: 39.75, GridLon: -105.0},
	}
}

func (d *fakeDecoder) Decode(_ context.Context, path string, _ Location) (DecodeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decoded = append(d.decoded, path)
	if d.failFor[path] {
		return DecodeResult{}, fmt.Errorf("%w: bad file %s", ErrDecodeFailed, path)
	}
	return d.result, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []ProfileResult
}

func (s *fakeStore) SaveProfile(_ context.Context, r ProfileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	return nil
}

func (s *fakeStore) GetLatest(_ context.Context, loc Location) (ProfileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].Location.Key() == loc.Key() {
			return s.saved[i], nil
		}
	}
	return ProfileResult{}, ErrNotFound
}

func (s *fakeStore) GetRange(_ context.Context, loc Location, from, to time.Time) ([]ProfileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProfileResult
	for _, r := range s.saved {
		if r.Location.Key() == loc.Key() && !r.GeneratedAt.Before(from) && !r.GeneratedAt.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	if len(out) == 0 {
		return nil, errors.New("empty")
	}
	return out, nil
}

func hgt(ft float64) *float64 {
	m := ft * 0.3048
	return &m
}

// standardLevels is a simple profile: westerly wind strengthening with height.
func standardLevels() []LevelSample {
	return []LevelSample{
		{PressureHpa: 1000, UMS: 2, VMS: 0},
		{PressureHpa: 850, UMS: 5, VMS: 0},
		{PressureHpa: 700, UMS: 10, VMS: 0},
		{PressureHpa: 500, UMS: 20, VMS: 0},
		{PressureHpa: 300, UMS: 30, VMS: 0},
	}
}
