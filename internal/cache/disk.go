// Package cache keeps downloaded forecast files in a directory tree keyed by
// run. Writes go to a hidden temp file and are renamed into place only when
// complete, so readers never observe a partial file.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"k8s.io/utils/clock"
)

const (
	sizesFile  = "sizes.json"
	partSuffix = ".part"
	// in-flight writes older than this belong to a dead process
	partStaleAfter = time.Hour
)

// ErrNotGRIB is returned by Store when the stream does not start with the
// GRIB indicator section.
var ErrNotGRIB = errors.New("not a GRIB file")

var gribMagic = []byte("GRIB")

// DiskCache is a concurrency-safe cache of forecast files under one root.
type DiskCache struct {
	root  string
	clock clock.PassiveClock

	mu    sync.Mutex
	sizes map[weather.ModelID]int64 // last known-good size per model
}

// New opens (creating if needed) a cache rooted at root. A nil clock uses
// the wall clock.
func New(root string, clk clock.PassiveClock) (*DiskCache, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	c := &DiskCache{root: root, clock: clk, sizes: make(map[weather.ModelID]int64)}
	if err := c.loadSizes(); err != nil {
		log.Printf("WARN: cache: ignoring unreadable %s: %v", sizesFile, err)
	}
	return c, nil
}

// Root returns the cache directory.
func (c *DiskCache) Root() string { return c.root }

// Path is the deterministic location of key's file.
func (c *DiskCache) Path(key weather.RunKey) string {
	return filepath.Join(c.root, string(key.Model), weather.FileName(key))
}

// Lookup reports the completed entry for key, if any.
func (c *DiskCache) Lookup(key weather.RunKey) (weather.CacheEntry, bool) {
	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return weather.CacheEntry{}, false
	}
	return weather.CacheEntry{
		Key:        key,
		Path:       path,
		SizeBytes:  info.Size(),
		FetchedAt:  info.ModTime().UTC(),
		Superseded: c.superseded(key),
	}, true
}

// superseded reports whether a newer cycle of the same model and forecast
// hour is cached.
func (c *DiskCache) superseded(key weather.RunKey) bool {
	names, err := os.ReadDir(filepath.Join(c.root, string(key.Model)))
	if err != nil {
		return false
	}
	for _, d := range names {
		k, ok := weather.ParseFileName(d.Name())
		if ok && k.Model == key.Model && k.ForecastHour == key.ForecastHour && k.Cycle.After(key.Cycle) {
			return true
		}
	}
	return false
}

// ShouldReuse applies the freshness and size heuristics. With no known-good
// size for the model the entry is reused and decoding acts as the check.
func (c *DiskCache) ShouldReuse(entry weather.CacheEntry, policy weather.ReusePolicy) bool {
	if entry.SizeBytes <= 0 || entry.Superseded {
		return false
	}
	if policy.MaxAge > 0 && c.clock.Since(entry.FetchedAt) >= policy.MaxAge {
		return false
	}
	known := c.KnownGoodSize(entry.Key.Model)
	if known > 0 && float64(entry.SizeBytes) < (1-policy.SizeTolerance)*float64(known) {
		return false
	}
	return true
}

// Store writes r to a temp file and renames it into place once the whole
// stream was written and synced. On any error the temp file is removed.
func (c *DiskCache) Store(key weather.RunKey, r io.Reader) (weather.CacheEntry, error) {
	dir := filepath.Join(c.root, string(key.Model))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return weather.CacheEntry{}, fmt.Errorf("create cache dir: %w", err)
	}

	final := c.Path(key)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", weather.FileName(key), uuid.NewString(), partSuffix))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return weather.CacheEntry{}, fmt.Errorf("create temp file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	hdr := make([]byte, len(gribMagic))
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return weather.CacheEntry{}, fmt.Errorf("%s: %w: body too short", key, ErrNotGRIB)
		}
		return weather.CacheEntry{}, fmt.Errorf("read %s: %w", key, err)
	}
	if string(hdr) != string(gribMagic) {
		return weather.CacheEntry{}, fmt.Errorf("%s: %w", key, ErrNotGRIB)
	}
	if _, err := f.Write(hdr); err != nil {
		return weather.CacheEntry{}, fmt.Errorf("write %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		return weather.CacheEntry{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		return weather.CacheEntry{}, fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return weather.CacheEntry{}, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		committed = true
		return weather.CacheEntry{}, fmt.Errorf("promote %s: %w", key, err)
	}
	committed = true

	entry, ok := c.Lookup(key)
	if !ok {
		return weather.CacheEntry{}, fmt.Errorf("%s vanished after rename", final)
	}
	log.Printf("INFO: cache: stored %s (%s)", key, humanize.Bytes(uint64(entry.SizeBytes)))
	return entry, nil
}

// Invalidate deletes key's file. Missing files are not an error.
func (c *DiskCache) Invalidate(key weather.RunKey) error {
	err := os.Remove(c.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	log.Printf("INFO: cache: invalidated %s", key)
	return nil
}

// MarkGood records entry's size as the known-good size for its model.
func (c *DiskCache) MarkGood(entry weather.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sizes[entry.Key.Model] == entry.SizeBytes {
		return nil
	}
	c.sizes[entry.Key.Model] = entry.SizeBytes
	return c.saveSizesLocked()
}

// KnownGoodSize returns the last known-good size for model, or 0.
func (c *DiskCache) KnownGoodSize(model weather.ModelID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizes[model]
}

func (c *DiskCache) loadSizes() error {
	b, err := os.ReadFile(filepath.Join(c.root, sizesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Unmarshal(b, &c.sizes)
}

func (c *DiskCache) saveSizesLocked() error {
	b, err := json.MarshalIndent(c.sizes, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.root, fmt.Sprintf(".%s.%s%s", sizesFile, uuid.NewString(), partSuffix))
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write sizes: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(c.root, sizesFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write sizes: %w", err)
	}
	return nil
}

// Entries lists every completed entry, newest cycle first within a model.
func (c *DiskCache) Entries() ([]weather.CacheEntry, error) {
	dirs, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}

	var entries []weather.CacheEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(c.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("list cache: %w", err)
		}
		for _, f := range files {
			key, ok := weather.ParseFileName(f.Name())
			if !ok || string(key.Model) != d.Name() {
				continue
			}
			if e, ok := c.Lookup(key); ok {
				entries = append(entries, e)
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if !a.Cycle.Equal(b.Cycle) {
			return a.Cycle.After(b.Cycle)
		}
		return a.ForecastHour < b.ForecastHour
	})
	return entries, nil
}

// PurgeFilter selects entries to delete. Zero values match everything.
type PurgeFilter struct {
	Model     weather.ModelID
	OlderThan time.Duration
}

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Purge deletes matching entries plus abandoned temp files.
func (c *DiskCache) Purge(filter PurgeFilter) (PurgeResult, error) {
	var res PurgeResult

	entries, err := c.Entries()
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		if filter.Model != "" && e.Key.Model != filter.Model {
			continue
		}
		if filter.OlderThan > 0 && c.clock.Since(e.FetchedAt) < filter.OlderThan {
			continue
		}
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return res, fmt.Errorf("purge %s: %w", e.Key, err)
		}
		res.Files++
		res.Bytes += e.SizeBytes
	}

	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), partSuffix) {
			return err
		}
		info, err := d.Info()
		if err != nil || c.clock.Since(info.ModTime()) < partStaleAfter {
			return nil
		}
		if os.Remove(path) == nil {
			res.Files++
			res.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("purge temp files: %w", err)
	}

	log.Printf("INFO: cache: purged %d files (%s)", res.Files, humanize.Bytes(uint64(res.Bytes)))
	return res, nil
}

var _ weather.Cache = (*DiskCache)(nil)
