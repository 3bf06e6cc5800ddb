package weather

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_cachedSelectionSkipsDownload(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	tr := newFakeTransport()
	key := NewRunKey(ModelGFS, cycleAt(6), 0)
	entry := cache.put(key)

	got, fromCache, err := NewFetcher(cache, tr).Fetch(context.Background(), Selection{Key: key, Cached: &entry}, nil)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, entry, got)
	assert.Empty(t, tr.fetched)
}

func TestFetch_storesDownload(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	tr := newFakeTransport()
	key := NewRunKey(ModelGFS, cycleAt(6), 0)

	var done, total int64
	got, fromCache, err := NewFetcher(cache, tr).Fetch(context.Background(), Selection{Key: key, URL: "https://x/gfs"}, func(d, n int64) {
		done, total = d, n
	})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, int64(len(tr.body)), got.SizeBytes)
	assert.Equal(t, total, done)

	_, ok := cache.Lookup(key)
	assert.True(t, ok)
}

func TestFetch_interruptedDownloadIsNotVisible(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	tr := newFakeTransport()
	key := NewRunKey(ModelRAP, cycleAt(12), 0)
	tr.dlErr["https://x/rap"] = &TransportError{URL: "https://x/rap", Err: errors.New("unexpected EOF"), Retryable: true}

	_, _, err := NewFetcher(cache, tr).Fetch(context.Background(), Selection{Key: key, URL: "https://x/rap"}, nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))

	_, ok := cache.Lookup(key)
	assert.False(t, ok)
}

func TestFetch_storeRejection(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.storeErr = errors.New("not a GRIB2 file")
	tr := newFakeTransport()
	key := NewRunKey(ModelRAP, cycleAt(12), 0)

	_, _, err := NewFetcher(cache, tr).Fetch(context.Background(), Selection{Key: key, URL: "https://x/rap"}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not a GRIB2 file")
	assert.NotErrorIs(t, err, ErrTransport)
}
