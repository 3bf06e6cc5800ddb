package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var (
	denver   = Location{Lat: 39.74, Lon: -104.99}
	honolulu = Location{Lat: 21.3, Lon: -157.8}
	// 12:55Z: HRRR/RAP latest is 12Z, GFS latest is 06Z
	selectNow = time.Date(2024, 5, 1, 12, 55, 0, 0, time.UTC)
)

func cycleAt(h int) time.Time { return time.Date(2024, 5, 1, h, 0, 0, 0, time.UTC) }

func newTestSelector(cat *Catalog, cache Cache, tr Transport, conc int) *RunSelector {
	return NewRunSelector(cat, cache, tr, clocktesting.NewFakePassiveClock(selectNow), SelectorConfig{
		LookbackCycles:   6,
		ProbeTimeout:     time.Second,
		ProbeConcurrency: conc,
	})
}

func TestCandidates_freshestCycleFirst(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	s := newTestSelector(cat, nil, newFakeTransport(), 1)

	keys, err := s.Candidates(SelectRequest{Location: denver, Model: ModelAuto, ForecastHour: 0})
	require.NoError(t, err)
	require.Len(t, keys, 18)
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(12), 0), keys[0])
	assert.Equal(t, NewRunKey(ModelRAP, cycleAt(12), 0), keys[1])
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(11), 0), keys[2])
	assert.Equal(t, NewRunKey(ModelRAP, cycleAt(11), 0), keys[3])
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(7), 0), keys[10])
	assert.Equal(t, NewRunKey(ModelRAP, cycleAt(7), 0), keys[11])
	assert.Equal(t, NewRunKey(ModelGFS, cycleAt(6), 0), keys[12])
	assert.Equal(t, NewRunKey(ModelGFS, cycleAt(0), 0), keys[13])

	for i := 1; i < len(keys); i++ {
		assert.False(t, keys[i].Cycle.After(keys[i-1].Cycle), "cycle order broken at %d", i)
	}

	keys, err = s.Candidates(SelectRequest{Location: denver, Model: ModelAuto, ForecastHour: 3})
	require.NoError(t, err)
	require.Len(t, keys, 36)
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(12), 3), keys[0])
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(12), 0), keys[1])
	assert.Equal(t, NewRunKey(ModelRAP, cycleAt(12), 3), keys[2])
}

func TestCandidates_sameCycleFollowsCatalogOrder(t *testing.T) {
	t.Parallel()

	// at 09:30Z GFS 06Z is issued alongside the 06Z hourly runs
	cat := DefaultCatalog("")
	s := NewRunSelector(cat, nil, newFakeTransport(), clocktesting.NewFakePassiveClock(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)), SelectorConfig{LookbackCycles: 4})

	keys, err := s.Candidates(SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, []RunKey{
		NewRunKey(ModelHRRR, cycleAt(8), 0),
		NewRunKey(ModelRAP, cycleAt(8), 0),
		NewRunKey(ModelHRRR, cycleAt(7), 0),
		NewRunKey(ModelRAP, cycleAt(7), 0),
		NewRunKey(ModelHRRR, cycleAt(6), 0),
		NewRunKey(ModelRAP, cycleAt(6), 0),
		NewRunKey(ModelGFS, cycleAt(6), 0),
		NewRunKey(ModelHRRR, cycleAt(5), 0),
		NewRunKey(ModelRAP, cycleAt(5), 0),
		NewRunKey(ModelGFS, cycleAt(0), 0),
	}, keys[:10])
}

func TestSelect_lateHRRRBeatsOlderGFS(t *testing.T) {
	t.Parallel()

	// HRRR 12Z is running late; GFS 06Z is six hours older than HRRR 11Z
	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	gfs, _ := cat.Model(ModelGFS)
	tr := newFakeTransport()
	tr.publish(
		hrrr.URL(NewRunKey(ModelHRRR, cycleAt(11), 0)),
		gfs.URL(NewRunKey(ModelGFS, cycleAt(6), 0)),
	)

	for _, conc := range []int{1, 4} {
		sel, err := newTestSelector(cat, nil, tr, conc).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
		require.NoError(t, err)
		assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(11), 0), sel.Key, "concurrency %d", conc)
	}
}

func TestCandidates_explicitModelSkipsShortCycles(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	s := newTestSelector(cat, nil, newFakeTransport(), 1)

	// f30 exists only for synoptic HRRR cycles; 12Z is the only one in the lookback
	keys, err := s.Candidates(SelectRequest{Location: denver, Model: ModelHRRR, ForecastHour: 30})
	require.NoError(t, err)
	assert.Equal(t, []RunKey{NewRunKey(ModelHRRR, cycleAt(12), 30)}, keys)

	for _, k := range keys {
		assert.Equal(t, 30, k.ForecastHour, "explicit mode never falls back to f00")
	}
}

func TestCandidates_invalidInput(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	tr := newFakeTransport()
	s := newTestSelector(cat, nil, tr, 2)

	cases := []SelectRequest{
		{Location: honolulu, Model: ModelHRRR},
		{Location: denver, Model: "nam"},
		{Location: denver, Model: ModelHRRR, ForecastHour: 49},
		{Location: denver, Model: ModelAuto, ForecastHour: -1},
		{Location: honolulu, Model: ModelAuto, ForecastHour: 7},
		{Location: Location{Lat: 200, Lon: 0}, Model: ModelAuto},
		{Location: Location{Lat: 40, Lon: -400}, Model: ModelGFS},
	}
	for _, req := range cases {
		_, err := s.Select(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}
	assert.Zero(t, tr.probeCount(), "invalid input must not touch the network")
}

func TestSelect_prefersFresherCycleOverFinerGrid(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	rap, _ := cat.Model(ModelRAP)
	tr := newFakeTransport()
	tr.publish(
		hrrr.URL(NewRunKey(ModelHRRR, cycleAt(11), 0)),
		rap.URL(NewRunKey(ModelRAP, cycleAt(12), 0)),
	)

	sel, err := newTestSelector(cat, nil, tr, 1).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, NewRunKey(ModelRAP, cycleAt(12), 0), sel.Key)
	assert.Equal(t, rap.URL(sel.Key), sel.URL)
	assert.Nil(t, sel.Cached)
}

func TestSelect_explicitHRRRNearNorthernBorder(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	tr := newFakeTransport()
	tr.publish(hrrr.URL(NewRunKey(ModelHRRR, cycleAt(12), 0)))
	s := newTestSelector(cat, nil, tr, 2)

	for _, loc := range []Location{
		{Lat: 48.23, Lon: -101.3},  // Minot ND
		{Lat: 48.75, Lon: -122.48}, // Bellingham WA
	} {
		sel, err := s.Select(context.Background(), SelectRequest{Location: loc, Model: ModelHRRR})
		require.NoError(t, err, loc.Key())
		assert.Equal(t, ModelHRRR, sel.Key.Model)

		sel, err = s.Select(context.Background(), SelectRequest{Location: loc, Model: ModelAuto})
		require.NoError(t, err, loc.Key())
		assert.Equal(t, ModelHRRR, sel.Key.Model)
	}
}

func TestSelect_sameCyclePrefersFinestModel(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	rap, _ := cat.Model(ModelRAP)
	tr := newFakeTransport()
	tr.publish(
		rap.URL(NewRunKey(ModelRAP, cycleAt(12), 0)),
		hrrr.URL(NewRunKey(ModelHRRR, cycleAt(12), 0)),
	)

	sel, err := newTestSelector(cat, nil, tr, 4).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(12), 0), sel.Key)
}

func TestSelect_fallsBackToAnalysisHour(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	tr := newFakeTransport()
	tr.publish(hrrr.URL(NewRunKey(ModelHRRR, cycleAt(12), 0)))

	sel, err := newTestSelector(cat, nil, tr, 4).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto, ForecastHour: 6})
	require.NoError(t, err)
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(12), 0), sel.Key)
	assert.Equal(t, cycleAt(12), sel.ValidTime)
}

func TestSelect_usesCacheWithoutProbing(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	cache := newFakeCache()
	key := NewRunKey(ModelHRRR, cycleAt(12), 0)
	cache.put(key)
	tr := newFakeTransport()

	sel, err := newTestSelector(cat, cache, tr, 4).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, key, sel.Key)
	require.NotNil(t, sel.Cached)
	assert.Zero(t, tr.probeCount())
}

func TestSelect_ignoresUnusableCache(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	rap, _ := cat.Model(ModelRAP)
	cache := newFakeCache()
	cache.reusable = false
	cache.put(NewRunKey(ModelHRRR, cycleAt(12), 0))
	tr := newFakeTransport()
	tr.publish(rap.URL(NewRunKey(ModelRAP, cycleAt(12), 0)))

	sel, err := newTestSelector(cat, cache, tr, 4).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, ModelRAP, sel.Key.Model)
	assert.Nil(t, sel.Cached)
}

func TestSelect_deterministicUnderConcurrency(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	gfs, _ := cat.Model(ModelGFS)
	tr := newFakeTransport()
	tr.publish(
		hrrr.URL(NewRunKey(ModelHRRR, cycleAt(9), 0)),
		hrrr.URL(NewRunKey(ModelHRRR, cycleAt(8), 0)),
		gfs.URL(NewRunKey(ModelGFS, cycleAt(0), 0)),
	)

	s := newTestSelector(cat, nil, tr, 4)
	var first RunKey
	for i := 0; i < 20; i++ {
		sel, err := s.Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
		require.NoError(t, err)
		if i == 0 {
			first = sel.Key
		}
		assert.Equal(t, first, sel.Key)
	}
	assert.Equal(t, NewRunKey(ModelHRRR, cycleAt(9), 0), first)
}

func TestSelect_probeErrorMovesOn(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	rap, _ := cat.Model(ModelRAP)
	tr := newFakeTransport()
	bad := hrrr.URL(NewRunKey(ModelHRRR, cycleAt(12), 0))
	tr.probeErr[bad] = &TransportError{URL: bad, Err: errors.New("connection reset"), Retryable: true}
	tr.publish(bad, rap.URL(NewRunKey(ModelRAP, cycleAt(12), 0)))

	sel, err := newTestSelector(cat, nil, tr, 2).Select(context.Background(), SelectRequest{Location: denver, Model: ModelAuto})
	require.NoError(t, err)
	assert.Equal(t, ModelRAP, sel.Key.Model)
}

func TestSelect_excludeSkipsKeys(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	hrrr, _ := cat.Model(ModelHRRR)
	tr := newFakeTransport()
	k12 := NewRunKey(ModelHRRR, cycleAt(12), 0)
	k11 := NewRunKey(ModelHRRR, cycleAt(11), 0)
	tr.publish(hrrr.URL(k12), hrrr.URL(k11))

	sel, err := newTestSelector(cat, nil, tr, 1).Select(context.Background(), SelectRequest{
		Location: denver,
		Model:    ModelHRRR,
		Exclude:  []RunKey{k12},
	})
	require.NoError(t, err)
	assert.Equal(t, k11, sel.Key)
}

func TestSelect_noForecastListsAttempts(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	s := newTestSelector(cat, nil, newFakeTransport(), 3)

	_, err := s.Select(context.Background(), SelectRequest{Location: honolulu, Model: ModelAuto})
	require.ErrorIs(t, err, ErrNoForecastAvailable)

	var nf *NoForecastError
	require.ErrorAs(t, err, &nf)
	require.Len(t, nf.Attempts, 6)
	assert.Equal(t, NewRunKey(ModelGFS, cycleAt(6), 0), nf.Keys()[0])
	assert.Equal(t, "not published", nf.Attempts[0].Reason)
}

func TestSelect_cancelledContext(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSelector(cat, nil, newFakeTransport(), 2).Select(ctx, SelectRequest{Location: denver, Model: ModelAuto})
	assert.ErrorIs(t, err, context.Canceled)
}
