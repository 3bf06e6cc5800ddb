package store

import (
	"context"
	"testing"
	"time"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var (
	denver  = weather.Location{Lat: 39.7392, Lon: -104.9903}
	boulder = weather.Location{Lat: 40.015, Lon: -105.2705}
	base    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func profileAt(loc weather.Location, at time.Time) weather.ProfileResult {
	return weather.ProfileResult{
		Location:    loc,
		Run:         weather.NewRunKey(weather.ModelHRRR, at.Truncate(time.Hour), 0),
		ModelName:   "HRRR",
		GeneratedAt: at,
		Profile: weather.WindProfile{
			Reference: weather.ReferenceMSL,
			StepFt:    1000,
			CeilingFt: 2000,
			Samples: []weather.AltitudeSample{
				{AltitudeFt: 0, SpeedKts: 5, DirectionDeg: 270},
				{AltitudeFt: 1000, SpeedKts: 10, DirectionDeg: 280},
				{AltitudeFt: 2000, SpeedKts: 15, DirectionDeg: 290},
			},
		},
	}
}

func TestMemoryStore_latestAndRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, s.SaveProfile(ctx, profileAt(boulder, base)))

	latest, err := s.GetLatest(ctx, denver)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Hour), latest.GeneratedAt)

	got, err := s.GetRange(ctx, denver, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "range is inclusive at both ends")
	assert.Equal(t, base, got[0].GeneratedAt)

	_, err = s.GetRange(ctx, denver, base.Add(-time.Hour), base.Add(-time.Minute))
	assert.ErrorIs(t, err, weather.ErrNotFound)
}

func TestMemoryStore_notFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10, time.Hour)
	_, err := s.GetLatest(context.Background(), denver)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRange(context.Background(), denver, base, base)
	assert.ErrorIs(t, err, weather.ErrNotFound)
}

func TestMemoryStore_outOfOrderSaves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(0, 0)
	require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base.Add(time.Hour))))
	require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base)))

	latest, err := s.GetLatest(ctx, denver)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), latest.GeneratedAt)
}

func TestMemoryStore_retentionByCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore(2, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base.Add(time.Duration(i)*time.Hour))))
	}

	got, err := s.GetRange(ctx, denver, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(3*time.Hour), got[0].GeneratedAt)
	assert.Equal(t, base.Add(4*time.Hour), got[1].GeneratedAt)
}

func TestMemoryStore_retentionByAge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := clocktesting.NewFakePassiveClock(base.Add(3 * time.Hour))
	s := NewMemoryStore(0, 2*time.Hour).WithClock(clk)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base.Add(time.Duration(i)*time.Hour))))
	}
	got, err := s.GetRange(ctx, denver, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3, "the profile exactly at the cutoff is kept")
	assert.Equal(t, base.Add(time.Hour), got[0].GeneratedAt)

	// everything expired
	clk.SetTime(base.Add(48 * time.Hour))
	require.NoError(t, s.SaveProfile(ctx, profileAt(denver, base)))
	_, err = s.GetLatest(ctx, denver)
	assert.ErrorIs(t, err, ErrNotFound)
}
