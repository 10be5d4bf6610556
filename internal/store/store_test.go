package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelbridge/internal/market"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLevelsRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rank, dollars := 2, 1.5e6
	vol := int64(12000)
	start, _ := time.Parse(market.DateLayout, "2024-02-01")
	end, _ := time.Parse(market.DateLayout, "2024-05-31")
	in := []market.Level{
		{Price: 101.5, Rank: &rank, Dollars: &dollars, Volume: &vol,
			Dates: &market.DateRange{Start: start, End: end}, CreatedAt: time.UnixMilli(1700000000000), Source: "levels"},
		{Price: 99.25, Source: "levels", CreatedAt: time.UnixMilli(1700000000000)},
	}
	require.NoError(t, s.SaveLevels(ctx, "aapl", in))

	got, err := s.Levels(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 101.5, got[0].Price)
	assert.Equal(t, "AAPL", got[0].Symbol)
	require.NotNil(t, got[0].Rank)
	assert.Equal(t, 2, *got[0].Rank)
	require.NotNil(t, got[0].Dates)
	assert.Equal(t, "2024-02-01", got[0].Dates.StartString())
	assert.Nil(t, got[1].Rank)
	assert.Nil(t, got[1].Dollars)
	assert.Nil(t, got[1].Dates)
}

func TestSaveLevelsReplacesAndDedupes(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLevels(ctx, "MSFT", []market.Level{{Price: 1}, {Price: 2}, {Price: 3}}))
	require.NoError(t, s.SaveLevels(ctx, "MSFT", []market.Level{{Price: 5}, {Price: 5}}))

	got, err := s.Levels(ctx, "msft")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].Price)
}

func TestTradesRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ts := int64(1700000000)
	in := []market.Trade{
		{Ticker: "AAPL", Price: 190, Timestamp: &ts, Dollars: 5e7, Volume: 260000, IsDarkPool: true},
		{Ticker: "AAPL", Price: 190, Dollars: 1e7, Volume: 50000},
	}
	require.NoError(t, s.SaveTrades(ctx, "AAPL", in))

	got, err := s.Trades(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 2, "trades are never deduplicated")
	assert.True(t, got[0].IsDarkPool)
	require.NotNil(t, got[0].Timestamp)
	assert.Equal(t, ts, *got[0].Timestamp)
	assert.Nil(t, got[1].Timestamp)
}

func TestSettingsDefaultsAndOverrides(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	def := Settings{LevelCount: 10, TradeCount: 10, YearsOfHistory: 1, ClusteringEnabled: true,
		ThresholdPercent: 1, LineColor: "#fff", LineWidth: 1}

	got, err := s.Settings(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	want := def
	want.ThresholdPercent = 0.35
	want.ShowDates = true
	want.ClusteringEnabled = false
	require.NoError(t, s.SaveSettings(ctx, want))

	got, err = s.Settings(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	bad := want
	bad.LevelCount = 0
	assert.Error(t, s.SaveSettings(ctx, bad))

	bad = want
	bad.ThresholdPercent = math.NaN()
	assert.Error(t, s.SaveSettings(ctx, bad))
	bad.ThresholdPercent = math.Inf(1)
	assert.Error(t, s.SaveSettings(ctx, bad))
}
