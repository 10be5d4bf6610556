package cluster

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelbridge/internal/market"
)

func lvl(price float64, rank int, dollars float64) market.Level {
	r, d := rank, dollars
	return market.Level{Price: price, Symbol: "AAPL", Rank: &r, Dollars: &d}
}

func prices(levels []market.Level) []float64 {
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Price)
	}
	return out
}

// flatten returns every member level of items, in item order.
func flatten(items []Item) []market.Level {
	var out []market.Level
	for _, it := range items {
		out = append(out, it.Members()...)
	}
	return out
}

func TestClusterEmpty(t *testing.T) {
	assert.Empty(t, Cluster(nil, 1))
	assert.Empty(t, Cluster([]market.Level{}, 0))
}

func TestClusterChainsOnRunningHigh(t *testing.T) {
	in := []market.Level{lvl(102.5, 3, 1e6), lvl(100, 1, 2e6), lvl(101, 2, 3e6)}

	items := Cluster(in, 1)
	require.Len(t, items, 2)

	z, ok := items[0].(Zone)
	require.True(t, ok, "first item should be a zone, got %T", items[0])
	assert.Equal(t, []float64{100, 101}, prices(z.Levels))
	assert.Equal(t, 101.0, z.High)
	assert.Equal(t, 100.0, z.Low)
	assert.Equal(t, 100.5, z.Mid)
	assert.Equal(t, []int{1, 2}, z.Aggregated.Ranks)
	assert.Equal(t, 2, z.Aggregated.LevelCount)
	assert.InDelta(t, 5e6, z.Aggregated.TotalDollars, 1e-6)
	assert.InDelta(t, 2.5e6, z.Aggregated.AvgDollars, 1e-6)

	s, ok := items[1].(Single)
	require.True(t, ok, "second item should be a single, got %T", items[1])
	assert.Equal(t, 102.5, s.Level.Price)
}

func TestClusterSpanCanExceedThreshold(t *testing.T) {
	// Each step is 0.9% above the previous high; the whole run is far wider than 1%.
	var in []market.Level
	p := 100.0
	for i := 0; i < 6; i++ {
		in = append(in, lvl(p, i+1, 0))
		p *= 1.009
	}
	items := Cluster(in, 1)
	require.Len(t, items, 1)
	z := items[0].(Zone)
	assert.Equal(t, 6, z.Aggregated.LevelCount)
	assert.Greater(t, (z.High-z.Low)/z.Low, 0.04)
}

func TestClusterDisabledKeepsInputOrder(t *testing.T) {
	in := []market.Level{lvl(105, 1, 0), lvl(100, 2, 0), lvl(100.1, 3, 0)}
	for _, thr := range []float64{0, -1} {
		items := Cluster(in, thr)
		require.Len(t, items, len(in))
		for i, it := range items {
			s, ok := it.(Single)
			require.True(t, ok)
			assert.Equal(t, in[i].Price, s.Level.Price)
		}
	}
}

func TestClusterSingleLevelNeverZone(t *testing.T) {
	items := Cluster([]market.Level{lvl(50, 1, 1)}, 5)
	require.Len(t, items, 1)
	_, ok := items[0].(Single)
	assert.True(t, ok)
}

func TestZoneAggregatesSkipMissingFields(t *testing.T) {
	r := 9
	in := []market.Level{
		{Price: 10, Rank: &r},
		{Price: 10.05},
		lvl(10.08, 4, 300),
	}
	items := Cluster(in, 1)
	require.Len(t, items, 1)
	z := items[0].(Zone)
	assert.Equal(t, []int{4, 9}, z.Aggregated.Ranks)
	assert.Equal(t, 300.0, z.Aggregated.TotalDollars)
	assert.Equal(t, 100.0, z.Aggregated.AvgDollars)
}

func TestClusterPartitionsInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		seen := map[float64]bool{}
		var in []market.Level
		for len(in) < n {
			p := float64(rng.Intn(20000)+1) / 100
			if seen[p] {
				continue
			}
			seen[p] = true
			in = append(in, lvl(p, rng.Intn(50), rng.Float64()*1e7))
		}
		for _, thr := range []float64{-2, 0, 0.1, 1, 5} {
			items := Cluster(in, thr)
			got := prices(flatten(items))
			want := prices(in)
			slices.Sort(got)
			slices.Sort(want)
			assert.Equal(t, want, got, "round %d threshold %v", round, thr)
			for _, it := range items {
				if z, ok := it.(Zone); ok {
					assert.GreaterOrEqual(t, len(z.Levels), 2)
					assert.Equal(t, len(z.Levels), z.Aggregated.LevelCount)
				}
			}
		}
	}
}

func TestClusterNonFinitePricesStaySingle(t *testing.T) {
	inf := market.Level{Price: math.Inf(1), Symbol: "AAPL"}
	nan := market.Level{Price: math.NaN(), Symbol: "AAPL"}
	in := []market.Level{inf, lvl(10, 1, 1e6), nan, lvl(10.05, 2, 2e6)}

	items := Cluster(in, 1)
	require.Len(t, items, 3)
	z, ok := items[0].(Zone)
	require.True(t, ok)
	assert.Equal(t, []float64{10, 10.05}, prices(z.Levels))
	assert.True(t, math.IsInf(items[1].(Single).Level.Price, 1))
	assert.True(t, math.IsNaN(items[2].(Single).Level.Price))
	assert.Len(t, flatten(items), len(in))
}

func TestClusterNonFiniteThreshold(t *testing.T) {
	in := []market.Level{lvl(10, 1, 1e6), lvl(50, 2, 1e6), lvl(20, 3, 1e6)}

	items := Cluster(in, math.NaN())
	require.Len(t, items, 3)
	assert.Equal(t, 10.0, items[0].(Single).Level.Price)
	assert.Equal(t, 50.0, items[1].(Single).Level.Price)

	items = Cluster(in, math.Inf(1))
	require.Len(t, items, 1)
	assert.Equal(t, []float64{10, 20, 50}, prices(items[0].(Zone).Levels))
}

func TestZoneTotalIgnoresNonFiniteDollars(t *testing.T) {
	a, b := lvl(10, 1, 1e6), lvl(10.01, 2, 0)
	inf := math.Inf(1)
	b.Dollars = &inf

	z := Cluster([]market.Level{a, b}, 1)[0].(Zone)
	assert.Equal(t, 1e6, z.Aggregated.TotalDollars)
}

func TestClusterDecimalBoundary(t *testing.T) {
	items := Cluster([]market.Level{lvl(1.0, 1, 0), lvl(1.1, 2, 0)}, 10)
	require.Len(t, items, 1)
	_, ok := items[0].(Zone)
	assert.True(t, ok)
}
