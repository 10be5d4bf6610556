package cluster

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"levelbridge/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Cluster groups levels into zones. A candidate joins the current cluster when its distance
// above the cluster's highest price is at most thresholdPercent of that high. The reference
// moves up with every admission, so a run of closely spaced levels chains into one zone even
// when its total span exceeds the threshold.
//
// The admission test is evaluated in decimal, so a gap exactly equal to the threshold is
// admitted even where the float formula would round it out (high 1.0, candidate 1.1, 10%).
//
// thresholdPercent <= 0 or NaN disables grouping: every level becomes a Single in input order.
// An infinite threshold admits every candidate. Levels with a non-finite price have no place
// on the price axis; each is emitted as a Single after the sorted items.
func Cluster(levels []market.Level, thresholdPercent float64) []Item {
	if len(levels) == 0 {
		return nil
	}
	if !(thresholdPercent > 0) {
		out := make([]Item, 0, len(levels))
		for _, l := range levels {
			out = append(out, Single{Level: l})
		}
		return out
	}

	sorted := make([]market.Level, 0, len(levels))
	var stray []market.Level
	for _, l := range levels {
		if finite(l.Price) {
			sorted = append(sorted, l)
		} else {
			stray = append(stray, l)
		}
	}
	out := make([]Item, 0, len(levels))
	if len(sorted) > 0 {
		out = chain(sorted, thresholdPercent, out)
	}
	for _, l := range stray {
		out = append(out, Single{Level: l})
	}
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// chain sorts levels by price and appends the clusters found to out.
func chain(sorted []market.Level, thresholdPercent float64, out []Item) []Item {
	slices.SortStableFunc(sorted, func(a, b market.Level) int {
		switch {
		case a.Price < b.Price:
			return -1
		case a.Price > b.Price:
			return 1
		}
		return 0
	})

	// Decimal keeps boundary gaps exact: 101-100 vs 1% of 100 must admit.
	admitAll := math.IsInf(thresholdPercent, 1)
	pct := decimal.Zero
	if !admitAll {
		pct = decimal.NewFromFloat(thresholdPercent)
	}
	current := []market.Level{sorted[0]}
	high := decimal.NewFromFloat(sorted[0].Price)

	for _, cand := range sorted[1:] {
		price := decimal.NewFromFloat(cand.Price)
		window := high.Mul(pct).Div(hundred)
		if admitAll || price.Sub(high).LessThanOrEqual(window) {
			current = append(current, cand)
			if price.GreaterThan(high) {
				high = price
			}
			continue
		}
		out = append(out, closeCluster(current))
		current = []market.Level{cand}
		high = price
	}
	out = append(out, closeCluster(current))
	return out
}

func closeCluster(levels []market.Level) Item {
	if len(levels) == 1 {
		return Single{Level: levels[0]}
	}

	low, high := levels[0].Price, levels[0].Price
	ranks := make([]int, 0, len(levels))
	total := decimal.Zero
	for _, l := range levels {
		low = min(low, l.Price)
		high = max(high, l.Price)
		if l.Rank != nil {
			ranks = append(ranks, *l.Rank)
		}
		if l.Dollars != nil && finite(*l.Dollars) {
			total = total.Add(decimal.NewFromFloat(*l.Dollars))
		}
	}
	slices.Sort(ranks)

	n := len(levels)
	return Zone{
		Levels: levels,
		High:   high,
		Low:    low,
		Mid:    (high + low) / 2,
		Aggregated: Aggregated{
			Ranks:        ranks,
			TotalDollars: total.InexactFloat64(),
			LevelCount:   n,
			AvgDollars:   total.Div(decimal.NewFromInt(int64(n))).InexactFloat64(),
		},
	}
}
