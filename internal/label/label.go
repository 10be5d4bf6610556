// Package label renders short chart labels for levels and zones.
package label

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"levelbridge/internal/cluster"
	"levelbridge/internal/market"
)

// Tag starts every label. Clear-by-prefix on the chart relies on it.
const Tag = "VL"

var (
	billion  = decimal.NewFromInt(1_000_000_000)
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

// Dollars formats a dollar amount: $1.2B, $250M, $75K, $999.
// Rounding is half away from zero. A non-finite amount renders as "$?".
func Dollars(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$?"
	}
	d := decimal.NewFromFloat(amount)
	switch {
	case d.GreaterThanOrEqual(billion):
		return "$" + d.Div(billion).Round(1).StringFixed(1) + "B"
	case d.GreaterThanOrEqual(million):
		return "$" + d.Div(million).Round(0).String() + "M"
	case d.GreaterThanOrEqual(thousand):
		return "$" + d.Div(thousand).Round(0).String() + "K"
	}
	return "$" + d.Round(0).String()
}

// Level labels a single level: "VL #3 $250M [2024-01-05]".
func Level(l market.Level, showDates bool) string {
	parts := []string{Tag}
	if l.Rank != nil {
		parts = append(parts, "#"+strconv.Itoa(*l.Rank))
	}
	if l.Dollars != nil {
		parts = append(parts, Dollars(*l.Dollars))
	}
	if showDates && l.Dates != nil {
		parts = append(parts, l.Dates.StartString())
	}
	return strings.Join(parts, " ")
}

// Zone labels a zone: "VL #7,9,10 $2.9B [earliest start date]".
func Zone(z cluster.Zone, showDates bool) string {
	parts := []string{Tag}
	if len(z.Aggregated.Ranks) > 0 {
		ranks := slices.Clone(z.Aggregated.Ranks)
		slices.Sort(ranks)
		strs := make([]string, len(ranks))
		for i, r := range ranks {
			strs[i] = strconv.Itoa(r)
		}
		parts = append(parts, "#"+strings.Join(strs, ","))
	}
	if z.Aggregated.TotalDollars > 0 {
		parts = append(parts, Dollars(z.Aggregated.TotalDollars))
	}
	if showDates {
		var starts []string
		for _, l := range z.Levels {
			if l.Dates != nil {
				starts = append(starts, l.Dates.StartString())
			}
		}
		if len(starts) > 0 {
			// ISO dates sort chronologically as strings.
			slices.Sort(starts)
			parts = append(parts, starts[0])
		}
	}
	return strings.Join(parts, " ")
}

// Item dispatches to Level or Zone.
func Item(it cluster.Item, showDates bool) string {
	switch v := it.(type) {
	case cluster.Zone:
		return Zone(v, showDates)
	case cluster.Single:
		return Level(v.Level, showDates)
	}
	return Tag
}

// Labeled pairs a cluster item with its label.
type Labeled struct {
	Item  cluster.Item `json:"item"`
	Label string       `json:"label"`
}

// All labels every item in order.
func All(items []cluster.Item, showDates bool) []Labeled {
	out := make([]Labeled, 0, len(items))
	for _, it := range items {
		out = append(out, Labeled{Item: it, Label: Item(it, showDates)})
	}
	return out
}

// Trade labels a trade marker: "VL #2 $55M DP". DP marks dark-pool prints.
func Trade(t market.Trade) string {
	parts := []string{Tag}
	if t.Rank != nil {
		parts = append(parts, "#"+strconv.Itoa(*t.Rank))
	}
	if t.Dollars > 0 {
		parts = append(parts, Dollars(t.Dollars))
	}
	if t.IsDarkPool {
		parts = append(parts, "DP")
	}
	return strings.Join(parts, " ")
}
