package cluster

import (
	"levelbridge/internal/market"
)

// Item is one unit of clustering output: either a Single or a Zone.
type Item interface {
	// Members returns the levels in this item, ascending by price for zones.
	Members() []market.Level
	isItem()
}

// Single wraps exactly one level.
type Single struct {
	Level market.Level `json:"level"`
}

// Aggregated holds zone-wide statistics.
type Aggregated struct {
	Ranks        []int   `json:"ranks"`        // ascending, levels without a rank are skipped
	TotalDollars float64 `json:"totalDollars"` // absent dollars count as 0
	LevelCount   int     `json:"levelCount"`   // >= 2
	AvgDollars   float64 `json:"avgDollars"`
}

// Zone is two or more nearby levels collapsed into one band.
type Zone struct {
	Levels     []market.Level `json:"levels"` // ascending by price
	High       float64        `json:"high"`
	Low        float64        `json:"low"`
	Mid        float64        `json:"mid"` // (High+Low)/2
	Aggregated Aggregated     `json:"aggregated"`
}

func (s Single) Members() []market.Level { return []market.Level{s.Level} }
func (z Zone) Members() []market.Level   { return z.Levels }

func (Single) isItem() {}
func (Zone) isItem()   {}
