package market

import (
	"time"
)

// DateLayout is the calendar-date layout used by the upstream site and by labels.
const DateLayout = "2006-01-02"

// DateRange is an inclusive span of calendar dates (Start <= End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StartString returns the start date as YYYY-MM-DD.
func (d DateRange) StartString() string { return d.Start.Format(DateLayout) }

// EndString returns the end date as YYYY-MM-DD.
func (d DateRange) EndString() string { return d.End.Format(DateLayout) }

// Level is a single ranked price level for one symbol.
type Level struct {
	Price     float64    `json:"price"`             // > 0
	Symbol    string     `json:"symbol"`            // canonical UPPER symbol
	Rank      *int       `json:"rank,omitempty"`    // lower is more significant
	Dollars   *float64   `json:"dollars,omitempty"` // aggregate dollar volume
	Volume    *int64     `json:"volume,omitempty"`
	Trades    *int64     `json:"trades,omitempty"`
	Dates     *DateRange `json:"dates,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Source    string     `json:"source"` // which request produced it
}

// Trade is a single large print. Trades are never merged with levels.
type Trade struct {
	Ticker     string  `json:"ticker"`
	Price      float64 `json:"price"`
	Timestamp  *int64  `json:"timestamp,omitempty"` // unix seconds; nil when the upstream date did not parse
	Rank       *int    `json:"rank,omitempty"`
	Dollars    float64 `json:"dollars"`
	Volume     int64   `json:"volume"`
	IsDarkPool bool    `json:"isDarkPool"`
	Source     string  `json:"source"`
}

// VisibleRange is the time span currently shown on a chart, in unix seconds.
type VisibleRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}
