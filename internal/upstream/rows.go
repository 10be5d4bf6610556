package upstream

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"levelbridge/internal/market"
)

// Field aliases, tried in order. The site has served PascalCase for years but older
// endpoints and some exports answer camelCase.
var (
	aliasTicker  = []string{"Ticker", "ticker", "Symbol", "symbol"}
	aliasPrice   = []string{"Price", "price"}
	aliasDollars = []string{"Dollars", "dollars"}
	aliasVolume  = []string{"Volume", "volume"}
	aliasTrades  = []string{"Trades", "trades"}
	aliasRank    = []string{"TradeLevelRank", "tradeLevelRank", "TradeRank", "tradeRank", "Rank", "rank"}
	aliasDates   = []string{"Dates", "dates"}
	aliasDate    = []string{"Date", "date"}
	aliasDark    = []string{"DarkPool", "darkPool", "IsDarkPool", "isDarkPool"}
)

type row map[string]any

type envelope struct {
	Data []row `json:"data"`
}

func (r row) get(aliases []string) (any, bool) {
	for _, k := range aliases {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// number reads a finite number. Strings such as "Infinity" or "NaN" parse as floats but are
// not values the site means, so they count as missing.
func (r row) number(aliases []string) (float64, bool) {
	v, ok := r.get(aliases)
	if !ok {
		return 0, false
	}
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	case string:
		f, err = strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (r row) integer(aliases []string) (int64, bool) {
	f, ok := r.number(aliases)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (r row) text(aliases []string) string {
	v, ok := r.get(aliases)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func (r row) flag(aliases []string) bool {
	v, ok := r.get(aliases)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case json.Number:
		n, _ := b.Int64()
		return n != 0
	case string:
		p, _ := strconv.ParseBool(b)
		return p
	}
	return false
}

// parseDates reads "YYYY-MM-DD - YYYY-MM-DD". A single date is a one-day range.
func parseDates(s string) *market.DateRange {
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, " - ", 2)
	start, err := time.Parse(market.DateLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return nil
	}
	end := start
	if len(parts) == 2 {
		if e, err := time.Parse(market.DateLayout, strings.TrimSpace(parts[1])); err == nil {
			end = e
		}
	}
	if end.Before(start) {
		start, end = end, start
	}
	return &market.DateRange{Start: start, End: end}
}

var msDateRe = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// parseMSDate reads "/Date(<millis>)/" into unix seconds.
func parseMSDate(s string) *int64 {
	m := msDateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	sec := ms / 1000
	return &sec
}

// toLevels maps rows onto levels. Rows without a positive numeric price are dropped; a price
// seen earlier in the same result is dropped too.
func toLevels(rows []row, ticker, source string, now time.Time) []market.Level {
	out := make([]market.Level, 0, len(rows))
	seen := make(map[float64]bool, len(rows))
	for _, r := range rows {
		price, ok := r.number(aliasPrice)
		if !ok || price <= 0 || seen[price] {
			continue
		}
		seen[price] = true

		sym := strings.ToUpper(r.text(aliasTicker))
		if sym == "" {
			sym = ticker
		}
		l := market.Level{
			Price:     price,
			Symbol:    sym,
			Dates:     parseDates(r.text(aliasDates)),
			CreatedAt: now,
			Source:    source,
		}
		if n, ok := r.integer(aliasRank); ok {
			rank := int(n)
			l.Rank = &rank
		}
		if d, ok := r.number(aliasDollars); ok && d >= 0 {
			l.Dollars = &d
		}
		if v, ok := r.integer(aliasVolume); ok && v >= 0 {
			l.Volume = &v
		}
		if t, ok := r.integer(aliasTrades); ok && t >= 0 {
			l.Trades = &t
		}
		out = append(out, l)
	}
	return out
}

// toTrades maps rows onto trades. Trades are not deduplicated; rows whose date does not parse
// keep a nil timestamp.
func toTrades(rows []row, ticker, source string) []market.Trade {
	out := make([]market.Trade, 0, len(rows))
	for _, r := range rows {
		price, ok := r.number(aliasPrice)
		if !ok || price <= 0 {
			continue
		}
		sym := strings.ToUpper(r.text(aliasTicker))
		if sym == "" {
			sym = ticker
		}
		t := market.Trade{
			Ticker:     sym,
			Price:      price,
			Timestamp:  parseMSDate(r.text(aliasDate)),
			IsDarkPool: r.flag(aliasDark),
			Source:     source,
		}
		if n, ok := r.integer(aliasRank); ok {
			rank := int(n)
			t.Rank = &rank
		}
		t.Dollars, _ = r.number(aliasDollars)
		t.Volume, _ = r.integer(aliasVolume)
		out = append(out, t)
	}
	return out
}
