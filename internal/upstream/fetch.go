package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"levelbridge/internal/market"
)

// Price and dollar filters sent with every query. The site requires them; these values
// cover every listed US equity.
const (
	minPrice   = "0"
	maxPrice   = "1000000"
	minDollars = "0"
	maxDollars = "1000000000000"
)

// Source tags stamped on ingested records.
const (
	SourceLevels = "trade-levels"
	SourceTrades = "trades"
)

// FetchLevels returns up to levelCount ranked levels for ticker over the last
// yearsOfHistory years. Zero rows is an empty slice, not an error.
func (c *Client) FetchLevels(ctx context.Context, ticker string, levelCount, yearsOfHistory int) ([]market.Level, error) {
	start := c.now()
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	rows, err := c.query(ctx, "levels", levelsPath, ticker, func(form url.Values) {
		from, to := c.defaultWindow(yearsOfHistory)
		form.Set("StartDate", from)
		form.Set("EndDate", to)
		form.Set("TradeLevelCount", strconv.Itoa(levelCount))
		form.Set("length", strconv.Itoa(levelCount))
		form.Set("columns[0][data]", "TradeLevelRank")
		form.Set("order[0][column]", "0")
		form.Set("order[0][dir]", "asc")
	})
	c.metrics.ObserveFetch("levels", outcome(err), c.now().Sub(start))
	if err != nil {
		return nil, err
	}
	levels := toLevels(rows, ticker, SourceLevels, c.now())
	c.logger.Info("levels fetched",
		slog.String("ticker", ticker),
		slog.Int("rows", len(rows)),
		slog.Int("levels", len(levels)),
	)
	return levels, nil
}

// FetchTrades returns up to tradeCount large trades for ticker. A non-nil visible range sets
// the date window exactly; otherwise the window is the last yearsOfHistory years, as for levels.
func (c *Client) FetchTrades(ctx context.Context, ticker string, tradeCount, yearsOfHistory int, visible *market.VisibleRange) ([]market.Trade, error) {
	start := c.now()
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	rows, err := c.query(ctx, "trades", tradesPath, ticker, func(form url.Values) {
		from, to := c.defaultWindow(yearsOfHistory)
		if visible != nil {
			from = time.Unix(visible.From, 0).UTC().Format(market.DateLayout)
			to = time.Unix(visible.To, 0).UTC().Format(market.DateLayout)
		}
		form.Set("StartDate", from)
		form.Set("EndDate", to)
		form.Set("TradeCount", strconv.Itoa(tradeCount))
		form.Set("length", strconv.Itoa(tradeCount))
		form.Set("columns[0][data]", "Dollars")
		form.Set("order[0][column]", "0")
		form.Set("order[0][dir]", "desc")
	})
	c.metrics.ObserveFetch("trades", outcome(err), c.now().Sub(start))
	if err != nil {
		return nil, err
	}
	trades := toTrades(rows, ticker, SourceTrades)
	c.logger.Info("trades fetched", slog.String("ticker", ticker), slog.Int("trades", len(trades)))
	return trades, nil
}

// defaultWindow is [today - years, today] as YYYY-MM-DD. years < 1 means one year.
func (c *Client) defaultWindow(years int) (string, string) {
	if years < 1 {
		years = 1
	}
	today := c.now()
	return today.AddDate(-years, 0, 0).Format(market.DateLayout), today.Format(market.DateLayout)
}

// query posts one DataTables-style request and decodes the data rows. A rejected token is
// dropped here and refetched by the next call, never retried within this one.
func (c *Client) query(ctx context.Context, op, path, ticker string, fill func(url.Values)) ([]row, error) {
	if !c.HasSession() {
		return nil, fetchErr(ErrUnauthenticated, op, 0, nil)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("draw", "1")
	form.Set("start", "0")
	form.Set("Ticker", ticker)
	form.Set("MinPrice", minPrice)
	form.Set("MaxPrice", maxPrice)
	form.Set("MinDollars", minDollars)
	form.Set("MaxDollars", maxDollars)
	fill(form)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fetchErr(ErrGeneric, op, 0, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set(tokenHeader, tok)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fetchErr(ErrGeneric, op, 0, err)
	}
	defer resp.Body.Close()

	if err := c.classify(op, resp); err != nil {
		c.logger.Warn("upstream rejected request", slog.String("op", op), slog.String("ticker", ticker), logErr(err))
		return nil, err
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fetchErr(ErrGeneric, op, resp.StatusCode, err)
	}
	return env.Data, nil
}
