// Package annotate runs fetch, cluster, label and draw cycles against a chart surface.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"levelbridge/internal/chart"
	"levelbridge/internal/cluster"
	"levelbridge/internal/label"
	"levelbridge/internal/market"
	"levelbridge/internal/state"
	"levelbridge/internal/store"
	"levelbridge/internal/symbol"
)

// Fetcher is the upstream data source.
type Fetcher interface {
	FetchLevels(ctx context.Context, ticker string, levelCount, yearsOfHistory int) ([]market.Level, error)
	FetchTrades(ctx context.Context, ticker string, tradeCount, yearsOfHistory int, visible *market.VisibleRange) ([]market.Trade, error)
}

// Cache persists fetched data and user settings.
type Cache interface {
	SaveLevels(ctx context.Context, symbol string, levels []market.Level) error
	Levels(ctx context.Context, symbol string) ([]market.Level, error)
	SaveTrades(ctx context.Context, symbol string, trades []market.Trade) error
	Settings(ctx context.Context, defaults store.Settings) (store.Settings, error)
}

// Surfaces resolves a surface id to a drawing host. An empty id means the most recent one.
type Surfaces interface {
	Lookup(id string) (chart.Host, error)
}

// ErrUnknownCategory is returned by ClearCategory for a category the chart does not know.
var ErrUnknownCategory = errors.New("unknown shape category")

type Coordinator struct {
	fetcher  Fetcher
	cache    Cache
	surfaces Surfaces
	drawn    *state.Annotations
	defaults store.Settings
	logger   *slog.Logger
}

func NewCoordinator(f Fetcher, c Cache, s Surfaces, drawn *state.Annotations, defaults store.Settings, logger *slog.Logger) *Coordinator {
	if drawn == nil {
		drawn = state.NewAnnotations()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{fetcher: f, cache: c, surfaces: s, drawn: drawn, defaults: defaults, logger: logger}
}

// DrawOptions override stored settings for one cycle. Zero values keep the stored setting.
type DrawOptions struct {
	LevelCount       int      `json:"levelCount,omitempty"`
	YearsOfHistory   int      `json:"yearsOfHistory,omitempty"`
	Clustering       *bool    `json:"clustering,omitempty"`
	ThresholdPercent *float64 `json:"thresholdPercent,omitempty"`
	ShowDates        *bool    `json:"showDates,omitempty"`
}

// ItemResult is the outcome of drawing one shape.
type ItemResult struct {
	Kind    string  `json:"kind"`
	Price   float64 `json:"price"`
	Label   string  `json:"label"`
	ShapeID string  `json:"shapeId,omitempty"`
	Skipped bool    `json:"skipped,omitempty"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
}

// DrawReport describes the drawing step. Err is set when the step failed as a whole or any
// item failed; the fetched data in the enclosing result is valid either way.
type DrawReport struct {
	Surface   string       `json:"surface,omitempty"`
	Attempted bool         `json:"attempted"`
	Drawn     int          `json:"drawn"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Items     []ItemResult `json:"items,omitempty"`
	Err       error        `json:"-"`
	Error     string       `json:"error,omitempty"`
}

type Result struct {
	Symbol string          `json:"symbol"`
	Levels []market.Level  `json:"levels"`
	Items  []label.Labeled `json:"items"`
	Draw   DrawReport      `json:"draw"`
}

type TradeResult struct {
	Symbol  string               `json:"symbol"`
	Trades  []market.Trade       `json:"trades"`
	Visible *market.VisibleRange `json:"visible,omitempty"`
	Draw    DrawReport           `json:"draw"`
}

func (c *Coordinator) settings(ctx context.Context) store.Settings {
	st, err := c.cache.Settings(ctx, c.defaults)
	if err != nil {
		c.logger.Warn("settings unavailable, using defaults", slog.String("err", err.Error()))
		return c.defaults
	}
	return st
}

// host resolves surface. An empty surface with nothing connected is not an error: the
// caller simply gets no drawing.
func (c *Coordinator) host(surface string) (chart.Host, error) {
	if c.surfaces == nil {
		if surface == "" {
			return nil, nil
		}
		return nil, chart.ErrUnavailable
	}
	h, err := c.surfaces.Lookup(surface)
	if err != nil {
		if surface == "" && errors.Is(err, chart.ErrUnavailable) {
			return nil, nil
		}
		return nil, err
	}
	return h, nil
}

// FetchAndDraw fetches levels for sym, stores them, clusters and labels them and draws them
// on surface. Fetch errors are returned as is. Draw errors land in Result.Draw.
func (c *Coordinator) FetchAndDraw(ctx context.Context, sym, surface string, opts DrawOptions) (Result, error) {
	if strings.TrimSpace(sym) == "" {
		resolved, err := c.ResolveSymbol(ctx, surface)
		if err != nil {
			return Result{}, err
		}
		sym = resolved
	}
	sym = symbol.ToExternal(sym)
	res := Result{Symbol: sym}

	st := c.settings(ctx)
	if opts.LevelCount > 0 {
		st.LevelCount = opts.LevelCount
	}
	if opts.YearsOfHistory > 0 {
		st.YearsOfHistory = opts.YearsOfHistory
	}
	if opts.Clustering != nil {
		st.ClusteringEnabled = *opts.Clustering
	}
	if opts.ThresholdPercent != nil {
		st.ThresholdPercent = *opts.ThresholdPercent
	}
	if opts.ShowDates != nil {
		st.ShowDates = *opts.ShowDates
	}

	levels, err := c.fetcher.FetchLevels(ctx, sym, st.LevelCount, st.YearsOfHistory)
	if err != nil {
		c.logger.Warn("fetch levels", slog.String("symbol", sym), slog.String("err", err.Error()))
		c.notify(surface, Status(err))
		return res, err
	}
	res.Levels = levels
	if err := c.cache.SaveLevels(ctx, sym, levels); err != nil {
		c.logger.Warn("cache levels", slog.String("symbol", sym), slog.String("err", err.Error()))
	}
	if len(levels) == 0 {
		res.Items = []label.Labeled{}
		c.notify(surface, fmt.Sprintf("No levels for %s", symbol.ToDisplay(sym)))
		return res, nil
	}

	threshold := st.ThresholdPercent
	if !st.ClusteringEnabled {
		threshold = 0
	}
	res.Items = label.All(cluster.Cluster(levels, threshold), st.ShowDates)

	host, err := c.host(surface)
	if err != nil {
		res.Draw = DrawReport{Surface: surface, Attempted: true, Err: err, Error: err.Error()}
		return res, nil
	}
	if host == nil {
		return res, nil
	}
	res.Draw = c.drawLevels(ctx, host, res.Items, chart.Style{Color: st.LineColor, Width: st.LineWidth})
	host.Notify(c.summary(sym, len(levels), res.Draw))
	return res, nil
}

func (c *Coordinator) drawLevels(ctx context.Context, host chart.Host, items []label.Labeled, style chart.Style) DrawReport {
	rep := DrawReport{Surface: host.ID(), Attempted: true}
	if err := host.CheckReady(ctx); err != nil {
		rep.fail(err)
		return rep
	}
	c.removeTracked(ctx, host, state.KindLine, state.KindZone)

	var firstErr error
	for _, it := range items {
		ir := ItemResult{Label: it.Label}
		var id string
		var err error
		switch v := it.Item.(type) {
		case cluster.Zone:
			ir.Kind, ir.Price = state.KindZone, v.Mid
			id, err = host.DrawZone(ctx, v.High, v.Low, v.Mid, it.Label, style)
		case cluster.Single:
			ir.Kind, ir.Price = state.KindLine, v.Level.Price
			id, err = host.DrawLine(ctx, v.Level.Price, it.Label, style)
		default:
			continue
		}
		if err != nil {
			ir.Err, ir.Error = err, err.Error()
			rep.Failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			ir.ShapeID = id
			rep.Drawn++
			c.drawn.Add(host.ID(), state.Drawn{ID: id, Kind: ir.Kind, Price: ir.Price, Label: ir.Label})
		}
		rep.Items = append(rep.Items, ir)
	}
	if firstErr != nil {
		rep.fail(fmt.Errorf("%d of %d shapes failed: %w", rep.Failed, len(rep.Items), firstErr))
	}
	return rep
}

// FetchAndDrawTrades fetches trades for sym over the surface's visible range (or the default
// window when the range is unknown), stores them and draws a note per timestamped trade.
func (c *Coordinator) FetchAndDrawTrades(ctx context.Context, sym, surface string, tradeCount int) (TradeResult, error) {
	if strings.TrimSpace(sym) == "" {
		resolved, err := c.ResolveSymbol(ctx, surface)
		if err != nil {
			return TradeResult{}, err
		}
		sym = resolved
	}
	sym = symbol.ToExternal(sym)
	res := TradeResult{Symbol: sym}

	st := c.settings(ctx)
	if tradeCount <= 0 {
		tradeCount = st.TradeCount
	}

	host, hostErr := c.host(surface)
	if host != nil {
		vr, err := host.GetVisibleRange(ctx)
		if err != nil {
			c.logger.Info("visible range unavailable, using default window",
				slog.String("surface", host.ID()),
				slog.String("err", err.Error()),
			)
		} else {
			res.Visible = &vr
		}
	}

	trades, err := c.fetcher.FetchTrades(ctx, sym, tradeCount, st.YearsOfHistory, res.Visible)
	if err != nil {
		c.logger.Warn("fetch trades", slog.String("symbol", sym), slog.String("err", err.Error()))
		c.notify(surface, Status(err))
		return res, err
	}
	res.Trades = trades
	if err := c.cache.SaveTrades(ctx, sym, trades); err != nil {
		c.logger.Warn("cache trades", slog.String("symbol", sym), slog.String("err", err.Error()))
	}

	switch {
	case hostErr != nil:
		res.Draw = DrawReport{Surface: surface, Attempted: true, Err: hostErr, Error: hostErr.Error()}
	case host != nil && len(trades) > 0:
		res.Draw = c.drawTrades(ctx, host, trades)
		host.Notify(fmt.Sprintf("%d trades for %s: %d drawn, %d without date", len(trades), symbol.ToDisplay(sym), res.Draw.Drawn, res.Draw.Skipped))
	case host != nil:
		host.Notify(fmt.Sprintf("No trades for %s", symbol.ToDisplay(sym)))
	}
	return res, nil
}

func (c *Coordinator) drawTrades(ctx context.Context, host chart.Host, trades []market.Trade) DrawReport {
	rep := DrawReport{Surface: host.ID(), Attempted: true}
	if err := host.CheckReady(ctx); err != nil {
		rep.fail(err)
		return rep
	}
	c.removeTracked(ctx, host, state.KindNote)

	var firstErr error
	for _, t := range trades {
		ir := ItemResult{Kind: state.KindNote, Price: t.Price, Label: label.Trade(t)}
		if t.Timestamp == nil {
			ir.Skipped = true
			rep.Skipped++
			rep.Items = append(rep.Items, ir)
			continue
		}
		id, err := host.DrawNote(ctx, chart.Note{
			Price:    t.Price,
			Time:     *t.Timestamp,
			Rank:     t.Rank,
			DarkPool: t.IsDarkPool,
			Dollars:  t.Dollars,
			Label:    ir.Label,
		})
		if err != nil {
			ir.Err, ir.Error = err, err.Error()
			rep.Failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			ir.ShapeID = id
			rep.Drawn++
			c.drawn.Add(host.ID(), state.Drawn{ID: id, Kind: state.KindNote, Price: t.Price, Label: ir.Label})
		}
		rep.Items = append(rep.Items, ir)
	}
	if firstErr != nil {
		rep.fail(fmt.Errorf("%d of %d notes failed: %w", rep.Failed, rep.Drawn+rep.Failed, firstErr))
	}
	return rep
}

func (r *DrawReport) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// removeTracked removes shapes of the given kinds that an earlier cycle drew on host.
// Removal failures are logged; the shape is forgotten either way.
func (c *Coordinator) removeTracked(ctx context.Context, host chart.Host, kinds ...string) int {
	removed := 0
	for _, d := range c.drawn.Take(host.ID(), kinds...) {
		if err := host.RemoveShape(ctx, d.ID); err != nil {
			c.logger.Debug("remove shape", slog.String("id", d.ID), slog.String("err", err.Error()))
			continue
		}
		removed++
	}
	return removed
}

// Clear removes every shape the coordinator drew on surface.
func (c *Coordinator) Clear(ctx context.Context, surface string) (int, error) {
	host, err := c.host(surface)
	if err != nil {
		return 0, err
	}
	if host == nil {
		return 0, chart.ErrUnavailable
	}
	n := c.removeTracked(ctx, host)
	host.Notify(fmt.Sprintf("Cleared %d shapes", n))
	return n, nil
}

// ClearCategory asks the host to remove all shapes of category whose label starts with
// prefix, including ones drawn before a restart. An empty prefix means the label tag.
func (c *Coordinator) ClearCategory(ctx context.Context, surface, category, prefix string) (int, error) {
	switch category {
	case chart.CategoryLine, chart.CategoryZone, chart.CategoryNote, chart.CategoryAll:
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownCategory, category)
	}
	if prefix == "" {
		prefix = label.Tag
	}
	host, err := c.host(surface)
	if err != nil {
		return 0, err
	}
	if host == nil {
		return 0, chart.ErrUnavailable
	}
	n, err := host.Clear(ctx, category, prefix)
	if err != nil {
		return 0, err
	}
	if category == chart.CategoryAll {
		c.drawn.Take(host.ID())
	} else {
		c.drawn.Take(host.ID(), category)
	}
	host.Notify(fmt.Sprintf("Cleared %d shapes", n))
	return n, nil
}

// ShapeInfo is a shape on the chart. Tracked marks shapes this process drew.
type ShapeInfo struct {
	chart.Shape
	Tracked bool `json:"tracked"`
}

// Shapes lists every shape the host reports for surface, whoever drew it.
func (c *Coordinator) Shapes(ctx context.Context, surface string) ([]ShapeInfo, error) {
	host, err := c.host(surface)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, chart.ErrUnavailable
	}
	shapes, err := host.GetAllShapes(ctx)
	if err != nil {
		return nil, err
	}
	ours := map[string]bool{}
	for _, d := range c.drawn.List(host.ID()) {
		ours[d.ID] = true
	}
	out := make([]ShapeInfo, 0, len(shapes))
	for _, sh := range shapes {
		out = append(out, ShapeInfo{Shape: sh, Tracked: ours[sh.ID]})
	}
	return out, nil
}

// ResolveSymbol reads the symbol shown on surface and converts it to the upstream form.
func (c *Coordinator) ResolveSymbol(ctx context.Context, surface string) (string, error) {
	host, err := c.host(surface)
	if err != nil {
		return "", err
	}
	if host == nil {
		return "", fmt.Errorf("no symbol given and %w", chart.ErrUnavailable)
	}
	raw, err := host.GetSymbol(ctx)
	if err != nil {
		return "", err
	}
	return symbol.ToExternal(raw), nil
}

// Cached returns the levels stored by the last successful fetch for sym.
func (c *Coordinator) Cached(ctx context.Context, sym string) ([]market.Level, error) {
	return c.cache.Levels(ctx, symbol.ToExternal(sym))
}

func (c *Coordinator) notify(surface, msg string) {
	host, err := c.host(surface)
	if err != nil || host == nil {
		return
	}
	host.Notify(msg)
}

func (c *Coordinator) summary(sym string, levels int, rep DrawReport) string {
	if rep.Err != nil {
		return fmt.Sprintf("%d levels for %s, %d drawn: %s", levels, symbol.ToDisplay(sym), rep.Drawn, Status(rep.Err))
	}
	return fmt.Sprintf("%d levels for %s, %d shapes drawn", levels, symbol.ToDisplay(sym), rep.Drawn)
}
