package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"levelbridge/internal/annotate"
	"levelbridge/internal/chart"
	"levelbridge/internal/config"
	"levelbridge/internal/market"
	"levelbridge/internal/observability"
	"levelbridge/internal/state"
	"levelbridge/internal/store"
	"levelbridge/internal/symbol"
	"levelbridge/internal/upstream"
)

// Annotator runs draw cycles. *annotate.Coordinator implements it.
type Annotator interface {
	FetchAndDraw(ctx context.Context, sym, surface string, opts annotate.DrawOptions) (annotate.Result, error)
	FetchAndDrawTrades(ctx context.Context, sym, surface string, tradeCount int) (annotate.TradeResult, error)
	Clear(ctx context.Context, surface string) (int, error)
	ClearCategory(ctx context.Context, surface, category, prefix string) (int, error)
	Shapes(ctx context.Context, surface string) ([]annotate.ShapeInfo, error)
	Cached(ctx context.Context, sym string) ([]market.Level, error)
}

// Bridge is the chart side: surface listing, status broadcast and the websocket endpoint.
type Bridge interface {
	Surfaces() []chart.Info
	Broadcast(status string)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type SettingsStore interface {
	Settings(ctx context.Context, defaults store.Settings) (store.Settings, error)
	SaveSettings(ctx context.Context, st store.Settings) error
}

// Session reports whether an upstream session cookie is present.
type Session interface {
	HasSession() bool
}

type Deps struct {
	Config    config.Config
	State     *state.State
	Annotator Annotator
	Bridge    Bridge
	Settings  SettingsStore
	Session   Session
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type HTTPServer struct {
	cfg      config.Config
	st       *state.State
	ann      Annotator
	bridge   Bridge
	settings SettingsStore
	session  Session
	metrics  *observability.Metrics
	log      *slog.Logger
	engine   *gin.Engine
}

func NewHTTPServer(d Deps) *HTTPServer {
	if !strings.EqualFold(d.Config.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.State == nil {
		d.State = state.NewState(d.Config.TokenTTL())
	}
	s := &HTTPServer{
		cfg:      d.Config,
		st:       d.State,
		ann:      d.Annotator,
		bridge:   d.Bridge,
		settings: d.Settings,
		session:  d.Session,
		metrics:  d.Metrics,
		log:      d.Logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.engine }

func (s *HTTPServer) routes() {
	s.engine.GET("/ws", gin.WrapF(s.bridge.ServeWS))
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.apiHealth)
	api.GET("/config", s.apiConfig)
	api.POST("/settings", s.apiSettings)
	api.GET("/surfaces", s.apiSurfaces)
	api.POST("/levels", s.apiLevels)
	api.GET("/levels/:symbol", s.apiCachedLevels)
	api.POST("/trades", s.apiTrades)
	api.POST("/clear", s.apiClear)
	api.GET("/shapes", s.apiShapes)
	api.GET("/symbol/:symbol", s.apiSymbol)
}

func (s *HTTPServer) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("http",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
		)
	}
}

func (s *HTTPServer) apiHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"session":    s.session.HasSession(),
		"sessionOK":  s.st.SessionOK(),
		"surfaces":   len(s.bridge.Surfaces()),
		"lastSymbol": s.st.Symbol(),
	})
}

func (s *HTTPServer) currentSettings(c *gin.Context) (store.Settings, bool) {
	st, err := s.settings.Settings(c.Request.Context(), s.cfg.UserDefaults())
	if err != nil {
		s.log.Error("load settings", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings unavailable"})
		return st, false
	}
	return st, true
}

func (s *HTTPServer) apiConfig(c *gin.Context) {
	st, ok := s.currentSettings(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upstreamURL":    s.cfg.UpstreamURL,
		"chartTimeoutMs": s.cfg.ChartTimeoutMillis,
		"settings":       st,
		"defaults":       s.cfg.UserDefaults(),
	})
}

// POST /api/settings with any subset of the settings fields.
func (s *HTTPServer) apiSettings(c *gin.Context) {
	var req struct {
		LevelCount        *int     `json:"levelCount"`
		TradeCount        *int     `json:"tradeCount"`
		YearsOfHistory    *int     `json:"yearsOfHistory"`
		ClusteringEnabled *bool    `json:"clusteringEnabled"`
		ThresholdPercent  *float64 `json:"thresholdPercent"`
		ShowDates         *bool    `json:"showDates"`
		LineColor         *string  `json:"lineColor"`
		LineWidth         *int     `json:"lineWidth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
		return
	}
	st, ok := s.currentSettings(c)
	if !ok {
		return
	}
	if req.LevelCount != nil {
		st.LevelCount = *req.LevelCount
	}
	if req.TradeCount != nil {
		st.TradeCount = *req.TradeCount
	}
	if req.YearsOfHistory != nil {
		st.YearsOfHistory = *req.YearsOfHistory
	}
	if req.ClusteringEnabled != nil {
		st.ClusteringEnabled = *req.ClusteringEnabled
	}
	if req.ThresholdPercent != nil {
		st.ThresholdPercent = *req.ThresholdPercent
	}
	if req.ShowDates != nil {
		st.ShowDates = *req.ShowDates
	}
	if req.LineColor != nil {
		st.LineColor = strings.TrimSpace(*req.LineColor)
	}
	if req.LineWidth != nil {
		st.LineWidth = *req.LineWidth
	}
	if err := s.settings.SaveSettings(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": st})
}

func (s *HTTPServer) apiSurfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"surfaces": s.bridge.Surfaces()})
}

func (s *HTTPServer) apiLevels(c *gin.Context) {
	var req struct {
		Symbol  string `json:"symbol"`
		Surface string `json:"surface"`
		annotate.DrawOptions
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
		return
	}
	res, err := s.ann.FetchAndDraw(c.Request.Context(), req.Symbol, req.Surface, req.DrawOptions)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.st.SetSymbol(res.Symbol)
	s.st.SetSessionOK(true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": annotate.Status(res.Draw.Err), "result": res})
}

func (s *HTTPServer) apiTrades(c *gin.Context) {
	var req struct {
		Symbol  string `json:"symbol"`
		Surface string `json:"surface"`
		Count   int    `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
		return
	}
	res, err := s.ann.FetchAndDrawTrades(c.Request.Context(), req.Symbol, req.Surface, req.Count)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.st.SetSymbol(res.Symbol)
	s.st.SetSessionOK(true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": annotate.Status(res.Draw.Err), "result": res})
}

// POST /api/clear { "surface": "...", "category": "line"|"zone"|"note"|"all", "prefix": "VL" }
// Without a category only the shapes this process drew are removed.
func (s *HTTPServer) apiClear(c *gin.Context) {
	var req struct {
		Surface  string `json:"surface"`
		Category string `json:"category"`
		Prefix   string `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
		return
	}
	var (
		n   int
		err error
	)
	if req.Category == "" {
		n, err = s.ann.Clear(c.Request.Context(), req.Surface)
	} else {
		n, err = s.ann.ClearCategory(c.Request.Context(), req.Surface, strings.ToLower(req.Category), req.Prefix)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": n})
}

// apiShapes lists what the chart currently shows, marking shapes this process drew.
func (s *HTTPServer) apiShapes(c *gin.Context) {
	shapes, err := s.ann.Shapes(c.Request.Context(), c.Query("surface"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if shapes == nil {
		shapes = []annotate.ShapeInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "shapes": shapes})
}

func (s *HTTPServer) apiCachedLevels(c *gin.Context) {
	levels, err := s.ann.Cached(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.log.Error("cached levels", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache unavailable"})
		return
	}
	if levels == nil {
		levels = []market.Level{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol.ToExternal(c.Param("symbol")), "levels": levels})
}

func (s *HTTPServer) apiSymbol(c *gin.Context) {
	in := c.Param("symbol")
	ext := symbol.ToExternal(in)
	c.JSON(http.StatusOK, gin.H{
		"input":      in,
		"external":   ext,
		"display":    symbol.ToDisplay(ext),
		"shareClass": symbol.IsShareClass(ext),
	})
}

// fail maps a cycle error onto an HTTP status with the user-facing status line.
func (s *HTTPServer) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, upstream.ErrUnauthenticated), errors.Is(err, upstream.ErrSessionExpired):
		// every open chart learns about the lost session once, not only the caller's
		if s.st.SessionOK() {
			s.bridge.Broadcast(annotate.Status(err))
		}
		s.st.SetSessionOK(false)
		code = http.StatusUnauthorized
	case errors.Is(err, upstream.ErrTokenRejected):
		code = http.StatusConflict
	case errors.Is(err, upstream.ErrGeneric):
		code = http.StatusBadGateway
	case errors.Is(err, chart.ErrUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, chart.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, chart.ErrRejected):
		code = http.StatusBadGateway
	case errors.Is(err, annotate.ErrUnknownCategory):
		code = http.StatusBadRequest
	}
	c.JSON(code, gin.H{"ok": false, "error": err.Error(), "status": annotate.Status(err)})
}
