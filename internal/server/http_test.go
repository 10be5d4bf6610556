package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelbridge/internal/annotate"
	"levelbridge/internal/chart"
	"levelbridge/internal/config"
	"levelbridge/internal/market"
	"levelbridge/internal/observability"
	"levelbridge/internal/state"
	"levelbridge/internal/store"
	"levelbridge/internal/upstream"
)

type fakeAnnotator struct {
	err        error
	drawErr    error
	gotSymbol  string
	gotSurface string
	gotOpts    annotate.DrawOptions
	gotCount   int
	cleared    string
}

func (f *fakeAnnotator) FetchAndDraw(_ context.Context, sym, surface string, opts annotate.DrawOptions) (annotate.Result, error) {
	f.gotSymbol, f.gotSurface, f.gotOpts = sym, surface, opts
	if f.err != nil {
		return annotate.Result{}, f.err
	}
	res := annotate.Result{Symbol: strings.ToUpper(sym), Levels: []market.Level{{Price: 10}}}
	if f.drawErr != nil {
		res.Draw = annotate.DrawReport{Attempted: true, Err: f.drawErr, Error: f.drawErr.Error()}
	}
	return res, nil
}

func (f *fakeAnnotator) FetchAndDrawTrades(_ context.Context, sym, surface string, count int) (annotate.TradeResult, error) {
	f.gotSymbol, f.gotSurface, f.gotCount = sym, surface, count
	if f.err != nil {
		return annotate.TradeResult{}, f.err
	}
	return annotate.TradeResult{Symbol: strings.ToUpper(sym)}, nil
}

func (f *fakeAnnotator) Clear(_ context.Context, surface string) (int, error) {
	f.cleared = surface
	return 2, f.err
}

func (f *fakeAnnotator) ClearCategory(_ context.Context, surface, category, prefix string) (int, error) {
	f.cleared = surface + "/" + category + "/" + prefix
	if category == "circle" {
		return 0, annotate.ErrUnknownCategory
	}
	return 5, f.err
}

func (f *fakeAnnotator) Shapes(_ context.Context, surface string) ([]annotate.ShapeInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []annotate.ShapeInfo{{Shape: chart.Shape{ID: "s1", Kind: "line", Price: 10}, Tracked: true}}, nil
}

func (f *fakeAnnotator) Cached(_ context.Context, sym string) ([]market.Level, error) {
	if sym == "NONE" {
		return nil, nil
	}
	return []market.Level{{Price: 1, Symbol: sym}}, nil
}

type fakeBridge struct {
	infos      []chart.Info
	broadcasts []string
}

func (b *fakeBridge) Surfaces() []chart.Info { return b.infos }

func (b *fakeBridge) Broadcast(status string) { b.broadcasts = append(b.broadcasts, status) }

func (b *fakeBridge) ServeWS(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

type fakeSession bool

func (s fakeSession) HasSession() bool { return bool(s) }

func newTestServer(t *testing.T, ann *fakeAnnotator) (*HTTPServer, *state.State) {
	t.Helper()
	srv, shared, _ := newTestServerWithBridge(t, ann)
	return srv, shared
}

func newTestServerWithBridge(t *testing.T, ann *fakeAnnotator) (*HTTPServer, *state.State, *fakeBridge) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	shared := state.NewState(time.Minute)
	bridge := &fakeBridge{infos: []chart.Info{{ID: "abc", Symbol: "AAPL"}}}
	srv := NewHTTPServer(Deps{
		Config:    cfg,
		State:     shared,
		Annotator: ann,
		Bridge:    bridge,
		Settings:  st,
		Session:   fakeSession(true),
		Metrics:   observability.NewMetrics(prometheus.NewRegistry(), "test"),
	})
	return srv, shared, bridge
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndSurfaces(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{})

	rec, body := do(t, srv.Router(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["session"])
	assert.Equal(t, float64(1), body["surfaces"])

	rec, body = do(t, srv.Router(), http.MethodGet, "/api/surfaces", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	surfaces := body["surfaces"].([]any)
	require.Len(t, surfaces, 1)
	assert.Equal(t, "abc", surfaces[0].(map[string]any)["id"])
}

func TestSettingsPartialUpdate(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{})

	rec, body := do(t, srv.Router(), http.MethodPost, "/api/settings", `{"thresholdPercent":2.5,"showDates":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, 2.5, settings["thresholdPercent"])
	assert.Equal(t, true, settings["showDates"])
	assert.Equal(t, float64(10), settings["levelCount"])

	_, body = do(t, srv.Router(), http.MethodGet, "/api/config", "")
	saved := body["settings"].(map[string]any)
	assert.Equal(t, 2.5, saved["thresholdPercent"])
	assert.Equal(t, 1.0, body["defaults"].(map[string]any)["thresholdPercent"])

	rec, _ = do(t, srv.Router(), http.MethodPost, "/api/settings", `{"levelCount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv.Router(), http.MethodPost, "/api/settings", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLevelsPassesOptionsAndRecordsSymbol(t *testing.T) {
	ann := &fakeAnnotator{}
	srv, shared := newTestServer(t, ann)

	rec, body := do(t, srv.Router(), http.MethodPost, "/api/levels", `{"symbol":"aapl","surface":"abc","levelCount":20,"clustering":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aapl", ann.gotSymbol)
	assert.Equal(t, "abc", ann.gotSurface)
	assert.Equal(t, 20, ann.gotOpts.LevelCount)
	require.NotNil(t, ann.gotOpts.Clustering)
	assert.False(t, *ann.gotOpts.Clustering)
	assert.Equal(t, "Done", body["status"])
	assert.Equal(t, "AAPL", shared.Symbol())
	assert.True(t, shared.SessionOK())
}

func TestLevelsDrawErrorIsStillOK(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{drawErr: chart.ErrUnavailable})

	rec, body := do(t, srv.Router(), http.MethodPost, "/api/levels", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["status"], "Chart not ready")
	result := body["result"].(map[string]any)
	assert.Len(t, result["levels"], 1)
}

func TestFetchErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&upstream.FetchError{Kind: upstream.ErrUnauthenticated, Op: "levels"}, http.StatusUnauthorized},
		{&upstream.FetchError{Kind: upstream.ErrSessionExpired, Op: "levels", Status: 403}, http.StatusUnauthorized},
		{&upstream.FetchError{Kind: upstream.ErrTokenRejected, Op: "levels", Status: 400}, http.StatusConflict},
		{&upstream.FetchError{Kind: upstream.ErrGeneric, Op: "levels", Status: 500}, http.StatusBadGateway},
		{chart.ErrUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		srv, shared := newTestServer(t, &fakeAnnotator{err: tc.err})
		shared.SetSessionOK(true)
		rec, body := do(t, srv.Router(), http.MethodPost, "/api/trades", `{"symbol":"TSLA","count":5}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, annotate.Status(tc.err), body["status"])
	}
}

func TestClearRoutes(t *testing.T) {
	ann := &fakeAnnotator{}
	srv, _ := newTestServer(t, ann)

	rec, body := do(t, srv.Router(), http.MethodPost, "/api/clear", `{"surface":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["removed"])
	assert.Equal(t, "abc", ann.cleared)

	rec, body = do(t, srv.Router(), http.MethodPost, "/api/clear", `{"surface":"abc","category":"Zone","prefix":"VL"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), body["removed"])
	assert.Equal(t, "abc/zone/VL", ann.cleared)

	rec, _ = do(t, srv.Router(), http.MethodPost, "/api/clear", `{"category":"circle"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCachedLevelsAndSymbol(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{})

	rec, body := do(t, srv.Router(), http.MethodGet, "/api/levels/NONE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["levels"])

	rec, body = do(t, srv.Router(), http.MethodGet, "/api/symbol/NYSE:BRK.B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BRKB", body["external"])
	assert.Equal(t, "BRK.B", body["display"])
	assert.Equal(t, true, body["shareClass"])
}

func TestWebsocketAndMetricsMounted(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{})

	rec, _ := do(t, srv.Router(), http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec, _ = do(t, srv.Router(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLossBroadcastsOnce(t *testing.T) {
	ann := &fakeAnnotator{err: &upstream.FetchError{Kind: upstream.ErrSessionExpired, Op: "levels", Status: 401}}
	srv, shared, bridge := newTestServerWithBridge(t, ann)
	shared.SetSessionOK(true)

	rec, _ := do(t, srv.Router(), http.MethodPost, "/api/levels", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, srv.Router(), http.MethodPost, "/api/levels", `{"symbol":"AAPL"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Len(t, bridge.broadcasts, 1)
	assert.Equal(t, annotate.Status(ann.err), bridge.broadcasts[0])
	assert.False(t, shared.SessionOK())

	ann.err = &upstream.FetchError{Kind: upstream.ErrGeneric, Op: "levels", Status: 500}
	shared.SetSessionOK(true)
	_, _ = do(t, srv.Router(), http.MethodPost, "/api/levels", `{"symbol":"AAPL"}`)
	assert.Len(t, bridge.broadcasts, 1)
}

func TestShapesRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnnotator{})
	rec, body := do(t, srv.Router(), http.MethodGet, "/api/shapes?surface=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	shapes := body["shapes"].([]any)
	require.Len(t, shapes, 1)
	assert.Equal(t, "s1", shapes[0].(map[string]any)["id"])
	assert.Equal(t, true, shapes[0].(map[string]any)["tracked"])

	srv, _ = newTestServer(t, &fakeAnnotator{err: chart.ErrUnavailable})
	rec, _ = do(t, srv.Router(), http.MethodGet, "/api/shapes", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
