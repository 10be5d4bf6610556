package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"levelbridge/internal/annotate"
	"levelbridge/internal/authbrowser"
	"levelbridge/internal/chart"
	"levelbridge/internal/config"
	"levelbridge/internal/cookies"
	"levelbridge/internal/observability"
	"levelbridge/internal/server"
	"levelbridge/internal/state"
	"levelbridge/internal/store"
	"levelbridge/internal/upstream"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	fromBrowser := flag.String("cookies-from-browser", "", "import the upstream session from a local browser (chrome, edge, firefox, ...)")
	login := flag.Bool("login", false, "sign in through a Chrome window, save the session and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *cfgPath, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("levelbridge starting",
		slog.Int("port", cfg.Port),
		slog.String("upstream_url", cfg.UpstreamURL),
		slog.String("cache_path", cfg.CachePath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, "levelbridge")

	st := state.NewState(cfg.TokenTTL())

	client, err := upstream.NewClient(upstream.Options{
		BaseURL:          cfg.UpstreamURL,
		SessionStorePath: cfg.SessionStorePath,
		SessionCookie:    cfg.SessionCookieName,
		Timeout:          cfg.RequestTimeout(),
		Tokens:           st.Tokens,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("upstream client", slog.String("err", err.Error()))
		os.Exit(1)
	}

	if *fromBrowser != "" {
		if cs, err := cookies.FromBrowser(*fromBrowser, cfg.UpstreamURL); err != nil {
			logger.Error("cookie import failed", slog.String("err", err.Error()))
		} else {
			client.InjectCookies(cs)
			logger.Info("imported cookies from browser",
				slog.String("browser", *fromBrowser),
				slog.Int("count", len(cs)),
				slog.String("session_store", cfg.SessionStorePath),
			)
		}
	}

	if *login {
		lctx, cancelLogin := context.WithTimeout(ctx, 15*time.Minute)
		defer cancelLogin()
		err := authbrowser.AcquireSession(lctx, client, authbrowser.Options{
			BaseURL:       cfg.UpstreamURL,
			SessionCookie: cfg.SessionCookieName,
			Logger:        logger,
			Quiet:         cfg.LogLevel != "debug",
		})
		if err == nil {
			err = client.CheckSession(lctx)
		}
		if err != nil {
			logger.Error("login failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Info("login successful; session saved", slog.String("path", cfg.SessionStorePath))
		return
	}

	if client.HasSession() {
		cctx, ccancel := context.WithTimeout(ctx, cfg.RequestTimeout())
		if err := client.CheckSession(cctx); err != nil {
			logger.Warn("session check failed", slog.String("status", annotate.Status(err)))
		} else {
			st.SetSessionOK(true)
		}
		ccancel()
	} else {
		logger.Warn("no upstream session; run with --login or --cookies-from-browser")
	}

	cache, err := store.Open(ctx, cfg.CachePath)
	if err != nil {
		logger.Error("open cache", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer cache.Close()

	hub := chart.NewHub(chart.HubOptions{
		Timeout: cfg.ChartTimeout(),
		Metrics: metrics,
		Logger:  logger,
		OnLeave: st.Annotations.Forget,
	})
	go hub.Run(ctx)

	coord := annotate.NewCoordinator(client, cache, hub, st.Annotations, cfg.UserDefaults(), logger)

	srv := server.NewHTTPServer(server.Deps{
		Config:    cfg,
		State:     st,
		Annotator: coord,
		Bridge:    hub,
		Settings:  cache,
		Session:   client,
		Metrics:   metrics,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	cancel()
	<-done
	logger.Info("bye")
}
