package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"levelbridge/internal/store"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Upstream trade-level site
	UpstreamURL           string `yaml:"upstream_url"`
	SessionStorePath      string `yaml:"session_store_path"`
	SessionCookieName     string `yaml:"session_cookie_name"`
	TokenTTLSeconds       int    `yaml:"token_ttl_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`

	// Durable cache
	CachePath string `yaml:"cache_path"`

	// Defaults for user settings; values saved through /api/settings win.
	LevelCount        int     `yaml:"level_count"`
	TradeCount        int     `yaml:"trade_count"`
	YearsOfHistory    int     `yaml:"years_of_history"`
	ClusteringEnabled bool    `yaml:"clustering_enabled"`
	ThresholdPercent  float64 `yaml:"threshold_percent"`
	ShowDates         bool    `yaml:"show_dates"`
	LineColor         string  `yaml:"line_color"`
	LineWidth         int     `yaml:"line_width"`

	// Chart bridge
	ChartTimeoutMillis int `yaml:"chart_timeout_ms"`
}

func defaults() Config {
	return Config{
		Port:                  8087,
		LogLevel:              "info",
		UpstreamURL:           "https://www.volumeleaders.com",
		SessionStorePath:      "./data/session.json",
		SessionCookieName:     ".ASPXAUTH",
		TokenTTLSeconds:       1800,
		RequestTimeoutSeconds: 20,
		CachePath:             "./data/cache.db",
		LevelCount:            10,
		TradeCount:            10,
		YearsOfHistory:        1,
		ClusteringEnabled:     true,
		ThresholdPercent:      1.0,
		ShowDates:             false,
		LineColor:             "#2962FF",
		LineWidth:             1,
		ChartTimeoutMillis:    5000,
	}
}

// Load reads path over the defaults. A missing file is not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	c.UpstreamURL = strings.TrimRight(strings.TrimSpace(c.UpstreamURL), "/")
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://") {
		return errors.New("upstream_url must be an http(s) URL")
	}
	if c.SessionCookieName == "" {
		return errors.New("session_cookie_name required")
	}
	if c.TokenTTLSeconds < 1 {
		return errors.New("token_ttl_seconds must be >=1")
	}
	if c.LevelCount < 1 || c.TradeCount < 1 {
		return errors.New("level_count and trade_count must be >=1")
	}
	if c.YearsOfHistory < 1 {
		return errors.New("years_of_history must be >=1")
	}
	if c.LineWidth < 1 {
		return errors.New("line_width must be >=1")
	}
	if c.ChartTimeoutMillis < 100 {
		return errors.New("chart_timeout_ms must be >=100")
	}
	return nil
}

func (c Config) TokenTTL() time.Duration { return time.Duration(c.TokenTTLSeconds) * time.Second }
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
func (c Config) ChartTimeout() time.Duration {
	return time.Duration(c.ChartTimeoutMillis) * time.Millisecond
}

// UserDefaults are the settings used until the user saves their own.
func (c Config) UserDefaults() store.Settings {
	return store.Settings{
		LevelCount:        c.LevelCount,
		TradeCount:        c.TradeCount,
		YearsOfHistory:    c.YearsOfHistory,
		ClusteringEnabled: c.ClusteringEnabled,
		ThresholdPercent:  c.ThresholdPercent,
		ShowDates:         c.ShowDates,
		LineColor:         c.LineColor,
		LineWidth:         c.LineWidth,
	}
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
