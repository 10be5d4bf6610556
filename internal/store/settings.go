package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Settings are the user-adjustable knobs of a fetch/draw cycle.
type Settings struct {
	LevelCount        int     `json:"levelCount"`
	TradeCount        int     `json:"tradeCount"`
	YearsOfHistory    int     `json:"yearsOfHistory"`
	ClusteringEnabled bool    `json:"clusteringEnabled"`
	ThresholdPercent  float64 `json:"thresholdPercent"`
	ShowDates         bool    `json:"showDates"`
	LineColor         string  `json:"lineColor"`
	LineWidth         int     `json:"lineWidth"`
}

// Setting keys as stored in the settings table.
const (
	KeyLevelCount        = "level_count"
	KeyTradeCount        = "trade_count"
	KeyYearsOfHistory    = "years_of_history"
	KeyClusteringEnabled = "clustering_enabled"
	KeyThresholdPercent  = "threshold_percent"
	KeyShowDates         = "show_dates"
	KeyLineColor         = "line_color"
	KeyLineWidth         = "line_width"
)

// Settings returns the stored settings, falling back to defaults for keys never saved or
// holding values that no longer parse.
func (s *Store) Settings(ctx context.Context, defaults Settings) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return defaults, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := defaults
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return defaults, fmt.Errorf("scan setting: %w", err)
		}
		switch k {
		case KeyLevelCount:
			setInt(&out.LevelCount, v)
		case KeyTradeCount:
			setInt(&out.TradeCount, v)
		case KeyYearsOfHistory:
			setInt(&out.YearsOfHistory, v)
		case KeyLineWidth:
			setInt(&out.LineWidth, v)
		case KeyClusteringEnabled:
			if b, err := strconv.ParseBool(v); err == nil {
				out.ClusteringEnabled = b
			}
		case KeyShowDates:
			if b, err := strconv.ParseBool(v); err == nil {
				out.ShowDates = b
			}
		case KeyThresholdPercent:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out.ThresholdPercent = f
			}
		case KeyLineColor:
			out.LineColor = v
		}
	}
	return out, rows.Err()
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// SaveSettings writes every field of st.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	if st.LevelCount < 1 || st.TradeCount < 1 || st.YearsOfHistory < 1 || st.LineWidth < 1 {
		return errors.New("counts, years and line width must be >=1")
	}
	if math.IsNaN(st.ThresholdPercent) || math.IsInf(st.ThresholdPercent, 0) || st.ThresholdPercent < 0 {
		return errors.New("threshold percent must be a finite number >=0")
	}
	kv := map[string]string{
		KeyLevelCount:        strconv.Itoa(st.LevelCount),
		KeyTradeCount:        strconv.Itoa(st.TradeCount),
		KeyYearsOfHistory:    strconv.Itoa(st.YearsOfHistory),
		KeyClusteringEnabled: strconv.FormatBool(st.ClusteringEnabled),
		KeyThresholdPercent:  strconv.FormatFloat(st.ThresholdPercent, 'f', -1, 64),
		KeyShowDates:         strconv.FormatBool(st.ShowDates),
		KeyLineColor:         st.LineColor,
		KeyLineWidth:         strconv.Itoa(st.LineWidth),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}
