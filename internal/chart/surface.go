package chart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"levelbridge/internal/market"
)

// Surface is one connected charting page.
type Surface struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time

	mu      sync.Mutex
	symbol  string
	pending map[uint64]chan reply
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.id, Symbol: s.symbol, ConnectedAt: s.connectedAt}
}

// call sends one command and waits for its reply, the hub timeout, ctx, or disconnect.
func (s *Surface) call(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	start := time.Now()
	res, err := s.roundTrip(ctx, cmd, args)
	s.hub.metrics.ObserveCommand(cmd, commandOutcome(err), time.Since(start))
	if err != nil {
		s.hub.logger.Debug("chart command failed",
			slog.String("surface", s.id),
			slog.String("cmd", cmd),
			slog.String("err", err.Error()),
		)
	}
	return res, err
}

func (s *Surface) roundTrip(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	reqID := s.hub.nextID.Add(1)
	b, err := json.Marshal(request{ID: reqID, Cmd: cmd, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", cmd, err)
	}

	ch := make(chan reply, 1)
	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(s.hub.timeout)
	defer timer.Stop()

	select {
	case s.send <- b:
	case <-s.done:
		return nil, fmt.Errorf("%s: %w", cmd, ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", cmd, ErrTimeout)
	}

	select {
	case r := <-ch:
		if !r.ok {
			msg := r.err
			if msg == "" {
				msg = "unknown error"
			}
			return nil, fmt.Errorf("%s: %w: %s", cmd, ErrRejected, msg)
		}
		return r.result, nil
	case <-s.done:
		return nil, fmt.Errorf("%s: %w", cmd, ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", cmd, ErrTimeout)
	}
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

func decodeResult[T any](cmd string, raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%s: %w: empty result", cmd, ErrRejected)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%s: decode result: %w", cmd, err)
	}
	return v, nil
}

// CheckReady fails with ErrUnavailable until the page reports its drawing API is up.
func (s *Surface) CheckReady(ctx context.Context) error {
	raw, err := s.call(ctx, CmdCheckReady, nil)
	if err != nil {
		return err
	}
	var res struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || !res.Ready {
		return fmt.Errorf("%s: %w", CmdCheckReady, ErrUnavailable)
	}
	return nil
}

// GetSymbol returns the chart's symbol as the page shows it, e.g. "NASDAQ:AAPL".
func (s *Surface) GetSymbol(ctx context.Context) (string, error) {
	raw, err := s.call(ctx, CmdGetSymbol, nil)
	if err != nil {
		return "", err
	}
	res, err := decodeResult[struct {
		Symbol string `json:"symbol"`
	}](CmdGetSymbol, raw)
	if err != nil {
		return "", err
	}
	sym := strings.TrimSpace(res.Symbol)
	if sym == "" {
		return "", fmt.Errorf("%s: %w: no symbol on chart", CmdGetSymbol, ErrRejected)
	}
	s.setSymbol(sym)
	return sym, nil
}

func (s *Surface) DrawLine(ctx context.Context, price float64, label string, st Style) (string, error) {
	return s.draw(ctx, CmdDrawLine, lineArgs{Price: price, Label: label, Style: st})
}

func (s *Surface) DrawZone(ctx context.Context, high, low, mid float64, label string, st Style) (string, error) {
	return s.draw(ctx, CmdDrawZone, zoneArgs{High: high, Low: low, Mid: mid, Label: label, Style: st})
}

func (s *Surface) DrawNote(ctx context.Context, n Note) (string, error) {
	return s.draw(ctx, CmdDrawNote, n)
}

func (s *Surface) draw(ctx context.Context, cmd string, args any) (string, error) {
	raw, err := s.call(ctx, cmd, args)
	if err != nil {
		return "", err
	}
	res, err := decodeResult[shapeResult](cmd, raw)
	if err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("%s: %w: no shape id", cmd, ErrRejected)
	}
	return res.ID, nil
}

func (s *Surface) RemoveShape(ctx context.Context, id string) error {
	_, err := s.call(ctx, CmdRemoveShape, idArgs{ID: id})
	return err
}

func (s *Surface) GetAllShapes(ctx context.Context) ([]Shape, error) {
	raw, err := s.call(ctx, CmdGetAllShapes, nil)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]Shape](CmdGetAllShapes, raw)
}

// GetVisibleRange returns the chart's visible time window in unix seconds.
func (s *Surface) GetVisibleRange(ctx context.Context) (market.VisibleRange, error) {
	raw, err := s.call(ctx, CmdGetVisibleRange, nil)
	if err != nil {
		return market.VisibleRange{}, err
	}
	vr, err := decodeResult[market.VisibleRange](CmdGetVisibleRange, raw)
	if err != nil {
		return market.VisibleRange{}, err
	}
	if vr.From <= 0 || vr.To < vr.From {
		return market.VisibleRange{}, fmt.Errorf("%s: %w: bad range %d..%d", CmdGetVisibleRange, ErrRejected, vr.From, vr.To)
	}
	return vr, nil
}

// Clear removes every shape of category whose label starts with prefix and returns how many
// the page removed.
func (s *Surface) Clear(ctx context.Context, category, prefix string) (int, error) {
	raw, err := s.call(ctx, CmdClearShapes, clearArgs{Category: category, Prefix: prefix})
	if err != nil {
		return 0, err
	}
	res, err := decodeResult[struct {
		Removed int `json:"removed"`
	}](CmdClearShapes, raw)
	if err != nil {
		return 0, err
	}
	return res.Removed, nil
}

// Notify pushes a status line to the page. Dropped if the page is gone or backed up.
func (s *Surface) Notify(status string) {
	select {
	case <-s.done:
	case s.send <- marshalWS("status", map[string]string{"message": status}):
	default:
	}
}

func (s *Surface) setSymbol(sym string) {
	s.mu.Lock()
	s.symbol = strings.ToUpper(sym)
	s.mu.Unlock()
}

func (s *Surface) dispatch(in inbound) {
	if in.Type == "hello" {
		if in.Symbol != "" {
			s.setSymbol(in.Symbol)
		}
		return
	}
	if in.ID == 0 {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[in.ID]
	s.mu.Unlock()
	if !ok {
		// late reply after timeout
		return
	}
	select {
	case ch <- reply{ok: in.OK, result: in.Result, err: in.Error}:
	default:
	}
}

func (s *Surface) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.stopped:
		}
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(1 << 20)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var in inbound
		if err := json.Unmarshal(b, &in); err != nil {
			s.hub.logger.Warn("bad message from chart", slog.String("surface", s.id), slog.String("err", err.Error()))
			continue
		}
		s.dispatch(in)
	}
}

func (s *Surface) writePump() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}
