// Package chart talks to charting pages over a websocket. Each connected page is a surface; a
// small script on the page runs the commands below against the chart's drawing API and
// answers with the same correlation id.
package chart

import (
	"context"
	"encoding/json"
	"errors"

	"levelbridge/internal/market"
)

// Commands understood by the page script.
const (
	CmdCheckReady      = "CHECK_READY"
	CmdGetSymbol       = "GET_SYMBOL"
	CmdDrawLine        = "DRAW_LINE"
	CmdDrawZone        = "DRAW_ZONE"
	CmdDrawNote        = "DRAW_NOTE"
	CmdRemoveShape     = "REMOVE_SHAPE"
	CmdGetAllShapes    = "GET_ALL_SHAPES"
	CmdGetVisibleRange = "GET_VISIBLE_RANGE"
	CmdClearShapes     = "CLEAR_SHAPES"
)

// Shape categories for CLEAR_SHAPES. CategoryAll matches every shape.
const (
	CategoryLine = "line"
	CategoryZone = "zone"
	CategoryNote = "note"
	CategoryAll  = "all"
)

var (
	// ErrUnavailable: the surface is not connected or its drawing API is not ready yet.
	ErrUnavailable = errors.New("chart not available")
	// ErrRejected: the page answered the command with an error.
	ErrRejected = errors.New("chart rejected command")
	// ErrTimeout: no answer within the command timeout.
	ErrTimeout = errors.New("chart did not answer in time")
)

// Style is the stroke used for lines and zone markers.
type Style struct {
	Color string `json:"color"`
	Width int    `json:"width"`
}

// Note is a trade marker anchored at a time and price.
type Note struct {
	Price    float64 `json:"price"`
	Time     int64   `json:"time"`
	Rank     *int    `json:"rank,omitempty"`
	DarkPool bool    `json:"darkPool"`
	Dollars  float64 `json:"dollars"`
	Label    string  `json:"label"`
}

// Shape is one drawing as reported by GET_ALL_SHAPES.
type Shape struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// Host is the drawing surface as seen by callers. *Surface implements it.
type Host interface {
	ID() string
	CheckReady(ctx context.Context) error
	GetSymbol(ctx context.Context) (string, error)
	DrawLine(ctx context.Context, price float64, label string, st Style) (string, error)
	DrawZone(ctx context.Context, high, low, mid float64, label string, st Style) (string, error)
	DrawNote(ctx context.Context, n Note) (string, error)
	RemoveShape(ctx context.Context, id string) error
	GetAllShapes(ctx context.Context) ([]Shape, error)
	GetVisibleRange(ctx context.Context) (market.VisibleRange, error)
	Clear(ctx context.Context, category, prefix string) (int, error)
	Notify(status string)
}

type request struct {
	ID   uint64 `json:"id"`
	Cmd  string `json:"cmd"`
	Args any    `json:"args,omitempty"`
}

// inbound is either a reply ({id, ok, result|error}) or a pushed event ({type, ...}).
type inbound struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
}

type reply struct {
	ok     bool
	result json.RawMessage
	err    string
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}

type lineArgs struct {
	Price float64 `json:"price"`
	Label string  `json:"label"`
	Style Style   `json:"style"`
}

type zoneArgs struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Mid   float64 `json:"mid"`
	Label string  `json:"label"`
	Style Style   `json:"style"`
}

type idArgs struct {
	ID string `json:"id"`
}

type clearArgs struct {
	Category string `json:"category"`
	Prefix   string `json:"prefix"`
}

type shapeResult struct {
	ID string `json:"id"`
}
