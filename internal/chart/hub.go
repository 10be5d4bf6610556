package chart

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"levelbridge/internal/observability"
)

// Info describes a connected surface.
type Info struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type Hub struct {
	surfaces   map[*Surface]bool
	register   chan *Surface
	unregister chan *Surface
	broadcast  chan []byte
	stopped    chan struct{}

	mu   sync.RWMutex
	byID map[string]*Surface

	nextID  atomic.Uint64
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
	onLeave func(id string)
}

type HubOptions struct {
	Timeout time.Duration // per command, default 5s
	Metrics *observability.Metrics
	Logger  *slog.Logger
	OnLeave func(id string) // called after a surface disconnects
}

func NewHub(opts HubOptions) *Hub {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		surfaces:   map[*Surface]bool{},
		register:   make(chan *Surface),
		unregister: make(chan *Surface),
		broadcast:  make(chan []byte, 1024),
		stopped:    make(chan struct{}),
		byID:       map[string]*Surface{},
		timeout:    opts.Timeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		onLeave:    opts.OnLeave,
	}
}

// Run owns the surface set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for s := range h.surfaces {
				h.drop(s)
			}
			return
		case s := <-h.register:
			h.surfaces[s] = true
			h.mu.Lock()
			h.byID[s.id] = s
			n := len(h.byID)
			h.mu.Unlock()
			h.metrics.SetSurfaces(n)
			h.logger.Info("chart surface connected", slog.String("surface", s.id))
		case s := <-h.unregister:
			if _, ok := h.surfaces[s]; ok {
				h.drop(s)
			}
		case msg := <-h.broadcast:
			for s := range h.surfaces {
				select {
				case s.send <- msg:
				default:
					h.drop(s)
				}
			}
		}
	}
}

func (h *Hub) drop(s *Surface) {
	delete(h.surfaces, s)
	s.closeOnce.Do(func() { close(s.done) })
	h.mu.Lock()
	delete(h.byID, s.id)
	n := len(h.byID)
	h.mu.Unlock()
	h.metrics.SetSurfaces(n)
	h.logger.Info("chart surface disconnected", slog.String("surface", s.id))
	if h.onLeave != nil {
		h.onLeave(s.id)
	}
}

// Lookup returns the surface with the given id. An empty id picks the most recently
// connected surface.
func (h *Hub) Lookup(id string) (Host, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if id != "" {
		s, ok := h.byID[id]
		if !ok {
			return nil, ErrUnavailable
		}
		return s, nil
	}
	var latest *Surface
	for _, s := range h.byID {
		if latest == nil || s.connectedAt.After(latest.connectedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrUnavailable
	}
	return latest, nil
}

// Surfaces lists connected surfaces, oldest first.
func (h *Hub) Surfaces() []Info {
	h.mu.RLock()
	out := make([]Info, 0, len(h.byID))
	for _, s := range h.byID {
		out = append(out, s.info())
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return out
}

// Broadcast sends a status line to every surface.
func (h *Hub) Broadcast(status string) {
	select {
	case h.broadcast <- marshalWS("status", map[string]string{"message": status}):
	case <-h.stopped:
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	// chart pages live on another origin by nature
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeWS upgrades a charting page. A "symbol" query parameter seeds the surface's symbol
// until the page sends its hello.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	s := &Surface{
		id:          uuid.NewString(),
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		pending:     map[uint64]chan reply{},
		connectedAt: time.Now(),
		symbol:      strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
	}
	select {
	case h.register <- s:
	case <-h.stopped:
		_ = conn.Close()
		return
	}
	s.send <- marshalWS("welcome", map[string]string{"surface": s.id})
	go s.writePump()
	go s.readPump()
}
