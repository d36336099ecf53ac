// Package fund: WebSocket hub for recalculation events.
package fund

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/fund-ledger/internal/engine"
	"github.com/atmx/fund-ledger/internal/metrics"
	"github.com/atmx/fund-ledger/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var (
	errBroadcastFull = errors.New("ws: broadcast buffer full, event dropped")
	errHubStopped    = errors.New("ws: hub stopped")
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type         string               `json:"type"`
	FundID       string               `json:"fund_id"`
	Trigger      string               `json:"trigger"`
	Transactions int                  `json:"transactions"`
	Holdings     []model.AssetHolding `json:"holdings,omitempty"`
	CommittedAt  time.Time            `json:"committed_at"`
}

// subscriber is one connection. An empty fundID receives every fund.
type subscriber struct {
	conn   *websocket.Conn
	fundID string
}

func (s *subscriber) wants(fundID string) bool {
	return s.fundID == "" || s.fundID == fundID
}

type event struct {
	fundID string
	data   []byte
}

// WSHub fans recalculation events out to subscribed WebSocket clients.
type WSHub struct {
	subs   map[*subscriber]struct{}
	mu     sync.RWMutex
	join   chan *subscriber
	leave  chan *subscriber
	events chan event
	done   chan struct{}
	once   sync.Once
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		subs:   make(map[*subscriber]struct{}),
		join:   make(chan *subscriber),
		leave:  make(chan *subscriber),
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is done, then closes every
// connection. Joins after that are refused.
func (h *WSHub) Run(ctx context.Context) error {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			h.mu.Unlock()
			slog.Info("ws client connected", "fund_id", s.fundID, "total", h.track())
		case s := <-h.leave:
			h.drop(s)
			h.track()
		case ev := <-h.events:
			h.deliver(ev)
			h.track()
		}
	}
}

func (h *WSHub) stop() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	for s := range h.subs {
		s.conn.Close()
		delete(h.subs, s)
	}
	h.mu.Unlock()
	metrics.WebSocketClients.Set(0)
}

func (h *WSHub) deliver(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(ev.fundID) {
			continue
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, ev.data); err != nil {
			s.conn.Close()
			delete(h.subs, s)
		}
	}
}

func (h *WSHub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.conn.Close()
	}
}

func (h *WSHub) subscribed(s *subscriber) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[s]
	return ok
}

func (h *WSHub) track() int {
	n := h.Clients()
	metrics.WebSocketClients.Set(float64(n))
	return n
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues msg for the clients subscribed to its fund. It never
// blocks; a full queue drops the message.
func (h *WSHub) Broadcast(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return errHubStopped
	default:
	}
	select {
	case h.events <- event{fundID: msg.FundID, data: data}:
		return nil
	default:
		return errBroadcastFull
	}
}

// Publish implements engine.Publisher.
func (h *WSHub) Publish(_ context.Context, snap *engine.Snapshot) error {
	return h.Broadcast(WSMessage{
		Type:         "fund_recalculated",
		FundID:       snap.Fund.ID,
		Trigger:      snap.Trigger,
		Transactions: snap.Transactions,
		Holdings:     snap.Holdings,
		CommittedAt:  snap.CommittedAt,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws. The optional fund_id query parameter
// limits the stream to one fund.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	s := &subscriber{conn: conn, fundID: r.URL.Query().Get("fund_id")}
	select {
	case h.join <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readPump(s)
	go h.pingPump(s)
}

// readPump discards client frames and notices disconnects.
func (h *WSHub) readPump(s *subscriber) {
	defer func() {
		select {
		case h.leave <- s:
		case <-h.done:
		}
	}()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingPump keeps idle connections alive through proxies.
func (h *WSHub) pingPump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if !h.subscribed(s) {
				return
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

var _ engine.Publisher = (*WSHub)(nil)
