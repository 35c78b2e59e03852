// Package realtime streams asset events (fault triggers, integrity
// commitments, settlements, cancellations) to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/assetwatch/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 4096
	sendBuffer     = 256

	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 1000
	// ReplayDepth is how many recent events per asset a new subscriber to
	// that asset receives on connect.
	ReplayDepth = 16
)

// EventType names an asset event on the feed.
type EventType string

const (
	EventFaultTriggered     EventType = "fault_triggered"
	EventFaultReportFailed  EventType = "fault_report_failed"
	EventIntegrityCommitted EventType = "integrity_committed"
	EventSettlementDone     EventType = "settlement_completed"
	EventFaultCancelled     EventType = "fault_cancelled"
	EventSnapshotRecorded   EventType = "snapshot_recorded"
)

// Event is one message on the feed.
type Event struct {
	Type      EventType `json:"type"`
	AssetID   uint64    `json:"assetId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscription filters the feed for one client. A client replaces its filter
// by sending a new Subscription as a JSON text message. Empty filters match
// everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	AssetIDs   []uint64    `json:"assetIds"`
}

// Matches reports whether ev passes the filter.
func (s Subscription) Matches(ev *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type) {
		return false
	}
	return len(s.AssetIDs) == 0 || slices.Contains(s.AssetIDs, ev.AssetID)
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) resubscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// Hub fans events out to subscribers. All client bookkeeping and the replay
// history are owned by the Run goroutine; mu only guards reads of the client
// count from other goroutines.
type Hub struct {
	logger *slog.Logger

	events chan *Event
	join   chan *Client
	leave  chan *Client
	done   chan struct{} // closed when Run exits

	mu      sync.RWMutex
	clients map[*Client]struct{}
	history map[uint64][]*Event

	maxClients int
	upgrader   websocket.Upgrader

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger.With("component", "realtime"),
		events:     make(chan *Event, sendBuffer),
		join:       make(chan *Client),
		leave:      make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		history:    make(map[uint64][]*Event),
		maxClients: MaxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}
}

// sameOrigin admits non-browser clients (no Origin) and pages served by this
// host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Run drives the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.join:
			h.add(c)
		case c := <-h.leave:
			h.remove(c)
		case ev := <-h.events:
			h.fanout(ev)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client connected", "total", n)

	h.replay(c)
}

// replay sends retained events for the assets a client narrowed to. Clients
// on the unfiltered feed start from live events only.
func (h *Hub) replay(c *Client) {
	sub := c.subscription()
	for _, id := range sub.AssetIDs {
		for _, ev := range h.history[id] {
			if !sub.Matches(ev) {
				continue
			}
			select {
			case c.send <- encode(ev):
			default:
				return
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("client disconnected", "total", n)
}

func (h *Hub) fanout(ev *Event) {
	h.totalEvents.Add(1)
	h.retain(ev)
	msg := encode(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.subscription().Matches(ev) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer; the write pump sees the closed channel and hangs up.
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping slow websocket client")
		}
	}
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) retain(ev *Event) {
	list := append(h.history[ev.AssetID], ev)
	if len(list) > ReplayDepth {
		list = slices.Clone(list[len(list)-ReplayDepth:])
	}
	h.history[ev.AssetID] = list
}

func (h *Hub) shutdown() {
	h.logger.Info("realtime hub shutting down, closing client connections")
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
	h.logger.Info("realtime hub stopped")
}

func encode(ev *Event) []byte {
	data, _ := json.Marshal(ev)
	return data
}

// Broadcast queues an event for delivery. It never blocks: a full queue drops
// the event.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", ev.Type, "asset_id", ev.AssetID)
	}
}

// EmitAssetEvent publishes an event about one asset.
func (h *Hub) EmitAssetEvent(eventType EventType, assetID uint64, data map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      eventType,
		AssetID:   assetID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches a new client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Stats().ConnectedClients >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  initialSubscription(r),
	}
	select {
	case h.join <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// initialSubscription honours ?asset=<id> (repeatable) on the upgrade URL so
// simple clients can filter without sending a subscription message.
func initialSubscription(r *http.Request) Subscription {
	var ids []uint64
	for _, v := range r.URL.Query()["asset"] {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Subscription{AllEvents: true}
	}
	return Subscription{AssetIDs: ids}
}

// readPump applies subscription updates until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "error", err)
			continue
		}
		c.resubscribe(sub)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
