// Package hub fans realtime events out to the websocket clients joined to a discussion room.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/logger"
	"github.com/itchan-dev/threadsync/shared/middleware/metrics"
)

const maxRequestSize = 4 << 10

type Hub struct {
	settings config.Realtime
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[domain.DiscussionId]map[*client]struct{}
	clients map[*client]struct{}
	closed  bool

	log *slog.Logger
}

type client struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// owned by the hub lock
	rooms map[domain.DiscussionId]struct{}
}

// New creates a hub. An empty allowedOrigins list accepts any origin.
func New(settings config.Realtime, allowedOrigins []string) *Hub {
	h := &Hub{
		settings: settings,
		rooms:    make(map[domain.DiscussionId]map[*client]struct{}),
		clients:  make(map[*client]struct{}),
		log:      logger.Component("hub"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: settings.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// ServeWS upgrades the request and serves the connection until either side closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		h.log.Debug("upgrade failed", "error", err)
		return
	}

	buffer := h.settings.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	c := &client{
		hub:   h,
		ws:    ws,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
		rooms: make(map[domain.DiscussionId]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()

	go c.writePump()
	c.readPump()
}

// Publish sends ev to every client in the event's room. A client too slow to take
// it is disconnected; it reconnects and catches up through a refresh.
func (h *Hub) Publish(ev api.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	metrics.RealtimeEventsPublished.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	var slow []*client
	for c := range h.rooms[ev.DiscussionId] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Info("dropping slow client", "discussion", ev.DiscussionId)
		c.close()
	}
}

// Members is the number of clients joined to a room.
func (h *Hub) Members(id domain.DiscussionId) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[id])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) join(c *client, id domain.DiscussionId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	room, ok := h.rooms[id]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[id] = room
	}
	room[c] = struct{}{}
	c.rooms[id] = struct{}{}
}

func (h *Hub) leave(c *client, id domain.DiscussionId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, id)
}

func (h *Hub) leaveLocked(c *client, id domain.DiscussionId) {
	delete(c.rooms, id)
	if room, ok := h.rooms[id]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for id := range c.rooms {
		h.leaveLocked(c, id)
	}
	delete(h.clients, c)
	metrics.RealtimeConnections.Dec()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxRequestSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.settings.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.settings.ReadTimeout))
	})

	for {
		var req api.RoomRequest
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("connection closed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.settings.ReadTimeout))

		switch req.Op {
		case api.OpJoin:
			c.hub.join(c, req.DiscussionId)
		case api.OpLeave:
			c.hub.leave(c, req.DiscussionId)
		default:
			c.hub.log.Debug("unknown room op", "op", req.Op)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.settings.PingTimeout)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
