package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itchan-dev/threadsync/client/metrics"
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/logger"
)

var ErrClosed = errors.New("realtime channel closed")

// HeaderFunc supplies handshake headers, e.g. the bearer token, on every dial.
type HeaderFunc func() http.Header

// WsChannel is a Channel over a websocket that reconnects on its own and rejoins
// every room joined at the time of the drop.
type WsChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	header   HeaderFunc
	settings config.Realtime
	dialer   *websocket.Dialer

	mu    sync.Mutex
	rooms map[domain.DiscussionId]bool
	ws    *websocket.Conn
	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	events    chan api.Event
	states    chan StateChange
	reconnect chan struct{}

	log *slog.Logger
}

func NewWsChannel(ctx context.Context, url string, header HeaderFunc, settings config.Realtime) *WsChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	buffer := settings.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	c := &WsChannel{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		header:   header,
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		rooms:     make(map[domain.DiscussionId]bool),
		events:    make(chan api.Event, buffer),
		states:    make(chan StateChange, 16),
		reconnect: make(chan struct{}, 1),
		log:       logger.Component("realtime"),
	}
	go c.run()
	return c
}

func (c *WsChannel) Events() <-chan api.Event {
	return c.events
}

func (c *WsChannel) States() <-chan StateChange {
	return c.states
}

func (c *WsChannel) Join(id domain.DiscussionId) error {
	return c.room(api.OpJoin, id)
}

func (c *WsChannel) Leave(id domain.DiscussionId) error {
	return c.room(api.OpLeave, id)
}

func (c *WsChannel) room(op api.RoomOp, id domain.DiscussionId) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.mu.Lock()
	joined := c.rooms[id]
	if (op == api.OpJoin) == joined {
		c.mu.Unlock()
		return nil
	}
	if op == api.OpJoin {
		c.rooms[id] = true
	} else {
		delete(c.rooms, id)
	}
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		// sent on connect
		return nil
	}
	if err := c.send(ws, api.RoomRequest{Op: op, DiscussionId: id}); err != nil {
		// the read loop notices the broken connection and the rejoin covers the room
		c.log.Info("room request not sent", "op", op, "discussion", id, "error", err)
	}
	return nil
}

// Rooms returns the joined discussion ids.
func (c *WsChannel) Rooms() []domain.DiscussionId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DiscussionId, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *WsChannel) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

func (c *WsChannel) Close() error {
	c.cancel()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
	return nil
}

func (c *WsChannel) send(ws *websocket.Conn, req api.RoomRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return ws.WriteJSON(req)
}

func (c *WsChannel) dial() (*websocket.Conn, error) {
	var header http.Header
	if c.header != nil {
		header = c.header()
	}
	ws, resp, err := c.dialer.DialContext(c.ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

func (c *WsChannel) run() {
	defer func() {
		close(c.events)
		close(c.states)
	}()

	connectedBefore := false
	attempts := 0
	for {
		ws, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			attempts++
			metrics.ReconnectsTotal.WithLabelValues("error").Inc()
			c.log.Info("connect failed", "attempt", attempts, "error", err)
			c.emit(StateChange{State: Disconnected, Attempt: attempts, Err: err})

			if attempts >= c.settings.MaxReconnectAttempts {
				c.log.Warn("reconnect attempts exhausted", "attempts", attempts)
				c.emit(StateChange{State: Degraded, Attempt: attempts, Err: err})
				select {
				case <-c.ctx.Done():
					return
				case <-c.reconnect:
					attempts = 0
					continue
				}
			}
			if !c.wait() {
				return
			}
			continue
		}

		attempts = 0
		metrics.ReconnectsTotal.WithLabelValues("ok").Inc()
		if err := c.attach(ws); err != nil {
			c.log.Info("rejoin failed", "error", err)
			c.detach(ws)
			if !c.wait() {
				return
			}
			continue
		}

		state := Connected
		if connectedBefore {
			state = Reconnected
		}
		connectedBefore = true
		c.emit(StateChange{State: state})
		c.log.Info("connected", "state", state, "rooms", len(c.Rooms()))

		err = c.serve(ws)
		c.detach(ws)
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info("connection lost", "error", err)
		c.emit(StateChange{State: Disconnected, Err: err})
		if !c.wait() {
			return
		}
	}
}

// attach publishes ws and rejoins every room. Rooms joined concurrently are either
// in the snapshot or sent by Join itself; a duplicate join is a no-op server side.
func (c *WsChannel) attach(ws *websocket.Conn) error {
	c.mu.Lock()
	c.ws = ws
	rooms := make([]domain.DiscussionId, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	return c.rejoin(ws, rooms)
}

// rejoin sends a join for each of rooms that is still joined. Membership is checked
// and the join sent under mu, so a Leave racing the rejoin is sent after it or not at all.
func (c *WsChannel) rejoin(ws *websocket.Conn, rooms []domain.DiscussionId) error {
	for _, id := range rooms {
		if err := c.rejoinRoom(ws, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *WsChannel) rejoinRoom(ws *websocket.Conn, id domain.DiscussionId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms[id] {
		return nil
	}
	return c.send(ws, api.RoomRequest{Op: api.OpJoin, DiscussionId: id})
}

func (c *WsChannel) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	ws.Close()
}

func (c *WsChannel) serve(ws *websocket.Conn) error {
	handleCtx, handleCancel := context.WithCancel(c.ctx)
	defer handleCancel()

	ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(c.settings.PingTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-handleCtx.Done():
				// unblock the reader on Close
				ws.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(c.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.log.Debug("ping failed", "error", err)
					return
				}
			}
		}
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))

		var ev api.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.log.Warn("bad event frame dropped", "error", err)
			continue
		}
		metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		select {
		case <-handleCtx.Done():
			return handleCtx.Err()
		case c.events <- ev:
		}
	}
}

func (c *WsChannel) emit(sc StateChange) {
	select {
	case <-c.ctx.Done():
	case c.states <- sc:
	}
}

func (c *WsChannel) wait() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.settings.ReconnectTimeout):
		return true
	}
}
