package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
	"flood-duel/internal/replication"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	wsSendBuffer   = 64
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxReadBytes = 4096
)

// ErrHubBacklogged is returned to the publisher when the fan-out queue is full.
var ErrHubBacklogged = errors.New("websocket hub backlogged")

var _ replication.Sink = (*WebSocketHub)(nil)

// wsMessage is the envelope for every server-to-client frame.
type wsMessage struct {
	Type     string         `json:"type"` // "welcome", "state", "event", "ack", "error"
	PlayerID int            `json:"playerId,omitempty"`
	Command  string         `json:"command,omitempty"`
	Error    string         `json:"error,omitempty"`
	State    *game.Snapshot `json:"state,omitempty"`
	Event    *events.Event  `json:"event,omitempty"`
}

// wsCommand is the only client-to-server frame.
type wsCommand struct {
	Type    string        `json:"type"` // "command"
	Command *game.Command `json:"command"`
}

// seatKey separates a reused player id from the seat that held it before.
type seatKey struct {
	id   int
	name string
}

func (s *Seat) key() seatKey { return seatKey{id: s.PlayerID, name: s.Name} }

// wsClient tracks a WebSocket connection. seat is nil for spectators.
type wsClient struct {
	conn *websocket.Conn
	ip   string
	seat *Seat

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer queues msg without blocking. Returns false if the client is full or gone.
func (c *wsClient) offer(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// WebSocketHub fans replicated state out to connected clients and accepts
// commands from seated players. It is a replication.Sink.
type WebSocketHub struct {
	clients    map[*wsClient]struct{}
	seatConns  map[seatKey]int
	mu         sync.RWMutex
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	running  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}

	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader
	h         *routerHandlers
	logger    *zap.Logger
}

// NewWebSocketHub creates a hub using the same controller, seat signer and
// command limiter as the HTTP routes. Call Start before serving.
func NewWebSocketHub(cfg RouterConfig) *WebSocketHub {
	h := newRouterHandlers(cfg)
	origins := NewOriginMatcher(cfg.CORSOrigins)
	hub := &WebSocketHub{
		clients:    make(map[*wsClient]struct{}),
		seatConns:  make(map[seatKey]int),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient, 16),
		unregister: make(chan *wsClient, 16),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		h:          h,
		logger:     h.logger.Named("ws"),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			hub.logger.Warn("websocket connection rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return hub
}

// Start launches the fan-out loop. Safe to call twice.
func (hub *WebSocketHub) Start() {
	if hub.stopping.Load() || !hub.running.CompareAndSwap(false, true) {
		return
	}
	go hub.run()
}

// Stop closes every connection and waits for the loop to exit.
func (hub *WebSocketHub) Stop() {
	hub.stopOnce.Do(func() {
		hub.stopping.Store(true)
		close(hub.stopChan)
		if hub.running.Load() {
			<-hub.done
		}
	})
}

func (hub *WebSocketHub) run() {
	defer close(hub.done)

	for {
		select {
		case c := <-hub.register:
			hub.mu.Lock()
			hub.clients[c] = struct{}{}
			if c.seat != nil {
				hub.seatConns[c.seat.key()]++
			}
			count := len(hub.clients)
			hub.mu.Unlock()

			hub.logger.Debug("client connected", zap.String("ip", c.ip), zap.Int("total", count))
			UpdateWSConnections(count)

		case c := <-hub.unregister:
			last := hub.remove(c)
			if last {
				go hub.seatLost(*c.seat)
			}

		case msg := <-hub.broadcast:
			hub.mu.RLock()
			var slow []*wsClient
			for c := range hub.clients {
				if c.offer(msg) {
					RecordWSMessage("out")
				} else {
					slow = append(slow, c)
				}
			}
			hub.mu.RUnlock()

			for _, c := range slow {
				RecordWSMessage("dropped")
				hub.logger.Warn("dropping slow client", zap.String("ip", c.ip))
				c.close()
			}

		case <-hub.stopChan:
			hub.mu.Lock()
			for c := range hub.clients {
				c.close()
				hub.wsLimiter.Release(c.ip)
			}
			hub.clients = make(map[*wsClient]struct{})
			hub.seatConns = make(map[seatKey]int)
			hub.mu.Unlock()
			UpdateWSConnections(0)
			return
		}
	}
}

// remove drops c and reports whether it was the last connection of a seat.
func (hub *WebSocketHub) remove(c *wsClient) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, ok := hub.clients[c]; !ok {
		return false
	}
	delete(hub.clients, c)
	c.close()
	hub.wsLimiter.Release(c.ip)
	UpdateWSConnections(len(hub.clients))

	if c.seat == nil {
		return false
	}
	key := c.seat.key()
	hub.seatConns[key]--
	if hub.seatConns[key] > 0 {
		return false
	}
	delete(hub.seatConns, key)
	return true
}

// seatLost reports a dropped link once a seat has no connections left.
// A seat whose id now belongs to someone else is ignored.
func (hub *WebSocketHub) seatLost(seat Seat) {
	if hub.stopping.Load() {
		return
	}
	if err := hub.h.seatHeld(seat); err != nil {
		hub.logger.Debug("socket closed for a lost seat", zap.Int("player", seat.PlayerID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hub.h.timeout)
	defer cancel()

	err := hub.h.ctrl.Disconnect(ctx, seat.PlayerID)
	RecordCommand("disconnect", err)
	if err != nil {
		hub.logger.Debug("disconnect after socket close",
			zap.Int("player", seat.PlayerID),
			zap.Error(err),
		)
	}
}

// ClientCount returns the number of connected clients
func (hub *WebSocketHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// =============================================================================
// REPLICATION SINK
// =============================================================================

// Name implements replication.Sink.
func (hub *WebSocketHub) Name() string { return "websocket" }

// PushState implements replication.Sink.
func (hub *WebSocketHub) PushState(ctx context.Context, snap *game.Snapshot) error {
	return hub.enqueue(ctx, wsMessage{Type: "state", State: snap})
}

// PushBroadcast implements replication.Sink.
func (hub *WebSocketHub) PushBroadcast(ctx context.Context, e events.Event) error {
	return hub.enqueue(ctx, wsMessage{Type: "event", Event: &e})
}

func (hub *WebSocketHub) enqueue(ctx context.Context, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case hub.broadcast <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBacklogged
	}
}

// =============================================================================
// CONNECTIONS
// =============================================================================

// HandleWebSocket upgrades a connection. A seat token (Authorization header
// or ?token=) makes the client a player that may send commands; without
// one the client only watches.
func (hub *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if hub.stopping.Load() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	if n := hub.ClientCount(); n >= MaxWSConnectionsTotal {
		hub.logger.Warn("websocket rejected: total limit reached", zap.Int("total", n))
		RecordConnectionRejected("ws_total")
		writeError(w, http.StatusServiceUnavailable, "too many connections")
		return
	}

	var seat *Seat
	if tok := bearerToken(r); tok != "" {
		s, err := hub.h.authorizeSeat(tok)
		if err != nil {
			RecordConnectionRejected("unauthorized")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		seat = &s
	}

	if !hub.wsLimiter.Allow(ip) {
		hub.logger.Warn("websocket rejected: per-IP limit reached", zap.String("ip", ip))
		RecordConnectionRejected("ws_limit")
		writeError(w, http.StatusTooManyRequests, "too many connections from your IP")
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Debug("websocket upgrade failed", zap.Error(err))
		hub.wsLimiter.Release(ip)
		return
	}

	c := &wsClient{
		conn: conn,
		ip:   ip,
		seat: seat,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}

	welcome := wsMessage{Type: "welcome", State: hub.h.ctrl.Snapshot()}
	if seat != nil {
		welcome.PlayerID = seat.PlayerID
	}
	hub.reply(c, welcome)

	select {
	case hub.register <- c:
	case <-hub.stopChan:
		hub.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	go hub.writePump(c)
	go hub.readPump(c)
}

func (hub *WebSocketHub) reply(c *wsClient, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		hub.logger.Warn("encode reply", zap.Error(err))
		return
	}
	if !c.offer(data) {
		RecordWSMessage("dropped")
	}
}

func (hub *WebSocketHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func (hub *WebSocketHub) readPump(c *wsClient) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.stopChan:
		}
	}()

	c.conn.SetReadLimit(wsMaxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		RecordWSMessage("in")
		hub.handleCommand(c, data)
	}
}

// handleCommand runs one client command. The issuer always comes from the
// seat, never the payload, and the seat is checked again on every command.
func (hub *WebSocketHub) handleCommand(c *wsClient, data []byte) {
	var in wsCommand
	if err := json.Unmarshal(data, &in); err != nil {
		hub.reply(c, wsMessage{Type: "error", Error: "invalid JSON: " + err.Error()})
		return
	}
	if in.Type != "command" || in.Command == nil {
		hub.reply(c, wsMessage{Type: "error", Error: `expected {"type":"command","command":{...}}`})
		return
	}
	cmd := *in.Command
	kind := cmd.Kind.String()

	if c.seat == nil {
		hub.reply(c, wsMessage{Type: "error", Command: kind, Error: "spectators cannot issue commands"})
		return
	}
	if err := hub.h.seatHeld(*c.seat); err != nil {
		RecordCommand(kind, err)
		hub.reply(c, wsMessage{Type: "error", Command: kind, Error: err.Error()})
		return
	}
	cmd.Issuer = c.seat.PlayerID

	if !hub.h.commands.Allow(cmd.Issuer) {
		RecordCommand(kind, errThrottled)
		hub.reply(c, wsMessage{Type: "error", Command: kind, Error: errThrottled.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hub.h.timeout)
	err := hub.h.ctrl.Execute(ctx, cmd)
	cancel()

	RecordCommand(kind, err)
	if err != nil {
		hub.reply(c, wsMessage{Type: "error", Command: kind, Error: err.Error()})
		return
	}
	hub.reply(c, wsMessage{Type: "ack", Command: kind})
}
