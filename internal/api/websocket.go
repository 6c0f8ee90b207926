package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/anpr-simulator/internal/cdk"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/config"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/logging"
)

// Push-channel fallbacks for zero configuration values.
const (
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// Hub tracks the open push-channel connections so they can be closed on
// shutdown. Event fan-out itself is the broadcaster's job.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one /async connection and its broadcaster subscription.
type WSClient struct {
	hub         *Hub
	conn        *websocket.Conn
	sub         *events.Subscriber
	broadcaster *events.Broadcaster
	remote      string
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("push channel connected", "subscriber", client.sub.ID(), "remote", client.remote, "clients", h.ClientCount())
}

// Unregister removes a client and its subscription. Only the first call
// for a client has any effect.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if !existed {
		return
	}
	client.broadcaster.Unsubscribe(client.sub)
	h.logger.Info("push channel disconnected",
		"subscriber", client.sub.ID(),
		"dropped", client.sub.Dropped(),
		"clients", h.ClientCount(),
	)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.broadcaster.Unsubscribe(client.sub)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection and registers a broadcaster
// subscriber for it. Recognitions and trigger results flow immediately;
// gated streams wait for setEnableStreams.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:         s.hub,
		conn:        conn,
		sub:         s.broadcaster.Subscribe(),
		broadcaster: s.broadcaster,
		remote:      r.RemoteAddr,
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.dispatcher, s.wsCfg)
}

// readPump dispatches every inbound frame as a CDK request and queues the
// answer on the client's own subscription, so answers and events share one
// ordered outbound stream.
func (c *WSClient) readPump(d *cdk.Dispatcher, cfg config.WebSocketConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := keepalive(cfg)
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}

	c.conn.SetReadLimit(int64(maxSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	origin := cdk.Origin{Channel: cdk.ChannelWebSocket, Subscriber: c.sub, Remote: c.remote}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, even if the
		// client never answers protocol-level pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		res := d.HandleMessage(ctx, origin, message)
		data, err := res.Marshal()
		if err != nil {
			c.hub.logger.Error("failed to encode answer", "command", res.Command, "error", err)
			continue
		}
		c.broadcaster.Send(c.sub, events.CategoryAnswer, data)
	}
}

// writePump is the only writer on the connection. It exits when the
// subscription is removed (client gone, overflow policy, shutdown).
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := keepalive(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, ev.Data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func keepalive(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	pingInterval = time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait = time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongTimeout
	}
	return pingInterval, pongWait
}
