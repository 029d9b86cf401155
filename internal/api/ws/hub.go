package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/application/dispatcher"
	"github.com/agora-relay/agora-relay/internal/domain/world"
	"github.com/agora-relay/agora-relay/internal/protocol"
)

// Commander is the application surface the hub drives; the relay
// implements it.
type Commander interface {
	ClientConnected(clientID string)
	ClientDisconnected(clientID string)
	StateSync() protocol.Downstream
	HandleCommand(ctx context.Context, clientID string, cmd protocol.Command)
}

// Config bounds hub admission and liveness.
type Config struct {
	MaxConnections      int
	MaxConnectionsPerIP int
	RateLimitCount      int
	RateLimitWindow     time.Duration
	HeartbeatInterval   time.Duration
	ClientTimeout       time.Duration
}

func (c Config) normalized() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.MaxConnectionsPerIP <= 0 {
		c.MaxConnectionsPerIP = 10
	}
	if c.RateLimitCount <= 0 {
		c.RateLimitCount = 50
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 40 * time.Second
	}
	return c
}

// Hub manages dashboard websocket clients: admission, liveness,
// broadcast fan-out and per-client delivery. Broadcast delivery is
// best effort; a client that cannot keep up is dropped.
type Hub struct {
	cfg       Config
	commander Commander
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	byIP    map[string]int
	total   int
}

func NewHub(cfg Config, commander Commander, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:       cfg.normalized(),
		commander: commander,
		logger:    logger.With().Str("service", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[string]*Client{},
		byIP:    map[string]int{},
	}
}

// ServeWS upgrades one dashboard connection. Admission limits are
// checked after the upgrade so the rejection reaches the client as a
// typed error frame before the policy close.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ip := clientIP(r)
	if rejected, code := h.admit(ip); rejected != "" {
		h.reject(conn, rejected, code)
		return
	}

	client := newClient(uuid.NewString(), ip, conn, newRateLimiter(h.cfg.RateLimitCount, h.cfg.RateLimitWindow))
	h.register(client)

	h.commander.ClientConnected(client.ID)
	if err := client.send(h.commander.StateSync()); err != nil {
		h.drop(client, "state sync failed")
		return
	}
	h.logger.Info().Str("client_id", client.ID).Str("ip", ip).Msg("client connected")

	go h.readPump(client)
}

// admit reserves a connection slot, or returns a rejection code when a
// limit is reached. Checking and reserving happen under one lock so
// concurrent upgrades from the same address cannot overshoot a cap.
func (h *Hub) admit(ip string) (string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total >= h.cfg.MaxConnections {
		return protocol.CodeServerFull, "server connection limit reached"
	}
	if h.byIP[ip] >= h.cfg.MaxConnectionsPerIP {
		return protocol.CodeTooManyConnections, "per-address connection limit reached"
	}
	h.total++
	h.byIP[ip]++
	return "", ""
}

func (h *Hub) reject(conn *websocket.Conn, code, message string) {
	data, _ := json.Marshal(protocol.NewError(code, message))
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(writeWait))
	_ = conn.Close()
	h.logger.Info().Str("code", code).Msg("client rejected")
}

// register attaches an admitted client; its slot is already reserved.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	c.conn.SetReadLimit(maxCommandLen)
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		h.total--
		if h.byIP[c.IP] <= 1 {
			delete(h.byIP, c.IP)
		} else {
			h.byIP[c.IP]--
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.commander.ClientDisconnected(c.ID)
	h.logger.Info().Str("client_id", c.ID).Str("reason", reason).Msg("client disconnected")
}

// readPump outlives the HTTP handler, so commands run against the
// background context rather than the hijacked request's.
func (h *Hub) readPump(c *Client) {
	ctx := context.Background()
	defer h.drop(c, "read loop ended")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = c.send(protocol.NewError(protocol.CodeBadRequest, "malformed command envelope"))
			continue
		}
		if cmd.Type == protocol.CmdPong {
			continue
		}
		if !c.limiter.Allow(time.Now()) {
			_ = c.send(protocol.NewError(protocol.CodeRateLimited, "too many commands"))
			continue
		}
		if cmd.Type == protocol.CmdSubscribe {
			sub, err := protocol.DecodeCommandData[protocol.SubscribeData](cmd.Data)
			if err != nil {
				_ = c.send(protocol.NewError(protocol.CodeBadRequest, "malformed subscribe payload"))
				continue
			}
			c.setSubscriptions(sub.Channels)
			continue
		}
		h.commander.HandleCommand(ctx, c.ID, cmd)
	}
}

// Broadcast fans one envelope out to every client, honoring channel
// subscriptions for channel-scoped traffic.
func (h *Hub) Broadcast(env protocol.Downstream) {
	channel := envelopeChannel(env)
	for _, c := range h.snapshot() {
		if !c.subscribedTo(channel) {
			continue
		}
		if err := c.send(env); err != nil {
			h.drop(c, "write failed")
		}
	}
}

// SendTo delivers one envelope to one client; unknown clients are
// ignored.
func (h *Hub) SendTo(clientID string, env protocol.Downstream) {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.send(env); err != nil {
		h.drop(c, "write failed")
	}
}

// Run emits heartbeats and reaps clients that have gone silent past
// the timeout.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if c.idleSince() > h.cfg.ClientTimeout {
					h.drop(c, "client timeout")
					continue
				}
				if err := c.send(protocol.Downstream{Type: protocol.DownPing}); err != nil {
					h.drop(c, "write failed")
				}
			}
		}
	}
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.drop(c, "shutdown")
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// envelopeChannel extracts the channel for subscription filtering.
func envelopeChannel(env protocol.Downstream) string {
	switch env.Type {
	case protocol.DownMessage:
		if msg, ok := env.Data.(world.ChatMessage); ok {
			return msg.Channel
		}
	case protocol.DownTyping:
		if t, ok := env.Data.(dispatcher.TypingPayload); ok {
			return t.Channel
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
