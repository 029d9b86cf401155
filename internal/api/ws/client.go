package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agora-relay/agora-relay/internal/protocol"
)

const (
	writeWait     = 10 * time.Second
	maxCommandLen = 16 << 10
)

// Client is one dashboard websocket connection.
type Client struct {
	ID string
	IP string

	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rateLimiter

	lastSeen atomic.Int64

	subMu      sync.RWMutex
	subscribed map[string]struct{}
}

func newClient(id, ip string, conn *websocket.Conn, limiter *rateLimiter) *Client {
	c := &Client{ID: id, IP: ip, conn: conn, limiter: limiter}
	c.touch()
	return c
}

// send writes one envelope guarded by the write mutex and deadline.
func (c *Client) send(env protocol.Downstream) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) idleSince() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// setSubscriptions replaces the client's channel filter. An empty list
// subscribes to everything.
func (c *Client) setSubscriptions(channels []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(channels) == 0 {
		c.subscribed = nil
		return
	}
	c.subscribed = make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		c.subscribed[ch] = struct{}{}
	}
}

// subscribedTo reports whether channel traffic should reach this
// client. Envelopes without a channel always pass.
func (c *Client) subscribedTo(channel string) bool {
	if channel == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribed == nil {
		return true
	}
	_, ok := c.subscribed[channel]
	return ok
}

func (c *Client) close() {
	_ = c.conn.Close()
}
