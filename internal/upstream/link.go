package upstream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/protocol"
)

// State is the link lifecycle stage.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 30 * time.Second

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	maxFrameSize     = 1 << 20

	joinStaggerBase = 500 * time.Millisecond
	joinStaggerStep = 200 * time.Millisecond
)

// Config defines one upstream socket session.
type Config struct {
	URL             string
	Nick            string
	Identity        *protocol.Identity
	DefaultChannels []string
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	// Reconnect keeps the link retrying forever with backoff. The
	// shared observer link sets it; per-session links do not and give
	// up after the first closure.
	Reconnect bool
	Logger    zerolog.Logger
}

func (c Config) normalized() Config {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.Identity != nil {
		c.Nick = c.Identity.Nick
	}
	return c
}

// Link owns exactly one socket session to the upstream network and
// translates raw frames into typed events. Transport errors are logged
// and recovered, never returned to callers.
type Link struct {
	cfg    Config
	logger zerolog.Logger

	state  atomic.Int32
	events chan protocol.Event

	mu         sync.Mutex
	conn       *websocket.Conn
	joinTimers []*time.Timer
}

// New creates a link; Run starts it.
func New(cfg Config) *Link {
	cfg = cfg.normalized()
	return &Link{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "upstream").Str("nick", cfg.Nick).Logger(),
		events: make(chan protocol.Event, 256),
	}
}

// Events delivers parsed frames plus synthetic LinkUp/LinkDown events
// in arrival order. The channel closes when Run returns.
func (l *Link) Events() <-chan protocol.Event {
	return l.events
}

// State returns the current lifecycle stage.
func (l *Link) State() State {
	return State(l.state.Load())
}

func (l *Link) setState(s State) {
	l.state.Store(int32(s))
}

// Run drives the connect/identify/read/reconnect loop until ctx is
// cancelled or, for non-reconnecting links, until the first closure.
func (l *Link) Run(ctx context.Context) {
	defer close(l.events)
	stop := context.AfterFunc(ctx, l.closeConn)
	defer stop()

	backoff := l.cfg.ReconnectMin
	for {
		l.setState(StateConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, l.cfg.URL, nil)
		if err != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			l.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn().Err(err).Dur("backoff", backoff).Msg("upstream dial failed")
			if !l.cfg.Reconnect {
				l.emit(ctx, protocol.LinkDownEvent{})
				return
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, l.cfg.ReconnectMax)
			continue
		}

		// Backoff resets on every successful connect.
		backoff = l.cfg.ReconnectMin
		conn.SetReadLimit(maxFrameSize)
		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		l.setState(StateIdentifying)
		l.identify()
		l.emit(ctx, protocol.LinkUpEvent{})
		l.scheduleJoins()

		l.readLoop(ctx, conn)

		l.closeConn()
		l.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		l.emit(ctx, protocol.LinkDownEvent{})
		if !l.cfg.Reconnect {
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, l.cfg.ReconnectMax)
	}
}

func (l *Link) identify() {
	publicKey := ""
	if l.cfg.Identity != nil {
		publicKey = l.cfg.Identity.PublicKey()
	}
	l.writeFrame(protocol.NewIdentify(l.cfg.Nick, publicKey))
	l.writeFrame(protocol.NewListChannels())
}

// scheduleJoins staggers the default channel joins (500ms, 700ms,
// 900ms, ...) to avoid a burst of join requests after every reconnect.
func (l *Link) scheduleJoins() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, channel := range l.cfg.DefaultChannels {
		ch := channel
		l.joinTimers = append(l.joinTimers, time.AfterFunc(joinDelay(i), func() {
			l.writeFrame(protocol.NewJoin(ch))
		}))
	}
}

func joinDelay(i int) time.Duration {
	return joinStaggerBase + time.Duration(i)*joinStaggerStep
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn().Err(err).Msg("upstream read failed")
			}
			return
		}
		ev, perr := protocol.ParseEvent(data)
		if perr != nil {
			l.logger.Warn().Err(perr).Str("frame", truncateFrame(data)).Msg("dropping malformed frame")
			continue
		}
		if _, ok := ev.(protocol.WelcomeEvent); ok {
			l.setState(StateReady)
		}
		if !l.emit(ctx, ev) {
			return
		}
	}
}

func (l *Link) emit(ctx context.Context, ev protocol.Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Send marshals and writes one frame. It is a silent no-op unless the
// socket is open; callers must not assume delivery.
func (l *Link) Send(frame any) bool {
	if l.State() < StateIdentifying {
		return false
	}
	return l.writeFrame(frame)
}

func (l *Link) writeFrame(frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		l.logger.Error().Err(err).Msg("marshal outbound frame")
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return false
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.logger.Warn().Err(err).Msg("upstream write failed")
		return false
	}
	return true
}

func (l *Link) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.joinTimers {
		t.Stop()
	}
	l.joinTimers = nil
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncateFrame(data []byte) string {
	const sample = 128
	if len(data) > sample {
		data = data[:sample]
	}
	return string(data)
}
