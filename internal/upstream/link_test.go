package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/protocol"
)

func TestNextBackoff(t *testing.T) {
	max := 30 * time.Second
	b := time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		b = nextBackoff(b, max)
		if b != w {
			t.Fatalf("step %d: expected %s, got %s", i, w, b)
		}
	}
}

func TestJoinDelay(t *testing.T) {
	want := []time.Duration{500 * time.Millisecond, 700 * time.Millisecond, 900 * time.Millisecond}
	for i, w := range want {
		if d := joinDelay(i); d != w {
			t.Fatalf("join %d: expected %s, got %s", i, w, d)
		}
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.ReconnectMin != defaultReconnectMin {
		t.Fatalf("expected default min, got %s", cfg.ReconnectMin)
	}
	if cfg.ReconnectMax != defaultReconnectMax {
		t.Fatalf("expected default max, got %s", cfg.ReconnectMax)
	}

	id, err := protocol.NewIdentity("relay")
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	cfg = Config{Nick: "ignored", Identity: id}.normalized()
	if cfg.Nick != id.Nick {
		t.Fatalf("identity nick should win, got %q", cfg.Nick)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	l := New(Config{URL: "ws://127.0.0.1:1", Nick: "relay", Logger: zerolog.Nop()})
	if l.Send(protocol.NewPing()) {
		t.Fatalf("send should fail before the socket opens")
	}
	if l.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", l.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateIdentifying:  "identifying",
		StateReady:        "ready",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("expected %q, got %q", want, s.String())
		}
	}
}

// fakeUpstream accepts one websocket client and records inbound frames.
type fakeUpstream struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan map[string]any
	conns  chan *websocket.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{
		t:      t,
		frames: make(chan map[string]any, 32),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			f.frames <- frame
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeUpstream) nextFrame() map[string]any {
	select {
	case frame := <-f.frames:
		return frame
	case <-time.After(3 * time.Second):
		f.t.Fatalf("timed out waiting for a frame")
		return nil
	}
}

func (f *fakeUpstream) conn() *websocket.Conn {
	select {
	case c := <-f.conns:
		return c
	case <-time.After(3 * time.Second):
		f.t.Fatalf("timed out waiting for a connection")
		return nil
	}
}

func nextEvent(t *testing.T, events <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for an event")
		return nil
	}
}

func TestLinkIdentifiesAndForwardsEvents(t *testing.T) {
	f := newFakeUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(Config{URL: f.url(), Nick: "relay-test", Logger: zerolog.Nop()})
	go l.Run(ctx)

	conn := f.conn()

	frame := f.nextFrame()
	if frame["type"] != "IDENTIFY" || frame["nick"] != "relay-test" {
		t.Fatalf("expected identify first, got %+v", frame)
	}
	if f.nextFrame()["type"] != "LIST_CHANNELS" {
		t.Fatalf("expected channel listing after identify")
	}

	if _, ok := nextEvent(t, l.Events()).(protocol.LinkUpEvent); !ok {
		t.Fatalf("expected link up event")
	}

	err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"WELCOME","agent_id":"a-relay","nick":"relay-test"}`))
	if err != nil {
		t.Fatalf("write welcome: %v", err)
	}
	if _, ok := nextEvent(t, l.Events()).(protocol.WelcomeEvent); !ok {
		t.Fatalf("expected welcome event")
	}
	if l.State() != StateReady {
		t.Fatalf("expected ready after welcome, got %s", l.State())
	}

	if !l.Send(protocol.NewPing()) {
		t.Fatalf("send should succeed while connected")
	}
	if f.nextFrame()["type"] != "PING" {
		t.Fatalf("expected ping frame")
	}
}

func TestLinkStaggersDefaultJoins(t *testing.T) {
	f := newFakeUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(Config{
		URL:             f.url(),
		Nick:            "relay-test",
		DefaultChannels: []string{"general", "marketplace"},
		Logger:          zerolog.Nop(),
	})
	go l.Run(ctx)

	f.nextFrame() // IDENTIFY
	f.nextFrame() // LIST_CHANNELS

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		frame := f.nextFrame()
		if frame["type"] != "JOIN" {
			t.Fatalf("expected join, got %+v", frame)
		}
		channels[frame["channel"].(string)] = true
	}
	if !channels["general"] || !channels["marketplace"] {
		t.Fatalf("missing joins: %+v", channels)
	}
}

func TestLinkWithoutReconnectStopsAfterClose(t *testing.T) {
	f := newFakeUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(Config{URL: f.url(), Nick: "session-test", Logger: zerolog.Nop()})
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	conn := f.conn()
	if _, ok := nextEvent(t, l.Events()).(protocol.LinkUpEvent); !ok {
		t.Fatalf("expected link up event")
	}
	_ = conn.Close()

	if _, ok := nextEvent(t, l.Events()).(protocol.LinkDownEvent); !ok {
		t.Fatalf("expected link down event")
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("non-reconnecting link should stop after closure")
	}
}
