package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/protocol"
)

// fakeUpstream welcomes every connecting session with a fixed agent id.
func fakeUpstream(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"IDENTIFY"`) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"WELCOME","agent_id":"a-42","nick":"guest-assigned"}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func awaitDelivery(t *testing.T, m *Manager) Delivery {
	t.Helper()
	select {
	case d := <-m.Deliveries():
		return d
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for a delivery")
		return Delivery{}
	}
}

func TestEnterRecordsWelcomeIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(fakeUpstream(t), "guest", zerolog.Nop())

	s, err := m.Enter(ctx, "c-1")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if s.AgentID() != "" {
		t.Fatalf("agent id set before welcome: %q", s.AgentID())
	}

	for {
		d := awaitDelivery(t, m)
		if d.ClientID != "c-1" {
			t.Fatalf("delivery for wrong client %s", d.ClientID)
		}
		if _, ok := d.Event.(protocol.WelcomeEvent); ok {
			break
		}
	}

	// The welcome is recorded before it is forwarded.
	if s.AgentID() != "a-42" {
		t.Fatalf("expected agent id a-42, got %q", s.AgentID())
	}
	if s.AssignedNick() != "guest-assigned" {
		t.Fatalf("expected assigned nick, got %q", s.AssignedNick())
	}
}

func TestEnterIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(fakeUpstream(t), "guest", zerolog.Nop())

	first, err := m.Enter(ctx, "c-1")
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	second, err := m.Enter(ctx, "c-1")
	if err != nil {
		t.Fatalf("re-enter: %v", err)
	}
	if first != second {
		t.Fatalf("re-entering opened a second session")
	}
	if m.Count() != 1 {
		t.Fatalf("expected one session, got %d", m.Count())
	}
}

func TestExitIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(fakeUpstream(t), "guest", zerolog.Nop())

	if _, err := m.Enter(ctx, "c-1"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	m.Exit("c-1")
	m.Exit("c-1")
	if m.Count() != 0 {
		t.Fatalf("expected no sessions, got %d", m.Count())
	}
	if _, ok := m.Get("c-1"); ok {
		t.Fatalf("exited session still retrievable")
	}
}
