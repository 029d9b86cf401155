package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/protocol"
	"github.com/agora-relay/agora-relay/internal/upstream"
)

// Delivery is one upstream event tagged with the owning dashboard
// client.
type Delivery struct {
	ClientID string
	Event    protocol.Event
}

// Session is one dashboard client's dedicated upstream presence: a
// fresh ephemeral identity and its own socket. Sessions never
// reconnect; a dropped socket ends the session and the client falls
// back to lurk mode.
type Session struct {
	ClientID string
	Identity *protocol.Identity

	link   *upstream.Link
	cancel context.CancelFunc

	mu           sync.Mutex
	agentID      string
	assignedNick string
}

func (s *Session) setWelcome(agentID, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentID = agentID
	s.assignedNick = nick
}

// AgentID returns the upstream-assigned agent id, empty until the
// session has been welcomed.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// AssignedNick returns the nick the upstream confirmed on WELCOME.
func (s *Session) AssignedNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignedNick
}

// Send forwards one frame over the session's link.
func (s *Session) Send(frame any) bool {
	return s.link.Send(frame)
}

// Ready reports whether the session's link has been welcomed upstream.
func (s *Session) Ready() bool {
	return s.link.State() == upstream.StateReady
}

// Manager owns all participant sessions and funnels their upstream
// events into a single delivery stream for the relay to fold.
type Manager struct {
	url        string
	nickPrefix string
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	deliveries chan Delivery
}

func NewManager(upstreamURL, nickPrefix string, logger zerolog.Logger) *Manager {
	if nickPrefix == "" {
		nickPrefix = "guest"
	}
	return &Manager{
		url:        upstreamURL,
		nickPrefix: nickPrefix,
		logger:     logger.With().Str("service", "sessions").Logger(),
		sessions:   map[string]*Session{},
		deliveries: make(chan Delivery, 256),
	}
}

// Deliveries streams events from every active session.
func (m *Manager) Deliveries() <-chan Delivery {
	return m.deliveries
}

// Enter creates a participant session for the client. Entering twice is
// idempotent and returns the existing session.
func (m *Manager) Enter(ctx context.Context, clientID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[clientID]; ok {
		return existing, nil
	}

	identity, err := protocol.NewIdentity(m.nickPrefix)
	if err != nil {
		return nil, fmt.Errorf("create session identity: %w", err)
	}
	linkCtx, cancel := context.WithCancel(ctx)
	link := upstream.New(upstream.Config{
		URL:      m.url,
		Identity: identity,
		Logger:   m.logger.With().Str("client_id", clientID).Logger(),
	})
	s := &Session{
		ClientID: clientID,
		Identity: identity,
		link:     link,
		cancel:   cancel,
	}
	m.sessions[clientID] = s

	go link.Run(linkCtx)
	go m.pump(s)

	m.logger.Info().Str("client_id", clientID).Str("nick", identity.Nick).Msg("participant session opened")
	return s, nil
}

// pump forwards session events to the shared delivery stream,
// answering challenges locally since the identity lives here. The
// upstream-assigned identity is recorded before the WELCOME is
// forwarded.
func (m *Manager) pump(s *Session) {
	for ev := range s.link.Events() {
		switch e := ev.(type) {
		case protocol.ChallengeEvent:
			signature := s.Identity.SignNonce(e.Nonce)
			s.link.Send(protocol.NewChallengeResponse(e.Nonce, signature, s.Identity.PublicKey()))
			continue
		case protocol.WelcomeEvent:
			s.setWelcome(e.AgentID, e.Nick)
		}
		m.deliveries <- Delivery{ClientID: s.ClientID, Event: ev}
	}
}

// Exit tears down the client's session. Exiting an absent session is a
// no-op.
func (m *Manager) Exit(clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	if ok {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	m.logger.Info().Str("client_id", clientID).Str("nick", s.Identity.Nick).Msg("participant session closed")
}

// Get returns the client's session, if any.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
