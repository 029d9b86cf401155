package relay

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/application/dispatcher"
	"github.com/agora-relay/agora-relay/internal/application/names"
	"github.com/agora-relay/agora-relay/internal/application/session"
	"github.com/agora-relay/agora-relay/internal/application/skills"
	"github.com/agora-relay/agora-relay/internal/domain/world"
	"github.com/agora-relay/agora-relay/internal/protocol"
	"github.com/agora-relay/agora-relay/internal/upstream"
)

const maxMessageLen = 4000

// Mode is a dashboard client's participation level. Every client starts
// in lurk mode and reverts to it when its session drops.
type Mode string

const (
	ModeLurk        Mode = "lurk"
	ModeParticipate Mode = "participate"
)

// Broadcaster delivers downstream envelopes to dashboard clients. The
// websocket hub implements it.
type Broadcaster interface {
	Broadcast(env protocol.Downstream)
	SendTo(clientID string, env protocol.Downstream)
}

// Relay is the application core: it folds upstream events into the
// world, fans resulting updates out to dashboards, and translates
// dashboard commands into upstream frames.
type Relay struct {
	world    *world.World
	disp     *dispatcher.Dispatcher
	link     *upstream.Link
	sessions *session.Manager
	names    *names.Service
	identity *protocol.Identity
	logger   zerolog.Logger

	mu          sync.Mutex
	modes       map[string]Mode
	broadcaster Broadcaster
}

// Config wires the relay's collaborators.
type Config struct {
	World    *world.World
	Link     *upstream.Link
	Sessions *session.Manager
	Names    *names.Service
	Identity *protocol.Identity
	Logger   zerolog.Logger
}

func New(cfg Config) *Relay {
	logger := cfg.Logger.With().Str("service", "relay").Logger()
	return &Relay{
		world:    cfg.World,
		disp:     dispatcher.New(cfg.World, cfg.Logger),
		link:     cfg.Link,
		sessions: cfg.Sessions,
		names:    cfg.Names,
		identity: cfg.Identity,
		logger:   logger,
		modes:    map[string]Mode{},
	}
}

// SetBroadcaster binds the hub; must happen before Run.
func (r *Relay) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

func (r *Relay) broadcast(env protocol.Downstream) {
	r.mu.Lock()
	b := r.broadcaster
	r.mu.Unlock()
	if b != nil {
		b.Broadcast(env)
	}
}

func (r *Relay) sendTo(clientID string, env protocol.Downstream) {
	r.mu.Lock()
	b := r.broadcaster
	r.mu.Unlock()
	if b != nil {
		b.SendTo(clientID, env)
	}
}

// Run is the single fold loop: every world mutation flows through here,
// so state transitions are serialized without further locking.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.link.Events():
			if !ok {
				return
			}
			r.handleSharedEvent(ev)
		case d := <-r.sessions.Deliveries():
			r.handleSessionEvent(d)
		}
	}
}

func (r *Relay) handleSharedEvent(ev protocol.Event) {
	if challenge, ok := ev.(protocol.ChallengeEvent); ok {
		signature := r.identity.SignNonce(challenge.Nonce)
		r.link.Send(protocol.NewChallengeResponse(challenge.Nonce, signature, r.identity.PublicKey()))
		return
	}
	res := r.disp.Apply(ev)
	for _, req := range res.Requests {
		r.link.Send(req)
	}
	for _, env := range res.Broadcasts {
		r.broadcast(env)
	}
}

// handleSessionEvent folds the few event kinds that only a participant
// link can observe. Channel traffic also arrives on the shared link, so
// most session events are dropped here; the dedup window catches the
// overlap on messages.
func (r *Relay) handleSessionEvent(d session.Delivery) {
	switch e := d.Event.(type) {
	case protocol.WelcomeEvent:
		r.sendTo(d.ClientID, protocol.Downstream{
			Type: protocol.DownSessionIdentity,
			Data: world.SelfInfo{AgentID: e.AgentID, Nick: e.Nick},
		})
		// Join the channels the world already knows so the
		// participant can post to them.
		if s, ok := r.sessions.Get(d.ClientID); ok {
			for _, channel := range r.world.ChannelNames() {
				s.Send(protocol.NewJoin(channel))
			}
		}

	case protocol.LinkDownEvent:
		r.revertToLurk(d.ClientID, "session closed")

	case protocol.MsgEvent, protocol.DMEvent:
		res := r.disp.Apply(d.Event)
		for _, env := range res.Broadcasts {
			if env.Type == protocol.DownDMMessage {
				r.sendTo(d.ClientID, env)
				continue
			}
			r.broadcast(env)
		}

	case protocol.ErrorEvent:
		r.sendTo(d.ClientID, protocol.NewError(protocol.CodeUpstreamError, e.Message))

	default:
		// Shared link already covers the rest.
	}
}

func (r *Relay) revertToLurk(clientID, reason string) {
	r.sessions.Exit(clientID)
	r.mu.Lock()
	_, known := r.modes[clientID]
	if known {
		r.modes[clientID] = ModeLurk
	}
	r.mu.Unlock()
	if !known {
		return
	}
	r.logger.Info().Str("client_id", clientID).Str("reason", reason).Msg("client reverted to lurk")
	r.sendTo(clientID, protocol.Downstream{
		Type: protocol.DownModeChanged,
		Data: map[string]string{"mode": string(ModeLurk), "reason": reason},
	})
}

// ClientConnected registers a dashboard client in lurk mode.
func (r *Relay) ClientConnected(clientID string) {
	r.mu.Lock()
	r.modes[clientID] = ModeLurk
	r.mu.Unlock()
}

// ClientDisconnected tears down the client's mode and session.
func (r *Relay) ClientDisconnected(clientID string) {
	r.sessions.Exit(clientID)
	r.mu.Lock()
	delete(r.modes, clientID)
	r.mu.Unlock()
}

// Mode returns the client's current participation mode.
func (r *Relay) Mode(clientID string) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modes[clientID]; ok {
		return m
	}
	return ModeLurk
}

// StateSync builds the full-snapshot envelope sent to newly admitted
// clients.
func (r *Relay) StateSync() protocol.Downstream {
	return protocol.Downstream{Type: protocol.DownStateSync, Data: r.world.Snapshot()}
}

// HandleCommand executes one dashboard command. Unknown command types
// are ignored.
func (r *Relay) HandleCommand(ctx context.Context, clientID string, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CmdSetMode:
		r.handleSetMode(ctx, clientID, cmd)
	case protocol.CmdSendMessage:
		r.handleSendMessage(clientID, cmd)
	case protocol.CmdJoinChannel:
		r.handleJoinChannel(clientID, cmd)
	case protocol.CmdRefreshChannels:
		r.link.Send(protocol.NewListChannels())
	case protocol.CmdSearchSkills:
		r.handleSearchSkills(clientID, cmd)
	case protocol.CmdAcceptProposal:
		r.handleAcceptProposal(clientID, cmd)
	case protocol.CmdSetAgentName:
		r.handleSetAgentName(ctx, clientID, cmd)
	case protocol.CmdTyping:
		r.handleTyping(clientID, cmd)
	case protocol.CmdPong:
		// Liveness is tracked on any inbound frame.
	default:
		r.logger.Debug().Str("client_id", clientID).Str("type", cmd.Type).Msg("ignoring unknown command")
	}
}

func (r *Relay) handleSetMode(ctx context.Context, clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.SetModeData](cmd.Data)
	if err != nil {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "malformed set_mode payload"))
		return
	}
	switch Mode(data.Mode) {
	case ModeParticipate:
		if _, err := r.sessions.Enter(ctx, clientID); err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("open participant session")
			r.sendTo(clientID, protocol.NewError(protocol.CodeSessionFailed, "could not open participant session"))
			return
		}
		r.setMode(clientID, ModeParticipate)
		r.sendTo(clientID, protocol.Downstream{Type: protocol.DownModeChanged, Data: map[string]string{"mode": string(ModeParticipate)}})
	case ModeLurk:
		r.sessions.Exit(clientID)
		r.setMode(clientID, ModeLurk)
		r.sendTo(clientID, protocol.Downstream{Type: protocol.DownModeChanged, Data: map[string]string{"mode": string(ModeLurk)}})
	default:
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "mode must be lurk or participate"))
	}
}

func (r *Relay) setMode(clientID string, mode Mode) {
	r.mu.Lock()
	r.modes[clientID] = mode
	r.mu.Unlock()
}

func (r *Relay) handleSendMessage(clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.SendMessageData](cmd.Data)
	if err != nil {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "malformed send_message payload"))
		return
	}
	content := strings.TrimSpace(data.Content)
	if content == "" {
		r.sendTo(clientID, protocol.NewError(protocol.CodeEmptyMessage, "message content is empty"))
		return
	}
	if utf8.RuneCountInString(content) > maxMessageLen {
		r.sendTo(clientID, protocol.NewError(protocol.CodeMessageTooLong, "message exceeds 4000 characters"))
		return
	}
	if strings.TrimSpace(data.Channel) == "" {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "channel is required"))
		return
	}
	s, ok := r.participantSession(clientID)
	if !ok {
		r.sendTo(clientID, protocol.NewError(protocol.CodeNotParticipating, "switch to participate mode to send messages"))
		return
	}
	signature := s.Identity.SignContent(content)
	s.Send(protocol.NewMsg(data.Channel, content, signature))
	r.sendTo(clientID, protocol.Downstream{Type: protocol.DownMessageSent, Data: map[string]string{"channel": data.Channel}})
}

func (r *Relay) participantSession(clientID string) (*session.Session, bool) {
	if r.Mode(clientID) != ModeParticipate {
		return nil, false
	}
	return r.sessions.Get(clientID)
}

func (r *Relay) handleJoinChannel(clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.JoinChannelData](cmd.Data)
	if err != nil || strings.TrimSpace(data.Channel) == "" {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "channel is required"))
		return
	}
	r.link.Send(protocol.NewJoin(data.Channel))
	if s, ok := r.participantSession(clientID); ok {
		s.Send(protocol.NewJoin(data.Channel))
	}
}

// handleSearchSkills serves filter expressions locally against the
// cached skill list and forwards plain queries upstream; upstream
// results come back as a broadcast.
func (r *Relay) handleSearchSkills(clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.SearchSkillsData](cmd.Data)
	if err != nil {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "malformed search_skills payload"))
		return
	}
	if strings.TrimSpace(data.Filter) != "" {
		matched, err := skills.Filter(r.world.Skills(), data.Filter)
		if err != nil {
			r.sendTo(clientID, protocol.NewError(protocol.CodeBadFilter, err.Error()))
			return
		}
		r.sendTo(clientID, protocol.Downstream{Type: protocol.DownSkillsUpdate, Data: dispatcher.SkillsPayload{Skills: matched}})
		return
	}
	if strings.TrimSpace(data.Query) != "" {
		r.link.Send(protocol.NewSearch(data.Query))
		return
	}
	r.sendTo(clientID, protocol.Downstream{Type: protocol.DownSkillsUpdate, Data: dispatcher.SkillsPayload{Skills: r.world.Skills()}})
}

func (r *Relay) handleAcceptProposal(clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.AcceptProposalData](cmd.Data)
	if err != nil || strings.TrimSpace(data.ProposalID) == "" {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "proposal_id is required"))
		return
	}
	s, ok := r.participantSession(clientID)
	if !ok {
		r.sendTo(clientID, protocol.NewError(protocol.CodeNotParticipating, "switch to participate mode to accept proposals"))
		return
	}
	s.Send(protocol.NewAccept(data.ProposalID))
}

func (r *Relay) handleSetAgentName(ctx context.Context, clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.SetAgentNameData](cmd.Data)
	if err != nil {
		r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, "malformed set_agent_name payload"))
		return
	}
	name := strings.TrimSpace(data.Name)
	if name == "" {
		if err := r.names.Remove(ctx, data.AgentID); err != nil {
			r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, err.Error()))
			return
		}
	} else {
		if _, err := r.names.Set(ctx, data.AgentID, name); err != nil {
			r.sendTo(clientID, protocol.NewError(protocol.CodeBadRequest, err.Error()))
			return
		}
	}
	agent, known := r.world.SetNameOverride(data.AgentID, name)
	r.sendTo(clientID, protocol.Downstream{Type: protocol.DownNameSet, Data: map[string]string{"agentId": strings.TrimSpace(data.AgentID), "name": name}})
	if known {
		r.broadcast(protocol.Downstream{Type: protocol.DownAgentUpdate, Data: dispatcher.AgentPayload{Agent: agent}})
	}
}

func (r *Relay) handleTyping(clientID string, cmd protocol.Command) {
	data, err := protocol.DecodeCommandData[protocol.TypingData](cmd.Data)
	if err != nil || strings.TrimSpace(data.Channel) == "" {
		return
	}
	if s, ok := r.participantSession(clientID); ok {
		s.Send(protocol.NewTyping(data.Channel))
	}
}

// Status summarizes relay health for the status endpoint.
type Status struct {
	Upstream  string      `json:"upstream"`
	Connected bool        `json:"connected"`
	Sessions  int         `json:"sessions"`
	World     world.Stats `json:"world"`
}

func (r *Relay) Status() Status {
	return Status{
		Upstream:  r.link.State().String(),
		Connected: r.world.Connected(),
		Sessions:  r.sessions.Count(),
		World:     r.world.WorldStats(),
	}
}
