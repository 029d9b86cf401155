package dispatcher

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/domain/world"
	"github.com/agora-relay/agora-relay/internal/protocol"
)

// Result is the outcome of folding one upstream event: envelopes to
// broadcast to dashboard clients and follow-up frames for the upstream
// link.
type Result struct {
	Broadcasts []protocol.Downstream
	Requests   []any
}

func (r *Result) broadcast(envType string, data any) {
	r.Broadcasts = append(r.Broadcasts, protocol.Downstream{Type: envType, Data: data})
}

func (r *Result) request(frame any) {
	r.Requests = append(r.Requests, frame)
}

// Downstream payload shapes.
type ChannelsPayload struct {
	Channels []world.ChannelView `json:"channels"`
}

type AgentPayload struct {
	Channel string      `json:"channel,omitempty"`
	Agent   world.Agent `json:"agent"`
}

type RosterPayload struct {
	Channel string        `json:"channel"`
	Agents  []world.Agent `json:"agents"`
}

type TypingPayload struct {
	Channel  string `json:"channel"`
	From     string `json:"from"`
	FromNick string `json:"fromNick,omitempty"`
}

type SkillsPayload struct {
	Skills []world.Skill `json:"skills"`
}

type LeaderboardPayload struct {
	Entries []world.LeaderboardEntry `json:"entries"`
}

// Dispatcher folds upstream events into the world and decides what the
// dashboards need to hear about each one. It is not safe for concurrent
// use; the relay runs it from a single goroutine.
type Dispatcher struct {
	world  *world.World
	dedup  *world.DedupWindow
	logger zerolog.Logger
}

func New(w *world.World, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		world:  w,
		dedup:  world.NewDedupWindow(),
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Apply folds one event. Events that carry no state (typing) still
// produce broadcasts; events the relay does not track produce nothing.
func (d *Dispatcher) Apply(ev protocol.Event) Result {
	var res Result

	switch e := ev.(type) {
	case protocol.LinkUpEvent:
		d.world.SetConnected(true)
		res.broadcast(protocol.DownConnected, nil)

	case protocol.LinkDownEvent:
		d.world.SetConnected(false)
		res.broadcast(protocol.DownDisconnected, nil)

	case protocol.WelcomeEvent:
		d.world.SetIdentity(e.AgentID, e.Nick)
		d.logger.Info().Str("agent_id", e.AgentID).Str("nick", e.Nick).Msg("upstream identity confirmed")

	case protocol.MsgEvent:
		msg, fresh := d.foldMessage(e.ID, e.From, e.FromNick, e.Channel, "", e.Content, e.Timestamp, e.Proposal)
		if !fresh {
			return res
		}
		d.world.AppendMessage(msg)
		d.world.UpsertAgent(e.Channel, e.From, e.FromNick, false, "")
		res.broadcast(protocol.DownMessage, msg)

	case protocol.DMEvent:
		msg, fresh := d.foldMessage(e.ID, e.From, e.FromNick, "", e.To, e.Content, e.Timestamp, false)
		if !fresh {
			return res
		}
		d.world.AppendDirectMessage(msg)
		res.broadcast(protocol.DownDMMessage, msg)

	case protocol.ChannelsEvent:
		for _, listing := range e.Channels {
			if d.world.UpdateChannelCount(listing.Name, listing.AgentCount) {
				res.request(protocol.NewJoin(listing.Name))
			}
		}
		res.broadcast(protocol.DownChannelUpdate, ChannelsPayload{Channels: d.world.ChannelViews()})

	case protocol.JoinedEvent:
		d.world.EnsureChannel(e.Channel)
		res.request(protocol.NewGetAgents(e.Channel))
		res.broadcast(protocol.DownChannelUpdate, ChannelsPayload{Channels: d.world.ChannelViews()})

	case protocol.AgentsEvent:
		roster := make([]world.RosterEntry, 0, len(e.Agents))
		for _, a := range e.Agents {
			roster = append(roster, world.RosterEntry{ID: a.ID, Nick: a.Nick, Verified: a.Verified, Presence: a.Presence})
		}
		agents := d.world.SetRoster(e.Channel, roster)
		res.broadcast(protocol.DownAgentsUpdate, RosterPayload{Channel: e.Channel, Agents: agents})

	case protocol.AgentJoinedEvent:
		agent := d.world.UpsertAgent(e.Channel, e.Agent.ID, e.Agent.Nick, e.Agent.Verified, e.Agent.Presence)
		res.broadcast(protocol.DownAgentUpdate, AgentPayload{Channel: e.Channel, Agent: agent})

	case protocol.AgentLeftEvent:
		agent, known := d.world.RemoveMembership(e.Channel, e.AgentID)
		if known {
			res.broadcast(protocol.DownAgentUpdate, AgentPayload{Channel: e.Channel, Agent: agent})
		}

	case protocol.ProposalEvent:
		p := d.world.UpsertProposal(world.Proposal{
			ID:       e.ProposalID,
			From:     e.From,
			To:       e.To,
			Task:     e.Task,
			Amount:   e.Amount,
			Currency: e.Currency,
			Stake:    e.Stake,
		})
		res.broadcast(protocol.DownProposalUpdate, p)

	case protocol.ProposalStatusEvent:
		if _, ok := d.world.Proposal(e.ProposalID); !ok {
			d.logger.Debug().Str("type", string(e.Type)).Str("proposal_id", e.ProposalID).Msg("dropping status for unknown proposal")
			return res
		}
		p := d.world.UpsertProposal(world.Proposal{ID: e.ProposalID, Status: proposalStatus(e.Type)})
		res.broadcast(protocol.DownProposalUpdate, p)

	case protocol.SearchResultsEvent:
		skills := make([]world.Skill, 0, len(e.Skills))
		for _, s := range e.Skills {
			skills = append(skills, world.Skill(s))
		}
		d.world.SetSkills(skills)
		res.broadcast(protocol.DownSkillsUpdate, SkillsPayload{Skills: skills})

	case protocol.LeaderboardEvent:
		entries := make([]world.LeaderboardEntry, 0, len(e.Entries))
		for _, row := range e.Entries {
			entries = append(entries, world.LeaderboardEntry{AgentID: row.AgentID, Nick: row.Nick, Score: row.Score, Rank: row.Rank})
		}
		d.world.SetLeaderboard(entries)
		res.broadcast(protocol.DownLeaderboard, LeaderboardPayload{Entries: entries})

	case protocol.DisputeIntentAckEvent:
		dsp := d.world.CreateDispute(e.DisputeID, e.ProposalID, e.Disputant, e.Respondent, e.Reason)
		res.broadcast(protocol.DownDisputeUpdate, dsp)
		if e.ProposalID != "" {
			p := d.world.UpsertProposal(world.Proposal{ID: e.ProposalID, Status: world.ProposalStatusDispute})
			res.broadcast(protocol.DownProposalUpdate, p)
		}

	case protocol.DisputeRevealedEvent:
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhasePanelSelection); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
		}

	case protocol.PanelFormedEvent:
		slots := make([]world.ArbiterSlot, 0, len(e.Arbiters))
		for _, a := range e.Arbiters {
			slots = append(slots, world.ArbiterSlot{AgentID: a.AgentID, Status: a.Status})
		}
		if _, ok := d.world.SetDisputePanel(e.DisputeID, slots); !ok {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
			return res
		}
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhaseArbiterResponse); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else if dsp, ok := d.world.Dispute(e.DisputeID); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		}

	case protocol.ArbiterAssignedEvent:
		// Slot state only. The phase is advanced by explicit phase
		// events, never inferred from arbiter acceptance.
		var acceptedAt *time.Time
		if e.AcceptedAt > 0 {
			at := time.UnixMilli(e.AcceptedAt).UTC()
			acceptedAt = &at
		}
		if dsp, ok := d.world.UpdateArbiterSlot(e.DisputeID, e.AgentID, e.Status, acceptedAt); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
		}

	case protocol.EvidenceReceivedEvent:
		bundle := world.EvidenceBundle{
			Items:       append([]byte(nil), e.Evidence...),
			Digest:      protocol.DigestEvidence(e.Evidence),
			SubmittedAt: time.Now().UTC(),
		}
		if _, ok := d.world.AttachEvidence(e.DisputeID, e.From, bundle); !ok {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
			return res
		}
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhaseEvidence); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else if dsp, ok := d.world.Dispute(e.DisputeID); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		}

	case protocol.CaseReadyEvent:
		if e.VoteDeadline > 0 {
			d.world.SetVoteDeadline(e.DisputeID, time.UnixMilli(e.VoteDeadline).UTC())
		}
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhaseDeliberation); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
		}

	case protocol.VerdictEvent:
		if _, ok := d.world.SetVerdict(e.DisputeID, e.Verdict, e.RatingChanges, e.Votes); !ok {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
			return res
		}
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhaseResolved); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else if dsp, ok := d.world.Dispute(e.DisputeID); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		}

	case protocol.DisputeFallbackEvent:
		if dsp, ok := d.world.AdvanceDisputePhase(e.DisputeID, world.PhaseFallback); ok {
			res.broadcast(protocol.DownDisputeUpdate, dsp)
		} else {
			d.dropDisputeEvent(ev.Kind(), e.DisputeID)
		}

	case protocol.TypingEvent:
		res.broadcast(protocol.DownTyping, TypingPayload{Channel: e.Channel, From: e.From, FromNick: e.FromNick})

	case protocol.ErrorEvent:
		d.logger.Warn().Str("message", e.Message).Msg("upstream error frame")

	case protocol.PongEvent, protocol.ChallengeEvent:
		// Challenges are answered by the link owner before dispatch;
		// pongs only confirm liveness.

	case protocol.UnknownEvent:
		d.logger.Debug().Str("type", string(e.Type)).Msg("ignoring unhandled frame type")

	default:
		d.logger.Debug().Str("type", string(ev.Kind())).Msg("ignoring event")
	}

	return res
}

// foldMessage normalizes one chat or direct message and runs it through
// the dedup window. fresh is false for replays.
func (d *Dispatcher) foldMessage(id, from, fromNick, channel, to, content string, tsMillis int64, proposal bool) (world.ChatMessage, bool) {
	ts := time.Now().UTC()
	if tsMillis > 0 {
		ts = time.UnixMilli(tsMillis).UTC()
	}
	if id == "" {
		id = protocol.DeriveMessageID(ts, from, content)
	}
	if d.dedup.Seen(id) {
		d.logger.Debug().Str("id", id).Msg("duplicate message dropped")
		return world.ChatMessage{}, false
	}
	d.dedup.Mark(id)
	return world.ChatMessage{
		ID:        id,
		From:      from,
		FromNick:  fromNick,
		Channel:   channel,
		To:        to,
		Content:   content,
		Timestamp: ts,
		Proposal:  proposal,
	}, true
}

func (d *Dispatcher) dropDisputeEvent(kind protocol.EventType, disputeID string) {
	d.logger.Debug().Str("type", string(kind)).Str("dispute_id", disputeID).Msg("dispute event not applicable")
}

func proposalStatus(t protocol.EventType) string {
	switch t {
	case protocol.EventAccept:
		return world.ProposalStatusAccept
	case protocol.EventReject:
		return world.ProposalStatusReject
	case protocol.EventComplete:
		return world.ProposalStatusComplete
	case protocol.EventDispute:
		return world.ProposalStatusDispute
	default:
		return ""
	}
}
