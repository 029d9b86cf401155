package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates inbound upstream frames.
type EventType string

const (
	EventWelcome          EventType = "WELCOME"
	EventMsg              EventType = "MSG"
	EventDM               EventType = "DM"
	EventChannels         EventType = "CHANNELS"
	EventJoined           EventType = "JOINED"
	EventAgents           EventType = "AGENTS"
	EventAgentJoined      EventType = "AGENT_JOINED"
	EventAgentLeft        EventType = "AGENT_LEFT"
	EventProposal         EventType = "PROPOSAL"
	EventAccept           EventType = "ACCEPT"
	EventReject           EventType = "REJECT"
	EventComplete         EventType = "COMPLETE"
	EventDispute          EventType = "DISPUTE"
	EventSearchResults    EventType = "SEARCH_RESULTS"
	EventLeaderboard      EventType = "LEADERBOARD"
	EventDisputeIntentAck EventType = "DISPUTE_INTENT_ACK"
	EventDisputeRevealed  EventType = "DISPUTE_REVEALED"
	EventPanelFormed      EventType = "PANEL_FORMED"
	EventArbiterAssigned  EventType = "ARBITER_ASSIGNED"
	EventEvidenceReceived EventType = "EVIDENCE_RECEIVED"
	EventCaseReady        EventType = "CASE_READY"
	EventVerdict          EventType = "VERDICT"
	EventDisputeFallback  EventType = "DISPUTE_FALLBACK"
	EventTyping           EventType = "TYPING"
	EventChallenge        EventType = "CHALLENGE"
	EventError            EventType = "ERROR"
	EventPong             EventType = "PONG"

	// Synthetic link lifecycle events, emitted locally by an
	// UpstreamLink. They never appear on the wire.
	EventLinkUp   EventType = "LINK_UP"
	EventLinkDown EventType = "LINK_DOWN"
)

// Event is one validated inbound upstream frame.
type Event interface {
	Kind() EventType
}

type WelcomeEvent struct {
	AgentID string `json:"agent_id"`
	Nick    string `json:"nick"`
}

type MsgEvent struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	FromNick  string `json:"from_nick,omitempty"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Proposal  bool   `json:"proposal,omitempty"`
}

type DMEvent struct {
	ID        string `json:"id,omitempty"`
	From      string `json:"from"`
	FromNick  string `json:"from_nick,omitempty"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ChannelListing is one entry in a CHANNELS frame.
type ChannelListing struct {
	Name       string `json:"name"`
	AgentCount int    `json:"agent_count"`
}

type ChannelsEvent struct {
	Channels []ChannelListing `json:"channels"`
}

type JoinedEvent struct {
	Channel string `json:"channel"`
}

// AgentListing is one agent entry in an AGENTS roster or join event.
type AgentListing struct {
	ID       string `json:"id"`
	Nick     string `json:"nick"`
	Verified bool   `json:"verified,omitempty"`
	Presence string `json:"presence,omitempty"`
}

type AgentsEvent struct {
	Channel string         `json:"channel"`
	Agents  []AgentListing `json:"agents"`
}

type AgentJoinedEvent struct {
	Channel string       `json:"channel"`
	Agent   AgentListing `json:"agent"`
}

type AgentLeftEvent struct {
	Channel string `json:"channel"`
	AgentID string `json:"agent_id"`
}

type ProposalEvent struct {
	ProposalID string  `json:"proposal_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Task       string  `json:"task"`
	Amount     float64 `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Stake      float64 `json:"stake,omitempty"`
}

// ProposalStatusEvent covers ACCEPT, REJECT, COMPLETE and DISPUTE,
// which share a shape and differ only in the discriminator.
type ProposalStatusEvent struct {
	Type       EventType `json:"type"`
	ProposalID string    `json:"proposal_id"`
}

// SkillListing is one entry in a SEARCH_RESULTS frame.
type SkillListing struct {
	Agent       string  `json:"agent"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Category    string  `json:"category,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

type SearchResultsEvent struct {
	Skills []SkillListing `json:"skills"`
}

// LeaderboardListing is one LEADERBOARD row.
type LeaderboardListing struct {
	AgentID string  `json:"agent_id"`
	Nick    string  `json:"nick,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type LeaderboardEvent struct {
	Entries []LeaderboardListing `json:"entries"`
}

type DisputeIntentAckEvent struct {
	DisputeID  string `json:"dispute_id"`
	ProposalID string `json:"proposal_id"`
	Disputant  string `json:"disputant"`
	Respondent string `json:"respondent"`
	Reason     string `json:"reason,omitempty"`
}

type DisputeRevealedEvent struct {
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason,omitempty"`
}

// ArbiterListing is one panel seat in a PANEL_FORMED frame.
type ArbiterListing struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

type PanelFormedEvent struct {
	DisputeID string           `json:"dispute_id"`
	Arbiters  []ArbiterListing `json:"arbiters"`
}

type ArbiterAssignedEvent struct {
	DisputeID  string `json:"dispute_id"`
	AgentID    string `json:"agent_id"`
	Status     string `json:"status"`
	AcceptedAt int64  `json:"accepted_at,omitempty"`
}

type EvidenceReceivedEvent struct {
	DisputeID string          `json:"dispute_id"`
	From      string          `json:"from"`
	Evidence  json.RawMessage `json:"evidence,omitempty"`
}

type CaseReadyEvent struct {
	DisputeID    string `json:"dispute_id"`
	VoteDeadline int64  `json:"vote_deadline,omitempty"`
}

type VerdictEvent struct {
	DisputeID     string            `json:"dispute_id"`
	Verdict       string            `json:"verdict"`
	RatingChanges map[string]int    `json:"rating_changes,omitempty"`
	Votes         map[string]string `json:"votes,omitempty"`
}

type DisputeFallbackEvent struct {
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason,omitempty"`
}

type TypingEvent struct {
	Channel  string `json:"channel"`
	From     string `json:"from"`
	FromNick string `json:"from_nick,omitempty"`
}

type ChallengeEvent struct {
	Nonce string `json:"nonce"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type PongEvent struct{}

// UnknownEvent carries a frame whose type the relay does not handle.
type UnknownEvent struct {
	Type EventType
	Raw  json.RawMessage
}

// LinkUpEvent and LinkDownEvent are synthesized by an UpstreamLink
// around socket lifecycle; they carry no wire payload.
type LinkUpEvent struct{}
type LinkDownEvent struct{}

func (WelcomeEvent) Kind() EventType          { return EventWelcome }
func (MsgEvent) Kind() EventType              { return EventMsg }
func (DMEvent) Kind() EventType               { return EventDM }
func (ChannelsEvent) Kind() EventType         { return EventChannels }
func (JoinedEvent) Kind() EventType           { return EventJoined }
func (AgentsEvent) Kind() EventType           { return EventAgents }
func (AgentJoinedEvent) Kind() EventType      { return EventAgentJoined }
func (AgentLeftEvent) Kind() EventType        { return EventAgentLeft }
func (ProposalEvent) Kind() EventType         { return EventProposal }
func (e ProposalStatusEvent) Kind() EventType { return e.Type }
func (SearchResultsEvent) Kind() EventType    { return EventSearchResults }
func (LeaderboardEvent) Kind() EventType      { return EventLeaderboard }
func (DisputeIntentAckEvent) Kind() EventType { return EventDisputeIntentAck }
func (DisputeRevealedEvent) Kind() EventType  { return EventDisputeRevealed }
func (PanelFormedEvent) Kind() EventType      { return EventPanelFormed }
func (ArbiterAssignedEvent) Kind() EventType  { return EventArbiterAssigned }
func (EvidenceReceivedEvent) Kind() EventType { return EventEvidenceReceived }
func (CaseReadyEvent) Kind() EventType        { return EventCaseReady }
func (VerdictEvent) Kind() EventType          { return EventVerdict }
func (DisputeFallbackEvent) Kind() EventType  { return EventDisputeFallback }
func (TypingEvent) Kind() EventType           { return EventTyping }
func (ChallengeEvent) Kind() EventType        { return EventChallenge }
func (ErrorEvent) Kind() EventType            { return EventError }
func (PongEvent) Kind() EventType             { return EventPong }
func (e UnknownEvent) Kind() EventType        { return e.Type }
func (LinkUpEvent) Kind() EventType           { return EventLinkUp }
func (LinkDownEvent) Kind() EventType         { return EventLinkDown }

// ParseEvent validates one raw inbound frame and returns its typed
// form. Frames with an unrecognized type decode to UnknownEvent; frames
// that are not JSON objects or lack a type are an error.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if strings.TrimSpace(string(head.Type)) == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch head.Type {
	case EventWelcome:
		return decodeEvent[WelcomeEvent](data)
	case EventMsg:
		return decodeEvent[MsgEvent](data)
	case EventDM:
		return decodeEvent[DMEvent](data)
	case EventChannels:
		return decodeEvent[ChannelsEvent](data)
	case EventJoined:
		return decodeEvent[JoinedEvent](data)
	case EventAgents:
		return decodeEvent[AgentsEvent](data)
	case EventAgentJoined:
		return decodeEvent[AgentJoinedEvent](data)
	case EventAgentLeft:
		return decodeEvent[AgentLeftEvent](data)
	case EventProposal:
		return decodeEvent[ProposalEvent](data)
	case EventAccept, EventReject, EventComplete, EventDispute:
		return decodeEvent[ProposalStatusEvent](data)
	case EventSearchResults:
		return decodeEvent[SearchResultsEvent](data)
	case EventLeaderboard:
		return decodeEvent[LeaderboardEvent](data)
	case EventDisputeIntentAck:
		return decodeEvent[DisputeIntentAckEvent](data)
	case EventDisputeRevealed:
		return decodeEvent[DisputeRevealedEvent](data)
	case EventPanelFormed:
		return decodeEvent[PanelFormedEvent](data)
	case EventArbiterAssigned:
		return decodeEvent[ArbiterAssignedEvent](data)
	case EventEvidenceReceived:
		return decodeEvent[EvidenceReceivedEvent](data)
	case EventCaseReady:
		return decodeEvent[CaseReadyEvent](data)
	case EventVerdict:
		return decodeEvent[VerdictEvent](data)
	case EventDisputeFallback:
		return decodeEvent[DisputeFallbackEvent](data)
	case EventTyping:
		return decodeEvent[TypingEvent](data)
	case EventChallenge:
		return decodeEvent[ChallengeEvent](data)
	case EventError:
		return decodeEvent[ErrorEvent](data)
	case EventPong:
		return PongEvent{}, nil
	default:
		return UnknownEvent{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeEvent[T Event](data []byte) (Event, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("malformed %T frame: %w", out, err)
	}
	return out, nil
}
