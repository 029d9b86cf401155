package world

import (
	"time"
)

// ProposalStatus values progressed by upstream negotiation events. The
// status is a free-form string on the wire; these are the values the
// relay itself writes.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccept   = "accept"
	ProposalStatusReject   = "reject"
	ProposalStatusComplete = "complete"
	ProposalStatusDispute  = "dispute"
)

// DisputePhase is the discrete stage of a dispute's resolution
// lifecycle.
type DisputePhase string

const (
	PhaseRevealPending   DisputePhase = "reveal_pending"
	PhasePanelSelection  DisputePhase = "panel_selection"
	PhaseArbiterResponse DisputePhase = "arbiter_response"
	PhaseEvidence        DisputePhase = "evidence"
	PhaseDeliberation    DisputePhase = "deliberation"
	PhaseResolved        DisputePhase = "resolved"
	PhaseFallback        DisputePhase = "fallback"
)

var phaseRank = map[DisputePhase]int{
	PhaseRevealPending:   0,
	PhasePanelSelection:  1,
	PhaseArbiterResponse: 2,
	PhaseEvidence:        3,
	PhaseDeliberation:    4,
	PhaseResolved:        5,
}

// Terminal reports whether no further phase transitions are allowed.
func (p DisputePhase) Terminal() bool {
	return p == PhaseResolved || p == PhaseFallback
}

// canAdvanceTo enforces forward-only transitions, with fallback
// reachable from any non-terminal phase.
func (p DisputePhase) canAdvanceTo(next DisputePhase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFallback {
		return true
	}
	from, ok := phaseRank[p]
	if !ok {
		return false
	}
	to, ok := phaseRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Agent is one network participant as observed by the relay. Agents are
// never deleted; they are marked offline when their last channel
// membership goes away.
type Agent struct {
	ID          string    `json:"id"`
	Nick        string    `json:"nick"`
	DisplayNick string    `json:"displayNick"`
	Channels    []string  `json:"channels"`
	LastSeen    time.Time `json:"lastSeen"`
	Online      bool      `json:"online"`
	Presence    string    `json:"presence,omitempty"`
	Verified    bool      `json:"verified"`
}

// ChatMessage is one immutable history entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromNick  string    `json:"fromNick,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	To        string    `json:"to,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Proposal  bool      `json:"proposal,omitempty"`
}

// Channel tracks membership, the upstream-reported agent count and a
// bounded message history.
type Channel struct {
	Name       string
	Members    []string
	AgentCount int
	History    *History[ChatMessage]
}

// ChannelView is the serializable form of a Channel.
type ChannelView struct {
	Name       string        `json:"name"`
	Members    []string      `json:"members"`
	AgentCount int           `json:"agentCount"`
	Messages   []ChatMessage `json:"messages"`
}

// Proposal is one task negotiation between two agents. Later events
// overwrite status and bump UpdatedAt; out-of-order delivery is not
// reconciled.
type Proposal struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Task      string    `json:"task"`
	Amount    float64   `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Stake     float64   `json:"stake,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ArbiterSlot is one seat on a dispute panel.
type ArbiterSlot struct {
	AgentID    string     `json:"agentId"`
	Status     string     `json:"status"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	Vote       *string    `json:"vote,omitempty"`
}

// EvidenceBundle is one party's submitted evidence.
type EvidenceBundle struct {
	Party       string    `json:"party"`
	Items       []byte    `json:"items,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Dispute is one arbitration case linked to a proposal.
type Dispute struct {
	ID            string                    `json:"id"`
	ProposalID    string                    `json:"proposalId"`
	Disputant     string                    `json:"disputant"`
	Respondent    string                    `json:"respondent"`
	Reason        string                    `json:"reason,omitempty"`
	Phase         DisputePhase              `json:"phase"`
	Arbiters      []ArbiterSlot             `json:"arbiters,omitempty"`
	Evidence      map[string]EvidenceBundle `json:"evidence,omitempty"`
	Verdict       *string                   `json:"verdict,omitempty"`
	RatingChanges map[string]int            `json:"ratingChanges,omitempty"`
	VoteDeadline  *time.Time                `json:"voteDeadline,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
	UpdatedAt     time.Time                 `json:"updatedAt"`
	ResolvedAt    *time.Time                `json:"resolvedAt,omitempty"`
}

// Skill is one entry from an upstream skill search.
type Skill struct {
	Agent       string  `json:"agent"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Category    string  `json:"category,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// LeaderboardEntry is one upstream leaderboard row.
type LeaderboardEntry struct {
	AgentID string  `json:"agentId"`
	Nick    string  `json:"nick,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// SelfInfo identifies the shared observer on the upstream network.
type SelfInfo struct {
	AgentID string `json:"agentId"`
	Nick    string `json:"nick"`
}

// Snapshot is the full serializable world view sent on state_sync.
type Snapshot struct {
	Connected   bool               `json:"connected"`
	Self        *SelfInfo          `json:"self,omitempty"`
	Agents      []Agent            `json:"agents"`
	Channels    []ChannelView      `json:"channels"`
	DirectMsgs  []ChatMessage      `json:"directMessages"`
	Proposals   []Proposal         `json:"proposals"`
	Disputes    []Dispute          `json:"disputes"`
	Skills      []Skill            `json:"skills"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// Stats summarizes world contents for the status endpoint.
type Stats struct {
	AgentsTotal      int            `json:"agentsTotal"`
	AgentsOnline     int            `json:"agentsOnline"`
	Channels         int            `json:"channels"`
	Messages         int            `json:"messages"`
	ProposalsByState map[string]int `json:"proposalsByStatus"`
	DisputesByPhase  map[string]int `json:"disputesByPhase"`
	Skills           int            `json:"skills"`
}
