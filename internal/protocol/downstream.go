package protocol

import "encoding/json"

// Downstream is the envelope emitted to dashboard clients.
type Downstream struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Downstream envelope types.
const (
	DownStateSync       = "state_sync"
	DownConnected       = "connected"
	DownDisconnected    = "disconnected"
	DownChannelUpdate   = "channel_update"
	DownAgentUpdate     = "agent_update"
	DownAgentsUpdate    = "agents_update"
	DownProposalUpdate  = "proposal_update"
	DownDisputeUpdate   = "dispute_update"
	DownSkillsUpdate    = "skills_update"
	DownLeaderboard     = "leaderboard_update"
	DownMessage         = "message"
	DownDMMessage       = "dm_message"
	DownTyping          = "typing"
	DownSessionIdentity = "session_identity"
	DownModeChanged     = "mode_changed"
	DownError           = "error"
	DownMessageSent     = "message_sent"
	DownNameSet         = "name_set"
	DownPing            = "ping"
)

// Machine-readable error codes carried on error envelopes.
const (
	CodeTooManyConnections = "TOO_MANY_CONNECTIONS"
	CodeServerFull         = "SERVER_FULL"
	CodeRateLimited        = "RATE_LIMITED"
	CodeNotParticipating   = "NOT_PARTICIPATING"
	CodeEmptyMessage       = "EMPTY_MESSAGE"
	CodeMessageTooLong     = "MESSAGE_TOO_LONG"
	CodeBadRequest         = "BAD_REQUEST"
	CodeBadFilter          = "BAD_FILTER"
	CodeSessionFailed      = "SESSION_FAILED"
	CodeUpstreamError      = "UPSTREAM_ERROR"
)

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds a typed error envelope.
func NewError(code, message string) Downstream {
	return Downstream{Type: DownError, Data: ErrorData{Code: code, Message: message}}
}

// Command is the inbound client envelope. Unrecognized types are
// silently ignored by the hub.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client command types.
const (
	CmdSendMessage     = "send_message"
	CmdSetMode         = "set_mode"
	CmdSubscribe       = "subscribe"
	CmdJoinChannel     = "join_channel"
	CmdRefreshChannels = "refresh_channels"
	CmdSearchSkills    = "search_skills"
	CmdAcceptProposal  = "accept_proposal"
	CmdSetAgentName    = "set_agent_name"
	CmdTyping          = "typing"
	CmdPong            = "pong"
)

type SendMessageData struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

type SetModeData struct {
	Mode string `json:"mode"`
}

type SubscribeData struct {
	Channels []string `json:"channels"`
}

type JoinChannelData struct {
	Channel string `json:"channel"`
}

type SearchSkillsData struct {
	Query  string `json:"query,omitempty"`
	Filter string `json:"filter,omitempty"`
}

type AcceptProposalData struct {
	ProposalID string `json:"proposal_id"`
}

type SetAgentNameData struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

type TypingData struct {
	Channel string `json:"channel"`
}

// DecodeCommandData decodes a command payload.
func DecodeCommandData[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
