package protocol

// Outbound frames sent to the upstream network. Every frame carries its
// own type discriminator; constructors fill it in so callers cannot
// send an untyped frame.

type IdentifyFrame struct {
	Type      string `json:"type"`
	Nick      string `json:"nick"`
	PublicKey string `json:"public_key,omitempty"`
}

func NewIdentify(nick, publicKey string) IdentifyFrame {
	return IdentifyFrame{Type: "IDENTIFY", Nick: nick, PublicKey: publicKey}
}

type ListChannelsFrame struct {
	Type string `json:"type"`
}

func NewListChannels() ListChannelsFrame {
	return ListChannelsFrame{Type: "LIST_CHANNELS"}
}

type JoinFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func NewJoin(channel string) JoinFrame {
	return JoinFrame{Type: "JOIN", Channel: channel}
}

type GetAgentsFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func NewGetAgents(channel string) GetAgentsFrame {
	return GetAgentsFrame{Type: "GET_AGENTS", Channel: channel}
}

type MsgFrame struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

func NewMsg(channel, content, signature string) MsgFrame {
	return MsgFrame{Type: "MSG", Channel: channel, Content: content, Signature: signature}
}

type SearchFrame struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

func NewSearch(query string) SearchFrame {
	return SearchFrame{Type: "SEARCH", Query: query}
}

type AcceptFrame struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
}

func NewAccept(proposalID string) AcceptFrame {
	return AcceptFrame{Type: "ACCEPT", ProposalID: proposalID}
}

type ChallengeResponseFrame struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

func NewChallengeResponse(nonce, signature, publicKey string) ChallengeResponseFrame {
	return ChallengeResponseFrame{Type: "CHALLENGE_RESPONSE", Nonce: nonce, Signature: signature, PublicKey: publicKey}
}

type TypingFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func NewTyping(channel string) TypingFrame {
	return TypingFrame{Type: "TYPING", Channel: channel}
}

type PingFrame struct {
	Type string `json:"type"`
}

func NewPing() PingFrame {
	return PingFrame{Type: "PING"}
}
