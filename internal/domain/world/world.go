package world

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultHistoryCapacity = 200

// World is the canonical in-memory view of the upstream network:
// agents, channels, history, proposals, disputes, skills and the
// leaderboard. Mutation happens on the relay's event-fold path; readers
// get independent clones.
type World struct {
	mu sync.RWMutex

	historyCap int

	selfID    string
	selfNick  string
	connected bool

	agents      map[string]*Agent
	channels    map[string]*Channel
	proposals   map[string]*Proposal
	disputes    map[string]*Dispute
	skills      []Skill
	leaderboard []LeaderboardEntry
	directMsgs  *History[ChatMessage]

	overrides map[string]string
}

// New creates an empty world. historyCapacity bounds each channel's
// message history; zero selects the default of 200.
func New(historyCapacity int) *World {
	if historyCapacity <= 0 {
		historyCapacity = defaultHistoryCapacity
	}
	return &World{
		historyCap: historyCapacity,
		agents:     map[string]*Agent{},
		channels:   map[string]*Channel{},
		proposals:  map[string]*Proposal{},
		disputes:   map[string]*Dispute{},
		directMsgs: NewHistory[ChatMessage](historyCapacity),
		overrides:  map[string]string{},
	}
}

// SetIdentity binds the shared observer's upstream identity.
func (w *World) SetIdentity(agentID, nick string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selfID = strings.TrimSpace(agentID)
	w.selfNick = strings.TrimSpace(nick)
}

// Self returns the observer identity, if bound.
func (w *World) Self() *SelfInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.selfID == "" {
		return nil
	}
	return &SelfInfo{AgentID: w.selfID, Nick: w.selfNick}
}

// SetConnected records upstream link availability.
func (w *World) SetConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = connected
}

// Connected reports upstream link availability.
func (w *World) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *World) ensureChannelLocked(name string) (*Channel, bool) {
	ch, ok := w.channels[name]
	if ok {
		return ch, false
	}
	ch = &Channel{
		Name:    name,
		History: NewHistory[ChatMessage](w.historyCap),
	}
	w.channels[name] = ch
	return ch, true
}

// EnsureChannel creates the channel if absent and reports whether it
// was created.
func (w *World) EnsureChannel(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, created := w.ensureChannelLocked(name)
	return created
}

// UpdateChannelCount stores the authoritative agent count reported by
// upstream. Creates the channel if absent; reports creation.
func (w *World) UpdateChannelCount(name string, agentCount int) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, created := w.ensureChannelLocked(name)
	ch.AgentCount = agentCount
	return created
}

// ChannelNames returns all known channel names, sorted.
func (w *World) ChannelNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.channels))
	for name := range w.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChannelViews returns cloned views of every channel, sorted by name.
func (w *World) ChannelViews() []ChannelView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.channelViewsLocked()
}

func (w *World) channelViewsLocked() []ChannelView {
	out := make([]ChannelView, 0, len(w.channels))
	for _, ch := range w.channels {
		out = append(out, cloneChannel(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AppendMessage appends one chat message to its channel history,
// creating the channel if needed.
func (w *World) AppendMessage(msg ChatMessage) {
	msg.Channel = strings.TrimSpace(msg.Channel)
	if msg.Channel == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, _ := w.ensureChannelLocked(msg.Channel)
	ch.History.Push(msg)
}

// AppendDirectMessage appends one direct message to the dm history.
func (w *World) AppendDirectMessage(msg ChatMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.directMsgs.Push(msg)
}

// UpsertAgent merges one agent sighting in the given channel: creates
// the agent on first sighting, adds the membership on both sides, marks
// it online and promotes the verified flag monotonically.
func (w *World) UpsertAgent(channel, agentID, nick string, verified bool, presence string) Agent {
	channel = strings.TrimSpace(channel)
	agentID = strings.TrimSpace(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.upsertAgentLocked(channel, agentID, nick, verified, presence)
	return w.cloneAgentLocked(a)
}

func (w *World) upsertAgentLocked(channel, agentID, nick string, verified bool, presence string) *Agent {
	now := time.Now().UTC()
	a, ok := w.agents[agentID]
	if !ok {
		a = &Agent{ID: agentID}
		w.agents[agentID] = a
	}
	if nick = strings.TrimSpace(nick); nick != "" {
		a.Nick = nick
	}
	if verified {
		a.Verified = true
	}
	if presence != "" {
		a.Presence = presence
	}
	a.LastSeen = now
	a.Online = true
	if channel != "" {
		ch, _ := w.ensureChannelLocked(channel)
		if !slices.Contains(a.Channels, channel) {
			a.Channels = append(a.Channels, channel)
			sort.Strings(a.Channels)
		}
		if !slices.Contains(ch.Members, agentID) {
			ch.Members = append(ch.Members, agentID)
			sort.Strings(ch.Members)
		}
	}
	return a
}

// RosterEntry is one agent listing in an authoritative channel roster.
type RosterEntry struct {
	ID       string
	Nick     string
	Verified bool
	Presence string
}

// SetRoster applies an authoritative channel roster: every listed agent
// is upserted, members absent from the roster lose the membership (and
// go offline when it was their last one). Returns cloned views of every
// agent now in the channel.
func (w *World) SetRoster(channel string, roster []RosterEntry) []Agent {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, _ := w.ensureChannelLocked(channel)
	listed := make(map[string]struct{}, len(roster))
	for _, entry := range roster {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		listed[id] = struct{}{}
		w.upsertAgentLocked(channel, id, entry.Nick, entry.Verified, entry.Presence)
	}
	for _, memberID := range append([]string(nil), ch.Members...) {
		if _, ok := listed[memberID]; !ok {
			w.removeMembershipLocked(channel, memberID)
		}
	}

	out := make([]Agent, 0, len(ch.Members))
	for _, memberID := range ch.Members {
		if a, ok := w.agents[memberID]; ok {
			out = append(out, w.cloneAgentLocked(a))
		}
	}
	return out
}

// RemoveMembership drops one agent from one channel. When the agent's
// last membership goes away it is marked offline, never deleted.
// Returns the updated agent view and whether the agent was known.
func (w *World) RemoveMembership(channel, agentID string) (Agent, bool) {
	channel = strings.TrimSpace(channel)
	agentID = strings.TrimSpace(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	w.removeMembershipLocked(channel, agentID)
	return w.cloneAgentLocked(a), true
}

func (w *World) removeMembershipLocked(channel, agentID string) {
	if ch, ok := w.channels[channel]; ok {
		if i := slices.Index(ch.Members, agentID); i >= 0 {
			ch.Members = slices.Delete(ch.Members, i, i+1)
		}
	}
	a, ok := w.agents[agentID]
	if !ok {
		return
	}
	if i := slices.Index(a.Channels, channel); i >= 0 {
		a.Channels = slices.Delete(a.Channels, i, i+1)
	}
	if len(a.Channels) == 0 {
		a.Online = false
	}
}

// Agent returns a cloned agent view.
func (w *World) Agent(agentID string) (Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[strings.TrimSpace(agentID)]
	if !ok {
		return Agent{}, false
	}
	return w.cloneAgentLocked(a), true
}

// Agents returns cloned views of every known agent, sorted by id.
func (w *World) Agents() []Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.agentsLocked()
}

func (w *World) agentsLocked() []Agent {
	out := make([]Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, w.cloneAgentLocked(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertProposal creates or updates a proposal. Status defaults to
// pending on creation and is preserved on update unless the incoming
// status is non-empty. Last write wins.
func (w *World) UpsertProposal(p Proposal) Proposal {
	p.ID = strings.TrimSpace(p.ID)
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	existing, ok := w.proposals[p.ID]
	if !ok {
		if p.Status == "" {
			p.Status = ProposalStatusPending
		}
		p.CreatedAt = now
		p.UpdatedAt = now
		stored := p
		w.proposals[p.ID] = &stored
		return p
	}
	if p.From != "" {
		existing.From = p.From
	}
	if p.To != "" {
		existing.To = p.To
	}
	if p.Task != "" {
		existing.Task = p.Task
	}
	if p.Amount != 0 {
		existing.Amount = p.Amount
	}
	if p.Currency != "" {
		existing.Currency = p.Currency
	}
	if p.Stake != 0 {
		existing.Stake = p.Stake
	}
	if p.Status != "" {
		existing.Status = p.Status
	}
	existing.UpdatedAt = now
	return *existing
}

// Proposal returns a proposal copy.
func (w *World) Proposal(proposalID string) (Proposal, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.proposals[strings.TrimSpace(proposalID)]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// CreateDispute records a new dispute in the reveal_pending phase.
// Creating an already-known dispute id is a no-op returning the
// existing dispute.
func (w *World) CreateDispute(id, proposalID, disputant, respondent, reason string) Dispute {
	id = strings.TrimSpace(id)
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.disputes[id]; ok {
		return cloneDispute(existing)
	}
	d := &Dispute{
		ID:         id,
		ProposalID: strings.TrimSpace(proposalID),
		Disputant:  strings.TrimSpace(disputant),
		Respondent: strings.TrimSpace(respondent),
		Reason:     reason,
		Phase:      PhaseRevealPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	w.disputes[id] = d
	return cloneDispute(d)
}

// AdvanceDisputePhase moves a known dispute forward. Transitions that
// would regress, leave a terminal phase, or target an unknown dispute
// are rejected.
func (w *World) AdvanceDisputePhase(id string, next DisputePhase) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok || !d.Phase.canAdvanceTo(next) {
		return Dispute{}, false
	}
	now := time.Now().UTC()
	d.Phase = next
	d.UpdatedAt = now
	if next.Terminal() {
		d.ResolvedAt = &now
	}
	return cloneDispute(d), true
}

// SetDisputePanel replaces the arbiter slot list.
func (w *World) SetDisputePanel(id string, slots []ArbiterSlot) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	d.Arbiters = append([]ArbiterSlot(nil), slots...)
	d.UpdatedAt = time.Now().UTC()
	return cloneDispute(d), true
}

// UpdateArbiterSlot updates one slot's status and acceptance time. The
// dispute phase is never inferred from slot states.
func (w *World) UpdateArbiterSlot(id, agentID, status string, acceptedAt *time.Time) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	for i := range d.Arbiters {
		if d.Arbiters[i].AgentID == agentID {
			d.Arbiters[i].Status = status
			if acceptedAt != nil {
				at := acceptedAt.UTC()
				d.Arbiters[i].AcceptedAt = &at
			}
			d.UpdatedAt = time.Now().UTC()
			return cloneDispute(d), true
		}
	}
	return Dispute{}, false
}

// AttachEvidence records one party's evidence bundle. The party must be
// the disputant or the respondent.
func (w *World) AttachEvidence(id, party string, bundle EvidenceBundle) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	party = strings.TrimSpace(party)
	if party != d.Disputant && party != d.Respondent {
		return Dispute{}, false
	}
	if d.Evidence == nil {
		d.Evidence = map[string]EvidenceBundle{}
	}
	bundle.Party = party
	d.Evidence[party] = bundle
	d.UpdatedAt = time.Now().UTC()
	return cloneDispute(d), true
}

// SetVoteDeadline records the deliberation deadline.
func (w *World) SetVoteDeadline(id string, deadline time.Time) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	dl := deadline.UTC()
	d.VoteDeadline = &dl
	d.UpdatedAt = time.Now().UTC()
	return cloneDispute(d), true
}

// SetVerdict records the outcome: verdict text, per-party rating deltas
// and any carried arbiter votes applied to matching slots.
func (w *World) SetVerdict(id, verdict string, ratingChanges map[string]int, votes map[string]string) (Dispute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	v := verdict
	d.Verdict = &v
	if len(ratingChanges) > 0 {
		d.RatingChanges = make(map[string]int, len(ratingChanges))
		for k, delta := range ratingChanges {
			d.RatingChanges[k] = delta
		}
	}
	for agentID, vote := range votes {
		for i := range d.Arbiters {
			if d.Arbiters[i].AgentID == agentID {
				voteCopy := vote
				d.Arbiters[i].Vote = &voteCopy
			}
		}
	}
	d.UpdatedAt = time.Now().UTC()
	return cloneDispute(d), true
}

// Dispute returns a cloned dispute view.
func (w *World) Dispute(id string) (Dispute, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.disputes[strings.TrimSpace(id)]
	if !ok {
		return Dispute{}, false
	}
	return cloneDispute(d), true
}

// SetSkills replaces the skills list wholesale.
func (w *World) SetSkills(skills []Skill) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skills = append([]Skill(nil), skills...)
}

// Skills returns a copy of the current skills list.
func (w *World) Skills() []Skill {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Skill(nil), w.skills...)
}

// SetLeaderboard replaces the leaderboard wholesale.
func (w *World) SetLeaderboard(entries []LeaderboardEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leaderboard = append([]LeaderboardEntry(nil), entries...)
}

// SetNameOverride sets or clears (empty name) the display-name override
// for one agent. Returns the updated agent view when known.
func (w *World) SetNameOverride(agentID, name string) (Agent, bool) {
	agentID = strings.TrimSpace(agentID)
	name = strings.TrimSpace(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if name == "" {
		delete(w.overrides, agentID)
	} else {
		w.overrides[agentID] = name
	}
	a, ok := w.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return w.cloneAgentLocked(a), true
}

// LoadNameOverrides installs the persisted override mapping at startup.
func (w *World) LoadNameOverrides(overrides map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for agentID, name := range overrides {
		if name = strings.TrimSpace(name); name != "" {
			w.overrides[agentID] = name
		}
	}
}

// Snapshot returns a full independent copy of the world.
func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	proposals := make([]Proposal, 0, len(w.proposals))
	for _, p := range w.proposals {
		proposals = append(proposals, *p)
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })

	disputes := make([]Dispute, 0, len(w.disputes))
	for _, d := range w.disputes {
		disputes = append(disputes, cloneDispute(d))
	}
	sort.Slice(disputes, func(i, j int) bool { return disputes[i].ID < disputes[j].ID })

	var self *SelfInfo
	if w.selfID != "" {
		self = &SelfInfo{AgentID: w.selfID, Nick: w.selfNick}
	}

	return Snapshot{
		Connected:   w.connected,
		Self:        self,
		Agents:      w.agentsLocked(),
		Channels:    w.channelViewsLocked(),
		DirectMsgs:  w.directMsgs.Snapshot(),
		Proposals:   proposals,
		Disputes:    disputes,
		Skills:      append([]Skill(nil), w.skills...),
		Leaderboard: append([]LeaderboardEntry(nil), w.leaderboard...),
	}
}

// WorldStats summarizes world contents.
func (w *World) WorldStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	stats := Stats{
		AgentsTotal:      len(w.agents),
		Channels:         len(w.channels),
		Skills:           len(w.skills),
		ProposalsByState: map[string]int{},
		DisputesByPhase:  map[string]int{},
	}
	for _, a := range w.agents {
		if a.Online {
			stats.AgentsOnline++
		}
	}
	for _, ch := range w.channels {
		stats.Messages += ch.History.Len()
	}
	for _, p := range w.proposals {
		stats.ProposalsByState[p.Status]++
	}
	for _, d := range w.disputes {
		stats.DisputesByPhase[string(d.Phase)]++
	}
	return stats
}

func (w *World) cloneAgentLocked(a *Agent) Agent {
	out := *a
	out.Channels = append([]string(nil), a.Channels...)
	out.DisplayNick = a.Nick
	if override, ok := w.overrides[a.ID]; ok {
		out.DisplayNick = override
	}
	return out
}

func cloneChannel(ch *Channel) ChannelView {
	return ChannelView{
		Name:       ch.Name,
		Members:    append([]string(nil), ch.Members...),
		AgentCount: ch.AgentCount,
		Messages:   ch.History.Snapshot(),
	}
}

func cloneDispute(d *Dispute) Dispute {
	out := *d
	out.Arbiters = make([]ArbiterSlot, len(d.Arbiters))
	for i, slot := range d.Arbiters {
		out.Arbiters[i] = slot
		if slot.AcceptedAt != nil {
			at := *slot.AcceptedAt
			out.Arbiters[i].AcceptedAt = &at
		}
		if slot.Vote != nil {
			v := *slot.Vote
			out.Arbiters[i].Vote = &v
		}
	}
	if d.Evidence != nil {
		out.Evidence = make(map[string]EvidenceBundle, len(d.Evidence))
		for party, bundle := range d.Evidence {
			b := bundle
			b.Items = append([]byte(nil), bundle.Items...)
			out.Evidence[party] = b
		}
	}
	if d.Verdict != nil {
		v := *d.Verdict
		out.Verdict = &v
	}
	if d.RatingChanges != nil {
		out.RatingChanges = make(map[string]int, len(d.RatingChanges))
		for k, delta := range d.RatingChanges {
			out.RatingChanges[k] = delta
		}
	}
	if d.VoteDeadline != nil {
		dl := *d.VoteDeadline
		out.VoteDeadline = &dl
	}
	if d.ResolvedAt != nil {
		at := *d.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
