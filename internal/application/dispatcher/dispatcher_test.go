package dispatcher

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/agora-relay/agora-relay/internal/domain/world"
	"github.com/agora-relay/agora-relay/internal/protocol"
)

func newTestDispatcher() (*Dispatcher, *world.World) {
	w := world.New(50)
	return New(w, zerolog.Nop()), w
}

func broadcastTypes(res Result) []string {
	out := make([]string, 0, len(res.Broadcasts))
	for _, env := range res.Broadcasts {
		out = append(out, env.Type)
	}
	return out
}

func hasBroadcast(res Result, envType string) bool {
	for _, env := range res.Broadcasts {
		if env.Type == envType {
			return true
		}
	}
	return false
}

func TestLinkLifecycle(t *testing.T) {
	d, w := newTestDispatcher()

	res := d.Apply(protocol.LinkUpEvent{})
	if !hasBroadcast(res, protocol.DownConnected) {
		t.Fatalf("expected connected broadcast, got %v", broadcastTypes(res))
	}
	if !w.Connected() {
		t.Fatalf("world not marked connected")
	}

	res = d.Apply(protocol.LinkDownEvent{})
	if !hasBroadcast(res, protocol.DownDisconnected) {
		t.Fatalf("expected disconnected broadcast, got %v", broadcastTypes(res))
	}
	if w.Connected() {
		t.Fatalf("world still marked connected")
	}
}

func TestMessageDedupByID(t *testing.T) {
	d, w := newTestDispatcher()
	msg := protocol.MsgEvent{ID: "m-1", From: "a-1", Channel: "general", Content: "hi", Timestamp: 1700000000000}

	first := d.Apply(msg)
	if !hasBroadcast(first, protocol.DownMessage) {
		t.Fatalf("first delivery not broadcast: %v", broadcastTypes(first))
	}
	second := d.Apply(msg)
	if len(second.Broadcasts) != 0 {
		t.Fatalf("replay broadcast: %v", broadcastTypes(second))
	}

	snap := w.Snapshot()
	if len(snap.Channels) != 1 || len(snap.Channels[0].Messages) != 1 {
		t.Fatalf("replay reached history: %+v", snap.Channels)
	}
}

func TestMessageDedupByDerivedID(t *testing.T) {
	d, _ := newTestDispatcher()
	msg := protocol.MsgEvent{From: "a-1", Channel: "general", Content: "no id here", Timestamp: 1700000000000}

	if res := d.Apply(msg); !hasBroadcast(res, protocol.DownMessage) {
		t.Fatalf("first delivery not broadcast")
	}
	if res := d.Apply(msg); len(res.Broadcasts) != 0 {
		t.Fatalf("derived-id replay broadcast")
	}
}

func TestMessageMarksSenderSeen(t *testing.T) {
	d, w := newTestDispatcher()
	d.Apply(protocol.MsgEvent{ID: "m-1", From: "a-1", FromNick: "alice", Channel: "general", Content: "hi"})
	a, ok := w.Agent("a-1")
	if !ok || !a.Online {
		t.Fatalf("sender not upserted: %+v", a)
	}
}

func TestChannelsListingJoinsNewChannels(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Apply(protocol.ChannelsEvent{Channels: []protocol.ChannelListing{
		{Name: "general", AgentCount: 4},
		{Name: "marketplace", AgentCount: 2},
	}})
	if len(res.Requests) != 2 {
		t.Fatalf("expected 2 join requests, got %d", len(res.Requests))
	}
	if !hasBroadcast(res, protocol.DownChannelUpdate) {
		t.Fatalf("missing channel_update broadcast")
	}

	// Known channels produce no further joins.
	res = d.Apply(protocol.ChannelsEvent{Channels: []protocol.ChannelListing{{Name: "general", AgentCount: 5}}})
	if len(res.Requests) != 0 {
		t.Fatalf("rejoined known channel: %v", res.Requests)
	}
}

func TestJoinedRequestsRoster(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Apply(protocol.JoinedEvent{Channel: "general"})
	if len(res.Requests) != 1 {
		t.Fatalf("expected roster request, got %v", res.Requests)
	}
	if _, ok := res.Requests[0].(protocol.GetAgentsFrame); !ok {
		t.Fatalf("expected GET_AGENTS request, got %T", res.Requests[0])
	}
}

func TestAgentJoinAndLeave(t *testing.T) {
	d, w := newTestDispatcher()
	d.Apply(protocol.AgentJoinedEvent{Channel: "general", Agent: protocol.AgentListing{ID: "a-1", Nick: "alice"}})
	a, _ := w.Agent("a-1")
	if !a.Online {
		t.Fatalf("joined agent offline")
	}

	res := d.Apply(protocol.AgentLeftEvent{Channel: "general", AgentID: "a-1"})
	if !hasBroadcast(res, protocol.DownAgentUpdate) {
		t.Fatalf("leave not broadcast")
	}
	a, ok := w.Agent("a-1")
	if !ok {
		t.Fatalf("agent deleted on leave")
	}
	if a.Online {
		t.Fatalf("agent still online after last leave")
	}

	// Unknown agents leaving is silent.
	res = d.Apply(protocol.AgentLeftEvent{Channel: "general", AgentID: "ghost"})
	if len(res.Broadcasts) != 0 {
		t.Fatalf("unknown agent leave broadcast: %v", broadcastTypes(res))
	}
}

func TestProposalNegotiationFlow(t *testing.T) {
	d, w := newTestDispatcher()
	d.Apply(protocol.ProposalEvent{ProposalID: "p-1", From: "a-1", To: "a-2", Task: "translate", Amount: 10})
	p, _ := w.Proposal("p-1")
	if p.Status != world.ProposalStatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}

	res := d.Apply(protocol.ProposalStatusEvent{Type: protocol.EventAccept, ProposalID: "p-1"})
	if !hasBroadcast(res, protocol.DownProposalUpdate) {
		t.Fatalf("accept not broadcast")
	}
	p, _ = w.Proposal("p-1")
	if p.Status != world.ProposalStatusAccept || p.Task != "translate" {
		t.Fatalf("accept lost data: %+v", p)
	}

	d.Apply(protocol.ProposalStatusEvent{Type: protocol.EventComplete, ProposalID: "p-1"})
	p, _ = w.Proposal("p-1")
	if p.Status != world.ProposalStatusComplete {
		t.Fatalf("expected complete, got %s", p.Status)
	}
}

func TestStatusEventForUnknownProposalIsDropped(t *testing.T) {
	d, w := newTestDispatcher()
	res := d.Apply(protocol.ProposalStatusEvent{Type: protocol.EventReject, ProposalID: "p-9"})
	if len(res.Broadcasts) != 0 {
		t.Fatalf("unknown proposal status broadcast: %v", broadcastTypes(res))
	}
	if _, ok := w.Proposal("p-9"); ok {
		t.Fatalf("unknown proposal status created state")
	}
}

func TestDisputeLifecycle(t *testing.T) {
	d, w := newTestDispatcher()
	d.Apply(protocol.ProposalEvent{ProposalID: "p-1", From: "a-1", To: "a-2", Task: "translate"})

	res := d.Apply(protocol.DisputeIntentAckEvent{DisputeID: "d-1", ProposalID: "p-1", Disputant: "a-1", Respondent: "a-2", Reason: "undelivered"})
	if !hasBroadcast(res, protocol.DownDisputeUpdate) || !hasBroadcast(res, protocol.DownProposalUpdate) {
		t.Fatalf("intent ack broadcasts missing: %v", broadcastTypes(res))
	}
	p, _ := w.Proposal("p-1")
	if p.Status != world.ProposalStatusDispute {
		t.Fatalf("proposal not marked disputed: %s", p.Status)
	}

	d.Apply(protocol.DisputeRevealedEvent{DisputeID: "d-1"})
	dsp, _ := w.Dispute("d-1")
	if dsp.Phase != world.PhasePanelSelection {
		t.Fatalf("expected panel_selection, got %s", dsp.Phase)
	}

	d.Apply(protocol.PanelFormedEvent{DisputeID: "d-1", Arbiters: []protocol.ArbiterListing{
		{AgentID: "arb-1", Status: "invited"},
		{AgentID: "arb-2", Status: "invited"},
	}})
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseArbiterResponse || len(dsp.Arbiters) != 2 {
		t.Fatalf("panel not applied: %+v", dsp)
	}

	// Arbiter acceptance updates the slot but never the phase.
	d.Apply(protocol.ArbiterAssignedEvent{DisputeID: "d-1", AgentID: "arb-1", Status: "accepted", AcceptedAt: 1700000000000})
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseArbiterResponse {
		t.Fatalf("arbiter acceptance changed phase: %s", dsp.Phase)
	}
	if dsp.Arbiters[0].Status != "accepted" || dsp.Arbiters[0].AcceptedAt == nil {
		t.Fatalf("slot not updated: %+v", dsp.Arbiters[0])
	}

	d.Apply(protocol.EvidenceReceivedEvent{DisputeID: "d-1", From: "a-1", Evidence: []byte(`{"claim":"undelivered"}`)})
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseEvidence {
		t.Fatalf("expected evidence phase, got %s", dsp.Phase)
	}
	if dsp.Evidence["a-1"].Digest == "" {
		t.Fatalf("evidence digest missing")
	}

	d.Apply(protocol.CaseReadyEvent{DisputeID: "d-1", VoteDeadline: 1700000600000})
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseDeliberation || dsp.VoteDeadline == nil {
		t.Fatalf("case ready not applied: %+v", dsp)
	}

	d.Apply(protocol.VerdictEvent{
		DisputeID:     "d-1",
		Verdict:       "disputant",
		RatingChanges: map[string]int{"a-2": -3},
		Votes:         map[string]string{"arb-1": "disputant"},
	})
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseResolved || dsp.Verdict == nil || *dsp.Verdict != "disputant" {
		t.Fatalf("verdict not applied: %+v", dsp)
	}
	if dsp.RatingChanges["a-2"] != -3 {
		t.Fatalf("rating changes lost: %+v", dsp.RatingChanges)
	}
	if dsp.Arbiters[0].Vote == nil || *dsp.Arbiters[0].Vote != "disputant" {
		t.Fatalf("arbiter vote lost: %+v", dsp.Arbiters[0])
	}

	// Terminal phases ignore everything that follows.
	res = d.Apply(protocol.DisputeFallbackEvent{DisputeID: "d-1"})
	if len(res.Broadcasts) != 0 {
		t.Fatalf("terminal dispute accepted fallback: %v", broadcastTypes(res))
	}
	dsp, _ = w.Dispute("d-1")
	if dsp.Phase != world.PhaseResolved {
		t.Fatalf("terminal phase moved: %s", dsp.Phase)
	}
}

func TestDisputeFallbackSideExit(t *testing.T) {
	d, w := newTestDispatcher()
	d.Apply(protocol.DisputeIntentAckEvent{DisputeID: "d-1", ProposalID: "p-1", Disputant: "a-1", Respondent: "a-2"})
	res := d.Apply(protocol.DisputeFallbackEvent{DisputeID: "d-1", Reason: "no arbiters"})
	if !hasBroadcast(res, protocol.DownDisputeUpdate) {
		t.Fatalf("fallback not broadcast")
	}
	dsp, _ := w.Dispute("d-1")
	if dsp.Phase != world.PhaseFallback {
		t.Fatalf("expected fallback, got %s", dsp.Phase)
	}
}

func TestSkillsAndLeaderboard(t *testing.T) {
	d, w := newTestDispatcher()
	res := d.Apply(protocol.SearchResultsEvent{Skills: []protocol.SkillListing{
		{Agent: "a-1", Name: "translation", Price: 5, Currency: "USD"},
	}})
	if !hasBroadcast(res, protocol.DownSkillsUpdate) {
		t.Fatalf("skills not broadcast")
	}
	if got := w.Skills(); len(got) != 1 || got[0].Name != "translation" {
		t.Fatalf("skills not stored: %+v", got)
	}

	res = d.Apply(protocol.LeaderboardEvent{Entries: []protocol.LeaderboardListing{
		{AgentID: "a-1", Score: 42, Rank: 1},
	}})
	if !hasBroadcast(res, protocol.DownLeaderboard) {
		t.Fatalf("leaderboard not broadcast")
	}
}

func TestTypingIsStatelessBroadcast(t *testing.T) {
	d, w := newTestDispatcher()
	res := d.Apply(protocol.TypingEvent{Channel: "general", From: "a-1", FromNick: "alice"})
	if !hasBroadcast(res, protocol.DownTyping) {
		t.Fatalf("typing not broadcast")
	}
	if stats := w.WorldStats(); stats.AgentsTotal != 0 || stats.Messages != 0 {
		t.Fatalf("typing mutated state: %+v", stats)
	}
}
