package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
	"github.com/brchase/exodus/internal/exodus/storage/sqlite"
)

type fakeFeed struct {
	events    chan RosterEvent
	players   []Player
	nodes     []NodeInfo
	occupancy map[string]int
}

func (f *fakeFeed) Events() <-chan RosterEvent { return f.events }

func (f *fakeFeed) Present(context.Context) ([]Player, error) { return f.players, nil }

func (f *fakeFeed) Occupancy(_ context.Context, node string) (int, error) {
	return f.occupancy[node], nil
}

func (f *fakeFeed) Nodes(context.Context) ([]NodeInfo, error) { return f.nodes, nil }

type broadcastCall struct {
	Node string
	Text string
}

type dmCall struct {
	Node     string
	PlayerID string
	Text     string
}

type fakeTransport struct {
	broadcasts []broadcastCall
	messages   []dmCall
}

func (f *fakeTransport) BroadcastText(_ context.Context, node, text string) error {
	f.broadcasts = append(f.broadcasts, broadcastCall{Node: node, Text: text})
	return nil
}

func (f *fakeTransport) DirectMessage(_ context.Context, node, playerID, text string) error {
	f.messages = append(f.messages, dmCall{Node: node, PlayerID: playerID, Text: text})
	return nil
}

func (f *fakeTransport) broadcastsTo(node string) int {
	count := 0
	for _, call := range f.broadcasts {
		if call.Node == node {
			count++
		}
	}
	return count
}

type grantCall struct {
	PlayerID string
	Minutes  int
	Tag      string
}

type fakeLedger struct {
	grants  []grantCall
	revokes []string
}

func (f *fakeLedger) Grant(_ context.Context, playerID string, minutes int, tag string, _ map[string]string) error {
	f.grants = append(f.grants, grantCall{PlayerID: playerID, Minutes: minutes, Tag: tag})
	return nil
}

func (f *fakeLedger) RevokeByTag(_ context.Context, tag, _, _ string) (int, error) {
	f.revokes = append(f.revokes, tag)
	return len(f.grants), nil
}

func (f *fakeLedger) RevokeByTagAndIdentity(_ context.Context, tag, playerID, _, _ string) (int, error) {
	f.revokes = append(f.revokes, tag+"/"+playerID)
	return 0, nil
}

type fixture struct {
	store     *sqlite.Store
	feed      *fakeFeed
	transport *fakeTransport
	ledger    *fakeLedger
	orc       *Orchestrator
}

func testClock() time.Time {
	return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "exodus.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	feed := &fakeFeed{
		events: make(chan RosterEvent, 16),
		nodes: []NodeInfo{
			{Name: "haven", Occupancy: 1},
			{Name: "anchorage", Occupancy: 20},
			{Name: "bastion", Occupancy: 5},
		},
		players: []Player{
			{ID: "alice", DisplayName: "Alice", Node: "haven"},
			{ID: "sam", DisplayName: "Sam", Node: "anchorage"},
			{ID: "quiet", DisplayName: "Quiet", Node: "bastion"},
		},
		occupancy: map[string]int{},
	}
	transport := &fakeTransport{}
	ledger := &fakeLedger{}

	if cfg.MinBroadcastOccupancy == 0 {
		cfg.MinBroadcastOccupancy = 10
	}
	orc := New(cfg, store, store, feed, transport, ledger, nil)
	orc.SetClock(testClock)
	orc.SetIDFunc(func() (string, error) { return "ses-test", nil })

	return &fixture{store: store, feed: feed, transport: transport, ledger: ledger, orc: orc}
}

func createInput() domain.CreateSessionInput {
	return domain.CreateSessionInput{
		TargetNode:       "haven",
		PlayerThreshold:  3,
		SwitchReward:     &domain.RewardSpec{Value: 30, Unit: domain.UnitMinutes},
		PlaytimeReward:   &domain.RewardSpec{Value: 1, Unit: domain.UnitHours},
		PlaytimeMinutes:  60,
		CompletionReward: &domain.RewardSpec{Value: 1, Unit: domain.UnitDays},
		CreatedBy:        "ops",
	}
}

func (f *fixture) create(t *testing.T) domain.Session {
	t.Helper()
	session, err := f.orc.CreateSession(context.Background(), createInput())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return session
}

func (f *fixture) participant(t *testing.T, sessionID, playerID string) domain.Participant {
	t.Helper()
	participant, err := f.store.GetParticipant(context.Background(), sessionID, playerID)
	if err != nil {
		t.Fatalf("get participant %s: %v", playerID, err)
	}
	return participant
}

func TestCreateSessionEnrollsAndBroadcasts(t *testing.T) {
	f := newFixture(t, Config{})
	session := f.create(t)

	if got, want := session.SourceNodes, []string{"anchorage", "bastion"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("SourceNodes = %v, want %v", got, want)
	}

	alice := f.participant(t, session.ID, "alice")
	if alice.Kind != domain.KindSeeder || !alice.OnTarget {
		t.Fatalf("alice = %+v, want on-target seeder", alice)
	}
	sam := f.participant(t, session.ID, "sam")
	if sam.Kind != domain.KindSwitcher || sam.Status != domain.ParticipantOnSource {
		t.Fatalf("sam = %+v, want on_source switcher", sam)
	}
	if _, err := f.store.GetParticipant(context.Background(), session.ID, "quiet"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("quiet lookup error = %v, want ErrNotFound (node below broadcast floor)", err)
	}

	if session.ParticipantCount != 2 {
		t.Fatalf("ParticipantCount = %d, want 2", session.ParticipantCount)
	}
	if got := f.transport.broadcastsTo("anchorage"); got != 1 {
		t.Fatalf("anchorage broadcasts = %d, want 1", got)
	}
	if got := f.transport.broadcastsTo("bastion"); got != 0 {
		t.Fatalf("bastion broadcasts = %d, want 0 (below floor)", got)
	}
}

func TestCreateSessionRejectsSecondActive(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t)
	if _, err := f.orc.CreateSession(context.Background(), createInput()); !errors.Is(err, storage.ErrActiveSessionExists) {
		t.Fatalf("CreateSession() error = %v, want ErrActiveSessionExists", err)
	}
}

func TestSwitchFlowAndThresholdClose(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	session := f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "anchorage", PlayerID: "bob", DisplayName: "Bob", Occupancy: 20})
	if got := f.participant(t, session.ID, "bob").Status; got != domain.ParticipantOnSource {
		t.Fatalf("bob status = %q, want on_source", got)
	}

	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "haven", PlayerID: "bob", Occupancy: 2})
	bob := f.participant(t, session.ID, "bob")
	if bob.Status != domain.ParticipantSwitched || !bob.OnTarget {
		t.Fatalf("bob = %+v, want switched on target", bob)
	}
	if bob.SwitchGrantedAt == nil {
		t.Fatal("bob SwitchGrantedAt = nil, want stamped")
	}
	if len(f.ledger.grants) != 1 {
		t.Fatalf("ledger grants = %d, want 1", len(f.ledger.grants))
	}

	// Duplicate join must not double-grant.
	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "haven", PlayerID: "bob", Occupancy: 2})
	if len(f.ledger.grants) != 1 {
		t.Fatalf("ledger grants after duplicate join = %d, want 1", len(f.ledger.grants))
	}

	f.orc.Handle(ctx, RosterEvent{Kind: EventOccupancy, Node: "haven", Occupancy: 3, PlayerIDs: []string{"alice", "bob"}})

	closed, err := f.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if closed.Status != domain.SessionStatusClosed {
		t.Fatalf("session status = %q, want closed", closed.Status)
	}
	// Switch for bob plus completion for alice and bob.
	if len(f.ledger.grants) != 3 {
		t.Fatalf("ledger grants = %d, want 3", len(f.ledger.grants))
	}
	if got := f.transport.broadcastsTo("anchorage"); got != 2 {
		t.Fatalf("anchorage broadcasts = %d, want create announcement + closure", got)
	}
	if got := f.transport.broadcastsTo("bastion"); got != 1 {
		t.Fatalf("bastion broadcasts = %d, want closure only", got)
	}
	if _, err := f.orc.ActiveSession(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ActiveSession() error = %v, want ErrNotFound", err)
	}

	// A later snapshot at the same level is a no-op.
	grants, broadcasts := len(f.ledger.grants), len(f.transport.broadcasts)
	f.orc.Handle(ctx, RosterEvent{Kind: EventOccupancy, Node: "haven", Occupancy: 3, PlayerIDs: []string{"alice", "bob"}})
	if len(f.ledger.grants) != grants || len(f.transport.broadcasts) != broadcasts {
		t.Fatal("post-close snapshot mutated state")
	}
}

func TestSourceLeaveKeepsSwitchable(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	session := f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventLeft, Node: "anchorage", PlayerID: "sam"})
	sam := f.participant(t, session.ID, "sam")
	if sam.Status != domain.ParticipantOnSource || sam.SourceLeftAt == nil {
		t.Fatalf("sam = %+v, want on_source with leave stamp", sam)
	}

	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "haven", PlayerID: "sam", Occupancy: 2})
	if got := f.participant(t, session.ID, "sam").Status; got != domain.ParticipantSwitched {
		t.Fatalf("sam status after target join = %q, want switched", got)
	}
}

func TestTargetLeaveStopsDwell(t *testing.T) {
	f := newFixture(t, Config{DwellTickInterval: 60 * time.Minute})
	ctx := context.Background()
	session := f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventLeft, Node: "haven", PlayerID: "alice"})
	alice := f.participant(t, session.ID, "alice")
	if alice.OnTarget || alice.TargetLeftAt == nil {
		t.Fatalf("alice = %+v, want off target with leave stamp", alice)
	}

	f.orc.DwellTick(ctx)
	if got := f.participant(t, session.ID, "alice").DwellMinutes; got != 0 {
		t.Fatalf("alice DwellMinutes = %d, want 0 after leaving target", got)
	}
}

func TestDwellTickGrantsPlaytime(t *testing.T) {
	f := newFixture(t, Config{DwellTickInterval: 30 * time.Minute})
	ctx := context.Background()
	session := f.create(t)

	f.orc.DwellTick(ctx)
	if got := f.participant(t, session.ID, "alice").PlaytimeGrantedAt; got != nil {
		t.Fatal("playtime granted after 30 minutes, want nil")
	}

	f.orc.DwellTick(ctx)
	alice := f.participant(t, session.ID, "alice")
	if alice.DwellMinutes != 60 {
		t.Fatalf("alice DwellMinutes = %d, want 60", alice.DwellMinutes)
	}
	if alice.PlaytimeGrantedAt == nil {
		t.Fatal("alice PlaytimeGrantedAt = nil, want stamped at threshold")
	}
}

func TestReminderTickBroadcastsQualifyingOnly(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.create(t)

	f.orc.ReminderTick(ctx)
	if got := f.transport.broadcastsTo("anchorage"); got != 2 {
		t.Fatalf("anchorage broadcasts = %d, want announcement + reminder", got)
	}
	if got := f.transport.broadcastsTo("bastion"); got != 0 {
		t.Fatalf("bastion broadcasts = %d, want 0", got)
	}
}

func TestCancelSkipsCompletionAndFinalizes(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	session := f.create(t)

	if err := f.orc.CancelSession(ctx, "ops", "misconfigured"); err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}

	cancelled, err := f.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if cancelled.Status != domain.SessionStatusCancelled {
		t.Fatalf("session status = %q, want cancelled", cancelled.Status)
	}
	if cancelled.CloseReason != "misconfigured" {
		t.Fatalf("CloseReason = %q, want %q", cancelled.CloseReason, "misconfigured")
	}
	if len(f.ledger.grants) != 0 {
		t.Fatalf("ledger grants = %d, want 0 on cancel", len(f.ledger.grants))
	}
	if got := f.participant(t, session.ID, "sam").Status; got != domain.ParticipantLeft {
		t.Fatalf("sam status = %q, want left after teardown", got)
	}
	if got := f.transport.broadcastsTo("bastion"); got != 1 {
		t.Fatalf("bastion broadcasts = %d, want cancellation reaching all sources", got)
	}
}

func TestCloseWithNoActiveSessionIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.orc.CloseSession(context.Background(), "ops", ""); err != nil {
		t.Fatalf("CloseSession() error = %v, want nil no-op", err)
	}
}

func TestTestModeSessionHonorsExplicitSources(t *testing.T) {
	f := newFixture(t, Config{})
	input := createInput()
	input.TestMode = true
	input.SourceNodes = []string{"bastion"}

	session, err := f.orc.CreateSession(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if len(session.SourceNodes) != 1 || session.SourceNodes[0] != "bastion" {
		t.Fatalf("SourceNodes = %v, want [bastion]", session.SourceNodes)
	}
	if got := f.transport.broadcastsTo("bastion"); got != 1 {
		t.Fatalf("bastion broadcasts = %d, want 1 despite low occupancy", got)
	}
	if !strings.HasPrefix(f.transport.broadcasts[0].Text, "[DRILL] ") {
		t.Fatalf("broadcast text = %q, want drill prefix", f.transport.broadcasts[0].Text)
	}
}

func TestRecoveryRebuildsTrackerAndReconciles(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	session := f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "anchorage", PlayerID: "bob", DisplayName: "Bob", Occupancy: 20})
	f.orc.Handle(ctx, RosterEvent{Kind: EventJoined, Node: "haven", PlayerID: "walt", DisplayName: "Walt", Occupancy: 2})

	// Simulate a restart: a fresh orchestrator over the same store. The live
	// roster now shows only carol on target.
	f.feed.players = []Player{
		{ID: "carol", DisplayName: "Carol", Node: "haven"},
	}
	restarted := New(Config{MinBroadcastOccupancy: 10}, f.store, f.store, f.feed, f.transport, f.ledger, nil)
	restarted.SetClock(testClock)
	if err := restarted.Recover(ctx); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	// on_source rows are tracked again; switched rows are not.
	if _, ok := restarted.tracker.Lookup("sam"); !ok {
		t.Fatal("sam missing from rebuilt tracker")
	}
	if _, ok := restarted.tracker.Lookup("bob"); !ok {
		t.Fatal("bob missing from rebuilt tracker")
	}
	if _, ok := restarted.tracker.Lookup("walt"); ok {
		t.Fatal("walt tracked after recovery, want seeder untracked")
	}

	carol := f.participant(t, session.ID, "carol")
	if carol.Kind != domain.KindSeeder {
		t.Fatalf("carol kind = %q, want seeder", carol.Kind)
	}
	if got := f.participant(t, session.ID, "walt").OnTarget; got {
		t.Fatal("walt OnTarget = true, want reconciled false")
	}
	if got := f.participant(t, session.ID, "alice").OnTarget; got {
		t.Fatal("alice OnTarget = true, want reconciled false")
	}
}

func TestRecoverWithNoActiveSessionStaysIdle(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.orc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if _, err := f.orc.ActiveSession(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ActiveSession() error = %v, want ErrNotFound", err)
	}
}

func TestPreviewCloseReportsThresholdAndGrants(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventOccupancy, Node: "haven", Occupancy: 2, PlayerIDs: []string{"alice"}})

	preview, err := f.orc.PreviewClose(ctx, "ses-test")
	if err != nil {
		t.Fatalf("PreviewClose() error = %v", err)
	}
	if preview.TargetOccupancy != 2 {
		t.Fatalf("TargetOccupancy = %d, want 2", preview.TargetOccupancy)
	}
	if preview.ThresholdMet {
		t.Fatal("ThresholdMet = true, want false below threshold")
	}
	if preview.CompletionGrants != 1 {
		t.Fatalf("CompletionGrants = %d, want 1 (alice)", preview.CompletionGrants)
	}
	if preview.PendingMinutes != 1440 {
		t.Fatalf("PendingMinutes = %d, want 1440", preview.PendingMinutes)
	}

	if _, err := f.orc.PreviewClose(ctx, "ses-other"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("PreviewClose(other) error = %v, want ErrNotFound", err)
	}
}

func TestListAvailableNodes(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t)

	nodes, err := f.orc.ListAvailableNodes(context.Background())
	if err != nil {
		t.Fatalf("ListAvailableNodes() error = %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("len(nodes) = %d, want 3", len(nodes))
	}
	byName := map[string]NodeStatus{}
	for _, node := range nodes {
		byName[node.Name] = node
	}
	if !byName["haven"].Target {
		t.Fatal("haven Target = false, want true")
	}
	if !byName["anchorage"].Qualifying {
		t.Fatal("anchorage Qualifying = false, want true")
	}
	if byName["bastion"].Qualifying {
		t.Fatal("bastion Qualifying = true, want false")
	}
}

func TestReverseSessionRewardsAfterClose(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	session := f.create(t)

	f.orc.Handle(ctx, RosterEvent{Kind: EventOccupancy, Node: "haven", Occupancy: 3, PlayerIDs: []string{"alice"}})

	revoked, affected, err := f.orc.ReverseSessionRewards(ctx, session.ID, "ops", "campaign voided")
	if err != nil {
		t.Fatalf("ReverseSessionRewards() error = %v", err)
	}
	if revoked != 1 || affected != 1 {
		t.Fatalf("revoked, affected = %d, %d, want 1, 1", revoked, affected)
	}
	if got := f.participant(t, session.ID, "alice").CompletionGrantedAt; got != nil {
		t.Fatal("alice CompletionGrantedAt survived reversal")
	}
}
