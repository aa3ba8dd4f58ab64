package reward

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/render"
	"github.com/brchase/exodus/internal/exodus/storage/sqlite"
)

type grantCall struct {
	PlayerID string
	Minutes  int
	Tag      string
}

type fakeLedger struct {
	grants   []grantCall
	revokes  []string
	failFor  map[string]error
	perEntry map[string]int
}

func (f *fakeLedger) Grant(_ context.Context, playerID string, minutes int, tag string, _ map[string]string) error {
	if err := f.failFor[playerID]; err != nil {
		return err
	}
	f.grants = append(f.grants, grantCall{PlayerID: playerID, Minutes: minutes, Tag: tag})
	return nil
}

func (f *fakeLedger) RevokeByTag(_ context.Context, tag, _, _ string) (int, error) {
	f.revokes = append(f.revokes, tag)
	return len(f.grants), nil
}

func (f *fakeLedger) RevokeByTagAndIdentity(_ context.Context, tag, playerID, _, _ string) (int, error) {
	f.revokes = append(f.revokes, tag+"/"+playerID)
	return f.perEntry[playerID], nil
}

type dmCall struct {
	Node     string
	PlayerID string
	Text     string
}

type fakeNotifier struct {
	messages []dmCall
}

func (f *fakeNotifier) DirectMessage(_ context.Context, node, playerID, text string) error {
	f.messages = append(f.messages, dmCall{Node: node, PlayerID: playerID, Text: text})
	return nil
}

type fixture struct {
	store    *sqlite.Store
	ledger   *fakeLedger
	notifier *fakeNotifier
	engine   *Engine
	session  domain.Session
}

func testClock() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
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

	session := domain.Session{
		ID:               "ses-1",
		TargetNode:       "haven",
		PlayerThreshold:  3,
		SwitchReward:     &domain.RewardSpec{Value: 30, Unit: domain.UnitMinutes},
		PlaytimeReward:   &domain.RewardSpec{Value: 1, Unit: domain.UnitHours},
		PlaytimeMinutes:  60,
		CompletionReward: &domain.RewardSpec{Value: 1, Unit: domain.UnitDays},
		SourceNodes:      []string{"anchorage"},
		Status:           domain.SessionStatusActive,
		CreatedBy:        "ops",
		CreatedAt:        testClock(),
		UpdatedAt:        testClock(),
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	ledger := &fakeLedger{failFor: map[string]error{}, perEntry: map[string]int{}}
	notifier := &fakeNotifier{}
	engine := NewEngine(store, store, ledger, notifier, render.New("en-US", false), nil, testClock)
	return &fixture{store: store, ledger: ledger, notifier: notifier, engine: engine, session: session}
}

func (f *fixture) addSeeder(t *testing.T, playerID string) domain.Participant {
	t.Helper()
	participant, err := domain.NewSeeder(f.session.ID, playerID, "Player "+playerID, testClock())
	if err != nil {
		t.Fatalf("new seeder: %v", err)
	}
	if err := f.store.CreateParticipant(context.Background(), participant); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return participant
}

func (f *fixture) participant(t *testing.T, playerID string) domain.Participant {
	t.Helper()
	participant, err := f.store.GetParticipant(context.Background(), f.session.ID, playerID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	return participant
}

func (f *fixture) sessionRow(t *testing.T) domain.Session {
	t.Helper()
	session, err := f.store.GetSession(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return session
}

func (f *fixture) finish(t *testing.T) domain.Session {
	t.Helper()
	if err := f.store.FinishSession(context.Background(), f.session.ID, domain.SessionStatusClosed, "threshold", testClock()); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	return f.sessionRow(t)
}

func TestGrantTierIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	participant := f.addSeeder(t, "player-1")

	granted, err := f.engine.GrantTier(ctx, f.session, participant, domain.TierSwitch)
	if err != nil {
		t.Fatalf("GrantTier() error = %v", err)
	}
	if !granted {
		t.Fatal("GrantTier() = false, want true")
	}

	granted, err = f.engine.GrantTier(ctx, f.session, f.participant(t, "player-1"), domain.TierSwitch)
	if err != nil {
		t.Fatalf("GrantTier() second call error = %v", err)
	}
	if granted {
		t.Fatal("GrantTier() second call = true, want false")
	}

	if len(f.ledger.grants) != 1 {
		t.Fatalf("ledger grants = %d, want 1", len(f.ledger.grants))
	}
	if f.ledger.grants[0].Tag != SessionTag(f.session.ID) {
		t.Fatalf("grant tag = %q, want %q", f.ledger.grants[0].Tag, SessionTag(f.session.ID))
	}
	if got := f.sessionRow(t).RewardsGranted; got != 1 {
		t.Fatalf("RewardsGranted = %d, want 1", got)
	}
	if f.participant(t, "player-1").SwitchGrantedAt == nil {
		t.Fatal("SwitchGrantedAt = nil, want stamped")
	}
}

func TestGrantTierSkipsUnconfiguredTier(t *testing.T) {
	f := newFixture(t)
	f.session.PlaytimeReward = nil
	participant := f.addSeeder(t, "player-1")

	granted, err := f.engine.GrantTier(context.Background(), f.session, participant, domain.TierPlaytime)
	if err != nil {
		t.Fatalf("GrantTier() error = %v", err)
	}
	if granted {
		t.Fatal("GrantTier() = true for unconfigured tier, want false")
	}
	if len(f.ledger.grants) != 0 {
		t.Fatalf("ledger grants = %d, want 0", len(f.ledger.grants))
	}
}

func TestGrantTierNotifiesPlaytimeButNotSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	participant := f.addSeeder(t, "player-1")

	if _, err := f.engine.GrantTier(ctx, f.session, participant, domain.TierSwitch); err != nil {
		t.Fatalf("GrantTier(switch) error = %v", err)
	}
	if len(f.notifier.messages) != 0 {
		t.Fatalf("messages after switch grant = %d, want 0", len(f.notifier.messages))
	}

	if _, err := f.engine.GrantTier(ctx, f.session, f.participant(t, "player-1"), domain.TierPlaytime); err != nil {
		t.Fatalf("GrantTier(playtime) error = %v", err)
	}
	if len(f.notifier.messages) != 1 {
		t.Fatalf("messages after playtime grant = %d, want 1", len(f.notifier.messages))
	}
	if f.notifier.messages[0].Node != "haven" {
		t.Fatalf("message node = %q, want %q", f.notifier.messages[0].Node, "haven")
	}
}

func TestSweepCompletionSkipsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeeder(t, "player-1")
	f.addSeeder(t, "player-2")
	f.addSeeder(t, "player-3")
	f.ledger.failFor["player-2"] = errors.New("ledger unavailable")

	granted, err := f.engine.SweepCompletion(ctx, f.session)
	if err != nil {
		t.Fatalf("SweepCompletion() error = %v", err)
	}
	if granted != 2 {
		t.Fatalf("granted = %d, want 2", granted)
	}
	if f.participant(t, "player-2").CompletionGrantedAt != nil {
		t.Fatal("player-2 CompletionGrantedAt stamped despite ledger failure")
	}
}

func TestSweepPlaytimeOnlyGrantsPastThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeeder(t, "player-1")
	f.addSeeder(t, "player-2")
	if _, err := f.store.AccrueDwell(ctx, f.session.ID, 60, testClock()); err != nil {
		t.Fatalf("accrue dwell: %v", err)
	}
	if err := f.store.SetOnTarget(ctx, f.session.ID, "player-2", false, testClock()); err != nil {
		t.Fatalf("set on target: %v", err)
	}

	granted, err := f.engine.SweepPlaytime(ctx, f.session)
	if err != nil {
		t.Fatalf("SweepPlaytime() error = %v", err)
	}
	if granted != 1 {
		t.Fatalf("granted = %d, want 1", granted)
	}
	if f.participant(t, "player-1").PlaytimeGrantedAt == nil {
		t.Fatal("player-1 PlaytimeGrantedAt = nil, want stamped")
	}
	if f.participant(t, "player-2").PlaytimeGrantedAt != nil {
		t.Fatal("player-2 PlaytimeGrantedAt stamped while off target")
	}
}

func TestReverseSessionRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.engine.ReverseSession(context.Background(), f.session, "ops", "mistake"); !errors.Is(err, ErrSessionStillActive) {
		t.Fatalf("ReverseSession() error = %v, want ErrSessionStillActive", err)
	}
}

func TestReverseSessionClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSeeder(t, "player-1")
	f.addSeeder(t, "player-2")

	if _, err := f.engine.SweepCompletion(ctx, f.session); err != nil {
		t.Fatalf("SweepCompletion() error = %v", err)
	}
	session := f.finish(t)

	revoked, affected, err := f.engine.ReverseSession(ctx, session, "ops", "campaign voided")
	if err != nil {
		t.Fatalf("ReverseSession() error = %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}
	if len(f.ledger.revokes) != 1 {
		t.Fatalf("revoke calls = %d, want 1", len(f.ledger.revokes))
	}
	if got := f.sessionRow(t).RewardsGranted; got != 0 {
		t.Fatalf("RewardsGranted = %d, want 0", got)
	}
	for _, playerID := range []string{"player-1", "player-2"} {
		participant := f.participant(t, playerID)
		if participant.CompletionGrantedAt != nil {
			t.Fatalf("%s CompletionGrantedAt survived reversal", playerID)
		}
		if participant.RewardedMinutes != 0 {
			t.Fatalf("%s RewardedMinutes = %d, want 0", playerID, participant.RewardedMinutes)
		}
	}
}

func TestReverseParticipantDecrementsByTiersCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	participant := f.addSeeder(t, "player-1")
	f.addSeeder(t, "player-2")

	if _, err := f.engine.GrantTier(ctx, f.session, participant, domain.TierSwitch); err != nil {
		t.Fatalf("GrantTier(switch) error = %v", err)
	}
	if _, err := f.engine.GrantTier(ctx, f.session, f.participant(t, "player-1"), domain.TierCompletion); err != nil {
		t.Fatalf("GrantTier(completion) error = %v", err)
	}
	if _, err := f.engine.GrantTier(ctx, f.session, f.participant(t, "player-2"), domain.TierCompletion); err != nil {
		t.Fatalf("GrantTier(completion) error = %v", err)
	}
	session := f.finish(t)
	f.ledger.perEntry["player-1"] = 2

	revoked, err := f.engine.ReverseParticipant(ctx, session, "player-1", "ops", "chargeback")
	if err != nil {
		t.Fatalf("ReverseParticipant() error = %v", err)
	}
	if revoked != 2 {
		t.Fatalf("revoked = %d, want 2", revoked)
	}
	if got := f.sessionRow(t).RewardsGranted; got != 1 {
		t.Fatalf("RewardsGranted = %d, want 1", got)
	}
	if f.participant(t, "player-2").CompletionGrantedAt == nil {
		t.Fatal("player-2 CompletionGrantedAt cleared by scoped reversal")
	}
}
