package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "exodus.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testSession(id string) domain.Session {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return domain.Session{
		ID:               id,
		TargetNode:       "haven",
		PlayerThreshold:  3,
		SwitchReward:     &domain.RewardSpec{Value: 30, Unit: domain.UnitMinutes},
		PlaytimeReward:   &domain.RewardSpec{Value: 1, Unit: domain.UnitHours},
		PlaytimeMinutes:  60,
		CompletionReward: &domain.RewardSpec{Value: 1, Unit: domain.UnitDays},
		SourceNodes:      []string{"anchorage", "bastion"},
		Status:           domain.SessionStatusActive,
		CreatedBy:        "ops",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func mustCreateSession(t *testing.T, store *Store, id string) domain.Session {
	t.Helper()
	session := testSession(id)
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func mustCreateSwitcher(t *testing.T, store *Store, sessionID, playerID string) domain.Participant {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)
	participant, err := domain.NewSwitcher(sessionID, playerID, "Player "+playerID, "anchorage", now)
	if err != nil {
		t.Fatalf("new switcher: %v", err)
	}
	if err := store.CreateParticipant(context.Background(), participant); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return participant
}

func mustCreateSeeder(t *testing.T, store *Store, sessionID, playerID string) domain.Participant {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 5, 0, 0, time.UTC)
	participant, err := domain.NewSeeder(sessionID, playerID, "Player "+playerID, now)
	if err != nil {
		t.Fatalf("new seeder: %v", err)
	}
	if err := store.CreateParticipant(context.Background(), participant); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return participant
}
