// Package storage defines the persistence boundary for session and
// participant ledgers. Implementations must make every operation atomic;
// the orchestrator relies on the single-active-session invariant being
// enforced inside SessionStore.CreateSession, not by callers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrActiveSessionExists indicates a create collided with the running session.
	ErrActiveSessionExists = errors.New("an active session already exists")
	// ErrConflict indicates a write collided with a uniqueness constraint.
	ErrConflict = errors.New("storage conflict")
	// ErrSessionNotActive indicates a lifecycle write targeted a session
	// that already reached a terminal status.
	ErrSessionNotActive = errors.New("session is not active")
)

// SessionStore persists session configuration, lifecycle, and counters.
type SessionStore interface {
	// CreateSession inserts an active session, failing with
	// ErrActiveSessionExists when another session is still active.
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// ActiveSession returns the running session or ErrNotFound.
	ActiveSession(ctx context.Context) (domain.Session, error)
	// FinishSession moves an active session to closed or cancelled. Already
	// terminal sessions return ErrSessionNotActive so double-finish stays a
	// no-op at the caller.
	FinishSession(ctx context.Context, sessionID string, status domain.SessionStatus, reason string, at time.Time) error
	// RefreshParticipantCount recounts ledger rows into the session counter.
	RefreshParticipantCount(ctx context.Context, sessionID string) (int, error)
	// AddRewardsGranted adjusts the monotonic rewards counter by delta.
	AddRewardsGranted(ctx context.Context, sessionID string, delta int) error
	// ResetRewardsGranted zeroes the rewards counter after a reversal.
	ResetRewardsGranted(ctx context.Context, sessionID string) error
}

// ParticipantStore persists per-(session, player) migration state.
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, participant domain.Participant) error
	GetParticipant(ctx context.Context, sessionID, playerID string) (domain.Participant, error)

	// MarkSwitched transitions an on_source row to switched and puts the
	// participant on target. Returns ErrNotFound when no on_source row exists.
	MarkSwitched(ctx context.Context, sessionID, playerID string, at time.Time) error
	// MarkSourceLeft stamps the source-leave time on an on_source row. The
	// row stays on_source so a later target join still counts as a switch.
	MarkSourceLeft(ctx context.Context, sessionID, playerID string, at time.Time) error
	// FinalizeUnswitched marks switchers that never moved as left during
	// session teardown, returning how many rows changed.
	FinalizeUnswitched(ctx context.Context, sessionID string, at time.Time) (int, error)
	// SetOnTarget flips target presence; a leave stamps targetLeftAt, a
	// rejoin clears it.
	SetOnTarget(ctx context.Context, sessionID, playerID string, onTarget bool, at time.Time) error
	// ReconcileOnTarget bulk-aligns on_target flags with a roster snapshot
	// and returns how many rows changed.
	ReconcileOnTarget(ctx context.Context, sessionID string, presentPlayerIDs []string, at time.Time) (int, error)
	// AccrueDwell adds minutes to every row currently on target.
	AccrueDwell(ctx context.Context, sessionID string, minutes int, at time.Time) (int, error)

	// MarkRewardGranted stamps one tier's grant exactly once; the second call
	// for the same (player, tier) returns false with no mutation.
	MarkRewardGranted(ctx context.Context, sessionID, playerID string, tier domain.Tier, minutes int, at time.Time) (bool, error)
	// ClearGrants wipes all grant timestamps and rewarded minutes for the
	// session, returning how many participants held at least one grant.
	ClearGrants(ctx context.Context, sessionID string) (int, error)
	// ClearParticipantGrants wipes one participant's grants, returning the
	// number of tiers that were actually cleared.
	ClearParticipantGrants(ctx context.Context, sessionID, playerID string) (int, error)

	ListOnSource(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ListOnTarget(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ListPlaytimeEligible(ctx context.Context, sessionID string, dwellMinutes int) ([]domain.Participant, error)
	ListCompletionEligible(ctx context.Context, sessionID string) ([]domain.Participant, error)
}
