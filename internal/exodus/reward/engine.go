// Package reward is the policy layer between the orchestrator and the
// external reward ledger. It decides eligibility from session configuration,
// issues grants tagged with the session id, and records every grant on the
// participant ledger so duplicate evaluation stays idempotent.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brchase/exodus/internal/exodus/audit"
	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/render"
	"github.com/brchase/exodus/internal/exodus/storage"
)

// ErrSessionStillActive rejects a reversal against a running session.
var ErrSessionStillActive = errors.New("session is still active")

// Ledger is the external reward ledger contract. Grants and revokes are
// tagged so a whole session's rewards can be reversed in one call.
type Ledger interface {
	Grant(ctx context.Context, playerID string, minutes int, tag string, metadata map[string]string) error
	RevokeByTag(ctx context.Context, tag, revokedBy, reason string) (int, error)
	RevokeByTagAndIdentity(ctx context.Context, tag, playerID, revokedBy, reason string) (int, error)
}

// Notifier delivers grant summaries to participants. Best effort; failures
// are logged and never abort a grant.
type Notifier interface {
	DirectMessage(ctx context.Context, node, playerID, text string) error
}

// SessionTag returns the ledger tag shared by every grant of one session.
func SessionTag(sessionID string) string {
	return "exodus:" + sessionID
}

// Engine issues and reverses tiered reward grants.
type Engine struct {
	sessions     storage.SessionStore
	participants storage.ParticipantStore
	ledger       Ledger
	notifier     Notifier
	renderer     *render.Renderer
	sink         audit.Sink
	clock        func() time.Time
}

// NewEngine wires a reward engine. A nil sink falls back to audit.Discard
// and a nil clock to time.Now.
func NewEngine(sessions storage.SessionStore, participants storage.ParticipantStore, ledger Ledger, notifier Notifier, renderer *render.Renderer, sink audit.Sink, clock func() time.Time) *Engine {
	if sink == nil {
		sink = audit.Discard{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		sessions:     sessions,
		participants: participants,
		ledger:       ledger,
		notifier:     notifier,
		renderer:     renderer,
		sink:         sink,
		clock:        clock,
	}
}

// GrantTier grants one tier to one participant. It is a no-op when the
// session has no spec for the tier or the participant already holds the
// grant. Returns whether a grant was issued.
func (e *Engine) GrantTier(ctx context.Context, session domain.Session, participant domain.Participant, tier domain.Tier) (bool, error) {
	spec := session.RewardFor(tier)
	if spec == nil {
		return false, nil
	}
	if participant.GrantedAt(tier) != nil {
		return false, nil
	}

	minutes := spec.Minutes()
	now := e.clock().UTC()
	metadata := map[string]string{
		"session_id": session.ID,
		"tier":       string(tier),
	}
	if err := e.ledger.Grant(ctx, participant.PlayerID, minutes, SessionTag(session.ID), metadata); err != nil {
		return false, fmt.Errorf("grant %s reward: %w", tier, err)
	}

	granted, err := e.participants.MarkRewardGranted(ctx, session.ID, participant.PlayerID, tier, minutes, now)
	if err != nil {
		return false, fmt.Errorf("record %s grant: %w", tier, err)
	}
	if !granted {
		log.Printf("reward grant already recorded session_id=%s player_id=%s tier=%s", session.ID, participant.PlayerID, tier)
		return false, nil
	}

	if err := e.sessions.AddRewardsGranted(ctx, session.ID, 1); err != nil {
		return false, fmt.Errorf("bump rewards counter: %w", err)
	}

	e.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionRewardGranted,
		TargetID:    participant.PlayerID,
		Description: fmt.Sprintf("%s reward of %s", tier, spec.Label()),
		Metadata:    metadata,
	})
	e.notify(ctx, session, participant, tier)

	return true, nil
}

// SweepPlaytime grants the playtime tier to everyone past the dwell
// threshold. Per-participant failures are logged and the sweep continues.
func (e *Engine) SweepPlaytime(ctx context.Context, session domain.Session) (int, error) {
	if session.PlaytimeReward == nil || session.PlaytimeMinutes <= 0 {
		return 0, nil
	}
	eligible, err := e.participants.ListPlaytimeEligible(ctx, session.ID, session.PlaytimeMinutes)
	if err != nil {
		return 0, fmt.Errorf("list playtime eligible: %w", err)
	}
	return e.sweep(ctx, session, eligible, domain.TierPlaytime), nil
}

// SweepCompletion grants the completion tier to everyone still counted on
// target. Runs once during session close.
func (e *Engine) SweepCompletion(ctx context.Context, session domain.Session) (int, error) {
	if session.CompletionReward == nil {
		return 0, nil
	}
	eligible, err := e.participants.ListCompletionEligible(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("list completion eligible: %w", err)
	}
	return e.sweep(ctx, session, eligible, domain.TierCompletion), nil
}

func (e *Engine) sweep(ctx context.Context, session domain.Session, eligible []domain.Participant, tier domain.Tier) int {
	granted := 0
	for _, participant := range eligible {
		ok, err := e.GrantTier(ctx, session, participant, tier)
		if err != nil {
			log.Printf("reward sweep failed session_id=%s player_id=%s tier=%s err=%v", session.ID, participant.PlayerID, tier, err)
			continue
		}
		if ok {
			granted++
		}
	}
	return granted
}

// ReverseSession revokes every grant tagged to the session, clears all
// participant grant timestamps, and zeroes the session counter. Only
// permitted once the session is terminal. Returns the number of ledger
// entries revoked and participants affected.
func (e *Engine) ReverseSession(ctx context.Context, session domain.Session, reversedBy, reason string) (int, int, error) {
	if !session.Terminal() {
		return 0, 0, ErrSessionStillActive
	}

	revoked, err := e.ledger.RevokeByTag(ctx, SessionTag(session.ID), reversedBy, reason)
	if err != nil {
		return 0, 0, fmt.Errorf("revoke session rewards: %w", err)
	}
	affected, err := e.participants.ClearGrants(ctx, session.ID)
	if err != nil {
		return revoked, 0, fmt.Errorf("clear session grants: %w", err)
	}
	if err := e.sessions.ResetRewardsGranted(ctx, session.ID); err != nil {
		return revoked, affected, fmt.Errorf("reset rewards counter: %w", err)
	}

	e.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionRewardsReversed,
		ActorID:     reversedBy,
		TargetID:    session.ID,
		Description: reason,
		Metadata: map[string]string{
			"session_id":            session.ID,
			"entries_revoked":       fmt.Sprintf("%d", revoked),
			"participants_affected": fmt.Sprintf("%d", affected),
		},
	})

	return revoked, affected, nil
}

// ReverseParticipant revokes one participant's grants and decrements the
// session counter by the number of tiers actually cleared.
func (e *Engine) ReverseParticipant(ctx context.Context, session domain.Session, playerID, reversedBy, reason string) (int, error) {
	if !session.Terminal() {
		return 0, ErrSessionStillActive
	}

	revoked, err := e.ledger.RevokeByTagAndIdentity(ctx, SessionTag(session.ID), playerID, reversedBy, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke participant rewards: %w", err)
	}
	cleared, err := e.participants.ClearParticipantGrants(ctx, session.ID, playerID)
	if err != nil {
		return revoked, fmt.Errorf("clear participant grants: %w", err)
	}
	if cleared > 0 {
		if err := e.sessions.AddRewardsGranted(ctx, session.ID, -cleared); err != nil {
			return revoked, fmt.Errorf("decrement rewards counter: %w", err)
		}
	}

	e.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionRewardsReversed,
		ActorID:     reversedBy,
		TargetID:    playerID,
		Description: reason,
		Metadata: map[string]string{
			"session_id":    session.ID,
			"tiers_cleared": fmt.Sprintf("%d", cleared),
		},
	})

	return revoked, nil
}

// notify sends the post-grant summary for tiers that carry one. Switch
// confirmations are sent by the orchestrator as part of the transition.
func (e *Engine) notify(ctx context.Context, session domain.Session, participant domain.Participant, tier domain.Tier) {
	if e.notifier == nil || e.renderer == nil {
		return
	}
	var text string
	switch tier {
	case domain.TierPlaytime:
		text = e.renderer.PlaytimeReward(session, participant.DwellMinutes)
	case domain.TierCompletion:
		text = e.renderer.CompletionReward(session)
	default:
		return
	}
	if err := e.notifier.DirectMessage(ctx, session.TargetNode, participant.PlayerID, text); err != nil {
		log.Printf("reward notification failed session_id=%s player_id=%s tier=%s err=%v", session.ID, participant.PlayerID, tier, err)
	}
}

func (e *Engine) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := e.sink.Record(ctx, entry); err != nil {
		log.Printf("audit record failed action=%s err=%v", entry.Action, err)
	}
}
