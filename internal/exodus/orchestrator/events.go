package orchestrator

import (
	"context"
	"errors"
	"log"

	"github.com/brchase/exodus/internal/exodus/audit"
	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
)

func (o *Orchestrator) handleJoin(ctx context.Context, event RosterEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || event.PlayerID == "" {
		return
	}
	session := *o.active

	if event.Node == session.TargetNode {
		o.handleTargetJoinLocked(ctx, session, event)
		o.evaluateThresholdLocked(ctx, event.Occupancy)
		return
	}
	if session.HasSourceNode(event.Node) {
		o.throttle.Observe(event.Node, event.Occupancy)
		o.enrollSwitcherLocked(ctx, session, event)
	}
}

// handleTargetJoinLocked runs the target-join transition: a tracked
// on_source row becomes a switch, a known row rejoining just flips the
// presence flag, and an unknown player is enrolled as a seeder.
func (o *Orchestrator) handleTargetJoinLocked(ctx context.Context, session domain.Session, event RosterEvent) {
	now := o.clock().UTC()
	participant, err := o.participants.GetParticipant(ctx, session.ID, event.PlayerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		o.enrollSeederLocked(ctx, session, event.PlayerID, event.DisplayName)
	case err != nil:
		log.Printf("participant lookup failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
	case participant.Status == domain.ParticipantOnSource:
		if err := o.participants.MarkSwitched(ctx, session.ID, event.PlayerID, now); err != nil {
			log.Printf("mark switched failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
			return
		}
		if _, err := o.engine.GrantTier(ctx, session, participant, domain.TierSwitch); err != nil {
			log.Printf("switch reward failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		}
		if err := o.transport.DirectMessage(ctx, session.TargetNode, event.PlayerID, o.renderer.SwitchConfirmation(session)); err != nil {
			log.Printf("switch confirmation failed player_id=%s err=%v", event.PlayerID, err)
		}
		o.tracker.Remove(event.PlayerID)
		o.refreshCountLocked(ctx)
		o.recordAudit(ctx, audit.Entry{
			Action:      audit.ActionParticipantJoined,
			TargetID:    event.PlayerID,
			Description: "switched from " + participant.SourceNode,
			Metadata:    map[string]string{"session_id": session.ID, "source_node": participant.SourceNode},
		})
	default:
		// Rejoin after a previous switch or seed. Presence only, no re-grant.
		if err := o.participants.SetOnTarget(ctx, session.ID, event.PlayerID, true, now); err != nil {
			log.Printf("set on target failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		}
	}
}

func (o *Orchestrator) handleLeave(ctx context.Context, event RosterEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || event.PlayerID == "" {
		return
	}
	session := *o.active
	now := o.clock().UTC()

	participant, err := o.participants.GetParticipant(ctx, session.ID, event.PlayerID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("participant lookup failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		return
	}

	switch {
	case event.Node == session.TargetNode && participant.OnTarget:
		if err := o.participants.SetOnTarget(ctx, session.ID, event.PlayerID, false, now); err != nil {
			log.Printf("mark target leave failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		}
	case session.HasSourceNode(event.Node) && participant.Status == domain.ParticipantOnSource:
		// Diagnostic stamp only. The row and tracker entry survive so a
		// later target join still counts as a switch.
		if err := o.participants.MarkSourceLeft(ctx, session.ID, event.PlayerID, now); err != nil {
			log.Printf("mark source leave failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		}
	}
}

func (o *Orchestrator) handleOccupancy(ctx context.Context, event RosterEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return
	}
	session := *o.active

	o.throttle.Observe(event.Node, event.Occupancy)
	if event.Node != session.TargetNode {
		return
	}

	if _, err := o.participants.ReconcileOnTarget(ctx, session.ID, event.PlayerIDs, o.clock().UTC()); err != nil {
		log.Printf("target reconcile failed session_id=%s err=%v", session.ID, err)
	}
	o.evaluateThresholdLocked(ctx, event.Occupancy)
}

// enrollSwitcherLocked creates or confirms an on_source row and registers
// the tracker entry. Duplicate joins are no-ops.
func (o *Orchestrator) enrollSwitcherLocked(ctx context.Context, session domain.Session, event RosterEvent) {
	now := o.clock().UTC()
	participant, err := domain.NewSwitcher(session.ID, event.PlayerID, event.DisplayName, event.Node, now)
	if err != nil {
		log.Printf("switcher build failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
		return
	}
	if err := o.participants.CreateParticipant(ctx, participant); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Printf("switcher enroll failed session_id=%s player_id=%s err=%v", session.ID, event.PlayerID, err)
			return
		}
		existing, err := o.participants.GetParticipant(ctx, session.ID, event.PlayerID)
		if err != nil || existing.Status != domain.ParticipantOnSource {
			return
		}
		participant = existing
	} else {
		o.refreshCountLocked(ctx)
	}
	joined := now
	if participant.SourceJoinedAt != nil {
		joined = *participant.SourceJoinedAt
	}
	o.tracker.Track(event.PlayerID, participant.SourceNode, joined)
}

func (o *Orchestrator) enrollSeederLocked(ctx context.Context, session domain.Session, playerID, displayName string) {
	participant, err := domain.NewSeeder(session.ID, playerID, displayName, o.clock().UTC())
	if err != nil {
		log.Printf("seeder build failed session_id=%s player_id=%s err=%v", session.ID, playerID, err)
		return
	}
	if err := o.participants.CreateParticipant(ctx, participant); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Printf("seeder enroll failed session_id=%s player_id=%s err=%v", session.ID, playerID, err)
		}
		return
	}
	if err := o.transport.DirectMessage(ctx, session.TargetNode, playerID, o.renderer.SeederWelcome(session)); err != nil {
		log.Printf("seeder welcome failed player_id=%s err=%v", playerID, err)
	}
	o.refreshCountLocked(ctx)
}

// evaluateThresholdLocked closes the session when target occupancy reaches
// the configured threshold. Closing detaches the session, so a second
// snapshot at the same level finds nothing to act on.
func (o *Orchestrator) evaluateThresholdLocked(ctx context.Context, occupancy int) {
	if o.active == nil || occupancy < o.active.PlayerThreshold {
		return
	}
	sessionID := o.active.ID
	if err := o.closeLocked(ctx, "", "target occupancy threshold reached"); err != nil {
		log.Printf("threshold close failed session_id=%s err=%v", sessionID, err)
	}
}
