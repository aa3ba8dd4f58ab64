package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/brchase/exodus/internal/exodus/audit"
	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
)

// CreateSession starts a new campaign. The source set is every connected
// node except the target; test-mode sessions may name their sources
// explicitly. Fails with storage.ErrActiveSessionExists while another
// session runs; the ledger enforces the singleton, not this check.
func (o *Orchestrator) CreateSession(ctx context.Context, input domain.CreateSessionInput) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return domain.Session{}, storage.ErrActiveSessionExists
	}

	nodes, err := o.feed.Nodes(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("list connected nodes: %w", err)
	}
	if !input.TestMode || len(input.SourceNodes) == 0 {
		input.SourceNodes = input.SourceNodes[:0]
		for _, node := range nodes {
			if node.Name == input.TargetNode {
				continue
			}
			input.SourceNodes = append(input.SourceNodes, node.Name)
		}
	}

	session, err := domain.NewSession(input, o.clock, o.newID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := o.sessions.CreateSession(ctx, session); err != nil {
		return domain.Session{}, err
	}

	o.attachLocked(session)
	for _, node := range nodes {
		o.throttle.Observe(node.Name, node.Occupancy)
	}
	o.enrollPresentLocked(ctx, session, true)
	o.broadcastSourcesLocked(ctx, o.renderer.Announcement(session), true)
	o.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionSessionCreated,
		ActorID:     session.CreatedBy,
		TargetID:    session.ID,
		Description: "campaign toward " + session.TargetNode,
		Metadata: map[string]string{
			"target_node": session.TargetNode,
			"threshold":   fmt.Sprintf("%d", session.PlayerThreshold),
		},
	})

	return *o.active, nil
}

// CloseSession finishes the active session with completion rewards. Closing
// when nothing is active is a no-op so threshold checks can race manual
// closure safely.
func (o *Orchestrator) CloseSession(ctx context.Context, closedBy, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	if reason == "" {
		reason = "closed by operator"
	}
	return o.closeLocked(ctx, closedBy, reason)
}

// CancelSession aborts the active session without completion rewards.
func (o *Orchestrator) CancelSession(ctx context.Context, cancelledBy, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return storage.ErrNotFound
	}
	session := *o.active

	o.broadcastSourcesLocked(ctx, o.renderer.Cancellation(session), false)
	o.finalizeLocked(ctx, session, domain.SessionStatusCancelled, reason)
	o.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionSessionCancelled,
		ActorID:     cancelledBy,
		TargetID:    session.ID,
		Description: reason,
	})
	o.detachLocked()
	return nil
}

// closeLocked runs the ordered close teardown: completion sweep, closure
// broadcast, unswitched finalization, persisted status, then the in-memory
// singleton clear as the final step.
func (o *Orchestrator) closeLocked(ctx context.Context, closedBy, reason string) error {
	session := *o.active

	if _, err := o.engine.SweepCompletion(ctx, session); err != nil {
		log.Printf("completion sweep failed session_id=%s err=%v", session.ID, err)
	}
	o.broadcastSourcesLocked(ctx, o.renderer.Closure(session), false)
	o.finalizeLocked(ctx, session, domain.SessionStatusClosed, reason)
	o.recordAudit(ctx, audit.Entry{
		Action:      audit.ActionSessionClosed,
		ActorID:     closedBy,
		TargetID:    session.ID,
		Description: reason,
	})
	o.detachLocked()
	return nil
}

func (o *Orchestrator) finalizeLocked(ctx context.Context, session domain.Session, status domain.SessionStatus, reason string) {
	now := o.clock().UTC()
	if _, err := o.participants.FinalizeUnswitched(ctx, session.ID, now); err != nil {
		log.Printf("finalize unswitched failed session_id=%s err=%v", session.ID, err)
	}
	if err := o.sessions.FinishSession(ctx, session.ID, status, reason, now); err != nil && !errors.Is(err, storage.ErrSessionNotActive) {
		log.Printf("finish session failed session_id=%s status=%s err=%v", session.ID, status, err)
	}
}

// Recover reloads a persisted active session after a restart: the tracker
// is rebuilt from on_source rows, target presence flags are reconciled
// against the live roster, and anyone on target without a ledger row is
// enrolled as a seeder. With no active session the orchestrator stays idle.
func (o *Orchestrator) Recover(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil
	}

	session, err := o.sessions.ActiveSession(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load active session: %w", err)
	}

	o.attachLocked(session)

	onSource, err := o.participants.ListOnSource(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list on-source participants: %w", err)
	}
	o.tracker.Rebuild(onSource)

	if nodes, err := o.feed.Nodes(ctx); err == nil {
		for _, node := range nodes {
			o.throttle.Observe(node.Name, node.Occupancy)
		}
	} else {
		log.Printf("occupancy seed failed during recovery err=%v", err)
	}

	o.enrollPresentLocked(ctx, session, false)
	log.Printf("recovered active session session_id=%s target_node=%s tracked=%d", session.ID, session.TargetNode, o.tracker.Len())
	return nil
}

// enrollPresentLocked walks the live roster. Target occupants without a
// ledger row become seeders; on initial enrollment, players on qualifying
// source nodes become tracked switchers. During recovery the target roster
// is also reconciled in bulk and the close threshold re-evaluated.
func (o *Orchestrator) enrollPresentLocked(ctx context.Context, session domain.Session, initial bool) {
	players, err := o.feed.Present(ctx)
	if err != nil {
		log.Printf("roster query failed session_id=%s err=%v", session.ID, err)
		return
	}

	var onTarget []string
	for _, player := range players {
		switch {
		case player.Node == session.TargetNode:
			onTarget = append(onTarget, player.ID)
			o.enrollSeederLocked(ctx, session, player.ID, player.DisplayName)
		case initial && session.HasSourceNode(player.Node) && o.throttle.Qualifies(player.Node):
			o.enrollSwitcherLocked(ctx, session, RosterEvent{
				Node:        player.Node,
				PlayerID:    player.ID,
				DisplayName: player.DisplayName,
			})
		}
	}
	o.refreshCountLocked(ctx)

	if !initial {
		if _, err := o.participants.ReconcileOnTarget(ctx, session.ID, onTarget, o.clock().UTC()); err != nil {
			log.Printf("target reconcile failed session_id=%s err=%v", session.ID, err)
		}
		o.evaluateThresholdLocked(ctx, len(onTarget))
	}
}
