package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
)

// ClosePreview summarizes what closing the active session right now would do.
type ClosePreview struct {
	SessionID        string
	TargetOccupancy  int
	PlayerThreshold  int
	ThresholdMet     bool
	ParticipantCount int
	CompletionGrants int
	PendingMinutes   int
}

// NodeStatus is one connected node as seen by operators.
type NodeStatus struct {
	Name       string
	Occupancy  int
	Target     bool
	Qualifying bool
}

// ActiveSession returns the persisted active session, including counters
// updated since creation. Returns storage.ErrNotFound when idle.
func (o *Orchestrator) ActiveSession(ctx context.Context) (domain.Session, error) {
	return o.sessions.ActiveSession(ctx)
}

// PreviewClose reports the completion grants, pending minutes, and
// threshold state a close of the given session would see, without mutating
// anything. Only the active session can be previewed.
func (o *Orchestrator) PreviewClose(ctx context.Context, sessionID string) (ClosePreview, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.ID != sessionID {
		return ClosePreview{}, storage.ErrNotFound
	}
	session := *o.active

	occupancy, ok := o.throttle.Occupancy(session.TargetNode)
	if !ok {
		live, err := o.feed.Occupancy(ctx, session.TargetNode)
		if err != nil {
			return ClosePreview{}, fmt.Errorf("target occupancy: %w", err)
		}
		occupancy = live
	}

	grants, pending := 0, 0
	if session.CompletionReward != nil {
		eligible, err := o.participants.ListCompletionEligible(ctx, session.ID)
		if err != nil {
			return ClosePreview{}, fmt.Errorf("list completion eligible: %w", err)
		}
		perGrant := session.CompletionReward.Minutes()
		for _, participant := range eligible {
			if participant.CompletionGrantedAt == nil {
				grants++
				pending += perGrant
			}
		}
	}

	return ClosePreview{
		SessionID:        session.ID,
		TargetOccupancy:  occupancy,
		PlayerThreshold:  session.PlayerThreshold,
		ThresholdMet:     occupancy >= session.PlayerThreshold,
		ParticipantCount: session.ParticipantCount,
		CompletionGrants: grants,
		PendingMinutes:   pending,
	}, nil
}

// ListAvailableNodes reports every connected node with its occupancy,
// falling back to a live query when the feed has no reading, plus how the
// active session classifies it.
func (o *Orchestrator) ListAvailableNodes(ctx context.Context) ([]NodeStatus, error) {
	nodes, err := o.feed.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connected nodes: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		status := NodeStatus{Name: node.Name, Occupancy: node.Occupancy}
		if status.Occupancy < 0 {
			if cached, ok := o.throttle.Occupancy(node.Name); ok {
				status.Occupancy = cached
			} else if live, err := o.feed.Occupancy(ctx, node.Name); err == nil {
				status.Occupancy = live
			} else {
				status.Occupancy = 0
			}
		}
		if o.active != nil {
			status.Target = node.Name == o.active.TargetNode
			status.Qualifying = o.active.HasSourceNode(node.Name) && o.throttle.Qualifies(node.Name)
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// ReverseSessionRewards revokes every grant of a finished session and
// clears the ledger's grant records. Returns entries revoked and
// participants affected.
func (o *Orchestrator) ReverseSessionRewards(ctx context.Context, sessionID, reversedBy, reason string) (int, int, error) {
	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return 0, 0, err
	}
	return o.engineFor(session).ReverseSession(ctx, session, reversedBy, reason)
}

// ReverseParticipantRewards revokes one participant's grants in a finished
// session. Returns the number of ledger entries revoked.
func (o *Orchestrator) ReverseParticipantRewards(ctx context.Context, sessionID, playerID, reversedBy, reason string) (int, error) {
	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return o.engineFor(session).ReverseParticipant(ctx, session, playerID, reversedBy, reason)
}
