package domain

import (
	"strings"
	"time"
)

// ParticipantKind distinguishes how a participant entered the campaign.
type ParticipantKind string

const (
	// KindSeeder marks a participant already on the target node, never
	// tracked on a source node.
	KindSeeder ParticipantKind = "seeder"
	// KindSwitcher marks a participant first observed on a source node.
	KindSwitcher ParticipantKind = "switcher"
)

// ParticipantStatus is the migration state of one participant.
// Seeders enter directly in the switched state; on_source is only legal for
// switchers still waiting on their move.
type ParticipantStatus string

const (
	// ParticipantOnSource means a switcher is tracked on a source node.
	ParticipantOnSource ParticipantStatus = "on_source"
	// ParticipantSwitched means the participant is counted on the target node.
	ParticipantSwitched ParticipantStatus = "switched"
	// ParticipantLeft means a switcher departed a source node before switching.
	ParticipantLeft ParticipantStatus = "left"
)

// Participant is one player's migration and reward state for a session.
// Keyed by (session, player); rows are never deleted, only grant timestamps
// are cleared by whole-session reversal.
type Participant struct {
	SessionID   string
	PlayerID    string
	DisplayName string

	Kind   ParticipantKind
	Status ParticipantStatus

	SourceNode     string
	SourceJoinedAt *time.Time
	SourceLeftAt   *time.Time

	OnTarget     bool
	TargetLeftAt *time.Time

	DwellMinutes    int
	RewardedMinutes int

	SwitchGrantedAt     *time.Time
	PlaytimeGrantedAt   *time.Time
	CompletionGrantedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSwitcher builds a participant first observed on a source node.
func NewSwitcher(sessionID, playerID, displayName, sourceNode string, now time.Time) (Participant, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Participant{}, ErrSessionIDRequired
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Participant{}, ErrPlayerIDRequired
	}
	sourceNode = strings.TrimSpace(sourceNode)
	if sourceNode == "" {
		return Participant{}, ErrSourceNodeRequired
	}
	now = now.UTC()
	joined := now
	return Participant{
		SessionID:      sessionID,
		PlayerID:       playerID,
		DisplayName:    strings.TrimSpace(displayName),
		Kind:           KindSwitcher,
		Status:         ParticipantOnSource,
		SourceNode:     sourceNode,
		SourceJoinedAt: &joined,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NewSeeder builds a participant found directly on the target node.
func NewSeeder(sessionID, playerID, displayName string, now time.Time) (Participant, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Participant{}, ErrSessionIDRequired
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return Participant{}, ErrPlayerIDRequired
	}
	now = now.UTC()
	return Participant{
		SessionID:   sessionID,
		PlayerID:    playerID,
		DisplayName: strings.TrimSpace(displayName),
		Kind:        KindSeeder,
		Status:      ParticipantSwitched,
		OnTarget:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate rejects kind/status combinations the model forbids.
func (p Participant) Validate() error {
	if p.SessionID == "" {
		return ErrSessionIDRequired
	}
	if p.PlayerID == "" {
		return ErrPlayerIDRequired
	}
	switch p.Kind {
	case KindSeeder:
		if p.Status == ParticipantOnSource || p.Status == ParticipantLeft {
			return ErrIllegalParticipantState
		}
	case KindSwitcher:
		if p.SourceNode == "" {
			return ErrSourceNodeRequired
		}
	default:
		return ErrIllegalParticipantState
	}
	return nil
}

// GrantedAt returns the grant timestamp for a tier, nil when ungranted.
func (p Participant) GrantedAt(tier Tier) *time.Time {
	switch tier {
	case TierSwitch:
		return p.SwitchGrantedAt
	case TierPlaytime:
		return p.PlaytimeGrantedAt
	case TierCompletion:
		return p.CompletionGrantedAt
	default:
		return nil
	}
}

// CompletionEligible reports whether the participant still qualifies for the
// completion tier: counted on target and not departed.
func (p Participant) CompletionEligible() bool {
	return p.Status == ParticipantSwitched && p.OnTarget && p.CompletionGrantedAt == nil
}
