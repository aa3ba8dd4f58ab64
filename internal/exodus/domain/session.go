package domain

import (
	"strings"
	"time"

	"github.com/brchase/exodus/internal/platform/id"
)

// SessionStatus is the lifecycle state of a migration campaign session.
type SessionStatus string

const (
	// SessionStatusActive is the single running session.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusClosed means the session ended normally, with completion rewards.
	SessionStatusClosed SessionStatus = "closed"
	// SessionStatusCancelled means the session was aborted without completion rewards.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session is one migration campaign soliciting switches toward a target node.
// At most one session is active system-wide; the ledger enforces it on create.
type Session struct {
	ID              string
	TargetNode      string
	PlayerThreshold int

	SwitchReward     *RewardSpec
	PlaytimeReward   *RewardSpec
	PlaytimeMinutes  int
	CompletionReward *RewardSpec

	SourceNodes []string
	Status      SessionStatus

	ParticipantCount int
	RewardsGranted   int

	Message  string
	TestMode bool

	CreatedBy   string
	CloseReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// RewardFor returns the configured spec for a tier, or nil when the tier is
// absent from this session.
func (s Session) RewardFor(tier Tier) *RewardSpec {
	switch tier {
	case TierSwitch:
		return s.SwitchReward
	case TierPlaytime:
		return s.PlaytimeReward
	case TierCompletion:
		return s.CompletionReward
	default:
		return nil
	}
}

// Terminal reports whether the session reached a final lifecycle state.
func (s Session) Terminal() bool {
	return s.Status == SessionStatusClosed || s.Status == SessionStatusCancelled
}

// CreateSessionInput carries the operator-provided session configuration.
type CreateSessionInput struct {
	TargetNode      string
	PlayerThreshold int

	SwitchReward     *RewardSpec
	PlaytimeReward   *RewardSpec
	PlaytimeMinutes  int
	CompletionReward *RewardSpec

	SourceNodes []string
	Message     string
	TestMode    bool
	CreatedBy   string
}

// NewSession validates input and builds an active session record.
func NewSession(input CreateSessionInput, clock func() time.Time, newID func() (string, error)) (Session, error) {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}

	targetNode := strings.TrimSpace(input.TargetNode)
	if targetNode == "" {
		return Session{}, ErrTargetNodeRequired
	}
	if input.PlayerThreshold <= 0 {
		return Session{}, ErrThresholdInvalid
	}
	if input.SwitchReward == nil && input.PlaytimeReward == nil && input.CompletionReward == nil {
		return Session{}, ErrNoRewardTiers
	}
	for _, spec := range []*RewardSpec{input.SwitchReward, input.PlaytimeReward, input.CompletionReward} {
		if spec == nil {
			continue
		}
		if err := spec.Validate(); err != nil {
			return Session{}, err
		}
	}
	if input.PlaytimeReward != nil && input.PlaytimeMinutes <= 0 {
		return Session{}, ErrPlaytimeMinutesInvalid
	}

	sourceNodes := make([]string, 0, len(input.SourceNodes))
	for _, node := range input.SourceNodes {
		node = strings.TrimSpace(node)
		if node == "" {
			continue
		}
		if node == targetNode {
			return Session{}, ErrTargetInSourceSet
		}
		sourceNodes = append(sourceNodes, node)
	}

	sessionID, err := newID()
	if err != nil {
		return Session{}, err
	}

	now := clock().UTC()
	return Session{
		ID:               sessionID,
		TargetNode:       targetNode,
		PlayerThreshold:  input.PlayerThreshold,
		SwitchReward:     input.SwitchReward,
		PlaytimeReward:   input.PlaytimeReward,
		PlaytimeMinutes:  input.PlaytimeMinutes,
		CompletionReward: input.CompletionReward,
		SourceNodes:      sourceNodes,
		Status:           SessionStatusActive,
		Message:          strings.TrimSpace(input.Message),
		TestMode:         input.TestMode,
		CreatedBy:        strings.TrimSpace(input.CreatedBy),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// HasSourceNode reports whether a node belongs to the session's source set.
func (s Session) HasSourceNode(node string) bool {
	for _, candidate := range s.SourceNodes {
		if candidate == node {
			return true
		}
	}
	return false
}
