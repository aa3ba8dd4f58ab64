// Package audit records operator-visible actions taken by the orchestrator.
// Recording is fire-and-forget: callers log failures and keep going, the
// campaign never stalls on the audit trail.
package audit

import (
	"context"
	"time"
)

// Action identifies what happened.
type Action string

const (
	ActionSessionCreated    Action = "session_created"
	ActionSessionClosed     Action = "session_closed"
	ActionSessionCancelled  Action = "session_cancelled"
	ActionRewardGranted     Action = "reward_granted"
	ActionRewardsReversed   Action = "rewards_reversed"
	ActionParticipantJoined Action = "participant_joined"
)

// Entry is one recorded action.
type Entry struct {
	Action      Action            `json:"action"`
	ActorID     string            `json:"actor_id,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// Sink accepts audit entries. Implementations must tolerate concurrent
// callers and should not block the caller on durability.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Discard is a Sink that drops every entry. Useful in tests and when no
// audit path is configured.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Entry) error { return nil }
