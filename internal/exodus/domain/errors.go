package domain

import "errors"

var (
	// ErrTargetNodeRequired indicates a session needs a target node.
	ErrTargetNodeRequired = errors.New("target node is required")
	// ErrThresholdInvalid indicates the player threshold must be positive.
	ErrThresholdInvalid = errors.New("player threshold must be greater than zero")
	// ErrNoRewardTiers indicates a session must configure at least one reward tier.
	ErrNoRewardTiers = errors.New("at least one reward tier is required")
	// ErrPlaytimeMinutesInvalid indicates the playtime tier needs a positive dwell threshold.
	ErrPlaytimeMinutesInvalid = errors.New("playtime dwell minutes must be greater than zero")
	// ErrTargetInSourceSet indicates the target node cannot solicit from itself.
	ErrTargetInSourceSet = errors.New("target node cannot be in the source set")
	// ErrInvalidRewardUnit indicates an unknown reward unit.
	ErrInvalidRewardUnit = errors.New("invalid reward unit")
	// ErrRewardValueInvalid indicates a reward value must be positive.
	ErrRewardValueInvalid = errors.New("reward value must be greater than zero")
	// ErrPlayerIDRequired indicates a participant needs a player identifier.
	ErrPlayerIDRequired = errors.New("player id is required")
	// ErrSessionIDRequired indicates a participant needs a session identifier.
	ErrSessionIDRequired = errors.New("session id is required")
	// ErrSourceNodeRequired indicates a switcher needs a source node.
	ErrSourceNodeRequired = errors.New("source node is required")
	// ErrIllegalParticipantState indicates a kind/status combination that the
	// model forbids, such as a seeder tracked on a source node.
	ErrIllegalParticipantState = errors.New("illegal participant kind/status combination")
)
