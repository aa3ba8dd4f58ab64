package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
)

const participantColumns = `
	session_id,
	player_id,
	display_name,
	kind,
	status,
	source_node,
	source_joined_at,
	source_left_at,
	on_target,
	target_left_at,
	dwell_minutes,
	rewarded_minutes,
	switch_granted_at,
	playtime_granted_at,
	completion_granted_at,
	created_at,
	updated_at
`

// CreateParticipant inserts one ledger row, rejecting duplicates.
func (s *Store) CreateParticipant(ctx context.Context, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := participant.Validate(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO participants (`+participantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		participant.SessionID,
		participant.PlayerID,
		participant.DisplayName,
		string(participant.Kind),
		string(participant.Status),
		participant.SourceNode,
		toNullMillis(participant.SourceJoinedAt),
		toNullMillis(participant.SourceLeftAt),
		boolToInt(participant.OnTarget),
		toNullMillis(participant.TargetLeftAt),
		participant.DwellMinutes,
		participant.RewardedMinutes,
		toNullMillis(participant.SwitchGrantedAt),
		toNullMillis(participant.PlaytimeGrantedAt),
		toNullMillis(participant.CompletionGrantedAt),
		toMillis(participant.CreatedAt),
		toMillis(participant.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// GetParticipant fetches one ledger row by session and player.
func (s *Store) GetParticipant(ctx context.Context, sessionID, playerID string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Participant{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	playerID = strings.TrimSpace(playerID)
	if sessionID == "" || playerID == "" {
		return domain.Participant{}, fmt.Errorf("session id and player id are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND player_id = ?
`, sessionID, playerID)
	return scanParticipant(row.Scan)
}

// MarkSwitched transitions an on_source row to switched and onto the target.
func (s *Store) MarkSwitched(ctx context.Context, sessionID, playerID string, at time.Time) error {
	return s.guardedUpdate(ctx, sessionID, playerID, `
UPDATE participants
SET status = ?, on_target = 1, target_left_at = NULL, updated_at = ?
WHERE session_id = ? AND player_id = ? AND status = ?
`,
		string(domain.ParticipantSwitched),
		toMillis(at),
		sessionID,
		playerID,
		string(domain.ParticipantOnSource),
	)
}

// MarkSourceLeft stamps the source-leave time. The status stays on_source:
// a tracked player who left a source node still switches if they show up on
// target later.
func (s *Store) MarkSourceLeft(ctx context.Context, sessionID, playerID string, at time.Time) error {
	return s.guardedUpdate(ctx, sessionID, playerID, `
UPDATE participants
SET source_left_at = ?, updated_at = ?
WHERE session_id = ? AND player_id = ? AND status = ?
`,
		toMillis(at),
		toMillis(at),
		sessionID,
		playerID,
		string(domain.ParticipantOnSource),
	)
}

// FinalizeUnswitched marks switchers that never moved as left.
func (s *Store) FinalizeUnswitched(ctx context.Context, sessionID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE participants
SET status = ?, updated_at = ?
WHERE session_id = ? AND status = ?
`,
		string(domain.ParticipantLeft),
		toMillis(at),
		sessionID,
		string(domain.ParticipantOnSource),
	)
	if err != nil {
		return 0, fmt.Errorf("finalize unswitched: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finalize unswitched rows: %w", err)
	}
	return int(affected), nil
}

// SetOnTarget flips target presence for one row.
func (s *Store) SetOnTarget(ctx context.Context, sessionID, playerID string, onTarget bool, at time.Time) error {
	if onTarget {
		return s.guardedUpdate(ctx, sessionID, playerID, `
UPDATE participants
SET on_target = 1, target_left_at = NULL, updated_at = ?
WHERE session_id = ? AND player_id = ?
`,
			toMillis(at),
			sessionID,
			playerID,
		)
	}
	return s.guardedUpdate(ctx, sessionID, playerID, `
UPDATE participants
SET on_target = 0, target_left_at = ?, updated_at = ?
WHERE session_id = ? AND player_id = ?
`,
		toMillis(at),
		toMillis(at),
		sessionID,
		playerID,
	)
}

// ReconcileOnTarget bulk-aligns on_target flags with a roster snapshot.
func (s *Store) ReconcileOnTarget(ctx context.Context, sessionID string, presentPlayerIDs []string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	placeholders := make([]string, 0, len(presentPlayerIDs))
	presentArgs := make([]any, 0, len(presentPlayerIDs))
	for _, playerID := range presentPlayerIDs {
		playerID = strings.TrimSpace(playerID)
		if playerID == "" {
			continue
		}
		placeholders = append(placeholders, "?")
		presentArgs = append(presentArgs, playerID)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0

	markAbsentSQL := `
UPDATE participants
SET on_target = 0, target_left_at = ?, updated_at = ?
WHERE session_id = ? AND on_target = 1
`
	markAbsentArgs := []any{toMillis(at), toMillis(at), sessionID}
	if len(presentArgs) > 0 {
		markAbsentSQL += ` AND player_id NOT IN (` + strings.Join(placeholders, ", ") + `)`
		markAbsentArgs = append(markAbsentArgs, presentArgs...)
	}
	result, err := tx.ExecContext(ctx, markAbsentSQL, markAbsentArgs...)
	if err != nil {
		return 0, fmt.Errorf("reconcile mark absent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reconcile mark absent rows: %w", err)
	}
	changed += int(affected)

	if len(presentArgs) > 0 {
		markPresentSQL := `
UPDATE participants
SET on_target = 1, target_left_at = NULL, updated_at = ?
WHERE session_id = ? AND on_target = 0 AND status != ?
	AND player_id IN (` + strings.Join(placeholders, ", ") + `)`
		markPresentArgs := append([]any{toMillis(at), sessionID, string(domain.ParticipantOnSource)}, presentArgs...)
		result, err = tx.ExecContext(ctx, markPresentSQL, markPresentArgs...)
		if err != nil {
			return 0, fmt.Errorf("reconcile mark present: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reconcile mark present rows: %w", err)
		}
		changed += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reconcile: %w", err)
	}
	return changed, nil
}

// AccrueDwell adds minutes to every row currently on target.
func (s *Store) AccrueDwell(ctx context.Context, sessionID string, minutes int, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}
	if minutes <= 0 {
		return 0, fmt.Errorf("dwell minutes must be greater than zero")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE participants
SET dwell_minutes = dwell_minutes + ?, updated_at = ?
WHERE session_id = ? AND on_target = 1
`, minutes, toMillis(at), sessionID)
	if err != nil {
		return 0, fmt.Errorf("accrue dwell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("accrue dwell rows: %w", err)
	}
	return int(affected), nil
}

// MarkRewardGranted stamps one tier's grant at most once per participant.
// The WHERE guard on the tier column makes a duplicate grant a no-op that
// reports false instead of double-writing.
func (s *Store) MarkRewardGranted(ctx context.Context, sessionID, playerID string, tier domain.Tier, minutes int, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	playerID = strings.TrimSpace(playerID)
	if sessionID == "" || playerID == "" {
		return false, fmt.Errorf("session id and player id are required")
	}
	column, err := tierColumn(tier)
	if err != nil {
		return false, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE participants
SET `+column+` = ?, rewarded_minutes = rewarded_minutes + ?, updated_at = ?
WHERE session_id = ? AND player_id = ? AND `+column+` IS NULL
`,
		toMillis(at),
		minutes,
		toMillis(at),
		sessionID,
		playerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark reward granted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reward granted rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetParticipant(ctx, sessionID, playerID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// ClearGrants wipes every grant for the session.
func (s *Store) ClearGrants(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE participants
SET switch_granted_at = NULL,
	playtime_granted_at = NULL,
	completion_granted_at = NULL,
	rewarded_minutes = 0
WHERE session_id = ?
	AND (switch_granted_at IS NOT NULL
		OR playtime_granted_at IS NOT NULL
		OR completion_granted_at IS NOT NULL)
`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear grants: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear grants rows: %w", err)
	}
	return int(affected), nil
}

// ClearParticipantGrants wipes one participant's grants, reporting how many
// tiers were actually cleared.
func (s *Store) ClearParticipantGrants(ctx context.Context, sessionID, playerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	participant, err := s.GetParticipant(ctx, sessionID, playerID)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, tier := range domain.Tiers() {
		if participant.GrantedAt(tier) != nil {
			cleared++
		}
	}
	if cleared == 0 {
		return 0, nil
	}

	_, err = s.sqlDB.ExecContext(ctx, `
UPDATE participants
SET switch_granted_at = NULL,
	playtime_granted_at = NULL,
	completion_granted_at = NULL,
	rewarded_minutes = 0
WHERE session_id = ? AND player_id = ?
`, participant.SessionID, participant.PlayerID)
	if err != nil {
		return 0, fmt.Errorf("clear participant grants: %w", err)
	}
	return cleared, nil
}

// ListOnSource returns rows still tracked on a source node, for tracker rebuild.
func (s *Store) ListOnSource(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.listParticipants(ctx, sessionID, `status = ?`, string(domain.ParticipantOnSource))
}

// ListOnTarget returns rows currently counted on the target node.
func (s *Store) ListOnTarget(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.listParticipants(ctx, sessionID, `on_target = 1`)
}

// ListPlaytimeEligible returns on-target rows past the dwell threshold with
// no playtime grant yet.
func (s *Store) ListPlaytimeEligible(ctx context.Context, sessionID string, dwellMinutes int) ([]domain.Participant, error) {
	return s.listParticipants(ctx, sessionID,
		`on_target = 1 AND status = ? AND dwell_minutes >= ? AND playtime_granted_at IS NULL`,
		string(domain.ParticipantSwitched), dwellMinutes)
}

// ListCompletionEligible returns on-target rows with no completion grant yet.
func (s *Store) ListCompletionEligible(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.listParticipants(ctx, sessionID,
		`on_target = 1 AND status = ? AND completion_granted_at IS NULL`,
		string(domain.ParticipantSwitched))
}

func (s *Store) listParticipants(ctx context.Context, sessionID, where string, args ...any) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	query := `SELECT ` + participantColumns + ` FROM participants WHERE session_id = ? AND ` + where + ` ORDER BY player_id`
	queryArgs := append([]any{sessionID}, args...)
	rows, err := s.sqlDB.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, err
		}
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

func (s *Store) guardedUpdate(ctx context.Context, sessionID, playerID, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(playerID) == "" {
		return fmt.Errorf("session id and player id are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update participant rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func tierColumn(tier domain.Tier) (string, error) {
	switch tier {
	case domain.TierSwitch:
		return "switch_granted_at", nil
	case domain.TierPlaytime:
		return "playtime_granted_at", nil
	case domain.TierCompletion:
		return "completion_granted_at", nil
	default:
		return "", fmt.Errorf("unknown reward tier %q", tier)
	}
}

func scanParticipant(scan func(dest ...any) error) (domain.Participant, error) {
	var (
		participant         domain.Participant
		kind                string
		status              string
		sourceJoinedAt      sql.NullInt64
		sourceLeftAt        sql.NullInt64
		onTarget            int
		targetLeftAt        sql.NullInt64
		switchGrantedAt     sql.NullInt64
		playtimeGrantedAt   sql.NullInt64
		completionGrantedAt sql.NullInt64
		createdAt           int64
		updatedAt           int64
	)
	err := scan(
		&participant.SessionID,
		&participant.PlayerID,
		&participant.DisplayName,
		&kind,
		&status,
		&participant.SourceNode,
		&sourceJoinedAt,
		&sourceLeftAt,
		&onTarget,
		&targetLeftAt,
		&participant.DwellMinutes,
		&participant.RewardedMinutes,
		&switchGrantedAt,
		&playtimeGrantedAt,
		&completionGrantedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, storage.ErrNotFound
		}
		return domain.Participant{}, fmt.Errorf("scan participant: %w", err)
	}

	participant.Kind = domain.ParticipantKind(kind)
	participant.Status = domain.ParticipantStatus(status)
	participant.SourceJoinedAt = fromNullMillis(sourceJoinedAt)
	participant.SourceLeftAt = fromNullMillis(sourceLeftAt)
	participant.OnTarget = onTarget != 0
	participant.TargetLeftAt = fromNullMillis(targetLeftAt)
	participant.SwitchGrantedAt = fromNullMillis(switchGrantedAt)
	participant.PlaytimeGrantedAt = fromNullMillis(playtimeGrantedAt)
	participant.CompletionGrantedAt = fromNullMillis(completionGrantedAt)
	participant.CreatedAt = fromMillis(createdAt)
	participant.UpdatedAt = fromMillis(updatedAt)
	return participant, nil
}
