package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brchase/exodus/internal/exodus/domain"
	"github.com/brchase/exodus/internal/exodus/storage"
)

const sessionColumns = `
	id,
	target_node,
	player_threshold,
	switch_value,
	switch_unit,
	playtime_value,
	playtime_unit,
	playtime_minutes,
	completion_value,
	completion_unit,
	source_nodes,
	status,
	participant_count,
	rewards_granted,
	message,
	test_mode,
	created_by,
	close_reason,
	created_at,
	updated_at,
	closed_at
`

// CreateSession inserts an active session. The partial unique index on
// status='active' turns a concurrent second create into a constraint
// failure, which is surfaced as storage.ErrActiveSessionExists.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusActive
	}

	sourceNodes, err := json.Marshal(session.SourceNodes)
	if err != nil {
		return fmt.Errorf("marshal source nodes: %w", err)
	}

	switchValue, switchUnit := rewardColumns(session.SwitchReward)
	playtimeValue, playtimeUnit := rewardColumns(session.PlaytimeReward)
	completionValue, completionUnit := rewardColumns(session.CompletionReward)

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.TargetNode,
		session.PlayerThreshold,
		switchValue,
		switchUnit,
		playtimeValue,
		playtimeUnit,
		session.PlaytimeMinutes,
		completionValue,
		completionUnit,
		string(sourceNodes),
		string(session.Status),
		session.ParticipantCount,
		session.RewardsGranted,
		session.Message,
		boolToInt(session.TestMode),
		session.CreatedBy,
		session.CloseReason,
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
		toNullMillis(session.ClosedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(strings.ToLower(err.Error()), "idx_sessions_single_active") {
				return storage.ErrActiveSessionExists
			}
			return storage.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// ActiveSession returns the single active session or storage.ErrNotFound.
func (s *Store) ActiveSession(ctx context.Context) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ?`, string(domain.SessionStatusActive))
	return scanSession(row)
}

// FinishSession moves an active session to a terminal status.
func (s *Store) FinishSession(ctx context.Context, sessionID string, status domain.SessionStatus, reason string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if status != domain.SessionStatusClosed && status != domain.SessionStatusCancelled {
		return fmt.Errorf("finish status %q is not terminal", status)
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET status = ?, close_reason = ?, closed_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`,
		string(status),
		strings.TrimSpace(reason),
		toMillis(at),
		toMillis(at),
		sessionID,
		string(domain.SessionStatusActive),
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
			return getErr
		}
		return storage.ErrSessionNotActive
	}
	return nil
}

// RefreshParticipantCount recounts ledger rows into the session counter.
func (s *Store) RefreshParticipantCount(ctx context.Context, sessionID string) (int, error) {
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
UPDATE sessions
SET participant_count = (SELECT COUNT(*) FROM participants WHERE session_id = sessions.id)
WHERE id = ?
`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("refresh participant count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh participant count rows: %w", err)
	}
	if affected == 0 {
		return 0, storage.ErrNotFound
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT participant_count FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("read participant count: %w", err)
	}
	return count, nil
}

// AddRewardsGranted adjusts the monotonic rewards-granted counter.
func (s *Store) AddRewardsGranted(ctx context.Context, sessionID string, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET rewards_granted = MAX(rewards_granted + ?, 0)
WHERE id = ?
`, delta, sessionID)
	if err != nil {
		return fmt.Errorf("add rewards granted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add rewards granted rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ResetRewardsGranted zeroes the rewards counter after a session reversal.
func (s *Store) ResetRewardsGranted(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `UPDATE sessions SET rewards_granted = 0 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("reset rewards granted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset rewards granted rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func rewardColumns(spec *domain.RewardSpec) (sql.NullInt64, sql.NullString) {
	if spec == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: int64(spec.Value), Valid: true},
		sql.NullString{String: string(spec.Unit), Valid: true}
}

func rewardFromColumns(value sql.NullInt64, unit sql.NullString) *domain.RewardSpec {
	if !value.Valid || !unit.Valid {
		return nil
	}
	return &domain.RewardSpec{Value: int(value.Int64), Unit: domain.RewardUnit(unit.String)}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var (
		session         domain.Session
		switchValue     sql.NullInt64
		switchUnit      sql.NullString
		playtimeValue   sql.NullInt64
		playtimeUnit    sql.NullString
		completionValue sql.NullInt64
		completionUnit  sql.NullString
		sourceNodes     string
		status          string
		testMode        int
		createdAt       int64
		updatedAt       int64
		closedAt        sql.NullInt64
	)
	err := row.Scan(
		&session.ID,
		&session.TargetNode,
		&session.PlayerThreshold,
		&switchValue,
		&switchUnit,
		&playtimeValue,
		&playtimeUnit,
		&session.PlaytimeMinutes,
		&completionValue,
		&completionUnit,
		&sourceNodes,
		&status,
		&session.ParticipantCount,
		&session.RewardsGranted,
		&session.Message,
		&testMode,
		&session.CreatedBy,
		&session.CloseReason,
		&createdAt,
		&updatedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}

	session.SwitchReward = rewardFromColumns(switchValue, switchUnit)
	session.PlaytimeReward = rewardFromColumns(playtimeValue, playtimeUnit)
	session.CompletionReward = rewardFromColumns(completionValue, completionUnit)
	session.Status = domain.SessionStatus(status)
	session.TestMode = testMode != 0
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	session.ClosedAt = fromNullMillis(closedAt)
	if err := json.Unmarshal([]byte(sourceNodes), &session.SourceNodes); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal source nodes: %w", err)
	}
	return session, nil
}
