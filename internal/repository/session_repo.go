package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinton-khozah/website-sub002/internal/models"
)

const sessionColumns = `id, mentor_id, learner_id, scheduled_at, duration_minutes, meeting_type, meeting_link, amount_usd, status, created_at, updated_at`

type SessionListFilter struct {
	ActorID   int64
	Role      string
	Status    string
	Timeframe string
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row interface{ Scan(dest ...any) error }, session *models.Session) error {
	return row.Scan(
		&session.ID,
		&session.MentorID,
		&session.LearnerID,
		&session.ScheduledAt,
		&session.DurationMinutes,
		&session.MeetingType,
		&session.MeetingLink,
		&session.AmountUSD,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE id = $1
	`, sessionColumns)

	var session models.Session
	if err := scanSession(r.db.QueryRow(ctx, query, sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) List(
	ctx context.Context,
	filter SessionListFilter,
) ([]models.Session, error) {
	actorColumn := "learner_id"
	if filter.Role == models.RoleMentor {
		actorColumn = "mentor_id"
	}

	args := []any{filter.ActorID}
	whereParts := []string{fmt.Sprintf("%s = $1", actorColumn)}

	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}

	switch strings.TrimSpace(filter.Timeframe) {
	case "upcoming":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_minutes * INTERVAL '1 minute')) > NOW()",
		)
	case "past":
		whereParts = append(
			whereParts,
			"(scheduled_at + (duration_minutes * INTERVAL '1 minute')) <= NOW()",
		)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
	`, sessionColumns, strings.Join(whereParts, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var session models.Session
		if err := scanSession(rows, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// ListOpenSlots returns unassigned, still-upcoming slots, soonest
// first. These are the publicly bookable sessions.
func (r *SessionRepository) ListOpenSlots(
	ctx context.Context,
	after time.Time,
	limit int,
	offset int,
) ([]models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE learner_id IS NULL
		  AND status = 'scheduled'
		  AND scheduled_at > $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, sessionColumns)

	rows, err := r.db.Query(ctx, query, after, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var session models.Session
		if err := scanSession(rows, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

func (r *SessionRepository) CountOpenSlots(ctx context.Context, after time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE learner_id IS NULL
		  AND status = 'scheduled'
		  AND scheduled_at > $1
	`

	var total int
	if err := r.db.QueryRow(ctx, query, after).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// UpdateStatusIfCurrent performs a compare-and-set on the stored
// status, so concurrent transitions cannot clobber each other.
func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus string,
	nextStatus string,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, sessionColumns)

	var session models.Session
	if err := scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, nextStatus), &session); err != nil {
		return nil, err
	}
	return &session, nil
}
