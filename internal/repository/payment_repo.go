package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/clinton-khozah/website-sub002/internal/models"
)

type CreatePaymentInput struct {
	SessionID int64
	LearnerID int64
	MentorID  int64
	AmountUSD decimal.Decimal
	Status    string
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, input CreatePaymentInput) (*models.Payment, error) {
	query := `
		INSERT INTO payments (session_id, learner_id, mentor_id, amount_usd, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, session_id, learner_id, mentor_id, amount_usd, status, created_at
	`

	var payment models.Payment
	err := r.db.QueryRow(ctx, query, input.SessionID, input.LearnerID, input.MentorID, input.AmountUSD, input.Status).Scan(
		&payment.ID,
		&payment.SessionID,
		&payment.LearnerID,
		&payment.MentorID,
		&payment.AmountUSD,
		&payment.Status,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetLatestBySessionID returns the most recent payment record for a
// session. The latest row is authoritative for the paid flag.
func (r *PaymentRepository) GetLatestBySessionID(ctx context.Context, sessionID int64) (*models.Payment, error) {
	query := `
		SELECT id, session_id, learner_id, mentor_id, amount_usd, status, created_at
		FROM payments
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var payment models.Payment
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&payment.ID,
		&payment.SessionID,
		&payment.LearnerID,
		&payment.MentorID,
		&payment.AmountUSD,
		&payment.Status,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListBySessionIDs(ctx context.Context, sessionIDs []int64) (map[int64]models.Payment, error) {
	payments := make(map[int64]models.Payment, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return payments, nil
	}

	query := `
		SELECT DISTINCT ON (session_id) id, session_id, learner_id, mentor_id, amount_usd, status, created_at
		FROM payments
		WHERE session_id = ANY($1)
		ORDER BY session_id, id DESC
	`

	rows, err := r.db.Query(ctx, query, sessionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payment models.Payment
		if err := rows.Scan(
			&payment.ID,
			&payment.SessionID,
			&payment.LearnerID,
			&payment.MentorID,
			&payment.AmountUSD,
			&payment.Status,
			&payment.CreatedAt,
		); err != nil {
			return nil, err
		}
		payments[payment.SessionID] = payment
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

// UpdateStatusIfCurrent performs a compare-and-set so a replayed
// webhook cannot regress a settled payment.
func (r *PaymentRepository) UpdateStatusIfCurrent(ctx context.Context, paymentID int64, currentStatus string, nextStatus string) (*models.Payment, error) {
	query := `
		UPDATE payments
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING id, session_id, learner_id, mentor_id, amount_usd, status, created_at
	`

	var payment models.Payment
	err := r.db.QueryRow(ctx, query, paymentID, currentStatus, nextStatus).Scan(
		&payment.ID,
		&payment.SessionID,
		&payment.LearnerID,
		&payment.MentorID,
		&payment.AmountUSD,
		&payment.Status,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
