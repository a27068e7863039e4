package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/peervest/lending-engine/internal/domain"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

type intentRepository struct {
	db sqlx.ExtContext
}

func NewIntentRepository(db sqlx.ExtContext) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) Create(ctx context.Context, intent *domain.PendingPaymentIntent) error {
	query := `
		INSERT INTO payment_intents (intent_id, purpose, loan_id, account_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		intent.IntentID,
		intent.Purpose,
		intent.LoanID,
		intent.AccountID,
		intent.Amount,
		intent.Status,
		intent.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return pkgerrors.ErrDuplicateReference
	}

	return err
}

func (r *intentRepository) GetByID(ctx context.Context, intentID string) (*domain.PendingPaymentIntent, error) {
	query := `
		SELECT intent_id, purpose, loan_id, account_id, amount, status, consumed_at, failure_reason, created_at
		FROM payment_intents
		WHERE intent_id = $1
	`

	var intent domain.PendingPaymentIntent
	err := sqlx.GetContext(ctx, r.db, &intent, query, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &intent, nil
}

// Consume flips the intent to confirmed only if no earlier delivery got
// there first. Running inside the same transaction as the ledger effects,
// this is what makes duplicate webhook deliveries safe: the loser of the
// race sees zero rows and applies nothing.
func (r *intentRepository) Consume(ctx context.Context, intentID string, at time.Time) (bool, error) {
	query := `
		UPDATE payment_intents
		SET status = 'confirmed', consumed_at = $2
		WHERE intent_id = $1 AND status = 'created'
	`

	res, err := r.db.ExecContext(ctx, query, intentID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *intentRepository) MarkFailed(ctx context.Context, intentID string, reason string) error {
	query := `
		UPDATE payment_intents
		SET status = 'failed', failure_reason = $2
		WHERE intent_id = $1 AND status = 'created'
	`

	_, err := r.db.ExecContext(ctx, query, intentID, reason)
	return err
}
