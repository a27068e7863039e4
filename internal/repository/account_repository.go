package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/peervest/lending-engine/internal/domain"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

const pgUniqueViolation = "23505"

type accountRepository struct {
	db sqlx.ExtContext
}

// NewAccountRepository binds the repository to a pool or an open transaction.
func NewAccountRepository(db sqlx.ExtContext) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, owner_id, role, balance, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.OwnerID,
		account.Role,
		account.Balance,
		account.Active,
		account.CreatedAt,
	)

	return err
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT id, owner_id, role, balance, active, created_at
		FROM accounts
		WHERE id = $1
	`

	var account domain.Account
	err := sqlx.GetContext(ctx, r.db, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (r *accountRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrAccountNotFound
	}
	return nil
}

// Append writes one ledger entry and moves the balance atomically.
// Debits are guarded inside the UPDATE itself: the row only changes when
// the resulting balance stays non-negative, so concurrent debits can never
// race the ledger below zero.
func (r *accountRepository) Append(ctx context.Context, t *domain.Transaction) error {
	if t.ExternalReference != nil {
		var consumed bool
		err := sqlx.GetContext(ctx, r.db, &consumed,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE external_reference = $1 AND kind = $2)`,
			*t.ExternalReference, t.Kind)
		if err != nil {
			return err
		}
		if consumed {
			return pkgerrors.ErrDuplicateReference
		}
	}

	var balanceQuery string
	if t.Amount < 0 {
		balanceQuery = `
			UPDATE accounts
			SET balance = balance + $1
			WHERE id = $2 AND balance + $1 >= 0
		`
	} else {
		balanceQuery = `
			UPDATE accounts
			SET balance = balance + $1
			WHERE id = $2
		`
	}

	res, err := r.db.ExecContext(ctx, balanceQuery, t.Amount, t.AccountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, r.db, &exists,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, t.AccountID); err != nil {
			return err
		}
		if !exists {
			return pkgerrors.ErrAccountNotFound
		}
		return pkgerrors.ErrInsufficientFunds
	}

	insert := `
		INSERT INTO transactions (id, account_id, amount, kind, related_loan_id, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, insert,
		t.ID,
		t.AccountID,
		t.Amount,
		t.Kind,
		t.RelatedLoanID,
		t.ExternalReference,
		t.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		// Unique index backstop in case two transactions raced the pre-check.
		return pkgerrors.ErrDuplicateReference
	}

	return err
}

func (r *accountRepository) Balance(ctx context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, r.db, &balance, `SELECT balance FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrAccountNotFound
	}
	return balance, err
}

func (r *accountRepository) History(ctx context.Context, id uuid.UUID) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, amount, kind, related_loan_id, external_reference, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var entries []*domain.Transaction
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, id); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *accountRepository) SumTransactions(ctx context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	err := sqlx.GetContext(ctx, r.db, &sum,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = $1`, id)
	return sum, err
}

func (r *accountRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.db, &count, `SELECT COUNT(*) FROM accounts`)
	return count, err
}
