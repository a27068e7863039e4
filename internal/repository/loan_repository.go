package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peervest/lending-engine/internal/domain"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

type loanRepository struct {
	db sqlx.ExtContext
}

func NewLoanRepository(db sqlx.ExtContext) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (id, borrower_id, requested_amount, funded_amount, total_repaid,
			interest_rate, term_days, due_date, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.BorrowerID,
		loan.RequestedAmount,
		loan.FundedAmount,
		loan.TotalRepaid,
		loan.InterestRate,
		loan.TermDays,
		loan.DueDate,
		loan.Status,
		loan.Version,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `
		SELECT id, borrower_id, requested_amount, funded_amount, total_repaid,
			interest_rate, term_days, due_date, status, version, created_at, updated_at
		FROM loans
		WHERE id = $1
	`

	var loan domain.Loan
	err := sqlx.GetContext(ctx, r.db, &loan, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

// UpdateVersioned is the single atomic compare-and-update every loan write
// goes through. The WHERE clause pins the version read at the start of the
// transaction; a concurrent writer makes it miss and the caller retries.
func (r *loanRepository) UpdateVersioned(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET funded_amount = $3, total_repaid = $4, due_date = $5, status = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
	`

	res, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.Version,
		loan.FundedAmount,
		loan.TotalRepaid,
		loan.DueDate,
		loan.Status,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return pkgerrors.ErrConcurrentModification
	}

	loan.Version++
	return nil
}

func (r *loanRepository) AddContribution(ctx context.Context, c *domain.Contribution) error {
	query := `
		INSERT INTO contributions (id, loan_id, lender_id, amount, funded_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, c.ID, c.LoanID, c.LenderID, c.Amount, c.FundedAt)
	return err
}

func (r *loanRepository) Contributions(ctx context.Context, loanID uuid.UUID) ([]*domain.Contribution, error) {
	query := `
		SELECT id, loan_id, lender_id, amount, funded_at
		FROM contributions
		WHERE loan_id = $1
		ORDER BY funded_at, id
	`

	var contributions []*domain.Contribution
	if err := sqlx.SelectContext(ctx, r.db, &contributions, query, loanID); err != nil {
		return nil, err
	}

	return contributions, nil
}

func (r *loanRepository) AddRepayment(ctx context.Context, rep *domain.Repayment) error {
	query := `
		INSERT INTO repayments (id, loan_id, amount, applied_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, rep.ID, rep.LoanID, rep.Amount, rep.AppliedAt); err != nil {
		return err
	}

	distQuery := `
		INSERT INTO distributions (id, repayment_id, lender_id, amount)
		VALUES ($1, $2, $3, $4)
	`
	for _, d := range rep.Distributions {
		if _, err := r.db.ExecContext(ctx, distQuery, d.ID, d.RepaymentID, d.LenderID, d.Amount); err != nil {
			return err
		}
	}

	return nil
}

func (r *loanRepository) Repayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error) {
	query := `
		SELECT id, loan_id, amount, applied_at
		FROM repayments
		WHERE loan_id = $1
		ORDER BY applied_at, id
	`

	var repayments []*domain.Repayment
	if err := sqlx.SelectContext(ctx, r.db, &repayments, query, loanID); err != nil {
		return nil, err
	}

	distQuery := `
		SELECT id, repayment_id, lender_id, amount
		FROM distributions
		WHERE repayment_id = $1
		ORDER BY amount DESC, id
	`
	for _, rep := range repayments {
		if err := sqlx.SelectContext(ctx, r.db, &rep.Distributions, distQuery, rep.ID); err != nil {
			return nil, err
		}
	}

	return repayments, nil
}

func (r *loanRepository) AddStatusEvent(ctx context.Context, e *domain.StatusEvent) error {
	query := `
		INSERT INTO loan_status_events (loan_id, from_status, to_status, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, e.LoanID, e.FromStatus, e.ToStatus, e.Reason, e.OccurredAt)
	return err
}

func (r *loanRepository) StatusEvents(ctx context.Context, loanID uuid.UUID) ([]*domain.StatusEvent, error) {
	query := `
		SELECT id, loan_id, from_status, to_status, reason, occurred_at
		FROM loan_status_events
		WHERE loan_id = $1
		ORDER BY occurred_at, id
	`

	var events []*domain.StatusEvent
	if err := sqlx.SelectContext(ctx, r.db, &events, query, loanID); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *loanRepository) DueForOverdue(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	query := `
		SELECT id, borrower_id, requested_amount, funded_amount, total_repaid,
			interest_rate, term_days, due_date, status, version, created_at, updated_at
		FROM loans
		WHERE status IN ('funded', 'active')
			AND due_date IS NOT NULL AND due_date < $1
			AND total_repaid < funded_amount
		ORDER BY due_date
	`

	var loans []*domain.Loan
	if err := sqlx.SelectContext(ctx, r.db, &loans, query, now); err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) OverduePastGrace(ctx context.Context, cutoff time.Time) ([]*domain.Loan, error) {
	query := `
		SELECT id, borrower_id, requested_amount, funded_amount, total_repaid,
			interest_rate, term_days, due_date, status, version, created_at, updated_at
		FROM loans
		WHERE status = 'overdue' AND due_date < $1
		ORDER BY due_date
	`

	var loans []*domain.Loan
	if err := sqlx.SelectContext(ctx, r.db, &loans, query, cutoff); err != nil {
		return nil, err
	}

	return loans, nil
}

func (r *loanRepository) Stats(ctx context.Context) (*domain.SystemStats, error) {
	stats := &domain.SystemStats{LoansByStatus: make(map[string]int)}

	rows, err := r.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM loans GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.LoansByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = sqlx.GetContext(ctx, r.db, &stats.TotalFunded,
		`SELECT COALESCE(SUM(funded_amount), 0) FROM loans`)
	if err != nil {
		return nil, err
	}

	err = sqlx.GetContext(ctx, r.db, &stats.TotalRepaid,
		`SELECT COALESCE(SUM(total_repaid), 0) FROM loans`)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
