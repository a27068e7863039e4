package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
)

// AccountRepository defines the interface for wallet and ledger data operations
type AccountRepository interface {
	// Create creates a new account with zero balance
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// Deactivate marks an account inactive; accounts are never deleted
	Deactivate(ctx context.Context, id uuid.UUID) error

	// Append writes one immutable ledger entry and updates the balance in
	// the same statement set. The balance check for debits happens inside
	// the UPDATE, never as a separate read.
	Append(ctx context.Context, tx *domain.Transaction) error

	// Balance returns the stored balance
	Balance(ctx context.Context, id uuid.UUID) (int64, error)

	// History returns the account's ledger entries, newest first
	History(ctx context.Context, id uuid.UUID) ([]*domain.Transaction, error)

	// SumTransactions recomputes the balance from the log
	SumTransactions(ctx context.Context, id uuid.UUID) (int64, error)

	// Count returns the number of accounts
	Count(ctx context.Context) (int, error)
}

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create creates a new loan in pending status
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID retrieves a loan by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// UpdateVersioned writes the loan only if its version is unchanged,
	// bumping it on success. A stale version yields ErrConcurrentModification.
	UpdateVersioned(ctx context.Context, loan *domain.Loan) error

	// AddContribution appends one lender contribution row
	AddContribution(ctx context.Context, c *domain.Contribution) error

	// Contributions returns the loan's contributions in funding order
	Contributions(ctx context.Context, loanID uuid.UUID) ([]*domain.Contribution, error)

	// AddRepayment appends a repayment together with its distribution rows
	AddRepayment(ctx context.Context, r *domain.Repayment) error

	// Repayments returns the loan's repayments with distributions, in order
	Repayments(ctx context.Context, loanID uuid.UUID) ([]*domain.Repayment, error)

	// AddStatusEvent appends one lifecycle audit record
	AddStatusEvent(ctx context.Context, e *domain.StatusEvent) error

	// StatusEvents returns the loan's transition audit trail
	StatusEvents(ctx context.Context, loanID uuid.UUID) ([]*domain.StatusEvent, error)

	// DueForOverdue lists funded/active loans past due and not fully repaid
	DueForOverdue(ctx context.Context, now time.Time) ([]*domain.Loan, error)

	// OverduePastGrace lists overdue loans whose due date is before cutoff
	OverduePastGrace(ctx context.Context, cutoff time.Time) ([]*domain.Loan, error)

	// Stats aggregates loan counts and totals for the admin projection
	Stats(ctx context.Context) (*domain.SystemStats, error)
}

// IntentRepository defines the interface for pending payment intents
type IntentRepository interface {
	// Create registers a new in-flight external charge
	Create(ctx context.Context, intent *domain.PendingPaymentIntent) error

	// GetByID retrieves an intent by its external ID
	GetByID(ctx context.Context, intentID string) (*domain.PendingPaymentIntent, error)

	// Consume flips created -> confirmed in one conditional UPDATE and
	// reports whether this call won the transition.
	Consume(ctx context.Context, intentID string, at time.Time) (bool, error)

	// MarkFailed records a failed or unappliable confirmation
	MarkFailed(ctx context.Context, intentID string, reason string) error
}

// Repos bundles the repositories bound to one transaction scope.
type Repos struct {
	Accounts AccountRepository
	Loans    LoanRepository
	Intents  IntentRepository
}

// UnitOfWork runs a function with all repositories bound to a single
// database transaction. The transaction commits only if fn returns nil.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(r Repos) error) error
}
