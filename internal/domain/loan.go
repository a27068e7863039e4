package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peervest/lending-engine/pkg/money"
)

const (
	LoanStatusPending   = "pending"
	LoanStatusApproved  = "approved"
	LoanStatusRejected  = "rejected"
	LoanStatusFunded    = "funded"
	LoanStatusActive    = "active"
	LoanStatusCompleted = "completed"
	LoanStatusOverdue   = "overdue"
	LoanStatusDefaulted = "defaulted"
)

// legalTransitions encodes the one-directional lifecycle. A status absent
// from the map is terminal.
var legalTransitions = map[string][]string{
	LoanStatusPending:  {LoanStatusApproved, LoanStatusFunded, LoanStatusRejected},
	LoanStatusApproved: {LoanStatusFunded},
	LoanStatusFunded:   {LoanStatusActive, LoanStatusCompleted, LoanStatusOverdue},
	LoanStatusActive:   {LoanStatusCompleted, LoanStatusOverdue},
	LoanStatusOverdue:  {LoanStatusCompleted, LoanStatusDefaulted},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a loan in this status can never change again.
func IsTerminal(status string) bool {
	return len(legalTransitions[status]) == 0
}

// Loan is a single loan request together with its funding and repayment
// history. Version backs the optimistic concurrency check on every write.
type Loan struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	BorrowerID      uuid.UUID  `json:"borrower_id" db:"borrower_id"`
	RequestedAmount int64      `json:"requested_amount" db:"requested_amount"`
	FundedAmount    int64      `json:"funded_amount" db:"funded_amount"`
	TotalRepaid     int64      `json:"total_repaid" db:"total_repaid"`
	InterestRate    string     `json:"interest_rate" db:"interest_rate"`
	TermDays        int        `json:"term_days" db:"term_days"`
	DueDate         *time.Time `json:"due_date,omitempty" db:"due_date"`
	Status          string     `json:"status" db:"status"`
	Version         int64      `json:"-" db:"version"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// RemainingCapacity is how much funding the loan can still accept.
func (l *Loan) RemainingCapacity() int64 {
	return l.RequestedAmount - l.FundedAmount
}

// RemainingBalance is the principal still owed by the borrower.
func (l *Loan) RemainingBalance() int64 {
	return l.FundedAmount - l.TotalRepaid
}

// Rate parses the stored interest rate. The rate is display-only; it never
// enters ledger arithmetic.
func (l *Loan) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(l.InterestRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Contribution is one lender's funding amount toward one loan.
type Contribution struct {
	ID       uuid.UUID `json:"id" db:"id"`
	LoanID   uuid.UUID `json:"loan_id" db:"loan_id"`
	LenderID uuid.UUID `json:"lender_id" db:"lender_id"`
	Amount   int64     `json:"amount" db:"amount"`
	FundedAt time.Time `json:"funded_at" db:"funded_at"`
}

// Repayment is a single borrower payment against a loan.
type Repayment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	LoanID        uuid.UUID       `json:"loan_id" db:"loan_id"`
	Amount        int64           `json:"amount" db:"amount"`
	AppliedAt     time.Time       `json:"applied_at" db:"applied_at"`
	Distributions []*Distribution `json:"distributions"`
}

// Distribution is one lender's prorated slice of a repayment. The slices
// of a repayment always sum exactly to the repayment amount.
type Distribution struct {
	ID          uuid.UUID `json:"id" db:"id"`
	RepaymentID uuid.UUID `json:"repayment_id" db:"repayment_id"`
	LenderID    uuid.UUID `json:"lender_id" db:"lender_id"`
	Amount      int64     `json:"amount" db:"amount"`
}

// StatusEvent is one audit record of a lifecycle transition.
type StatusEvent struct {
	ID         int64     `json:"id" db:"id"`
	LoanID     uuid.UUID `json:"loan_id" db:"loan_id"`
	FromStatus string    `json:"from_status" db:"from_status"`
	ToStatus   string    `json:"to_status" db:"to_status"`
	Reason     string    `json:"reason" db:"reason"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	BorrowerID   uuid.UUID    `json:"borrower_id" validate:"required"`
	Amount       money.Amount `json:"amount" validate:"required"`
	InterestRate string       `json:"interest_rate" validate:"required"`
	TermDays     int          `json:"term_days" validate:"required,gt=0"`
}

type ContributeRequest struct {
	LenderID uuid.UUID    `json:"lender_id" validate:"required"`
	Amount   money.Amount `json:"amount" validate:"required"`
}

type RepayRequest struct {
	Amount money.Amount `json:"amount" validate:"required"`
}

type LoanResponse struct {
	Loan           *Loan           `json:"loan"`
	Contributions  []*Contribution `json:"contributions"`
	Repayments     []*Repayment    `json:"repayments"`
	ExpectedReturn money.Amount    `json:"expected_return"`
}

type SweepResponse struct {
	Overdue   []uuid.UUID `json:"overdue"`
	Defaulted []uuid.UUID `json:"defaulted"`
}

// SystemStats is the admin aggregate projection.
type SystemStats struct {
	LoansByStatus map[string]int `json:"loans_by_status"`
	TotalFunded   int64          `json:"total_funded"`
	TotalRepaid   int64          `json:"total_repaid"`
	TotalAccounts int            `json:"total_accounts"`
}
