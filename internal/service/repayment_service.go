package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// RepaymentService distributes borrower repayments back across the lenders
// that funded the loan, in proportion to their contributions.
//
// Completion requires repaying principal only: the interest rate on a loan
// is a display figure for expected returns and never changes what the
// borrower owes the ledger. Overpayments are rejected rather than clamped,
// so a repayment can never exceed the remaining principal.
type RepaymentService struct {
	uow        repository.UnitOfWork
	publisher  EventPublisher
	maxRetries int
}

func NewRepaymentService(uow repository.UnitOfWork, publisher EventPublisher, maxRetries int) *RepaymentService {
	return &RepaymentService{uow: uow, publisher: publisher, maxRetries: maxRetries}
}

// Repay applies one borrower repayment: repayment row with distributions,
// borrower debit, one credit per lender and the loan update, atomically.
func (s *RepaymentService) Repay(ctx context.Context, loanID uuid.UUID, amount int64) (*domain.Loan, error) {
	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	var loan *domain.Loan
	var events []*TransitionEvent

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		events = events[:0]
		err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
			var err error
			loan, events, err = s.RepayTx(ctx, r, loanID, amount)
			return err
		})
		if errors.Is(err, pkgerrors.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return nil, err
		}

		publishAll(ctx, s.publisher, events)
		return loan, nil
	}

	return nil, pkgerrors.WrapConcurrentModification(loanID.String())
}

// RepayTx applies one repayment inside the caller's transaction, for
// composition with the reconciliation gateway.
func (s *RepaymentService) RepayTx(ctx context.Context, r repository.Repos, loanID uuid.UUID, amount int64) (*domain.Loan, []*TransitionEvent, error) {
	if amount <= 0 {
		return nil, nil, pkgerrors.ErrInvalidAmount
	}

	loan, err := r.Loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}

	switch loan.Status {
	case domain.LoanStatusFunded, domain.LoanStatusActive, domain.LoanStatusOverdue:
	default:
		return nil, nil, pkgerrors.WrapLoanNotRepayable(loan.Status)
	}

	if amount > loan.RemainingBalance() {
		return nil, nil, pkgerrors.WrapOverpaymentRejected(loan.RemainingBalance())
	}

	contributions, err := r.Loans.Contributions(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	repayment := &domain.Repayment{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    amount,
		AppliedAt: now,
	}
	repayment.Distributions = prorate(contributions, amount, loan.FundedAmount)
	for _, d := range repayment.Distributions {
		d.RepaymentID = repayment.ID
	}

	if err := r.Loans.AddRepayment(ctx, repayment); err != nil {
		return nil, nil, err
	}

	// Borrower pays out of their wallet; an empty wallet fails the whole
	// operation before any lender is credited.
	if err := r.Accounts.Append(ctx, newTransaction(loan.BorrowerID, -amount, domain.TxKindRepaymentPaid, &loan.ID, "")); err != nil {
		return nil, nil, err
	}
	for _, d := range repayment.Distributions {
		if d.Amount == 0 {
			continue
		}
		if err := r.Accounts.Append(ctx, newTransaction(d.LenderID, d.Amount, domain.TxKindRepaymentReceived, &loan.ID, "")); err != nil {
			return nil, nil, err
		}
	}

	loan.TotalRepaid += amount

	var events []*TransitionEvent
	if loan.Status == domain.LoanStatusFunded {
		event, err := transition(ctx, r, loan, domain.LoanStatusActive, "first repayment received", now)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, event)
	}
	if loan.TotalRepaid >= loan.FundedAmount {
		event, err := transition(ctx, r, loan, domain.LoanStatusCompleted, "principal fully repaid", now)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, event)
	}

	if err := r.Loans.UpdateVersioned(ctx, loan); err != nil {
		return nil, nil, err
	}

	return loan, events, nil
}
