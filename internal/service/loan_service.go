package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// LoanService owns loan creation and the manual review transitions.
type LoanService struct {
	uow       repository.UnitOfWork
	repos     repository.Repos
	publisher EventPublisher
}

func NewLoanService(uow repository.UnitOfWork, repos repository.Repos, publisher EventPublisher) *LoanService {
	return &LoanService{uow: uow, repos: repos, publisher: publisher}
}

func (s *LoanService) Create(ctx context.Context, borrowerID uuid.UUID, amount int64, interestRate string, termDays int) (*domain.Loan, error) {
	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	if termDays <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	rate, err := decimal.NewFromString(interestRate)
	if err != nil || rate.IsNegative() {
		return nil, pkgerrors.NewBusinessError(
			pkgerrors.ErrCodeInvalidAmount,
			"interest rate must be a non-negative decimal",
			pkgerrors.ErrInvalidAmount,
		)
	}

	borrower, err := s.repos.Accounts.GetByID(ctx, borrowerID)
	if err != nil {
		return nil, err
	}
	if borrower.Role != domain.RoleBorrower {
		return nil, pkgerrors.NewBusinessError(
			pkgerrors.ErrCodeLoanNotFundable,
			"loans can only be requested by borrower accounts",
			pkgerrors.ErrLoanNotFundable,
		)
	}
	if !borrower.Active {
		return nil, pkgerrors.WrapAccountInactive(borrowerID.String())
	}

	now := time.Now().UTC()
	loan := &domain.Loan{
		ID:              uuid.New(),
		BorrowerID:      borrowerID,
		RequestedAmount: amount,
		InterestRate:    rate.String(),
		TermDays:        termDays,
		Status:          domain.LoanStatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repos.Loans.Create(ctx, loan); err != nil {
		return nil, pkgerrors.WrapDatabaseError(err)
	}

	return loan, nil
}

// Approve moves a pending loan to approved. The review step is optional:
// contributions are accepted in pending as well, so skipping review only
// skips this transition.
func (s *LoanService) Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.review(ctx, loanID, domain.LoanStatusApproved, "manual review approved")
}

// Reject is terminal for a pending loan.
func (s *LoanService) Reject(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.review(ctx, loanID, domain.LoanStatusRejected, "manual review rejected")
}

func (s *LoanService) review(ctx context.Context, loanID uuid.UUID, to, reason string) (*domain.Loan, error) {
	var loan *domain.Loan
	var events []*TransitionEvent

	err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		var err error
		loan, err = r.Loans.GetByID(ctx, loanID)
		if err != nil {
			return err
		}

		event, err := transition(ctx, r, loan, to, reason, time.Now().UTC())
		if err != nil {
			return err
		}
		events = append(events, event)

		return r.Loans.UpdateVersioned(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	publishAll(ctx, s.publisher, events)
	return loan, nil
}
