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

// FundingService allocates lender contributions into loans. The capacity
// check and the loan update are one optimistic compare-and-update, so two
// concurrent contributions can never overfund a loan: the loser of the
// version race retries against the refreshed funded amount and is rejected
// once capacity is gone.
type FundingService struct {
	uow        repository.UnitOfWork
	publisher  EventPublisher
	maxRetries int
}

func NewFundingService(uow repository.UnitOfWork, publisher EventPublisher, maxRetries int) *FundingService {
	return &FundingService{uow: uow, publisher: publisher, maxRetries: maxRetries}
}

// Contribute adds a lender's money to a loan: contribution row, lender
// debit, borrower credit and the loan update commit atomically.
func (s *FundingService) Contribute(ctx context.Context, loanID, lenderID uuid.UUID, amount int64) (*domain.Loan, error) {
	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	var loan *domain.Loan
	var events []*TransitionEvent

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		events = events[:0]
		err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
			var err error
			loan, events, err = s.ContributeTx(ctx, r, loanID, lenderID, amount)
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

// ContributeTx applies one contribution inside the caller's transaction.
// The reconciliation gateway composes it with intent consumption so that a
// webhook confirmation and its ledger effects share a single atomic unit.
func (s *FundingService) ContributeTx(ctx context.Context, r repository.Repos, loanID, lenderID uuid.UUID, amount int64) (*domain.Loan, []*TransitionEvent, error) {
	if amount <= 0 {
		return nil, nil, pkgerrors.ErrInvalidAmount
	}

	loan, err := r.Loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}

	if loan.Status != domain.LoanStatusPending && loan.Status != domain.LoanStatusApproved {
		return nil, nil, pkgerrors.WrapLoanNotFundable(loan.Status)
	}
	if amount > loan.RemainingCapacity() {
		return nil, nil, pkgerrors.WrapOverfundingRejected(loan.RemainingCapacity())
	}

	lender, err := r.Accounts.GetByID(ctx, lenderID)
	if err != nil {
		return nil, nil, err
	}
	if lender.Role != domain.RoleLender {
		return nil, nil, pkgerrors.NewBusinessError(
			pkgerrors.ErrCodeLoanNotFundable,
			"contributions must come from lender accounts",
			pkgerrors.ErrLoanNotFundable,
		)
	}
	if !lender.Active {
		return nil, nil, pkgerrors.WrapAccountInactive(lenderID.String())
	}

	now := time.Now().UTC()

	if err := r.Loans.AddContribution(ctx, &domain.Contribution{
		ID:       uuid.New(),
		LoanID:   loan.ID,
		LenderID: lenderID,
		Amount:   amount,
		FundedAt: now,
	}); err != nil {
		return nil, nil, err
	}

	// Both legs of the money movement ride in this transaction: the lender
	// pays out of their wallet, the borrower is disbursed immediately.
	if err := r.Accounts.Append(ctx, newTransaction(lenderID, -amount, domain.TxKindFundingContribution, &loan.ID, "")); err != nil {
		return nil, nil, err
	}
	if err := r.Accounts.Append(ctx, newTransaction(loan.BorrowerID, amount, domain.TxKindLoanDisbursement, &loan.ID, "")); err != nil {
		return nil, nil, err
	}

	loan.FundedAmount += amount

	var events []*TransitionEvent
	if loan.FundedAmount == loan.RequestedAmount {
		dueDate := now.AddDate(0, 0, loan.TermDays)
		loan.DueDate = &dueDate

		event, err := transition(ctx, r, loan, domain.LoanStatusFunded, "funding target reached", now)
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
