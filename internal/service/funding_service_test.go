package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervest/lending-engine/internal/domain"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

func TestContribute_FullFunding(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lenderA := f.addAccount(domain.RoleLender, 100000)
	lenderB := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	loan, err := service.Contribute(context.Background(), loanID, lenderA, 60000)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), loan.FundedAmount)
	assert.Equal(t, domain.LoanStatusApproved, loan.Status)
	assert.Nil(t, loan.DueDate)

	loan, err = service.Contribute(context.Background(), loanID, lenderB, 40000)
	require.NoError(t, err)

	// Target reached: funded, due date set from the term.
	assert.Equal(t, domain.LoanStatusFunded, loan.Status)
	assert.Equal(t, int64(100000), loan.FundedAmount)
	require.NotNil(t, loan.DueDate)

	// Money moved both ways, disbursed to the borrower immediately.
	assert.Equal(t, int64(40000), f.balance(lenderA))
	assert.Equal(t, int64(60000), f.balance(lenderB))
	assert.Equal(t, int64(100000), f.balance(borrower))

	// Every balance matches its transaction log.
	for _, id := range []uuid.UUID{borrower, lenderA, lenderB} {
		assert.Equal(t, f.ledgerSum(id), f.balance(id))
	}

	events := f.publisher.transitions()
	require.Len(t, events, 1)
	assert.Equal(t, domain.LoanStatusFunded, events[0].ToStatus)
}

func TestContribute_OverfundingRejected(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 500000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	_, err := service.Contribute(context.Background(), loanID, lender, 60000)
	require.NoError(t, err)

	_, err = service.Contribute(context.Background(), loanID, lender, 50000)
	assert.ErrorIs(t, err, pkgerrors.ErrOverfundingRejected)

	// The rejected attempt left no trace.
	assert.Equal(t, int64(60000), f.loan(loanID).FundedAmount)
	assert.Equal(t, int64(440000), f.balance(lender))
	assert.Equal(t, int64(60000), f.balance(borrower))
}

func TestContribute_InvalidAmount(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 1000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	for _, amount := range []int64{0, -500} {
		_, err := service.Contribute(context.Background(), loanID, lender, amount)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	}
}

func TestContribute_LoanNotFundable(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)

	service := NewFundingService(f.uow, f.publisher, 3)

	for _, status := range []string{
		domain.LoanStatusRejected,
		domain.LoanStatusFunded,
		domain.LoanStatusActive,
		domain.LoanStatusCompleted,
		domain.LoanStatusDefaulted,
	} {
		loanID := f.addLoan(borrower, 100000, 30, status)
		_, err := service.Contribute(context.Background(), loanID, lender, 10000)
		assert.ErrorIs(t, err, pkgerrors.ErrLoanNotFundable, "status %s", status)
	}
}

func TestContribute_NonLenderAccountRejected(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	_, err := service.Contribute(context.Background(), loanID, borrower, 10000)
	assert.ErrorIs(t, err, pkgerrors.ErrLoanNotFundable)
	assert.Equal(t, int64(0), f.loan(loanID).FundedAmount)
}

func TestContribute_DeactivatedLenderRejected(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	require.NoError(t, f.repos.Accounts.Deactivate(context.Background(), lender))

	service := NewFundingService(f.uow, f.publisher, 3)

	_, err := service.Contribute(context.Background(), loanID, lender, 10000)
	assert.ErrorIs(t, err, pkgerrors.ErrAccountInactive)
	assert.Equal(t, int64(0), f.loan(loanID).FundedAmount)
	assert.Equal(t, int64(100000), f.balance(lender))
}

func TestContribute_InsufficientLenderFundsRollsBack(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 5000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	_, err := service.Contribute(context.Background(), loanID, lender, 10000)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	// Atomicity: no contribution row, no loan change, no borrower credit.
	contributions, _ := f.repos.Loans.Contributions(context.Background(), loanID)
	assert.Empty(t, contributions)
	assert.Equal(t, int64(0), f.loan(loanID).FundedAmount)
	assert.Equal(t, int64(5000), f.balance(lender))
	assert.Equal(t, int64(0), f.balance(borrower))
}

func TestContribute_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	uow := &conflictUoW{inner: f.uow, conflicts: 2}
	service := NewFundingService(uow, f.publisher, 3)

	loan, err := service.Contribute(context.Background(), loanID, lender, 30000)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), loan.FundedAmount)
}

func TestContribute_RetriesExhausted(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	uow := &conflictUoW{inner: f.uow, conflicts: 5}
	service := NewFundingService(uow, f.publisher, 3)

	_, err := service.Contribute(context.Background(), loanID, lender, 30000)
	assert.ErrorIs(t, err, pkgerrors.ErrConcurrentModification)
	assert.Equal(t, int64(0), f.loan(loanID).FundedAmount)
}

func TestContribute_ConcurrentNeverOverfunds(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lenderA := f.addAccount(domain.RoleLender, 1000000)
	lenderB := f.addAccount(domain.RoleLender, 1000000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 3)

	// Pre-fund 20000 so only 80000 of capacity remains, then race two
	// 70000 contributions. Exactly one can fit.
	_, err := service.Contribute(context.Background(), loanID, lenderA, 20000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lender := range []uuid.UUID{lenderA, lenderB} {
		wg.Add(1)
		go func(i int, lender uuid.UUID) {
			defer wg.Done()
			_, errs[i] = service.Contribute(context.Background(), loanID, lender, 70000)
		}(i, lender)
	}
	wg.Wait()

	var rejected int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, pkgerrors.ErrOverfundingRejected)
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)

	loan := f.loan(loanID)
	assert.Equal(t, int64(90000), loan.FundedAmount)
	assert.LessOrEqual(t, loan.FundedAmount, loan.RequestedAmount)
	assert.Equal(t, int64(90000), f.balance(borrower))
}

func TestContribute_ManyConcurrentFillExactly(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)

	service := NewFundingService(f.uow, f.publisher, 10)

	lenders := make([]uuid.UUID, 10)
	for i := range lenders {
		lenders[i] = f.addAccount(domain.RoleLender, 100000)
	}

	// Ten 20000 contributions against 100000 of capacity: exactly five land.
	var wg sync.WaitGroup
	errs := make([]error, len(lenders))
	for i, lender := range lenders {
		wg.Add(1)
		go func(i int, lender uuid.UUID) {
			defer wg.Done()
			_, errs[i] = service.Contribute(context.Background(), loanID, lender, 20000)
		}(i, lender)
	}
	wg.Wait()

	var accepted int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		// Late arrivals see either the exhausted capacity or the loan
		// already moved to funded, depending on interleaving.
		rejected := errors.Is(err, pkgerrors.ErrOverfundingRejected) ||
			errors.Is(err, pkgerrors.ErrLoanNotFundable)
		assert.True(t, rejected, "unexpected error: %v", err)
	}

	assert.Equal(t, 5, accepted)
	loan := f.loan(loanID)
	assert.Equal(t, int64(100000), loan.FundedAmount)
	assert.Equal(t, domain.LoanStatusFunded, loan.Status)
	assert.Equal(t, int64(100000), f.balance(borrower))
	assert.Equal(t, f.ledgerSum(borrower), f.balance(borrower))
}
