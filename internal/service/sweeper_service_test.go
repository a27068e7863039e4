package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervest/lending-engine/internal/domain"
)

const testGrace = 14 * 24 * time.Hour

// fundedLoanDue sets up a fully funded loan whose due date is already in
// the past relative to the sweep instant used by the tests.
func fundedLoanDue(t *testing.T, f *fixture, dueAgo time.Duration) uuid.UUID {
	t.Helper()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)
	fundLoan(t, f, loanID, map[uuid.UUID]int64{lender: 100000}, []uuid.UUID{lender})

	loan := f.store.data.loans[loanID]
	due := time.Now().UTC().Add(-dueAgo)
	loan.DueDate = &due
	f.store.data.loans[loanID] = loan
	return loanID
}

func TestSweep_MarksOverdue(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 24*time.Hour)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	result, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{loanID}, result.Overdue)
	assert.Empty(t, result.Defaulted)
	assert.Equal(t, domain.LoanStatusOverdue, f.loan(loanID).Status)

	events, err := f.repos.Loans.StatusEvents(context.Background(), loanID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.LoanStatusOverdue, last.ToStatus)
	assert.Equal(t, "past due date", last.Reason)
}

func TestSweep_SecondRunFindsNothing(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 24*time.Hour)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)
	now := time.Now().UTC()

	first, err := sweeper.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, first.Overdue, 1)

	second, err := sweeper.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, second.Overdue)
	assert.Empty(t, second.Defaulted)

	// Exactly one overdue event on the audit trail.
	events, err := f.repos.Loans.StatusEvents(context.Background(), loanID)
	require.NoError(t, err)
	var overdueEvents int
	for _, e := range events {
		if e.ToStatus == domain.LoanStatusOverdue {
			overdueEvents++
		}
	}
	assert.Equal(t, 1, overdueEvents)
}

func TestSweep_DefaultsAfterGrace(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 20*24*time.Hour)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	// First pass: overdue (and already past grace, so the same pass
	// finishes the job).
	result, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{loanID}, result.Overdue)
	assert.Equal(t, []uuid.UUID{loanID}, result.Defaulted)
	assert.Equal(t, domain.LoanStatusDefaulted, f.loan(loanID).Status)
}

func TestSweep_GraceNotExhaustedStaysOverdue(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 3*24*time.Hour)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	result, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{loanID}, result.Overdue)
	assert.Empty(t, result.Defaulted)
	assert.Equal(t, domain.LoanStatusOverdue, f.loan(loanID).Status)
}

func TestSweep_RepaidLoanNotSwept(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 24*time.Hour)

	// Borrower clears the loan before the sweep runs.
	repayment := NewRepaymentService(f.uow, f.publisher, 3)
	_, err := repayment.Repay(context.Background(), loanID, 100000)
	require.NoError(t, err)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	result, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, result.Overdue)
	assert.Empty(t, result.Defaulted)
	assert.Equal(t, domain.LoanStatusCompleted, f.loan(loanID).Status)
}

func TestSweep_FutureDueDateUntouched(t *testing.T) {
	f := newFixture()
	borrower := f.addAccount(domain.RoleBorrower, 0)
	lender := f.addAccount(domain.RoleLender, 100000)
	loanID := f.addLoan(borrower, 100000, 30, domain.LoanStatusApproved)
	fundLoan(t, f, loanID, map[uuid.UUID]int64{lender: 100000}, []uuid.UUID{lender})

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	result, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, result.Overdue)
	assert.Equal(t, domain.LoanStatusFunded, f.loan(loanID).Status)
}

func TestSweep_OverdueLoanRepaidBeforeDefaultSweep(t *testing.T) {
	f := newFixture()
	loanID := fundedLoanDue(t, f, 24*time.Hour)

	sweeper := NewSweeperService(f.uow, f.repos, f.publisher, testGrace)

	_, err := sweeper.Sweep(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.LoanStatusOverdue, f.loan(loanID).Status)

	// Full repayment while overdue completes the loan, so the default
	// sweep weeks later must not touch it.
	repayment := NewRepaymentService(f.uow, f.publisher, 3)
	_, err = repayment.Repay(context.Background(), loanID, 100000)
	require.NoError(t, err)

	result, err := sweeper.Sweep(context.Background(), time.Now().UTC().Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, result.Defaulted)
	assert.Equal(t, domain.LoanStatusCompleted, f.loan(loanID).Status)
}
