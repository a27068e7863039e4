package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// LedgerService owns wallet commands and the account/transaction projections.
// Loan money movement goes through the same repository append, but inside
// the funding and repayment services' transactions.
type LedgerService struct {
	uow   repository.UnitOfWork
	repos repository.Repos
}

func NewLedgerService(uow repository.UnitOfWork, repos repository.Repos) *LedgerService {
	return &LedgerService{uow: uow, repos: repos}
}

func (s *LedgerService) CreateAccount(ctx context.Context, ownerID, role string) (*domain.Account, error) {
	account := &domain.Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Role:      role,
		Balance:   0,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repos.Accounts.Create(ctx, account); err != nil {
		return nil, pkgerrors.WrapDatabaseError(err)
	}

	return account, nil
}

func (s *LedgerService) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	return s.repos.Accounts.Deactivate(ctx, accountID)
}

// FundWallet credits an account from an external top-up. An external
// reference makes retries idempotent: a duplicate surfaces as
// ErrDuplicateReference, which callers treat as already applied.
func (s *LedgerService) FundWallet(ctx context.Context, accountID uuid.UUID, amount int64, externalRef string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	tx := newTransaction(accountID, amount, domain.TxKindFund, nil, externalRef)
	err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		if err := requireActive(ctx, r, accountID); err != nil {
			return err
		}
		return r.Accounts.Append(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// WithdrawWallet debits an account. The repository rejects the append with
// ErrInsufficientFunds when the balance would go negative.
func (s *LedgerService) WithdrawWallet(ctx context.Context, accountID uuid.UUID, amount int64, externalRef string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	tx := newTransaction(accountID, -amount, domain.TxKindWithdraw, nil, externalRef)
	err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		if err := requireActive(ctx, r, accountID); err != nil {
			return err
		}
		return r.Accounts.Append(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// requireActive guards operations an account holder initiates. Deactivated
// accounts keep receiving money they are owed (repayment distributions,
// disbursements of already-funded loans); they just cannot start anything new.
func requireActive(ctx context.Context, r repository.Repos, accountID uuid.UUID) error {
	account, err := r.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Active {
		return pkgerrors.WrapAccountInactive(accountID.String())
	}
	return nil
}

func (s *LedgerService) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.repos.Accounts.Balance(ctx, accountID)
}

func (s *LedgerService) History(ctx context.Context, accountID uuid.UUID) ([]*domain.Transaction, error) {
	if _, err := s.repos.Accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repos.Accounts.History(ctx, accountID)
}

// VerifyBalance recomputes the balance from the append-only log and
// compares it with the stored value. Used by the admin surface and tests
// to assert the core ledger invariant.
func (s *LedgerService) VerifyBalance(ctx context.Context, accountID uuid.UUID) (stored int64, derived int64, err error) {
	stored, err = s.repos.Accounts.Balance(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	derived, err = s.repos.Accounts.SumTransactions(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	return stored, derived, nil
}

func newTransaction(accountID uuid.UUID, amount int64, kind string, loanID *uuid.UUID, externalRef string) *domain.Transaction {
	tx := &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Amount:        amount,
		Kind:          kind,
		RelatedLoanID: loanID,
		CreatedAt:     time.Now().UTC(),
	}
	if externalRef != "" {
		tx.ExternalReference = &externalRef
	}
	return tx
}
