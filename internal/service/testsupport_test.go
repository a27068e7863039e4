package service

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// memStore is an in-memory stand-in for the Postgres store with the same
// semantics the services rely on: transactions are all-or-nothing (fn runs
// against a clone that only replaces the live data on success), loan
// writes go through the version compare-and-update, and the external
// reference guard applies on append.
type memStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	accounts      map[uuid.UUID]domain.Account
	ledger        []domain.Transaction
	loans         map[uuid.UUID]domain.Loan
	contributions []domain.Contribution
	repayments    []domain.Repayment
	distributions []domain.Distribution
	intents       map[string]domain.PendingPaymentIntent
	events        []domain.StatusEvent
}

func newMemStore() *memStore {
	return &memStore{data: &memData{
		accounts: make(map[uuid.UUID]domain.Account),
		loans:    make(map[uuid.UUID]domain.Loan),
		intents:  make(map[string]domain.PendingPaymentIntent),
	}}
}

func (d *memData) clone() *memData {
	return &memData{
		accounts:      maps.Clone(d.accounts),
		ledger:        slices.Clone(d.ledger),
		loans:         maps.Clone(d.loans),
		contributions: slices.Clone(d.contributions),
		repayments:    slices.Clone(d.repayments),
		distributions: slices.Clone(d.distributions),
		intents:       maps.Clone(d.intents),
		events:        slices.Clone(d.events),
	}
}

// Repos returns repositories over the live data, for the read paths.
func (s *memStore) Repos() repository.Repos {
	get := func() *memData { return s.data }
	return repository.Repos{
		Accounts: &memAccounts{get: get},
		Loans:    &memLoans{get: get},
		Intents:  &memIntents{get: get},
	}
}

// memUoW serializes transactions with a store-wide lock, mirroring the
// database's per-row serialization for the entities one operation touches.
type memUoW struct {
	store *memStore
}

func (u *memUoW) WithinTx(_ context.Context, fn func(r repository.Repos) error) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	clone := u.store.data.clone()
	get := func() *memData { return clone }
	r := repository.Repos{
		Accounts: &memAccounts{get: get},
		Loans:    &memLoans{get: get},
		Intents:  &memIntents{get: get},
	}

	if err := fn(r); err != nil {
		return err
	}

	u.store.data = clone
	return nil
}

// conflictUoW fails the first n transactions with the retryable conflict
// error before delegating, to exercise the bounded retry loops.
type conflictUoW struct {
	inner     repository.UnitOfWork
	conflicts int
}

func (u *conflictUoW) WithinTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if u.conflicts > 0 {
		u.conflicts--
		return pkgerrors.ErrConcurrentModification
	}
	return u.inner.WithinTx(ctx, fn)
}

// recordPublisher captures emitted transition events.
type recordPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (p *recordPublisher) PublishTransition(_ context.Context, event TransitionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordPublisher) transitions() []TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

// ---- account repository ----

type memAccounts struct {
	get func() *memData
}

func (m *memAccounts) Create(_ context.Context, account *domain.Account) error {
	m.get().accounts[account.ID] = *account
	return nil
}

func (m *memAccounts) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	account, ok := m.get().accounts[id]
	if !ok {
		return nil, pkgerrors.ErrAccountNotFound
	}
	return &account, nil
}

func (m *memAccounts) Deactivate(_ context.Context, id uuid.UUID) error {
	d := m.get()
	account, ok := d.accounts[id]
	if !ok {
		return pkgerrors.ErrAccountNotFound
	}
	account.Active = false
	d.accounts[id] = account
	return nil
}

func (m *memAccounts) Append(_ context.Context, t *domain.Transaction) error {
	d := m.get()

	if t.ExternalReference != nil {
		for _, prev := range d.ledger {
			if prev.ExternalReference != nil && *prev.ExternalReference == *t.ExternalReference && prev.Kind == t.Kind {
				return pkgerrors.ErrDuplicateReference
			}
		}
	}

	account, ok := d.accounts[t.AccountID]
	if !ok {
		return pkgerrors.ErrAccountNotFound
	}
	if t.Amount < 0 && account.Balance+t.Amount < 0 {
		return pkgerrors.ErrInsufficientFunds
	}

	account.Balance += t.Amount
	d.accounts[t.AccountID] = account
	d.ledger = append(d.ledger, *t)
	return nil
}

func (m *memAccounts) Balance(_ context.Context, id uuid.UUID) (int64, error) {
	account, ok := m.get().accounts[id]
	if !ok {
		return 0, pkgerrors.ErrAccountNotFound
	}
	return account.Balance, nil
}

func (m *memAccounts) History(_ context.Context, id uuid.UUID) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, t := range m.get().ledger {
		if t.AccountID == id {
			entry := t
			out = append(out, &entry)
		}
	}
	slices.Reverse(out)
	return out, nil
}

func (m *memAccounts) SumTransactions(_ context.Context, id uuid.UUID) (int64, error) {
	var sum int64
	for _, t := range m.get().ledger {
		if t.AccountID == id {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *memAccounts) Count(_ context.Context) (int, error) {
	return len(m.get().accounts), nil
}

// ---- loan repository ----

type memLoans struct {
	get func() *memData
}

func (m *memLoans) Create(_ context.Context, loan *domain.Loan) error {
	m.get().loans[loan.ID] = *loan
	return nil
}

func (m *memLoans) GetByID(_ context.Context, id uuid.UUID) (*domain.Loan, error) {
	loan, ok := m.get().loans[id]
	if !ok {
		return nil, pkgerrors.ErrLoanNotFound
	}
	return &loan, nil
}

func (m *memLoans) UpdateVersioned(_ context.Context, loan *domain.Loan) error {
	d := m.get()
	stored, ok := d.loans[loan.ID]
	if !ok {
		return pkgerrors.ErrLoanNotFound
	}
	if stored.Version != loan.Version {
		return pkgerrors.ErrConcurrentModification
	}
	loan.Version++
	loan.UpdatedAt = time.Now().UTC()
	d.loans[loan.ID] = *loan
	return nil
}

func (m *memLoans) AddContribution(_ context.Context, c *domain.Contribution) error {
	d := m.get()
	d.contributions = append(d.contributions, *c)
	return nil
}

func (m *memLoans) Contributions(_ context.Context, loanID uuid.UUID) ([]*domain.Contribution, error) {
	var out []*domain.Contribution
	for _, c := range m.get().contributions {
		if c.LoanID == loanID {
			entry := c
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (m *memLoans) AddRepayment(_ context.Context, r *domain.Repayment) error {
	d := m.get()
	stored := *r
	stored.Distributions = nil
	d.repayments = append(d.repayments, stored)
	for _, dist := range r.Distributions {
		d.distributions = append(d.distributions, *dist)
	}
	return nil
}

func (m *memLoans) Repayments(_ context.Context, loanID uuid.UUID) ([]*domain.Repayment, error) {
	d := m.get()
	var out []*domain.Repayment
	for _, r := range d.repayments {
		if r.LoanID != loanID {
			continue
		}
		entry := r
		for _, dist := range d.distributions {
			if dist.RepaymentID == r.ID {
				distEntry := dist
				entry.Distributions = append(entry.Distributions, &distEntry)
			}
		}
		out = append(out, &entry)
	}
	return out, nil
}

func (m *memLoans) AddStatusEvent(_ context.Context, e *domain.StatusEvent) error {
	d := m.get()
	d.events = append(d.events, *e)
	return nil
}

func (m *memLoans) StatusEvents(_ context.Context, loanID uuid.UUID) ([]*domain.StatusEvent, error) {
	var out []*domain.StatusEvent
	for _, e := range m.get().events {
		if e.LoanID == loanID {
			entry := e
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (m *memLoans) DueForOverdue(_ context.Context, now time.Time) ([]*domain.Loan, error) {
	var out []*domain.Loan
	for _, loan := range m.get().loans {
		if loan.Status != domain.LoanStatusFunded && loan.Status != domain.LoanStatusActive {
			continue
		}
		if loan.DueDate == nil || !loan.DueDate.Before(now) {
			continue
		}
		if loan.TotalRepaid >= loan.FundedAmount {
			continue
		}
		entry := loan
		out = append(out, &entry)
	}
	return out, nil
}

func (m *memLoans) OverduePastGrace(_ context.Context, cutoff time.Time) ([]*domain.Loan, error) {
	var out []*domain.Loan
	for _, loan := range m.get().loans {
		if loan.Status != domain.LoanStatusOverdue {
			continue
		}
		if loan.DueDate == nil || !loan.DueDate.Before(cutoff) {
			continue
		}
		entry := loan
		out = append(out, &entry)
	}
	return out, nil
}

func (m *memLoans) Stats(_ context.Context) (*domain.SystemStats, error) {
	stats := &domain.SystemStats{LoansByStatus: make(map[string]int)}
	for _, loan := range m.get().loans {
		stats.LoansByStatus[loan.Status]++
		stats.TotalFunded += loan.FundedAmount
		stats.TotalRepaid += loan.TotalRepaid
	}
	return stats, nil
}

// ---- intent repository ----

type memIntents struct {
	get func() *memData
}

func (m *memIntents) Create(_ context.Context, intent *domain.PendingPaymentIntent) error {
	d := m.get()
	if _, exists := d.intents[intent.IntentID]; exists {
		return pkgerrors.ErrDuplicateReference
	}
	d.intents[intent.IntentID] = *intent
	return nil
}

func (m *memIntents) GetByID(_ context.Context, intentID string) (*domain.PendingPaymentIntent, error) {
	intent, ok := m.get().intents[intentID]
	if !ok {
		return nil, pkgerrors.ErrIntentNotFound
	}
	return &intent, nil
}

func (m *memIntents) Consume(_ context.Context, intentID string, at time.Time) (bool, error) {
	d := m.get()
	intent, ok := d.intents[intentID]
	if !ok || intent.Status != domain.IntentStatusCreated {
		return false, nil
	}
	intent.Status = domain.IntentStatusConfirmed
	intent.ConsumedAt = &at
	d.intents[intentID] = intent
	return true, nil
}

func (m *memIntents) MarkFailed(_ context.Context, intentID string, reason string) error {
	d := m.get()
	intent, ok := d.intents[intentID]
	if !ok || intent.Status != domain.IntentStatusCreated {
		return nil
	}
	intent.Status = domain.IntentStatusFailed
	intent.FailureReason = &reason
	d.intents[intentID] = intent
	return nil
}

// ---- fixture helpers ----

type fixture struct {
	store     *memStore
	uow       *memUoW
	repos     repository.Repos
	publisher *recordPublisher
}

func newFixture() *fixture {
	store := newMemStore()
	return &fixture{
		store:     store,
		uow:       &memUoW{store: store},
		repos:     store.Repos(),
		publisher: &recordPublisher{},
	}
}

func (f *fixture) addAccount(role string, balance int64) uuid.UUID {
	id := uuid.New()
	f.store.data.accounts[id] = domain.Account{
		ID:        id,
		OwnerID:   "owner-" + id.String()[:8],
		Role:      role,
		Balance:   balance,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if balance != 0 {
		f.store.data.ledger = append(f.store.data.ledger, domain.Transaction{
			ID:        uuid.New(),
			AccountID: id,
			Amount:    balance,
			Kind:      domain.TxKindFund,
			CreatedAt: time.Now().UTC(),
		})
	}
	return id
}

func (f *fixture) addLoan(borrowerID uuid.UUID, requested int64, termDays int, status string) uuid.UUID {
	id := uuid.New()
	now := time.Now().UTC()
	f.store.data.loans[id] = domain.Loan{
		ID:              id,
		BorrowerID:      borrowerID,
		RequestedAmount: requested,
		InterestRate:    "0.1",
		TermDays:        termDays,
		Status:          status,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return id
}

func (f *fixture) loan(id uuid.UUID) domain.Loan {
	return f.store.data.loans[id]
}

func (f *fixture) balance(id uuid.UUID) int64 {
	return f.store.data.accounts[id].Balance
}

// ledgerSum recomputes an account balance from the transaction log, for
// asserting the core ledger invariant after each scenario.
func (f *fixture) ledgerSum(id uuid.UUID) int64 {
	var sum int64
	for _, t := range f.store.data.ledger {
		if t.AccountID == id {
			sum += t.Amount
		}
	}
	return sum
}
