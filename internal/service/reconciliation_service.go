package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// ReconciliationService consumes asynchronous confirmation callbacks from
// the external card processor and applies their ledger effects exactly
// once. Consuming the intent and applying the effects happen inside one
// database transaction, so duplicate or concurrent deliveries cannot both
// pass the "not yet consumed" check.
type ReconciliationService struct {
	uow        repository.UnitOfWork
	funding    *FundingService
	repayment  *RepaymentService
	publisher  EventPublisher
	currency   string
	maxRetries int
}

func NewReconciliationService(
	uow repository.UnitOfWork,
	funding *FundingService,
	repayment *RepaymentService,
	publisher EventPublisher,
	currency string,
	maxRetries int,
) *ReconciliationService {
	return &ReconciliationService{
		uow:        uow,
		funding:    funding,
		repayment:  repayment,
		publisher:  publisher,
		currency:   currency,
		maxRetries: maxRetries,
	}
}

// CreateIntent registers an in-flight external charge before the client is
// redirected to the processor. The intent id doubles as the idempotency
// key for the eventual wallet credit.
func (s *ReconciliationService) CreateIntent(ctx context.Context, req *domain.CreateIntentRequest) (*domain.PendingPaymentIntent, error) {
	if req.Amount.Minor() <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}

	intent := &domain.PendingPaymentIntent{
		IntentID:  req.IntentID,
		Purpose:   req.Purpose,
		LoanID:    req.LoanID,
		AccountID: req.AccountID,
		Amount:    req.Amount.Minor(),
		Status:    domain.IntentStatusCreated,
		CreatedAt: time.Now().UTC(),
	}

	err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		if _, err := r.Loans.GetByID(ctx, req.LoanID); err != nil {
			return err
		}
		if err := requireActive(ctx, r, req.AccountID); err != nil {
			return err
		}
		return r.Intents.Create(ctx, intent)
	})
	if err != nil {
		return nil, err
	}

	return intent, nil
}

// Confirm processes one webhook callback and returns the intent it acted
// on. Redelivery of an already-consumed intent returns nil without
// touching the ledger.
func (s *ReconciliationService) Confirm(ctx context.Context, intentID, outcome string, amount int64, currency string) (*domain.PendingPaymentIntent, error) {
	if outcome == domain.OutcomeFailure {
		// Processor declined the charge: no ledger effect, ever.
		var intent *domain.PendingPaymentIntent
		err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
			var err error
			if intent, err = r.Intents.GetByID(ctx, intentID); err != nil {
				return err
			}
			return r.Intents.MarkFailed(ctx, intentID, "processor reported failure")
		})
		if err != nil {
			return nil, err
		}
		return intent, nil
	}

	var intent *domain.PendingPaymentIntent
	var events []*TransitionEvent
	var applyErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		events = events[:0]
		applyErr = s.uow.WithinTx(ctx, func(r repository.Repos) error {
			var err error
			intent, events, err = s.confirmTx(ctx, r, intentID, amount, currency)
			return err
		})
		if errors.Is(applyErr, pkgerrors.ErrConcurrentModification) {
			continue
		}
		break
	}

	if applyErr == nil {
		publishAll(ctx, s.publisher, events)
		return intent, nil
	}
	if errors.Is(applyErr, pkgerrors.ErrIntentNotFound) {
		return nil, applyErr
	}

	// Money was taken by the processor but the ledger effect could not be
	// applied (loan no longer fundable, amount mismatch, retries
	// exhausted). Record the failure on the intent and surface it for
	// manual reconciliation and an eventual refund.
	if markErr := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		return r.Intents.MarkFailed(ctx, intentID, applyErr.Error())
	}); markErr != nil {
		log.Printf("Failed to mark intent %s failed: %v", intentID, markErr)
	}

	return intent, fmt.Errorf("intent %s could not be applied: %w", intentID, applyErr)
}

func (s *ReconciliationService) confirmTx(ctx context.Context, r repository.Repos, intentID string, amount int64, currency string) (*domain.PendingPaymentIntent, []*TransitionEvent, error) {
	won, err := r.Intents.Consume(ctx, intentID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if !won {
		// Duplicate delivery or a terminal intent. Either way the ledger
		// effect has been decided already; redelivery is a no-op.
		intent, err := r.Intents.GetByID(ctx, intentID)
		if err != nil {
			return nil, nil, err
		}
		return intent, nil, nil
	}

	intent, err := r.Intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if currency != s.currency {
		return intent, nil, pkgerrors.ErrCurrencyMismatch
	}
	if amount != intent.Amount {
		return intent, nil, pkgerrors.ErrAmountMismatch
	}

	// The confirmed charge first lands in the payer's wallet with the
	// intent id as external reference, then flows through the normal
	// allocator or distributor. The wallet nets to zero and the full
	// money trail survives in the transaction log.
	credit := newTransaction(intent.AccountID, intent.Amount, domain.TxKindFund, &intent.LoanID, intent.IntentID)
	if err := r.Accounts.Append(ctx, credit); err != nil {
		return intent, nil, err
	}

	switch intent.Purpose {
	case domain.IntentPurposeFunding:
		_, events, err := s.funding.ContributeTx(ctx, r, intent.LoanID, intent.AccountID, intent.Amount)
		return intent, events, err
	case domain.IntentPurposeRepayment:
		_, events, err := s.repayment.RepayTx(ctx, r, intent.LoanID, intent.Amount)
		return intent, events, err
	default:
		return intent, nil, fmt.Errorf("unknown intent purpose %q", intent.Purpose)
	}
}
