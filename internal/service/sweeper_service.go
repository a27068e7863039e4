package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// SweeperService is the periodic sweep that promotes loans past their due
// date to overdue, and overdue loans past the grace period to defaulted.
// Selection is status-keyed, so running the sweep twice in a row finds
// nothing new the second time.
type SweeperService struct {
	uow       repository.UnitOfWork
	repos     repository.Repos
	publisher EventPublisher
	grace     time.Duration
}

func NewSweeperService(uow repository.UnitOfWork, repos repository.Repos, publisher EventPublisher, grace time.Duration) *SweeperService {
	return &SweeperService{uow: uow, repos: repos, publisher: publisher, grace: grace}
}

// Sweep runs one pass at the given instant and returns the loans it moved.
// Each loan transitions in its own transaction with the version check; a
// loan that changes concurrently (for example a repayment landing mid
// sweep) is skipped and re-evaluated on the next run.
func (s *SweeperService) Sweep(ctx context.Context, now time.Time) (*domain.SweepResponse, error) {
	result := &domain.SweepResponse{}

	due, err := s.repos.Loans.DueForOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, loan := range due {
		if err := s.promote(ctx, loan.ID, domain.LoanStatusOverdue, "past due date", now); err != nil {
			if errors.Is(err, pkgerrors.ErrConcurrentModification) || errors.Is(err, pkgerrors.ErrInvalidTransition) {
				continue
			}
			return nil, err
		}
		result.Overdue = append(result.Overdue, loan.ID)
	}

	expired, err := s.repos.Loans.OverduePastGrace(ctx, now.Add(-s.grace))
	if err != nil {
		return nil, err
	}
	for _, loan := range expired {
		if err := s.promote(ctx, loan.ID, domain.LoanStatusDefaulted, "grace period exhausted", now); err != nil {
			if errors.Is(err, pkgerrors.ErrConcurrentModification) || errors.Is(err, pkgerrors.ErrInvalidTransition) {
				continue
			}
			return nil, err
		}
		result.Defaulted = append(result.Defaulted, loan.ID)
	}

	if len(result.Overdue) > 0 || len(result.Defaulted) > 0 {
		log.Printf("sweep at %s: %d overdue, %d defaulted", now.Format(time.RFC3339), len(result.Overdue), len(result.Defaulted))
	}

	return result, nil
}

func (s *SweeperService) promote(ctx context.Context, loanID uuid.UUID, to, reason string, now time.Time) error {
	var events []*TransitionEvent

	err := s.uow.WithinTx(ctx, func(r repository.Repos) error {
		loan, err := r.Loans.GetByID(ctx, loanID)
		if err != nil {
			return err
		}

		// Re-check under transaction scope: the candidate query ran
		// outside it and the loan may have been repaid since.
		switch to {
		case domain.LoanStatusOverdue:
			if loan.DueDate == nil || !now.After(*loan.DueDate) || loan.TotalRepaid >= loan.FundedAmount {
				return pkgerrors.ErrInvalidTransition
			}
		case domain.LoanStatusDefaulted:
			if loan.DueDate == nil || !now.Add(-s.grace).After(*loan.DueDate) {
				return pkgerrors.ErrInvalidTransition
			}
		}

		event, err := transition(ctx, r, loan, to, reason, now)
		if err != nil {
			return err
		}
		events = append(events, event)

		return r.Loans.UpdateVersioned(ctx, loan)
	})
	if err != nil {
		return err
	}

	publishAll(ctx, s.publisher, events)
	return nil
}
