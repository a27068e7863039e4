package service

import (
	"context"
	"time"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	pkgerrors "github.com/peervest/lending-engine/pkg/errors"
)

// transition moves a loan to a new status inside the caller's transaction.
// It validates legality against the lifecycle table, mutates the in-memory
// loan (the caller persists it with the version check) and appends the
// audit row. The returned event is published only after commit.
func transition(ctx context.Context, r repository.Repos, loan *domain.Loan, to, reason string, at time.Time) (*TransitionEvent, error) {
	if !domain.CanTransition(loan.Status, to) {
		return nil, pkgerrors.NewBusinessError(
			pkgerrors.ErrCodeInvalidTransition,
			"loan "+loan.ID.String()+" cannot move from "+loan.Status+" to "+to,
			pkgerrors.ErrInvalidTransition,
		)
	}

	event := &TransitionEvent{
		LoanID:     loan.ID,
		FromStatus: loan.Status,
		ToStatus:   to,
		Reason:     reason,
		OccurredAt: at,
	}

	if err := r.Loans.AddStatusEvent(ctx, &domain.StatusEvent{
		LoanID:     loan.ID,
		FromStatus: loan.Status,
		ToStatus:   to,
		Reason:     reason,
		OccurredAt: at,
	}); err != nil {
		return nil, err
	}

	loan.Status = to
	return event, nil
}

// publishAll emits collected transition events after a successful commit.
func publishAll(ctx context.Context, publisher EventPublisher, events []*TransitionEvent) {
	for _, event := range events {
		publisher.PublishTransition(ctx, *event)
	}
}
