package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/pkg/money"
)

const (
	IntentPurposeFunding   = "funding"
	IntentPurposeRepayment = "repayment"
)

const (
	IntentStatusCreated   = "created"
	IntentStatusConfirmed = "confirmed"
	IntentStatusFailed    = "failed"
)

// Webhook outcomes as delivered by the external card processor.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PendingPaymentIntent tracks an in-flight external charge. An intent
// produces ledger effects at most once no matter how many duplicate
// callbacks the processor delivers.
type PendingPaymentIntent struct {
	IntentID      string     `json:"intent_id" db:"intent_id"`
	Purpose       string     `json:"purpose" db:"purpose"`
	LoanID        uuid.UUID  `json:"loan_id" db:"loan_id"`
	AccountID     uuid.UUID  `json:"account_id" db:"account_id"`
	Amount        int64      `json:"amount" db:"amount"`
	Status        string     `json:"status" db:"status"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty" db:"consumed_at"`
	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// DTOs for requests and responses

type CreateIntentRequest struct {
	IntentID  string       `json:"intent_id" validate:"required"`
	Purpose   string       `json:"purpose" validate:"required,oneof=funding repayment"`
	LoanID    uuid.UUID    `json:"loan_id" validate:"required"`
	AccountID uuid.UUID    `json:"account_id" validate:"required"`
	Amount    money.Amount `json:"amount" validate:"required"`
}

// ConfirmRequest is the inbound webhook payload from the payment processor.
type ConfirmRequest struct {
	IntentID string       `json:"intent_id" validate:"required"`
	Outcome  string       `json:"outcome" validate:"required,oneof=success failure"`
	Amount   money.Amount `json:"amount" validate:"required"`
	Currency string       `json:"currency" validate:"required,len=3"`
}
