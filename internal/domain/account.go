package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/pkg/money"
)

const (
	RoleBorrower = "borrower"
	RoleLender   = "lender"
	RoleAdmin    = "admin"
)

// Transaction kinds
const (
	TxKindFund                = "fund"
	TxKindWithdraw            = "withdraw"
	TxKindLoanDisbursement    = "loan_disbursement"
	TxKindFundingContribution = "funding_contribution"
	TxKindRepaymentReceived   = "repayment_received"
	TxKindRepaymentPaid       = "repayment_paid"
)

// Account is one user's wallet. Balance is derived state: at every commit
// point it equals the sum of the account's transaction log.
type Account struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Role      string    `json:"role" db:"role"`
	Balance   int64     `json:"balance" db:"balance"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction is one immutable ledger entry. Rows are only ever inserted.
type Transaction struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	AccountID         uuid.UUID  `json:"account_id" db:"account_id"`
	Amount            int64      `json:"amount" db:"amount"`
	Kind              string     `json:"kind" db:"kind"`
	RelatedLoanID     *uuid.UUID `json:"related_loan_id,omitempty" db:"related_loan_id"`
	ExternalReference *string    `json:"external_reference,omitempty" db:"external_reference"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// DTOs for requests and responses

type CreateAccountRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Role    string `json:"role" validate:"required,oneof=borrower lender admin"`
}

type WalletMutationRequest struct {
	Amount            money.Amount `json:"amount" validate:"required"`
	ExternalReference string       `json:"external_reference,omitempty"`
}

type BalanceResponse struct {
	AccountID uuid.UUID    `json:"account_id"`
	Balance   money.Amount `json:"balance"`
}

type HistoryResponse struct {
	AccountID    uuid.UUID      `json:"account_id"`
	Transactions []*Transaction `json:"transactions"`
}
