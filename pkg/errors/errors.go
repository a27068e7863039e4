package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidAmount          = errors.New("amount must be a positive number of minor units")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOverfundingRejected    = errors.New("contribution exceeds remaining loan capacity")
	ErrOverpaymentRejected    = errors.New("repayment exceeds remaining loan balance")
	ErrLoanNotFundable        = errors.New("loan cannot accept contributions in its current status")
	ErrLoanNotRepayable       = errors.New("loan cannot accept repayments in its current status")
	ErrDuplicateReference     = errors.New("external reference already consumed")
	ErrConcurrentModification = errors.New("concurrent modification, retry")
	ErrInvalidTransition      = errors.New("illegal loan status transition")
	ErrLoanNotFound           = errors.New("loan not found")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account is deactivated")
	ErrIntentNotFound         = errors.New("payment intent not found")
	ErrCurrencyMismatch       = errors.New("intent currency does not match ledger currency")
	ErrAmountMismatch         = errors.New("confirmed amount does not match intent amount")
)

// BusinessError carries a machine-readable code alongside the wrapped
// domain error so handlers can map it to an HTTP status.
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeInvalidAmount          = "INVALID_AMOUNT"
	ErrCodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	ErrCodeOverfundingRejected    = "OVERFUNDING_REJECTED"
	ErrCodeOverpaymentRejected    = "OVERPAYMENT_REJECTED"
	ErrCodeLoanNotFundable        = "LOAN_NOT_FUNDABLE"
	ErrCodeLoanNotRepayable       = "LOAN_NOT_REPAYABLE"
	ErrCodeDuplicateReference     = "DUPLICATE_REFERENCE"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeLoanNotFound           = "LOAN_NOT_FOUND"
	ErrCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountInactive        = "ACCOUNT_INACTIVE"
	ErrCodeIntentNotFound         = "INTENT_NOT_FOUND"
	ErrCodeDatabaseError          = "DATABASE_ERROR"
)

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapAccountNotFound(accountID string) *BusinessError {
	return NewBusinessError(
		ErrCodeAccountNotFound,
		fmt.Sprintf("Account %s not found", accountID),
		ErrAccountNotFound,
	)
}

func WrapAccountInactive(accountID string) *BusinessError {
	return NewBusinessError(
		ErrCodeAccountInactive,
		fmt.Sprintf("Account %s is deactivated", accountID),
		ErrAccountInactive,
	)
}

func WrapOverfundingRejected(remaining int64) *BusinessError {
	return NewBusinessError(
		ErrCodeOverfundingRejected,
		fmt.Sprintf("Contribution exceeds remaining capacity of %d minor units", remaining),
		ErrOverfundingRejected,
	)
}

func WrapOverpaymentRejected(remaining int64) *BusinessError {
	return NewBusinessError(
		ErrCodeOverpaymentRejected,
		fmt.Sprintf("Repayment exceeds remaining balance of %d minor units", remaining),
		ErrOverpaymentRejected,
	)
}

func WrapLoanNotFundable(status string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFundable,
		fmt.Sprintf("Loan in status %q cannot accept contributions", status),
		ErrLoanNotFundable,
	)
}

func WrapLoanNotRepayable(status string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotRepayable,
		fmt.Sprintf("Loan in status %q cannot accept repayments", status),
		ErrLoanNotRepayable,
	)
}

func WrapConcurrentModification(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeConcurrentModification,
		fmt.Sprintf("Loan %s was modified concurrently, retries exhausted", loanID),
		ErrConcurrentModification,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}
