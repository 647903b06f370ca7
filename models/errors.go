package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrOverpayment    = errors.New("payment exceeds remaining balance")
	ErrNotFound       = errors.New("record not found")
	ErrPartialFailure = errors.New("workflow failed after writes began")
	ErrAggregateBusy  = errors.New("another operation is in progress for this record; retry later")

	ErrAlreadyReceived   = &ValidationError{Field: "received_at", Message: "purchase order has already been received"}
	ErrInsufficientStock = &ValidationError{Field: "quantity", Message: "insufficient stock"}
)

// ValidationError is returned before any write takes place.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidAmountError rejects a non-positive or otherwise unusable money amount.
type InvalidAmountError struct {
	Amount  decimal.Decimal
	Message string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount.String(), e.Message)
}

func (e *InvalidAmountError) Is(target error) bool {
	return target == ErrInvalidAmount || target == ErrValidation
}

// OverpaymentError is an InvalidAmountError specialised for amounts above the remaining balance.
type OverpaymentError struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds the remaining balance of %s", e.Amount.String(), e.Remaining.String())
}

func (e *OverpaymentError) Is(target error) bool {
	return target == ErrOverpayment || target == ErrInvalidAmount
}

type NotFoundError struct {
	Resource string
	ID       any
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s not found (id=%v)", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PartialFailureError reports a workflow that failed after its transaction began.
// RolledBack is false when the rollback itself failed or the commit outcome is
// unknown; the reconciliation checks must then be run for the business.
type PartialFailureError struct {
	Workflow   string
	Step       string
	RolledBack bool
	Err        error
}

func (e *PartialFailureError) Error() string {
	state := "rolled back"
	if !e.RolledBack {
		state = "rollback failed"
	}
	return fmt.Sprintf("%s failed at step %q (%s): %v", e.Workflow, e.Step, state, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// IsDomainError reports errors that describe a rejected request rather than an
// infrastructure failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAggregateBusy)
}
