package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across domain modules.
var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate key or a business-rule conflict.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates a requested quantity exceeds on-hand stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCreditLimitExceeded indicates an invoice total above the client credit limit.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	// ErrTransactionAborted indicates a document transaction rolled back mid-sequence.
	ErrTransactionAborted = errors.New("transaction aborted")
)

// ValidationError carries a detail message and the offending fields.
type ValidationError struct {
	Detail string
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Detail
	}
	return fmt.Sprintf("%s (fields: %s)", e.Detail, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(detail string, fields ...string) error {
	return &ValidationError{Detail: detail, Fields: fields}
}

// StockShortageError identifies the item and both quantities involved.
type StockShortageError struct {
	ItemCode  string
	Requested float64
	OnHand    float64
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %.2f, on hand %.2f", e.ItemCode, e.Requested, e.OnHand)
}

func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

// CreditLimitError reports the limit and the total that breached it.
type CreditLimitError struct {
	Limit float64
	Total float64
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("invoice total %.2f exceeds credit limit %.2f", e.Total, e.Limit)
}

func (e *CreditLimitError) Unwrap() error { return ErrCreditLimitExceeded }

// TxAbortedError wraps the cause of a rolled-back document transaction.
type TxAbortedError struct {
	Cause error
}

func (e *TxAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Cause)
}

func (e *TxAbortedError) Unwrap() error { return e.Cause }

func (e *TxAbortedError) Is(target error) bool { return target == ErrTransactionAborted }

// Abort translates a mid-sequence failure into TxAbortedError. Errors that
// already belong to the taxonomy pass through so callers keep the precise kind.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransactionAborted) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrCreditLimitExceeded) {
		return err
	}
	return &TxAbortedError{Cause: err}
}
