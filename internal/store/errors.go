package store

import (
	"errors"
	"fmt"
)

// ErrInsufficientStock is returned when an order line asks for more than the
// item holds and the stock policy rejects negative stock.
var ErrInsufficientStock = errors.New("insufficient stock")

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced id that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports a write the store refuses in the current state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Stages of the order transaction, used in TransactionAbortedError.
const (
	StageCreateOrder     = "create order"
	StageUpdateInventory = "update inventory"
)

// TransactionAbortedError wraps any failure after the order transaction
// began. The transaction has been rolled back when this is returned.
type TransactionAbortedError struct {
	Stage string
	Err   error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Stage, e.Err)
}

func (e *TransactionAbortedError) Unwrap() error {
	return e.Err
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReadBackError reports an order that was committed but could not be read
// back afterwards. The order and its stock changes are in place.
type ReadBackError struct {
	OrderID string
	Err     error
}

func (e *ReadBackError) Error() string {
	return fmt.Sprintf("reading back order %s: %v", e.OrderID, e.Err)
}

func (e *ReadBackError) Unwrap() error {
	return e.Err
}
