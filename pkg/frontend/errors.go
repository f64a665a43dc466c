package frontend

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMutation: a write or delete was attempted on the document
	// outside a transaction. Nothing changed; retry inside Change.
	ErrInvalidMutation = errors.New("cannot mutate a document outside a transaction")
	// ErrOrderingViolation: the backend echoed this actor's changes out of
	// submission order. Not recoverable.
	ErrOrderingViolation = errors.New("out of order patch")
	// ErrTransactionOpen: Begin was called while another transaction is open.
	ErrTransactionOpen = errors.New("transaction already open")
	// ErrTransactionDone: Commit was called on a finished transaction.
	ErrTransactionDone = errors.New("transaction already finished")
)

// MutationError names the key (and value) of a rejected direct mutation.
type MutationError struct {
	Op    string // "assign" or "delete"
	Key   string
	Value any
}

func (e *MutationError) Error() string {
	if e.Op == "delete" {
		return fmt.Sprintf("%v: use a change block (tried deleting %q)", ErrInvalidMutation, e.Key)
	}
	return fmt.Sprintf("%v: use a change block (tried assigning %q to %v)", ErrInvalidMutation, e.Key, e.Value)
}

func (e *MutationError) Unwrap() error {
	return ErrInvalidMutation
}

// OrderingError describes an echoed patch that does not match the head of
// the in-flight queue.
type OrderingError struct {
	Expected   uint64
	Received   uint64
	QueueEmpty bool
}

func (e *OrderingError) Error() string {
	if e.QueueEmpty {
		return fmt.Sprintf("%v: no local change in flight, received seq %d", ErrOrderingViolation, e.Received)
	}
	return fmt.Sprintf("%v: expected seq %d, received %d", ErrOrderingViolation, e.Expected, e.Received)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrderingViolation
}
