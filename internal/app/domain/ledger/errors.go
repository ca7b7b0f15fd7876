package ledger

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the engine. Business failures are expressed as
// error values, never as panics; only TransientError is safe to retry.
var (
	ErrNotFound       = errors.New("account not found")
	ErrAccountExists  = errors.New("account already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSupplyExceeded = errors.New("max supply exceeded")
)

// InvalidInputError reports malformed caller input. It is detected before any
// store access, so a rejected call has no side effects.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// InsufficientBalanceError reports a debit that exceeds the available
// balance.
type InsufficientBalanceError struct {
	AccountID string
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: required %d, available %d",
		e.AccountID, e.Required, e.Available)
}

// Shortage is the deficit the caller would need to cover.
func (e *InsufficientBalanceError) Shortage() int64 {
	return e.Required - e.Available
}

// TransientError wraps a storage or lock failure. No partial write is ever
// observable behind it, so callers may retry the operation unchanged.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is the retryable failure class.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
