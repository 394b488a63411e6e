package coin

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientTreasury = errors.New("insufficient treasury funds")
	ErrAccountNotBound      = errors.New("account has no chain account")
	ErrAccountNotFound      = errors.New("account not found")
	ErrPoolExhausted        = errors.New("no free chain accounts left in pool")
	ErrLedgerProcessing     = errors.New("ledger processing error")
	ErrInvalidBatchFormat   = errors.New("invalid batch format")
	ErrJobNotFound          = errors.New("batch job not found")
)

// ProcessingError reports a failed chain interaction. It matches
// ErrLedgerProcessing and unwraps to the underlying cause.
type ProcessingError struct {
	Op      string
	Subject string
	Err     error
}

// Processing wraps cause as a ledger processing failure of op involving subject.
func Processing(op, subject string, cause error) *ProcessingError {
	return &ProcessingError{Op: op, Subject: subject, Err: cause}
}

func (e *ProcessingError) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Subject)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrLedgerProcessing, msg)
	}
	return fmt.Sprintf("%s: %s: %v", ErrLedgerProcessing, msg, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool {
	return target == ErrLedgerProcessing
}

// InsufficientFunds reports a balance shortfall.
func InsufficientFunds(accountID, available, requested string) error {
	return fmt.Errorf("%w: account %s available %s, requested %s", ErrInsufficientFunds, accountID, available, requested)
}
