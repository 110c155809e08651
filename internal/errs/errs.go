// Package errs holds the error kinds returned by the card ledger engine.
// Operations wrap these sentinels with context, so callers match them with
// errors.Is or classify them with KindOf.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidRequest = errors.New("invalid request")
	ErrLimitExceeded  = errors.New("limit exceeded")
	ErrOverPayment    = errors.New("over payment")
	ErrDuplicateBill  = errors.New("duplicate bill")
	ErrAlreadySettled = errors.New("already settled")
	ErrCardInUse      = errors.New("card in use")
	ErrNotFound       = errors.New("not found")
	ErrInconsistent   = errors.New("ledger inconsistent")
)

// Kind names an error class of the engine.
type Kind string

const (
	KindNone           Kind = ""
	KindInvalidAmount  Kind = "invalid_amount"
	KindInvalidRequest Kind = "invalid_request"
	KindLimitExceeded  Kind = "limit_exceeded"
	KindOverPayment    Kind = "over_payment"
	KindDuplicateBill  Kind = "duplicate_bill"
	KindAlreadySettled Kind = "already_settled"
	KindCardInUse      Kind = "card_in_use"
	KindNotFound       Kind = "not_found"
	KindInconsistent   Kind = "inconsistent"
	KindInternal       Kind = "internal"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrLimitExceeded, KindLimitExceeded},
	{ErrOverPayment, KindOverPayment},
	{ErrDuplicateBill, KindDuplicateBill},
	{ErrAlreadySettled, KindAlreadySettled},
	{ErrCardInUse, KindCardInUse},
	{ErrNotFound, KindNotFound},
	{ErrInconsistent, KindInconsistent},
}

// KindOf classifies err. Unknown non-nil errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// IsFatal reports whether err signals a broken ledger invariant that must be
// alerted on rather than shown to the user as a rejection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInconsistent)
}

// Wrap annotates a sentinel with a formatted message.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
