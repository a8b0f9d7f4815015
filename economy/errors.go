package economy

import (
	"errors"
	"fmt"

	"github.com/kasuganosora/itemledger/model"
)

var (
	ErrInvalidDefinition    = errors.New("economy: invalid item definition")
	ErrItemNotRegistered    = errors.New("economy: item not registered")
	ErrInvariantViolation   = errors.New("economy: supply invariant violation")
	ErrAlreadyPickedUp      = errors.New("economy: world item already picked up")
	ErrWorldItemNotFound    = errors.New("economy: world item not found")
	ErrInsufficientQuantity = errors.New("economy: insufficient quantity")
	ErrItemNotTradeable     = errors.New("economy: item not tradeable")
	ErrInvalidQuantity      = errors.New("economy: quantity must be positive")
	ErrInvalidTrade         = errors.New("economy: invalid trade")
	ErrInvalidRequest       = errors.New("economy: invalid request")
	ErrLockContended        = errors.New("economy: resource busy, retry later")
)

// InvariantError carries the row and delta that would have broken the
// conservation invariant. It matches ErrInvariantViolation with errors.Is.
type InvariantError struct {
	ItemID string
	Before model.ItemSupply
	Delta  Delta
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("economy: supply invariant violation on %q: %s (before=%+v delta=%+v)",
		e.ItemID, e.Reason, e.Before, e.Delta)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// IsExpected reports whether err is a routine outcome that callers handle
// as part of normal play (race losers, insufficient funds, bad input), as
// opposed to storage failures and invariant violations.
func IsExpected(err error) bool {
	switch {
	case errors.Is(err, ErrAlreadyPickedUp),
		errors.Is(err, ErrWorldItemNotFound),
		errors.Is(err, ErrInsufficientQuantity),
		errors.Is(err, ErrItemNotTradeable),
		errors.Is(err, ErrItemNotRegistered),
		errors.Is(err, ErrInvalidDefinition),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidTrade),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrLockContended):
		return true
	}
	return false
}
