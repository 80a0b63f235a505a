package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyRequests = errors.New("too many requests")
	ErrLimitExceeded   = errors.New("daily transaction limit exceeded")
)

// LimitError reports how much of the daily ceiling is already spent.
// It unwraps to ErrLimitExceeded so callers can match with errors.Is.
type LimitError struct {
	Spent decimal.Decimal
	Limit decimal.Decimal
}

func NewLimitError(spent, limit decimal.Decimal) *LimitError {
	return &LimitError{Spent: spent, Limit: limit}
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily transaction limit exceeded: %s/%s", e.Spent, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}
