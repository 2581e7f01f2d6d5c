package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive with at most 6 decimals", ErrInvalidInput)
	ErrReferenceConflict   = fmt.Errorf("%w: reference already used for a different movement", ErrInvalidInput)
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLimitExceeded       = errors.New("daily limit exceeded")
	ErrPaused              = errors.New("operation temporarily paused")
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = fmt.Errorf("ledger account %w", ErrNotFound)
	ErrLockNotFound        = fmt.Errorf("lock %w", ErrNotFound)
	ErrOrderNotFound       = fmt.Errorf("order %w", ErrNotFound)
	ErrExternalUnavailable = errors.New("external service unavailable")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrConcurrentUpdate    = errors.New("optimistic lock failed")
	ErrUnauthorized        = errors.New("unauthorized")
)

// LimitExceededError carries the configured daily limit for the operation class.
type LimitExceededError struct {
	Class string
	Limit decimal.Decimal
	Used  decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("daily %s limit of %s exceeded (used %s)", e.Class, e.Limit.String(), e.Used.String())
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}

// IsRetryable reports whether err is a transient storage failure that is safe to
// retry with the same reference.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40", "08", "53", "57":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// StatusCode maps the error taxonomy onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaused):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExternalUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAlreadyProcessed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
