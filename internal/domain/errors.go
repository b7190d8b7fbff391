package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSigning        = errors.New("signing failed")
	ErrNetwork        = errors.New("network error")
	ErrMarketNotFound = errors.New("market not found")
	ErrPriceParse     = errors.New("price parse error")
	ErrDivisionByZero = errors.New("division by zero")
	ErrPersist        = errors.New("persist failed")
	ErrNotFound       = errors.New("not found")
	ErrLockHeld       = errors.New("lock already held")
)

// StatusError is returned by a venue client when the venue answers with
// anything other than 200 OK. It matches ErrNetwork under errors.Is.
type StatusError struct {
	Venue      Venue
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Venue, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Venue, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrNetwork) succeed for status failures.
func (e *StatusError) Unwrap() error {
	return ErrNetwork
}
