// Package apperrors defines the error taxonomy shared by the grid engine and its adapters.
// Callers match with errors.Is; context is layered on with fmt.Errorf("...: %w").
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrValidation          = errors.New("invalid configuration")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPriceOutOfRange     = errors.New("price out of range")
	ErrInvalidRange        = errors.New("invalid grid range")
	ErrPlacementFailure    = errors.New("order placement failed")
	ErrAlreadyRunning      = errors.New("bot is already running")
	ErrNotRunning          = errors.New("bot is not running")
	ErrTransientNetwork    = errors.New("transient network error")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotFound            = errors.New("key not found")
)

// ValidationError names the configuration field that broke an invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidRangeError reports a reference price or bound pair that cannot carry a ladder.
type InvalidRangeError struct {
	Price float64
	Lower float64
	Upper float64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid grid range: price=%.8f lower=%.8f upper=%.8f", e.Price, e.Lower, e.Upper)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// PlacementError wraps an exchange rejection for a single leg.
type PlacementError struct {
	Side  string
	Price float64
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("order placement failed: %s @ %.8f: %v", e.Side, e.Price, e.Err)
}

func (e *PlacementError) Unwrap() []error { return []error{ErrPlacementFailure, e.Err} }

// IsTransient reports whether err is worth retrying on the next scheduled tick.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
