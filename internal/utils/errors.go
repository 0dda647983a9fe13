package utils

import (
	"errors"
	"fmt"
	"time"
)

// NoHistoricalDataError indicates the indicator store returned zero candle
// rows for the requested window. Recoverable: callers fall back or no-op.
type NoHistoricalDataError struct {
	Symbol string
}

func (e *NoHistoricalDataError) Error() string {
	return fmt.Sprintf("no historical data for %s", e.Symbol)
}

// IsNoHistoricalDataError returns true if the error is a NoHistoricalDataError.
func IsNoHistoricalDataError(err error) bool {
	var target *NoHistoricalDataError
	return errors.As(err, &target)
}

// NoCompleteDataError indicates that after completeness filtering zero
// aligned timestamps remain. Recoverable: callers fall back or no-op.
type NoCompleteDataError struct {
	Symbol string
	Window int
}

func (e *NoCompleteDataError) Error() string {
	return fmt.Sprintf("no complete timestamps for %s in window of %d", e.Symbol, e.Window)
}

// IsNoCompleteDataError returns true if the error is a NoCompleteDataError.
func IsNoCompleteDataError(err error) bool {
	var target *NoCompleteDataError
	return errors.As(err, &target)
}

// IsDataIncomplete reports whether the error belongs to the recoverable
// missing-history family.
func IsDataIncomplete(err error) bool {
	return IsNoHistoricalDataError(err) || IsNoCompleteDataError(err)
}

// NoRecentForecastError indicates the dataset is stale and no last-known-good
// forecast exists to fall back to.
type NoRecentForecastError struct {
	Symbol string
	LastTS time.Time
}

func (e *NoRecentForecastError) Error() string {
	return fmt.Sprintf("no recent forecast for %s (last aligned timestamp %s)", e.Symbol, e.LastTS.Format(time.RFC3339))
}

// IsNoRecentForecastError returns true if the error is a NoRecentForecastError.
func IsNoRecentForecastError(err error) bool {
	var target *NoRecentForecastError
	return errors.As(err, &target)
}

// UpstreamError indicates an external collaborator (indicator proxy,
// forecasting service, swap oracle) failed.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err as a failure of the named external service.
func NewUpstreamError(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}

// IsUpstreamError returns true if the error is an UpstreamError.
func IsUpstreamError(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// DataIntegrityError indicates an internal invariant was violated, such as a
// feature-array length mismatch. Fatal for the tick: the caller must abort
// rather than act on a malformed dataset.
type DataIntegrityError struct {
	Message string
}

func (e *DataIntegrityError) Error() string {
	return e.Message
}

// NewDataIntegrityErrorf creates a DataIntegrityError with a formatted message.
func NewDataIntegrityErrorf(format string, args ...interface{}) error {
	return &DataIntegrityError{Message: fmt.Sprintf(format, args...)}
}

// IsDataIntegrityError returns true if the error is a DataIntegrityError.
func IsDataIntegrityError(err error) bool {
	var target *DataIntegrityError
	return errors.As(err, &target)
}

// InsufficientFundsError indicates the balance was not positive at open time.
// Logged no-op.
type InsufficientFundsError struct {
	Symbol  string
	Balance float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds to open %s position: balance %.6f", e.Symbol, e.Balance)
}

// IsInsufficientFundsError returns true if the error is an InsufficientFundsError.
func IsInsufficientFundsError(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

// TransitionAbortedError indicates an oracle failure mid open/close. The
// position and balance are left unchanged and the error is surfaced.
type TransitionAbortedError struct {
	Symbol     string
	Transition string
	Err        error
}

func (e *TransitionAbortedError) Error() string {
	return fmt.Sprintf("%s transition aborted for %s: %v", e.Transition, e.Symbol, e.Err)
}

func (e *TransitionAbortedError) Unwrap() error {
	return e.Err
}

// IsTransitionAbortedError returns true if the error is a TransitionAbortedError.
func IsTransitionAbortedError(err error) bool {
	var target *TransitionAbortedError
	return errors.As(err, &target)
}
