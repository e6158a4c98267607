package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidTask   = errors.New("invalid monitor task")

	// Collaborator failures.
	ErrDataUnavailable      = errors.New("market data unavailable")
	ErrOracleUnavailable    = errors.New("decision oracle unavailable")
	ErrOracleInvalid        = errors.New("decision oracle returned an invalid decision")
	ErrBrokerageUnavailable = errors.New("brokerage unavailable")

	// Execution constraint violations. These are rejected locally and never
	// reach the brokerage.
	ErrPositionExists    = errors.New("position already held, not averaging in")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSubLot            = errors.New("insufficient funds for one lot")
	ErrNoPosition        = errors.New("no position to sell")
	ErrSettlementLocked  = errors.New("T+1: shares are not sellable until the next trading day")
	ErrExceedsSellable   = errors.New("quantity exceeds sellable quantity")
	ErrInvalidQuantity   = errors.New("quantity must be a positive multiple of the lot size")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrOrderRejected     = errors.New("order rejected by brokerage")
)

var constraintErrors = []error{
	ErrPositionExists, ErrSubLot, ErrInsufficientFunds, ErrNoPosition,
	ErrSettlementLocked, ErrExceedsSellable, ErrInvalidQuantity, ErrInvalidPrice,
}

// IsConstraintViolation reports whether err is one of the locally enforced
// execution constraints.
func IsConstraintViolation(err error) bool {
	for _, target := range constraintErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns the text of the constraint err wraps, without the
// package prefixes added on the way up, or err.Error() otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, target := range constraintErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}
