// Package common defines shared constants and sentinel errors used across
// the ledger core and its adapters. Callers should use errors.Is to match
// these values.
package common

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error returned by the services wraps exactly one.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrIntegrity  = errors.New("integrity error")
	ErrorInternal = errors.New("internal error")
)

// Repository-level errors.
var (
	ErrorNotFound = fmt.Errorf("%w: record", ErrNotFound)
)

// Validation errors.
var (
	ErrAmountNotPositive       = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrSameAccount             = fmt.Errorf("%w: debit and credit accounts must differ", ErrValidation)
	ErrInvalidFrequency        = fmt.Errorf("%w: invalid frequency", ErrValidation)
	ErrInvalidSecurityCode     = fmt.Errorf("%w: security code must be exactly 5 digits", ErrValidation)
	ErrMalformedCodeHash       = fmt.Errorf("%w: malformed security code hash", ErrValidation)
	ErrInvalidMaxMembers       = fmt.Errorf("%w: max members out of range", ErrValidation)
	ErrMissingIdempotencyKey   = fmt.Errorf("%w: idempotency key is required", ErrValidation)
	ErrMissingActor            = fmt.Errorf("%w: actor id is required", ErrValidation)
	ErrUnknownFeeType          = fmt.Errorf("%w: unknown fee type", ErrValidation)
	ErrInvalidCurrency         = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrorIncorrectRequestField = fmt.Errorf("%w: incorrect request field", ErrValidation)
)

// Conflict errors.
var (
	ErrDuplicateRequest  = fmt.Errorf("%w: request already processed", ErrConflict)
	ErrAlreadyVoted      = fmt.Errorf("%w: vote already recorded", ErrConflict)
	ErrAlreadyMember     = fmt.Errorf("%w: already a member", ErrConflict)
	ErrGroupFull         = fmt.Errorf("%w: group is at max capacity", ErrConflict)
	ErrScheduleLocked    = fmt.Errorf("%w: frequency cannot change during an active cycle", ErrConflict)
	ErrGroupFrozen       = fmt.Errorf("%w: group is frozen", ErrConflict)
	ErrRequestClosed     = fmt.Errorf("%w: withdraw request is closed", ErrConflict)
	ErrSecurityCodeWrong = fmt.Errorf("%w: security code does not match", ErrConflict)
)

// Not found errors.
var (
	ErrGroupNotFound   = fmt.Errorf("%w: group", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("%w: withdraw request", ErrNotFound)
	ErrNotMember       = fmt.Errorf("%w: actor is not a member", ErrNotFound)
)

// Integrity errors.
var (
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient escrow balance", ErrIntegrity)
	ErrChainBroken         = fmt.Errorf("%w: audit chain verification failed", ErrIntegrity)
	ErrUnbalancedPostings  = fmt.Errorf("%w: credits and debits differ", ErrIntegrity)
	ErrAccountMismatch     = fmt.Errorf("%w: account does not belong to its derived owner", ErrIntegrity)
)

// Auth errors used by the transport adapter.
var (
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
)

// Kind returns the error kind wrapped by err, or ErrorInternal when err
// carries none of them. A nil error has no kind.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrIntegrity} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrorInternal
}
