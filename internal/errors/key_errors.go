package errors

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors for key lifecycle decisions. The domain layer returns these
// (possibly wrapped with %w); the HTTP layer maps them to API responses with
// MapKeyError so every refusal surfaces a distinct business code.
var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrTrialExpired         = errors.New("trial key expired")
	ErrAlreadyUsed          = errors.New("key already used")
	ErrIdentityMismatch     = errors.New("key bound to different identity")
	ErrTrialAlreadyConsumed = errors.New("identity already consumed a trial key")
	ErrInvalidDuration      = errors.New("trial key requires a positive duration")
	ErrInvalidKeyFormat     = errors.New("invalid key format")
	ErrUnknownLinkType      = errors.New("unknown config link type")
	ErrGenerationExhausted  = errors.New("key generation attempts exhausted")
	ErrStoreUnavailable     = errors.New("key store unavailable")
)

// Error codes returned in API responses
const (
	CodeKeyNotFound          = "KEY_NOT_FOUND"
	CodeTrialExpired         = "TRIAL_EXPIRED"
	CodeAlreadyUsed          = "ALREADY_USED"
	CodeIdentityMismatch     = "IDENTITY_MISMATCH"
	CodeTrialAlreadyConsumed = "TRIAL_ALREADY_CONSUMED"
	CodeInvalidDuration      = "INVALID_DURATION"
	CodeInvalidKeyFormat     = "INVALID_KEY_FORMAT"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
)

// StoreError wraps a collaborator I/O failure so callers can distinguish
// infrastructure faults from business refusals without inspecting messages.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: op, err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return "store " + e.op + ": " + e.err.Error()
}

func (e *storeError) Unwrap() error {
	return e.err
}

// Is reports ErrStoreUnavailable for any wrapped store failure
func (e *storeError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// MapKeyError translates a domain error into the APIError rendered to clients.
// Business refusals keep their specific codes; store failures collapse into a
// generic unavailable response so Redis details never leak.
func MapKeyError(err error) *APIError {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return New(http.StatusNotFound, CodeKeyNotFound, "Key does not exist or is invalid")
	case errors.Is(err, ErrTrialExpired):
		return New(http.StatusForbidden, CodeTrialExpired, "Trial key has expired. Please purchase a permanent key")
	case errors.Is(err, ErrAlreadyUsed):
		return New(http.StatusConflict, CodeAlreadyUsed, "This key has already been used")
	case errors.Is(err, ErrIdentityMismatch):
		return New(http.StatusForbidden, CodeIdentityMismatch, "This key is already bound to a different user")
	case errors.Is(err, ErrTrialAlreadyConsumed):
		return New(http.StatusForbidden, CodeTrialAlreadyConsumed, "You have already used a trial key and cannot activate another. Please enter a permanent key")
	case errors.Is(err, ErrInvalidDuration):
		return New(http.StatusBadRequest, CodeInvalidDuration, "Trial keys require a positive duration in days or minutes")
	case errors.Is(err, ErrInvalidKeyFormat):
		return New(http.StatusBadRequest, CodeInvalidKeyFormat, "Key format is invalid")
	case errors.Is(err, ErrUnknownLinkType):
		return New(http.StatusBadRequest, "UNKNOWN_LINK_TYPE", "Unknown config link type")
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ErrStoreUnavailableResponse
	default:
		return ErrInternalServer
	}
}
