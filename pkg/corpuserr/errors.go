// Package corpuserr defines the error taxonomy shared by all corpus
// subsystems. Services translate low-level failures into these sentinels;
// the HTTP layer translates them into status codes. Provider errors are
// never propagated verbatim.
package corpuserr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrOwnershipDenied        = errors.New("ownership denied")
	ErrPolicyDenied           = errors.New("policy denied")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrBackPressure           = errors.New("back pressure: queue at capacity")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrProviderRateLimited    = errors.New("provider rate limited")
	ErrProviderInvalidRequest = errors.New("provider invalid request")
	ErrIntegrity              = errors.New("integrity error")
	ErrMutationDetected       = errors.New("mutation detected")
	ErrAlreadyInitialized     = errors.New("corpus already initialized")
	ErrSchemaMismatch         = errors.New("schema mismatch")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrUnsupportedMedia       = errors.New("unsupported media type")
	ErrInternal               = errors.New("internal error")
)

// HTTPStatus maps a taxonomy error to its HTTP status code.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrOwnershipDenied):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrProviderRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBackPressure):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusLabel returns the stable enum name carried in response envelopes.
func StatusLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrOwnershipDenied):
		return "OWNERSHIP_DENIED"
	case errors.Is(err, ErrPolicyDenied):
		return "POLICY_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrAlreadyInitialized):
		return "ALREADY_INITIALIZED"
	case errors.Is(err, ErrPayloadTooLarge):
		return "PAYLOAD_TOO_LARGE"
	case errors.Is(err, ErrUnsupportedMedia):
		return "UNSUPPORTED_MEDIA"
	case errors.Is(err, ErrProviderRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrBackPressure):
		return "BACK_PRESSURE"
	case errors.Is(err, ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, ErrProviderInvalidRequest):
		return "PROVIDER_INVALID_REQUEST"
	case errors.Is(err, ErrIntegrity):
		return "INTEGRITY_ERROR"
	case errors.Is(err, ErrMutationDetected):
		return "MUTATION_DETECTED"
	default:
		return "INTERNAL_ERROR"
	}
}
