// internal/api/error_codes.go
package api

// API error codes
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrorBodyTooLarge  = "BODY_TOO_LARGE"

	ErrorFormatNotFound = "FORMAT_NOT_FOUND"
	ErrorDraftInvalid   = "DRAFT_INVALID"
)
