package provider

import (
	"errors"
	"fmt"
)

// Category classifies a provider failure structurally, so callers never have
// to pattern-match error text.
type Category string

const (
	CategoryAuthExpired       Category = "auth_expired"
	CategoryScopeInsufficient Category = "scope_insufficient"
	CategoryPermissionDenied  Category = "permission_denied"
	CategoryRateLimited       Category = "rate_limited"
	CategoryNotFound          Category = "not_found"
	CategoryInvalidRequest    Category = "invalid_request"
	CategoryTransient         Category = "transient"
)

// Error is a classified provider failure.
type Error struct {
	Category   Category
	StatusCode int
	Message    string
	// Body is the raw provider response, kept for operator diagnosis.
	Body string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider: %s (%d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Category, e.Message)
}

// NewError builds a classified provider error.
func NewError(category Category, statusCode int, message, body string) *Error {
	return &Error{Category: category, StatusCode: statusCode, Message: message, Body: body}
}

// CategoryOf extracts the category from err, or CategoryTransient when err is
// not a classified provider error.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryTransient
}

// IsFatal reports whether err should abort a whole run rather than a single
// message: credentials are gone or the grant never covered mail access.
func IsFatal(err error) bool {
	switch CategoryOf(err) {
	case CategoryAuthExpired, CategoryScopeInsufficient, CategoryPermissionDenied:
		return true
	}
	return false
}

// StatusCodeOf extracts the HTTP status from err, 0 when unknown.
func StatusCodeOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// BodyOf extracts the raw provider response from err, "" when unknown.
func BodyOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Body
	}
	return ""
}
