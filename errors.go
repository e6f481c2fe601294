package authcore

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the engine returns
type ErrorKind string

const (
	KindConflict        ErrorKind = "conflict"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidToken    ErrorKind = "invalid_token"
	KindExternalFailure ErrorKind = "external_validation_failure"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindInternal        ErrorKind = "internal"
)

// AuthError is the typed error returned by engine operations.
// Message is safe to show to the caller. Err is kept for logs only.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Field   string // offending input field, if any
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches another *AuthError by kind so errors.Is(err, ErrUnauthorized) works
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Field == ""
}

// Kind-only sentinels for errors.Is checks
var (
	ErrConflict        = &AuthError{Kind: KindConflict}
	ErrUnauthorized    = &AuthError{Kind: KindUnauthorized}
	ErrForbidden       = &AuthError{Kind: KindForbidden}
	ErrNotFound        = &AuthError{Kind: KindNotFound}
	ErrInvalidToken    = &AuthError{Kind: KindInvalidToken}
	ErrExternalFailure = &AuthError{Kind: KindExternalFailure}
	ErrInvalidInput    = &AuthError{Kind: KindInvalidInput}
)

// NewAuthError creates an error of the given kind
func NewAuthError(kind ErrorKind, message string, field string) *AuthError {
	return &AuthError{Kind: kind, Message: message, Field: field}
}

func conflictError(message string) *AuthError {
	return &AuthError{Kind: KindConflict, Message: message}
}

func unauthorizedError(message string) *AuthError {
	return &AuthError{Kind: KindUnauthorized, Message: message}
}

func forbiddenError(message string) *AuthError {
	return &AuthError{Kind: KindForbidden, Message: message}
}

func notFoundError(message string) *AuthError {
	return &AuthError{Kind: KindNotFound, Message: message}
}

func invalidTokenError(err error) *AuthError {
	return &AuthError{Kind: KindInvalidToken, Message: "Invalid or expired token", Err: err}
}

func externalFailure(err error) *AuthError {
	return &AuthError{Kind: KindExternalFailure, Message: "Identity provider rejected the assertion", Err: err}
}

func invalidInput(message, field string) *AuthError {
	return &AuthError{Kind: KindInvalidInput, Message: message, Field: field}
}

func internalError(op string, err error) *AuthError {
	return &AuthError{Kind: KindInternal, Message: "Internal error", Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the kind of err, or KindInternal for untyped errors
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized, KindInvalidToken:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindExternalFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-safe message for err
func PublicMessage(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "Internal error"
}
