package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrForbidden            = errors.New("forbidden")
	ErrNetworkUnavailable   = errors.New("network unavailable")
	ErrAuthUnknown          = errors.New("authentication failed")
	ErrSessionExpired       = errors.New("session expired")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrTicketCreationFailed = errors.New("ticket creation failed")
	ErrInteractionClosed    = errors.New("interaction already past running")
	ErrNotFound             = errors.New("not found")
	ErrNotEscalated         = errors.New("interaction is not escalated")
)

// AuthError classifies a failed authentication exchange. Kind is one of
// ErrInvalidCredentials, ErrForbidden, ErrNetworkUnavailable or ErrAuthUnknown.
type AuthError struct {
	Kind   error
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// GatewayError is a non-2xx response that is not retried.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// BackendUnavailableError wraps a network-level failure with a hint naming
// the endpoint that could not be reached.
type BackendUnavailableError struct {
	Endpoint string
	Hint     string
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable at %s: %v (%s)", e.Endpoint, e.Err, e.Hint)
}

func (e *BackendUnavailableError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}
