package portal

import (
	"errors"
	"fmt"
)

// Kind classifies a portal error so callers can branch on
// terminal-vs-retryable without inspecting message strings.
type Kind string

const (
	KindInvalidCaptcha    Kind = "invalid_captcha"
	KindCaseNotFound      Kind = "case_not_found"
	KindPartyNameMismatch Kind = "party_name_mismatch"
	KindSessionExpired    Kind = "session_expired"
	KindPortalUnavailable Kind = "portal_unavailable"
	KindTimeout           Kind = "timeout"
	KindStorage           Kind = "storage_error"
)

// Error is a classified portal failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is safe to retry with backoff.
// CAPTCHA and session errors are terminal for the current call.
func (e *Error) Retryable() bool {
	return e.Kind == KindPortalUnavailable || e.Kind == KindTimeout
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain, or "" if the error is
// not a portal error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Retryable reports whether any error in the chain is a retryable
// portal error. Unclassified errors are not retried.
func Retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
