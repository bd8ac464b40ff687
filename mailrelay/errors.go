package mailrelay

import (
	"errors"
	"strings"
)

// AuthKind classifies an authorization failure.
type AuthKind int

// Authorization failure kinds.
const (
	Forbidden    AuthKind = iota // shared credential absent or mismatched
	Unauthorized                 // identity token absent or invalid
)

func (k AuthKind) String() string {
	switch k {
	case Forbidden:
		return "forbidden"
	case Unauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Sentinel errors, matched with errors.Is.
var (
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMissingField     = errors.New("missing required field")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrTransport        = errors.New("transport failure")
	ErrDecode           = errors.New("attachment decode failure")
)

// AuthError is returned when a request fails its route's verifier.
// Cause is logged but never shown to the caller.
type AuthError struct {
	Kind  AuthKind
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

// Unwrap exposes the sentinel for the error kind and the cause.
func (e *AuthError) Unwrap() []error {
	sentinel := ErrForbidden
	if e.Kind == Unauthorized {
		sentinel = ErrUnauthorized
	}
	if e.Cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Cause}
}

// MissingFieldError lists every required field left empty after resolution.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "Missing required variable: " + strings.Join(e.Fields, ", ") + "."
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// TemplateError is returned when a transactional payload cannot be rendered.
type TemplateError struct {
	Reason string
}

func (e *TemplateError) Error() string { return "malformed payload: " + e.Reason }

func (e *TemplateError) Unwrap() error { return ErrMalformedPayload }

// TransportError wraps a failure reported by the mail transport.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return e.Cause.Error() }

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Cause} }

// AttachmentError is returned when an attachment cannot be decoded.
type AttachmentError struct {
	Cause error
}

func (e *AttachmentError) Error() string { return "unable to decode attachment: " + e.Cause.Error() }

func (e *AttachmentError) Unwrap() []error { return []error{ErrDecode, e.Cause} }
