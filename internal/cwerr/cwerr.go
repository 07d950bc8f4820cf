// Package cwerr defines the error-kind taxonomy used across the scraping
// framework. It mirrors the Kind column of the error handling design: each
// kind carries enough structured context for the orchestrator and notifier
// to react without parsing error strings.
package cwerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide how to propagate it
// without inspecting error strings.
type Kind string

const (
	KindConfigParse      Kind = "config_parse"
	KindConfigValidation Kind = "config_validation"
	KindTransport        Kind = "transport"
	KindHTTPRetryable    Kind = "http_retryable"
	KindHTTPTerminal     Kind = "http_terminal"
	KindParse            Kind = "parse"
	KindSink             Kind = "sink"
	KindCritical         Kind = "critical"
	KindFatal            Kind = "fatal"
)

// Error is the common structured error type for the framework. It wraps an
// underlying cause (if any) and tags it with a Kind so the orchestrator can
// route it (retry, skip, record, notify) without type-switching on strings.
type Error struct {
	Kind    Kind
	Site    string
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, cwerr.ErrKind(KindTransport)) style matching by
// comparing Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Message == "" && t.Cause == nil && t.Site == "" {
		return e.Kind == t.Kind
	}
	return false
}

// New builds a tagged Error.
func New(kind Kind, site, message string) *Error {
	return &Error{Kind: kind, Site: site, Message: message}
}

// Wrap builds a tagged Error around an existing cause.
func Wrap(kind Kind, site, message string, cause error) *Error {
	return &Error{Kind: kind, Site: site, Message: message, Cause: cause}
}

// WithURL attaches the request URL to the error for downstream failure
// context construction.
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// ErrKind returns a sentinel usable with errors.Is to test only the Kind.
func ErrKind(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, returning
// ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether the error kind represents a transient outcome
// that the retry engine should re-attempt.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindTransport || kind == KindHTTPRetryable
}
