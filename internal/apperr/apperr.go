// Package apperr classifies failures of the mint and delegation pipelines so the
// HTTP boundary can decide status codes and retry policy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a failure class.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindConfiguration Kind = "ConfigurationError"
	KindChainRead     Kind = "ChainReadError"
	KindGasEstimation Kind = "GasEstimationError"
	KindChainWrite    Kind = "ChainWriteError"
	KindLogParse      Kind = "LogParseError"
	KindConnection    Kind = "ConnectionError"
	KindRateLimited   Kind = "RateLimited"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrChainRead     = &Error{Kind: KindChainRead}
	ErrGasEstimation = &Error{Kind: KindGasEstimation}
	ErrChainWrite    = &Error{Kind: KindChainWrite}
	ErrLogParse      = &Error{Kind: KindLogParse}
	ErrConnection    = &Error{Kind: KindConnection}
	ErrRateLimited   = &Error{Kind: KindRateLimited}
)

// Error is a classified failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Cause == nil:
		return string(e.Kind)
	case e.Cause == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality so wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation is shorthand for a KindValidation error without a cause.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Configuration is shorthand for a KindConfiguration error without a cause.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the boundary responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConfiguration:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConnection:
		return http.StatusServiceUnavailable
	case KindChainRead, KindGasEstimation, KindChainWrite:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
