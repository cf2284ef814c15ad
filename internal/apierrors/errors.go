// Package apierrors defines the transport-neutral error kinds the dispatcher,
// worker runtime, and REST layer share, each mapped to an HTTP status the way
// the teacher's internal/http/response package maps errors to status codes.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindAuthentication  Kind = "authentication_error"
	KindWorkerUnavail   Kind = "worker_unavailable"
	KindNodePreempted   Kind = "node_preempted"
	KindHostPinned      Kind = "host_already_pinned"
	KindJobOperation    Kind = "job_operation_error"
	KindDriver          Kind = "driver_error"
	KindTimeout         Kind = "timeout_error"
	KindWebhook         Kind = "webhook_error"
	KindNotFound        Kind = "not_found"
	KindNotImplemented  Kind = "not_implemented"
	KindInternal        Kind = "internal_error"
)

// Error is the typed error carried through the manager/worker/REST stack.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(msg string) *Error     { return New(KindValidation, msg) }
func Authentication(msg string) *Error { return New(KindAuthentication, msg) }
func WorkerUnavailable(msg string) *Error {
	return New(KindWorkerUnavail, msg)
}
func NodePreempted(msg string) *Error { return New(KindNodePreempted, msg) }
func HostAlreadyPinned(msg string) *Error {
	return New(KindHostPinned, msg)
}
func JobOperation(msg string) *Error { return New(KindJobOperation, msg) }
func Driver(msg string, cause error) *Error {
	return Wrap(KindDriver, msg, cause)
}
func Timeout(msg string) *Error { return New(KindTimeout, msg) }
func Webhook(msg string, cause error) *Error {
	return Wrap(KindWebhook, msg, cause)
}
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func NotImplemented(msg string) *Error { return New(KindNotImplemented, msg) }
func Internal(msg string, cause error) *Error {
	return Wrap(KindInternal, msg, cause)
}

// As is a thin convenience wrapper around errors.As for the single *Error type.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the REST layer should return.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusForbidden
	case KindWorkerUnavail:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindJobOperation:
		return http.StatusOK // job ops degrade to an empty list, never an error page
	case KindNodePreempted, KindHostPinned:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindDriver, KindWebhook, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether the manager's pin loop should retry on this error.
func IsRetryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == KindNodePreempted
}

// IsAbsorbable reports whether a failed bind should be treated as success
// because another dispatcher already completed the same binding.
func IsAbsorbable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == KindHostPinned
}
