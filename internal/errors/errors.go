// Package errors defines the coded errors shared by the signaling server and
// the transport client. Codes travel over the wire in the "code" field of
// error messages, so they are stable strings.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents an error code
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_MESSAGE"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	// Device errors are local to the acquiring peer.
	ErrCodeDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
	ErrCodePermissionDenied  ErrorCode = "PERMISSION_DENIED"

	// Registry and session errors
	ErrCodeUnknownPeer      ErrorCode = "UNKNOWN_PEER"
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeCameraBusy       ErrorCode = "CAMERA_BUSY"
	ErrCodeUnknownSession   ErrorCode = "UNKNOWN_SESSION"
	ErrCodeSessionClosed    ErrorCode = "SESSION_CLOSED"
	ErrCodeTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrCodePeerDisconnected ErrorCode = "PEER_DISCONNECTED"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels below work
// with errors.Is regardless of message or cause.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of e with a more specific message.
func (e *AppError) WithMessage(format string, args ...interface{}) *AppError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// WrapError wraps err with the given code. An error that already carries a
// code is returned unchanged.
func WrapError(code ErrorCode, err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: getHTTPStatus(code),
		Cause:      err,
	}
}

// CodeOf returns the code carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// FromWire rebuilds an error received in an error message.
func FromWire(code, message string) *AppError {
	if code == "" {
		code = string(ErrCodeInternal)
	}
	return NewAppError(ErrorCode(code), message)
}

func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnknownPeer, ErrCodeUnknownSession:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeCameraBusy:
		return http.StatusConflict
	case ErrCodeSessionClosed:
		return http.StatusGone
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeCapacityExceeded, ErrCodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTransport, ErrCodePeerDisconnected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrDeviceUnavailable = NewAppError(ErrCodeDeviceUnavailable, "capture device unavailable")
	ErrPermissionDenied  = NewAppError(ErrCodePermissionDenied, "capture permission denied")
	ErrUnknownPeer       = NewAppError(ErrCodeUnknownPeer, "peer is not registered")
	ErrCapacityExceeded  = NewAppError(ErrCodeCapacityExceeded, "peer capacity exceeded")
	ErrCameraBusy        = NewAppError(ErrCodeCameraBusy, "camera already has a session")
	ErrUnknownSession    = NewAppError(ErrCodeUnknownSession, "session not found")
	ErrSessionClosed     = NewAppError(ErrCodeSessionClosed, "session closed")
	ErrTransport         = NewAppError(ErrCodeTransport, "transport negotiation failed")
	ErrPeerDisconnected  = NewAppError(ErrCodePeerDisconnected, "peer disconnected")
	ErrInvalidMessage    = NewAppError(ErrCodeInvalidInput, "invalid message")
	ErrUnauthorized      = NewAppError(ErrCodeUnauthorized, "unauthorized")
	ErrRateLimited       = NewAppError(ErrCodeRateLimited, "rate limit exceeded")
)
