package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for sync operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotFound        ErrorCode = 1001
	ErrCodeInvalidTenantID ErrorCode = 1002
	ErrCodeInvalidKey      ErrorCode = 1003
	ErrCodeInvalidDocument ErrorCode = 1004
	ErrCodeUnauthorized    ErrorCode = 1005
	ErrCodeForbidden       ErrorCode = 1006
	ErrCodeRateLimited     ErrorCode = 1007

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeRemoteUnavailable ErrorCode = 2001
	ErrCodeDecodeFailed      ErrorCode = 2002
	ErrCodeQueueFull         ErrorCode = 2003
)

// String returns the wire name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_REQUEST"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeInvalidTenantID:
		return "INVALID_TENANT_ID"
	case ErrCodeInvalidKey:
		return "INVALID_KEY"
	case ErrCodeInvalidDocument:
		return "INVALID_DOCUMENT"
	case ErrCodeUnauthorized:
		return "UNAUTHORIZED"
	case ErrCodeForbidden:
		return "FORBIDDEN"
	case ErrCodeRateLimited:
		return "RATE_LIMITED"
	case ErrCodeRemoteUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ErrCodeDecodeFailed:
		return "DECODE_FAILED"
	case ErrCodeQueueFull:
		return "QUEUE_FULL"
	default:
		return "INTERNAL_ERROR"
	}
}

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *SyncError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidTenantID, ErrCodeInvalidKey, ErrCodeInvalidDocument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeRateLimited, ErrCodeQueueFull:
		return http.StatusTooManyRequests
	case ErrCodeRemoteUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

func InvalidArgument(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(tenantID, key string) *SyncError {
	return NewSyncError(ErrCodeNotFound, fmt.Sprintf("collection not found: %s:%s", tenantID, key), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("key", key)
}

func InvalidTenantID(tenantID, reason string) *SyncError {
	return NewSyncError(ErrCodeInvalidTenantID, fmt.Sprintf("invalid tenant ID '%s': %s", tenantID, reason), nil).
		WithDetail("tenant_id", tenantID).
		WithDetail("reason", reason)
}

func InvalidKey(key, reason string) *SyncError {
	return NewSyncError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func InvalidDocument(key string, cause error) *SyncError {
	return NewSyncError(ErrCodeInvalidDocument, fmt.Sprintf("document for '%s' is not valid JSON", key), cause).
		WithDetail("key", key)
}

func Unauthorized(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeUnauthorized, message, cause)
}

func Forbidden(message string) *SyncError {
	return NewSyncError(ErrCodeForbidden, message, nil)
}

func RateLimited() *SyncError {
	return NewSyncError(ErrCodeRateLimited, "rate limit exceeded", nil)
}

func InternalError(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInternal, message, cause)
}

func RemoteUnavailable(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeRemoteUnavailable, message, cause)
}

func DecodeFailed(key string, cause error) *SyncError {
	return NewSyncError(ErrCodeDecodeFailed, fmt.Sprintf("failed to decode cached value for '%s'", key), cause).
		WithDetail("key", key)
}

func QueueFull(resource string, limit int) *SyncError {
	return NewSyncError(ErrCodeQueueFull, fmt.Sprintf("%s queue is full (%d)", resource, limit), nil).
		WithDetail("resource", resource).
		WithDetail("limit", limit)
}

// IsSyncError checks if an error is (or wraps) a SyncError
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HTTPStatus returns the HTTP status for any error
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}
