package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Configuration errors: surfaced before any network call is made
	ErrorCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Merchant resolution errors (multi-tenant mode)
	ErrorCodeMerchantNotFound ErrorCode = "MERCHANT_NOT_FOUND"

	// Gateway errors
	ErrorCodeTransportFailed ErrorCode = "TRANSPORT_FAILED"
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeTokenUnavailable ErrorCode = "TOKEN_UNAVAILABLE"

	// Crypto errors
	ErrorCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// Webhook errors
	ErrorCodeAuthRejected ErrorCode = "AUTH_REJECTED"
)

// Error is a structured domain error with a code and optional context.
type Error struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a new domain error
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode checks if an error is a domain Error with the given code
func IsCode(err error, code ErrorCode) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the code from an error, empty if not a domain Error
func GetErrorCode(err error) ErrorCode {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Common error instances
var (
	ErrMerchantNotFound = NewError(ErrorCodeMerchantNotFound, "merchant not found for the given context")
	ErrTokenUnavailable = NewError(ErrorCodeTokenUnavailable, "fabric token could not be acquired")
	ErrConfigInvalid    = NewError(ErrorCodeConfigInvalid, "merchant credentials are incomplete")
)
