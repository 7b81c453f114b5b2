package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrConflict
	ErrInternal
)

// Pipeline error codes
const (
	ErrInvalidAmount ErrorCode = iota + 2000
	ErrDuplicateIntent
	ErrUnresolvedRecipient
	ErrNotLinked
)

// IsCode reports whether err or anything it wraps is an AppError with code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func NewInvalidAmount(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidAmount,
		Message: message,
	}
}

func NewDuplicateIntent(idempotencyKey string) *AppError {
	return &AppError{
		Code:    ErrDuplicateIntent,
		Message: fmt.Sprintf("intent with idempotency key %q already exists", idempotencyKey),
	}
}

func NewUnresolvedRecipient(hint string) *AppError {
	return &AppError{
		Code:    ErrUnresolvedRecipient,
		Message: fmt.Sprintf("recipient hint %q cannot be resolved", hint),
	}
}

func NewNotLinked(recipientID string) *AppError {
	return &AppError{
		Code:    ErrNotLinked,
		Message: fmt.Sprintf("recipient %s has no active external account link", recipientID),
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}
