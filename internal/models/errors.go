package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried in every JSON error body.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeForbidden      = "FORBIDDEN"
	CodeQuotaExhausted = "QUOTA_EXHAUSTED"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeBanned         = "ACCOUNT_BANNED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	BanReason string `json:"ban_reason,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code      string
	Message   string
	BanReason string
	Err       error
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

// Is matches any AppError with the same code, so callers can write
// errors.Is(err, models.ErrConflict).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Message == "" && t.Code == e.Code
}

// Sentinels for errors.Is comparisons against a code.
var (
	ErrValidation     = &AppError{Code: CodeValidation}
	ErrNotFound       = &AppError{Code: CodeNotFound}
	ErrConflict       = &AppError{Code: CodeConflict}
	ErrForbidden      = &AppError{Code: CodeForbidden}
	ErrQuotaExhausted = &AppError{Code: CodeQuotaExhausted}
	ErrUnauthorized   = &AppError{Code: CodeUnauthorized}
	ErrBanned         = &AppError{Code: CodeBanned}
	ErrInternal       = &AppError{Code: CodeInternal}
)

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

// NewNotFoundMessage is NewNotFoundError for lookups not keyed by id.
func NewNotFoundMessage(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewQuotaExhaustedError() *AppError {
	return &AppError{
		Code:    CodeQuotaExhausted,
		Message: "No invites left this month",
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// NewBannedError is returned for any action by a banned account.
func NewBannedError(reason string) *AppError {
	return &AppError{
		Code:      CodeBanned,
		Message:   "Account is banned",
		BanReason: reason,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// AsAppError classifies err, treating anything unrecognised as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(err)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch AsAppError(err).Code {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden, CodeBanned, CodeQuotaExhausted:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeConflict:
		return fiber.StatusConflict
	case CodeRateLimited:
		return fiber.StatusTooManyRequests
	case CodeUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response.
// The cause wrapped by an internal error never reaches the client.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	appErr := AsAppError(err)
	response := ErrorResponse{
		Error:     appErr.Message,
		Code:      appErr.Code,
		BanReason: appErr.BanReason,
	}
	return c.Status(status).JSON(response)
}
