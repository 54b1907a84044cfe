package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Stable error codes surfaced to API clients.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeInvalidFile      = "INVALID_FILE"
	CodeTooManyFiles     = "TOO_MANY_FILES"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeInvalidState     = "INVALID_STATE"
	CodeAlreadyPurchased = "ALREADY_PURCHASED"
	CodeAlreadyFinalized = "ALREADY_FINALIZED"
	CodeSignatureInvalid = "SIGNATURE_MISMATCH"
	CodeRateLimited      = "RATE_LIMITED"
	CodeConflict         = "CONFLICT"
	CodeGateway          = "GATEWAY_ERROR"
	CodeStorage          = "STORAGE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *DomainError) Retryable() bool {
	switch e.Code {
	case CodeGateway, CodeStorage, CodeInternal:
		return true
	}
	return false
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewInvalidFile(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidFile, message, http.StatusBadRequest, details)
}

func NewTooManyFiles(max int) error {
	return NewDomainError(CodeTooManyFiles, fmt.Sprintf("too many files, maximum %d allowed", max), http.StatusBadRequest,
		map[string]any{"max_files": max})
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInvalidState(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidState, message, http.StatusBadRequest, details)
}

func NewAlreadyPurchased(details map[string]any) error {
	return NewDomainError(CodeAlreadyPurchased, "item already purchased", http.StatusBadRequest, details)
}

func NewAlreadyFinalized(details map[string]any) error {
	return NewDomainError(CodeAlreadyFinalized, "payment already finalized", http.StatusConflict, details)
}

func NewSignatureMismatch() error {
	return NewDomainError(CodeSignatureInvalid, "invalid payment signature", http.StatusBadRequest, nil)
}

func NewRateLimited(message string, retryAfterSeconds int) error {
	return NewDomainError(CodeRateLimited, message, http.StatusTooManyRequests,
		map[string]any{"retry_after_seconds": retryAfterSeconds})
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewGatewayError(err error) error {
	return &DomainError{
		Code:       CodeGateway,
		Message:    "payment gateway unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewStorageError(err error) error {
	return &DomainError{
		Code:       CodeStorage,
		Message:    "storage failure",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

func MapError(err error) error {
	return ToDomainError(err)
}

// CodeOf returns the stable code carried by err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
