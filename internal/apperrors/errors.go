package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every AppError wraps one of these so callers can use errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrSelfReaction     = errors.New("self reaction forbidden")
	ErrDuplicateReview  = errors.New("duplicate review")
	ErrMenuItemMismatch = errors.New("menu item not in establishment")
	ErrNotApproved      = errors.New("establishment not approved")
	ErrConflict         = errors.New("conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrInternal         = errors.New("internal error")
)

// AppError is a named failure with a stable machine-readable code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

func EstablishmentNotFound(id string) *AppError {
	return &AppError{
		Code:    "ESTABLISHMENT_NOT_FOUND",
		Message: fmt.Sprintf("establishment with id %s not found", id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

func EstablishmentNotApproved(id string) *AppError {
	return &AppError{
		Code:    "ESTABLISHMENT_NOT_APPROVED",
		Message: fmt.Sprintf("establishment %s is not approved for reviews", id),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrNotApproved,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

func SelfReactionForbidden() *AppError {
	return &AppError{
		Code:    "SELF_REACTION_FORBIDDEN",
		Message: "you cannot react to your own review",
		Status:  http.StatusForbidden,
		Err:     ErrSelfReaction,
	}
}

func DuplicateReview() *AppError {
	return &AppError{
		Code:    "DUPLICATE_REVIEW",
		Message: "you have already reviewed this establishment",
		Status:  http.StatusConflict,
		Err:     ErrDuplicateReview,
	}
}

func MenuItemNotInEstablishment() *AppError {
	return &AppError{
		Code:    "MENU_ITEM_NOT_IN_ESTABLISHMENT",
		Message: "the menu item does not belong to this establishment",
		Status:  http.StatusBadRequest,
		Err:     ErrMenuItemMismatch,
	}
}

// Conflict reports a transaction that could not commit after all retries.
// The cause is kept for logs and never rendered to clients outside debug mode.
func Conflict(message string, cause error) *AppError {
	err := ErrConflict
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConflict, cause)
	}
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     err,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

func RateLimited() *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: "too many requests, please try again later",
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// Internal hides err behind a generic message.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// From returns err as an *AppError, converting unknown errors with Internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateReview), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMenuItemMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrSelfReaction):
		return http.StatusForbidden
	case errors.Is(err, ErrNotApproved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
