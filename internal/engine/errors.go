package engine

import (
	"errors"
	"fmt"

	"sieve-backend/internal/spec"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func InvalidFilterError(msg string) *AppError {
	return &AppError{
		Code:    "INVALID_FILTER",
		Status:  400,
		Message: msg,
	}
}

// FilterError maps a criteria validation failure onto the same error codes
// the flat filter-param surface emits.
func FilterError(err error) *AppError {
	code := "INVALID_FILTER"
	switch {
	case errors.Is(err, spec.ErrUnknownField):
		code = "UNKNOWN_FIELD"
	case errors.Is(err, spec.ErrUnknownOperator):
		code = "UNKNOWN_OPERATOR"
	}
	return &AppError{Code: code, Status: 400, Message: err.Error()}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Status:  401,
		Message: msg,
	}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Status:  403,
		Message: msg,
	}
}
