package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/emberhost/panel/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler is a middleware that catches panics and unhandled errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered", fmt.Errorf("%v", r), map[string]interface{}{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				})

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error: "An unexpected error occurred",
					Code:  "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			HandleError(c, c.Errors.Last().Err)
		}
	}
}

// AppError is the error type services return to the HTTP layer. The code set
// mirrors the panel's failure taxonomy; anything else is an internal error.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
	Details    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input, caught before any mutation
func NewValidationError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "VALIDATION_FAILED",
		Message:    message,
	}
}

// NewBadRequestError reports a state-precondition violation
func NewBadRequestError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// NewConflictError reports an operation already applied or a locked resource
func NewConflictError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewNotFoundError reports a dangling or cross-parent reference
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
	}
}

// NewForbiddenError reports a cross-tenant or capability failure
func NewForbiddenError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewUnauthorizedError reports missing or invalid credentials
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewLimitExceededError reports a quota violation (task count, backup count)
func NewLimitExceededError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusBadRequest,
		Code:       "LIMIT_EXCEEDED",
		Message:    message,
	}
}

// NewRemoteCallError wraps a failed RPC to a daemon or the storage provider,
// so upstream failures read differently from local validation failures.
func NewRemoteCallError(message string, err error) *AppError {
	return &AppError{
		StatusCode: http.StatusBadGateway,
		Code:       "REMOTE_CALL_FAILED",
		Message:    message,
		Err:        err,
	}
}

// NewConsistencyError reports a fatal data inconsistency. This is a
// programming or data bug, never user error.
func NewConsistencyError(message string) *AppError {
	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Code:       "CONSISTENCY_ERROR",
		Message:    message,
	}
}

// NewInternalError wraps an unexpected failure
func NewInternalError(err error) *AppError {
	return &AppError{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "Internal server error",
		Err:        err,
	}
}

// HandleError writes the appropriate response for any error a service
// returned. Non-AppError values are treated as internal errors.
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewInternalError(err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error(appErr.Message, appErr.Err, map[string]interface{}{
			"code":   appErr.Code,
			"status": appErr.StatusCode,
			"path":   c.Request.URL.Path,
		})
	}

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
	c.Abort()
}
