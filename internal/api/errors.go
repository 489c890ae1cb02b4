package api

import (
	"errors"
	"net/http"
	"strconv"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
	// RetryAfter is sent as the Retry-After header (seconds) when set.
	RetryAfter int `json:"retry_after,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrConflict           = &AppError{Code: http.StatusConflict, Message: "conflict"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrUnknownWallet      = &AppError{Code: http.StatusUnauthorized, Message: "user not found, please login first"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "validation error"}
	ErrInsufficientTokens = &AppError{Code: http.StatusPaymentRequired, Message: "insufficient tokens"}
	ErrPersonaNotSelected = &AppError{Code: http.StatusBadRequest, Message: "persona not selected"}
	ErrServiceUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "AI service unavailable, tokens refunded"}
	ErrGenerationRefunded = &AppError{Code: http.StatusInternalServerError, Message: "failed to generate response, tokens refunded"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewConflictError(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewTooManyRequestsError(retryAfter int) *AppError {
	return &AppError{
		Code:       http.StatusTooManyRequests,
		Message:    "rate limit exceeded, try again in " + strconv.Itoa(retryAfter) + "s",
		RetryAfter: retryAfter,
	}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
		}
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
