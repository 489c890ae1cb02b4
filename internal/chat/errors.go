package chat

import (
	"errors"
	"strconv"

	"github.com/aiox-platform/companion/internal/api"
	"github.com/aiox-platform/companion/internal/llm"
)

var (
	ErrPersonaNotSelected = errors.New("persona not selected")
	ErrInsufficientFunds  = errors.New("insufficient token balance")
	// ErrGenerationFailed wraps any failure after credit was reserved. The
	// reservation has been rolled back when it is returned.
	ErrGenerationFailed = errors.New("chat generation failed, tokens refunded")
)

// RateLimitedError is returned when the caller exhausted the chat window.
type RateLimitedError struct {
	ResetIn int
}

func (e *RateLimitedError) Error() string {
	return "rate limit exceeded, try again in " + strconv.Itoa(e.ResetIn) + "s"
}

// AppError maps a Turn error to its HTTP representation.
func AppError(err error) *api.AppError {
	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		return api.NewTooManyRequestsError(rl.ResetIn)
	case errors.Is(err, ErrPersonaNotSelected):
		return api.NewBadRequestError("persona not selected, use POST /user/select-persona first")
	case errors.Is(err, ErrInsufficientFunds):
		return api.ErrInsufficientTokens
	case errors.Is(err, ErrGenerationFailed) && errors.Is(err, llm.ErrServiceUnavailable):
		return api.ErrServiceUnavailable
	case errors.Is(err, ErrGenerationFailed):
		return api.ErrGenerationRefunded
	default:
		return api.ErrInternalServer
	}
}
