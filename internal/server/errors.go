package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/worker"
)

// StatusNoRetry tells the relay to stop redelivering a message. The code
// sits outside the standard registry on purpose: the relay treats any
// non-2xx as failure and this specific value as "do not retry".
const StatusNoRetry = 489

const noRetryHeader = "X-Relay-No-Retry"

type errorPayload struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == StatusNoRetry {
			c.Header(noRetryHeader, "true")
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var ruleErr *payoutdomain.BusinessRuleError
	if errors.As(err, &ruleErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "not_eligible",
			Message: "event is not eligible for payout",
			Reasons: ruleErr.Reasons,
		}
	}

	var terminalErr *worker.TerminalError
	if errors.As(err, &terminalErr) {
		return StatusNoRetry, errorPayload{
			Type:    "terminal",
			Message: terminalErr.Error(),
		}
	}

	switch {
	case errors.Is(err, payoutdomain.ErrUnauthorized), errors.Is(err, worker.ErrBadSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, payoutdomain.ErrInvalidRequest), errors.Is(err, eventdomain.ErrInvalidID):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, payoutdomain.ErrNotFound), errors.Is(err, eventdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}
	case errors.Is(err, payoutdomain.ErrPayoutExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a payout already exists for this event",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
