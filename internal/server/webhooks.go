package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/worker"
)

const (
	relaySignatureHeader    = "X-Relay-Signature"
	relayMessageIDHeader    = "X-Relay-Message-Id"
	platformSignatureHeader = "Stripe-Signature"

	// Deliveries are small JSON envelopes; anything bigger is garbage.
	maxWebhookBodyBytes = 1 << 20
)

// HandleRelayWebhook accepts relay-forwarded platform events. Responses
// follow the relay protocol: 204 acknowledged, 489 acknowledged-stop,
// 500 retry, 401 reject.
func (s *Server) HandleRelayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		AbortWithError(c, payoutdomain.ErrInvalidRequest)
		return
	}
	if len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, payoutdomain.ErrInvalidRequest)
		return
	}

	delivery := worker.Delivery{
		Payload:           payload,
		MessageID:         c.GetHeader(relayMessageIDHeader),
		RelaySignature:    c.GetHeader(relaySignatureHeader),
		PlatformSignature: c.GetHeader(platformSignatureHeader),
	}
	if err := s.reconciler.Process(c.Request.Context(), delivery); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
