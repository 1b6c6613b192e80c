package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
)

const cronSecretHeader = "X-Cron-Secret"

// CronAuthRequired gates operational endpoints behind the shared cron
// secret. An unset secret fails closed.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.CronSecret)
		provided := strings.TrimSpace(c.GetHeader(cronSecretHeader))
		if secret == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
			AbortWithError(c, payoutdomain.ErrUnauthorized)
			return
		}
		c.Next()
	}
}
