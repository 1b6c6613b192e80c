package stripeclient

import (
	"github.com/rytkhs/event-pay-sub012/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("stripeclient",
	fx.Provide(func(cfg config.Config) *Client {
		return New(cfg.StripeAPIKey)
	}),
)
