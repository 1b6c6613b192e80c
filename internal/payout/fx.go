package payout

import (
	"github.com/rytkhs/event-pay-sub012/internal/payout/repository"
	"github.com/rytkhs/event-pay-sub012/internal/payout/service"
	"github.com/rytkhs/event-pay-sub012/internal/stripeclient"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *stripeclient.Client) service.TransferClient { return c }),
	fx.Provide(service.NewService),
)
