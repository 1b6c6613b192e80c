package connect

import (
	"github.com/rytkhs/event-pay-sub012/internal/connect/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("connect.repository",
	fx.Provide(repository.Provide),
)
