package event

import (
	"github.com/rytkhs/event-pay-sub012/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event.repository",
	fx.Provide(repository.Provide),
)
