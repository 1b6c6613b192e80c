package audit

import (
	"github.com/rytkhs/event-pay-sub012/internal/audit/repository"
	"github.com/rytkhs/event-pay-sub012/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
