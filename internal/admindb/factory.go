package admindb

import (
	"context"
	"errors"
	"strings"

	auditdomain "github.com/rytkhs/event-pay-sub012/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reason declares why a privileged database client is being acquired.
// Every acquisition is audited; there is no process-wide privileged handle.
type Reason string

const (
	ReasonSettlement      Reason = "settlement"
	ReasonReconciliation  Reason = "reconciliation"
	ReasonManualOperation Reason = "manual_operation"
)

var ErrInvalidReason = errors.New("invalid_admin_reason")

type AuditContext struct {
	Actor     string
	RequestID string
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	AuditSvc auditdomain.Service
}

type Factory struct {
	db       *gorm.DB
	log      *zap.Logger
	auditSvc auditdomain.Service
}

func NewFactory(p Params) *Factory {
	return &Factory{
		db:       p.DB,
		log:      p.Log.Named("admindb"),
		auditSvc: p.AuditSvc,
	}
}

// Scoped returns a session-scoped client for one privileged operation.
// The declared reason and actor are logged and audited at acquisition.
func (f *Factory) Scoped(ctx context.Context, reason Reason, ac AuditContext) (*gorm.DB, error) {
	switch reason {
	case ReasonSettlement, ReasonReconciliation, ReasonManualOperation:
	default:
		return nil, ErrInvalidReason
	}

	actor := strings.TrimSpace(ac.Actor)
	if actor == "" {
		actor = "system"
	}

	f.log.Debug("privileged client acquired",
		zap.String("reason", string(reason)),
		zap.String("actor", actor),
	)
	if f.auditSvc != nil {
		metadata := map[string]any{"reason": string(reason)}
		if ac.RequestID != "" {
			metadata["request_id"] = ac.RequestID
		}
		_ = f.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeSystem), &actor, "admindb.acquired", "database", nil, metadata)
	}

	return f.db.Session(&gorm.Session{NewDB: true}).WithContext(ctx), nil
}

var Module = fx.Module("admindb",
	fx.Provide(NewFactory),
)
