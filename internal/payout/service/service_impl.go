package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rytkhs/event-pay-sub012/internal/admindb"
	auditdomain "github.com/rytkhs/event-pay-sub012/internal/audit/domain"
	"github.com/rytkhs/event-pay-sub012/internal/clock"
	"github.com/rytkhs/event-pay-sub012/internal/config"
	connectdomain "github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	obsmetrics "github.com/rytkhs/event-pay-sub012/internal/observability/metrics"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/payout/eligibility"
	"github.com/rytkhs/event-pay-sub012/internal/stripeclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferClient is the payment-platform primitive the settlement needs.
type TransferClient interface {
	CreateTransfer(ctx context.Context, req stripeclient.TransferRequest) (stripeclient.Transfer, error)
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.PayoutConfig
	AdminDB     *admindb.Factory
	Repo        payoutdomain.Repository
	EventRepo   eventdomain.Repository
	ConnectRepo connectdomain.Repository
	Transfers   TransferClient
	AuditSvc    auditdomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.PayoutConfig
	adminDB     *admindb.Factory
	validator   eligibility.Validator
	repo        payoutdomain.Repository
	eventRepo   eventdomain.Repository
	connectRepo connectdomain.Repository
	transfers   TransferClient
	auditSvc    auditdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	cfg := p.Cfg.WithDefaults()
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payout.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       cfg,
		adminDB:   p.AdminDB,
		validator: eligibility.New(eligibility.Config{
			GracePeriodDays:        cfg.DaysAfterEvent,
			MinimumPayoutAmount:    cfg.MinimumAmount,
			PlatformFeeBasisPoints: cfg.FeeBasisPoints,
		}),
		repo:        p.Repo,
		eventRepo:   p.EventRepo,
		connectRepo: p.ConnectRepo,
		transfers:   p.Transfers,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
	}
}

// ProcessPayout settles one event. Eligibility is re-checked against
// freshly read aggregates right before the transfer call; a refund landing
// after that read and before the transfer is a known residual race; the
// idempotency key prevents duplicate transfers, not overpayment.
func (s *Service) ProcessPayout(ctx context.Context, req payoutdomain.PayoutRequest) (payoutdomain.PayoutResult, error) {
	eventID, organizerID := req.EventID, req.OrganizerID
	if eventID == 0 || organizerID == 0 {
		return payoutdomain.PayoutResult{}, payoutdomain.ErrInvalidRequest
	}

	event, err := s.eventRepo.FindByID(ctx, s.db, eventID)
	if err != nil {
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}
	if event == nil {
		return payoutdomain.PayoutResult{}, payoutdomain.ErrNotFound
	}
	if event.OrganizerID != organizerID {
		return payoutdomain.PayoutResult{}, payoutdomain.ErrInvalidRequest
	}

	account, err := s.connectRepo.FindByOrganizer(ctx, s.db, organizerID)
	if err != nil {
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}

	sales, err := s.repo.AggregateSales(ctx, s.db, eventID)
	if err != nil {
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}

	existing, err := s.repo.FindNonFailedByEvent(ctx, s.db, eventID)
	if err != nil {
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}
	if existing != nil {
		return payoutdomain.PayoutResult{}, payoutdomain.ErrPayoutExists
	}

	verdict := s.validator.Check(eligibility.Input{
		Event:          *event,
		Account:        account,
		Sales:          sales,
		ExistingPayout: existing,
		Now:            s.clock.Now(),
	})
	if !verdict.Eligible {
		return payoutdomain.PayoutResult{}, payoutdomain.NewBusinessRuleError(verdict.Reasons)
	}

	// Payout writes happen outside any user session; they go through an
	// explicitly acquired privileged client, tagged with why.
	reason, actor := admindb.ReasonSettlement, "scheduler"
	if req.Manual {
		reason, actor = admindb.ReasonManualOperation, "operator"
	}
	wdb, err := s.adminDB.Scoped(ctx, reason, admindb.AuditContext{Actor: actor})
	if err != nil {
		return payoutdomain.PayoutResult{}, err
	}

	now := s.clock.Now()
	payout := payoutdomain.Payout{
		ID:             s.genID.Generate(),
		EventID:        eventID,
		OrganizerID:    organizerID,
		GrossSales:     verdict.GrossSales,
		PlatformFee:    verdict.PlatformFee,
		NetAmount:      verdict.NetAmount,
		Status:         payoutdomain.PayoutStatusProcessing,
		IdempotencyKey: payoutdomain.IdempotencyKey(eventID, organizerID),
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	claimed, err := s.repo.InsertProcessing(ctx, wdb, &payout)
	if err != nil {
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}
	if !claimed {
		// Lost the race to a concurrent attempt; the other row wins.
		return payoutdomain.PayoutResult{}, payoutdomain.ErrPayoutExists
	}

	transfer, transferErr := s.transfers.CreateTransfer(ctx, stripeclient.TransferRequest{
		Amount:         payout.NetAmount,
		Currency:       s.cfg.Currency,
		Destination:    account.StripeAccountID,
		IdempotencyKey: payout.IdempotencyKey,
		EventID:        eventID,
		PayoutID:       payout.ID,
	})
	processedAt := s.clock.Now()

	if transferErr != nil {
		if err := s.repo.MarkFailed(ctx, wdb, payout.ID, transferErr.Error(), processedAt); err != nil {
			s.log.Error("failed to record payout failure",
				zap.String("payout_id", payout.ID.String()),
				zap.Error(err),
			)
		}
		s.metrics.IncPayoutOutcome(obsmetrics.OutcomeFailed)
		s.writeAuditLog(ctx, "payout.failed", &payout, verdict, "", transferErr)
		return payoutdomain.PayoutResult{}, transferErr
	}

	if err := s.repo.MarkCompleted(ctx, wdb, payout.ID, transfer.ID, processedAt); err != nil {
		// Money moved but the local row is stuck in processing. Log loudly;
		// reconciliation via the transfer id recovers the record.
		s.log.Error("transfer succeeded but completion write failed",
			zap.String("payout_id", payout.ID.String()),
			zap.String("transfer_id", transfer.ID),
			zap.Error(err),
		)
		return payoutdomain.PayoutResult{}, wrapPersistence(err)
	}

	s.metrics.IncPayoutOutcome(obsmetrics.OutcomeCompleted)
	s.metrics.AddTransferred(payout.NetAmount)
	s.writeAuditLog(ctx, "payout.completed", &payout, verdict, transfer.ID, nil)

	created := processedAt
	if transfer.Created > 0 {
		created = time.Unix(transfer.Created, 0).UTC()
	}
	return payoutdomain.PayoutResult{
		PayoutID:         payout.ID,
		TransferID:       transfer.ID,
		NetAmount:        payout.NetAmount,
		EstimatedArrival: stripeclient.EstimatedArrival(created),
	}, nil
}

func (s *Service) writeAuditLog(ctx context.Context, action string, payout *payoutdomain.Payout, verdict payoutdomain.Eligibility, transferID string, cause error) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"event_id":     payout.EventID.String(),
		"organizer_id": payout.OrganizerID.String(),
		"gross_sales":  payout.GrossSales,
		"platform_fee": payout.PlatformFee,
		"net_amount":   payout.NetAmount,
		"eligible":     verdict.Eligible,
		"notes":        payout.Notes,
	}
	if transferID != "" {
		metadata["transfer_id"] = transferID
	}
	if cause != nil {
		metadata["error"] = cause.Error()
	}
	targetID := payout.ID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeSystem), nil, action, "payout", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payout audit log", zap.String("action", action), zap.Error(err))
	}
}

func wrapPersistence(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(payoutdomain.ErrPersistence, err)
}
