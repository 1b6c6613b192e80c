package worker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rytkhs/event-pay-sub012/internal/admindb"
	"github.com/rytkhs/event-pay-sub012/internal/clock"
	"github.com/rytkhs/event-pay-sub012/internal/config"
	connectdomain "github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	obsmetrics "github.com/rytkhs/event-pay-sub012/internal/observability/metrics"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"github.com/rytkhs/event-pay-sub012/internal/stripeclient"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Delivery is one relay-forwarded webhook as the transport hands it over.
type Delivery struct {
	Payload           []byte
	MessageID         string
	RelaySignature    string
	PlatformSignature string
}

// Handler reconciles one platform event type against local state.
type Handler func(ctx context.Context, db *gorm.DB, event *stripeclient.Event) error

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	AdminDB     *admindb.Factory
	ConnectRepo connectdomain.Repository
	PayoutRepo  payoutdomain.Repository
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

// Reconciler verifies relay deliveries and applies platform events to
// local payout and account state. Event dispatch goes through a handler
// registry keyed by event type; unregistered types are acknowledged and
// dropped.
type Reconciler struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	adminDB     *admindb.Factory
	connectRepo connectdomain.Repository
	payoutRepo  payoutdomain.Repository
	metrics     *obsmetrics.Metrics
	handlers    map[string]Handler
}

func New(p Params) *Reconciler {
	r := &Reconciler{
		log:         p.Log.Named("worker.reconciler"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		adminDB:     p.AdminDB,
		connectRepo: p.ConnectRepo,
		payoutRepo:  p.PayoutRepo,
		metrics:     p.Metrics,
	}
	r.handlers = map[string]Handler{
		stripeclient.EventTypeAccountUpdated: r.handleAccountUpdated,
		stripeclient.EventTypePayoutPaid:     r.handlePayoutPaid,
		stripeclient.EventTypePayoutFailed:   r.handlePayoutFailed,
	}
	return r
}

// Register adds or replaces the handler for an event type. Registration
// is meant for startup wiring, not concurrent use.
func (r *Reconciler) Register(eventType string, h Handler) {
	r.handlers[eventType] = h
}

// Process runs one delivery end to end. The error contract mirrors the
// relay protocol: nil means acknowledged, ErrBadSignature means the
// transport must reject, a TerminalError means acknowledge-and-stop, and
// anything else asks the relay to retry.
func (r *Reconciler) Process(ctx context.Context, d Delivery) error {
	if err := r.verifyRelaySignature(d.Payload, d.RelaySignature); err != nil {
		r.metrics.IncWebhookEvent("unknown", obsmetrics.WebhookResultTerminal)
		return err
	}

	if err := stripeclient.VerifySignature(d.Payload, d.PlatformSignature, r.cfg.StripeWebhookSecret); err != nil {
		// Relay auth passed but the platform signature is broken. The
		// payload will never become valid; retrying is pointless.
		r.metrics.IncWebhookEvent("unknown", obsmetrics.WebhookResultTerminal)
		return terminal("invalid_platform_signature", err)
	}

	event, err := stripeclient.ParseEvent(d.Payload)
	if err != nil {
		r.metrics.IncWebhookEvent("unknown", obsmetrics.WebhookResultTerminal)
		return terminal("invalid_event_payload", err)
	}

	log := r.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("message_id", d.MessageID),
	)

	handler, ok := r.handlers[event.Type]
	if !ok {
		log.Debug("ignoring unhandled event type")
		r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultIgnored)
		return nil
	}

	db, err := r.adminDB.Scoped(ctx, admindb.ReasonReconciliation, admindb.AuditContext{Actor: "webhook_worker"})
	if err != nil {
		return err
	}

	messageID := strings.TrimSpace(d.MessageID)
	if messageID == "" {
		messageID = event.ID
	}
	claimed, err := claimMessage(ctx, db, &WebhookMessage{
		ID:         r.genID.Generate(),
		MessageID:  messageID,
		EventID:    event.ID,
		EventType:  event.Type,
		Result:     "processing",
		ReceivedAt: r.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("duplicate delivery acknowledged")
		r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultIgnored)
		return nil
	}

	if err := handler(ctx, db, event); err != nil {
		if errors.Is(err, stripeclient.ErrEventIgnored) {
			// The handler looked and decided the event is not for us.
			if finishErr := finishMessage(ctx, db, messageID, obsmetrics.WebhookResultIgnored); finishErr != nil {
				log.Error("failed to finalize webhook message", zap.Error(finishErr))
			}
			log.Debug("event acknowledged without changes")
			r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultIgnored)
			return nil
		}
		if IsTerminal(err) {
			log.Warn("event reconciliation failed terminally", zap.Error(err))
			if finishErr := finishMessage(ctx, db, messageID, obsmetrics.WebhookResultTerminal); finishErr != nil {
				log.Error("failed to finalize webhook message", zap.Error(finishErr))
			}
			r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultTerminal)
			return err
		}
		// Give the claim back so the relay retry is not deduplicated.
		if releaseErr := releaseMessage(ctx, db, messageID); releaseErr != nil {
			log.Error("failed to release webhook message claim", zap.Error(releaseErr))
		}
		log.Warn("event reconciliation failed, retry requested", zap.Error(err))
		r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultRetryable)
		return err
	}

	if err := finishMessage(ctx, db, messageID, obsmetrics.WebhookResultProcessed); err != nil {
		log.Error("failed to finalize webhook message", zap.Error(err))
	}
	log.Info("event reconciled")
	r.metrics.IncWebhookEvent(event.Type, obsmetrics.WebhookResultProcessed)
	return nil
}

// verifyRelaySignature checks the relay HMAC over the raw body against the
// current key, then the next key so a rotation never drops deliveries.
func (r *Reconciler) verifyRelaySignature(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrBadSignature
	}
	for _, key := range []string{r.cfg.RelaySigningKey, r.cfg.RelayNextSigningKey} {
		if key == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(key))
		_, _ = mac.Write(payload)
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

func (r *Reconciler) handleAccountUpdated(ctx context.Context, db *gorm.DB, event *stripeclient.Event) error {
	account, err := event.Account()
	if err != nil {
		return terminal("invalid_account_object", err)
	}
	local, err := r.connectRepo.FindByStripeAccount(ctx, db, account.ID)
	if errors.Is(err, connectdomain.ErrAccountNotFound) {
		// No local organizer links to this account; a retry cannot help.
		return terminal("unknown_connect_account", err)
	}
	if err != nil {
		return err
	}
	updated, err := r.connectRepo.UpdateFlags(ctx, db, account.ID, account.ChargesEnabled, account.PayoutsEnabled, r.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return terminal("unknown_connect_account", connectdomain.ErrAccountNotFound)
	}
	r.log.Info("connect account flags updated",
		zap.String("organizer_id", local.OrganizerID.String()),
		zap.Bool("charges_enabled", account.ChargesEnabled),
		zap.Bool("payouts_enabled", account.PayoutsEnabled),
	)
	return nil
}

func (r *Reconciler) handlePayoutPaid(ctx context.Context, db *gorm.DB, event *stripeclient.Event) error {
	return r.applyDownstreamStatus(ctx, db, event, payoutdomain.DownstreamStatusPaid)
}

func (r *Reconciler) handlePayoutFailed(ctx context.Context, db *gorm.DB, event *stripeclient.Event) error {
	return r.applyDownstreamStatus(ctx, db, event, payoutdomain.DownstreamStatusFailed)
}

func (r *Reconciler) applyDownstreamStatus(ctx context.Context, db *gorm.DB, event *stripeclient.Event, downstream string) error {
	payout, err := event.Payout()
	if err != nil {
		return terminal("invalid_payout_object", err)
	}
	transferID := strings.TrimSpace(payout.SourceTransfer)
	if transferID == "" {
		transferID = strings.TrimSpace(payout.Metadata["transfer_id"])
	}
	if transferID == "" {
		return terminal("missing_source_transfer", nil)
	}
	updated, err := r.payoutRepo.UpdateDownstreamStatus(ctx, db, transferID, downstream, r.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return terminal("unknown_transfer", nil)
	}
	return nil
}

var Module = fx.Module("worker",
	fx.Provide(New),
)
