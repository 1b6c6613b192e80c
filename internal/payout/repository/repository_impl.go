package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/rytkhs/event-pay-sub012/internal/event/domain"
	"github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	pkgdb "github.com/rytkhs/event-pay-sub012/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) AggregateSales(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (domain.AggregatedSales, error) {
	var row struct {
		GrossSales     int64
		RefundCount    int
		RefundedAmount int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(amount), 0) AS gross_sales,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS refund_count,
			COALESCE(SUM(refunded_amount), 0) AS refunded_amount
		 FROM payments
		 WHERE event_id = ? AND status IN (?, ?)`,
		eventdomain.PaymentStatusRefunded,
		eventID,
		eventdomain.PaymentStatusPaid,
		eventdomain.PaymentStatusRefunded,
	).Scan(&row).Error
	if err != nil {
		return domain.AggregatedSales{}, err
	}
	return domain.AggregatedSales{
		GrossSales:     row.GrossSales,
		RefundCount:    row.RefundCount,
		RefundedAmount: row.RefundedAmount,
	}, nil
}

func (r *repo) FindNonFailedByEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*domain.Payout, error) {
	var item domain.Payout
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, organizer_id, gross_sales, platform_fee, net_amount,
			status, downstream_status, stripe_transfer_id, idempotency_key,
			failure_reason, notes, processed_at, created_at, updated_at
		 FROM payouts
		 WHERE event_id = ? AND status <> ?
		 LIMIT 1`,
		eventID,
		domain.PayoutStatusFailed,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertProcessing claims the event. The WHERE NOT EXISTS guard filters
// the common case; the partial unique index on event_id over non-failed
// rows is the source of truth, so a concurrent attempt that slips past
// the guard surfaces as a duplicate-key error and loses the claim.
func (r *repo) InsertProcessing(ctx context.Context, db *gorm.DB, payout *domain.Payout) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, event_id, organizer_id, gross_sales, platform_fee, net_amount,
			status, stripe_transfer_id, idempotency_key, failure_reason, notes,
			processed_at, created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM payouts WHERE event_id = ? AND status <> ?
		)`,
		payout.ID,
		payout.EventID,
		payout.OrganizerID,
		payout.GrossSales,
		payout.PlatformFee,
		payout.NetAmount,
		domain.PayoutStatusProcessing,
		payout.StripeTransferID,
		payout.IdempotencyKey,
		payout.FailureReason,
		payout.Notes,
		payout.ProcessedAt,
		payout.CreatedAt,
		payout.UpdatedAt,
		payout.EventID,
		domain.PayoutStatusFailed,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, stripe_transfer_id = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PayoutStatusCompleted,
		transferID,
		processedAt,
		processedAt,
		id,
		domain.PayoutStatusProcessing,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, failure_reason = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PayoutStatusFailed,
		strings.TrimSpace(reason),
		processedAt,
		processedAt,
		id,
		domain.PayoutStatusProcessing,
	).Error
}

func (r *repo) UpdateDownstreamStatus(ctx context.Context, db *gorm.DB, transferID string, downstream string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET downstream_status = ?, updated_at = ?
		 WHERE stripe_transfer_id = ? AND status = ?`,
		downstream,
		now,
		strings.TrimSpace(transferID),
		domain.PayoutStatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindCandidateEvents selects past events worth attempting. Events whose
// sales net of refunds cannot clear minSales are filtered out here, not
// just skipped later: a zero-sales backlog would otherwise occupy the
// ORDER BY head of every capped run and starve newer events forever.
func (r *repo) FindCandidateEvents(ctx context.Context, db *gorm.DB, before time.Time, minSales int64, limit int) ([]domain.CandidateEvent, error) {
	if minSales < 1 {
		minSales = 1
	}
	var candidates []domain.CandidateEvent
	err := db.WithContext(ctx).Raw(
		`SELECT e.id AS event_id, e.organizer_id, e.event_date
		 FROM events e
		 WHERE e.event_date <= ?
		   AND e.canceled_at IS NULL
		   AND NOT EXISTS (
			   SELECT 1 FROM payouts p
			   WHERE p.event_id = e.id AND p.status <> ?
		   )
		   AND (
			   SELECT COALESCE(SUM(pm.amount), 0) - COALESCE(SUM(pm.refunded_amount), 0)
			   FROM payments pm
			   WHERE pm.event_id = e.id AND pm.status IN (?, ?)
		   ) >= ?
		 ORDER BY e.event_date ASC, e.id ASC
		 LIMIT ?`,
		before,
		domain.PayoutStatusFailed,
		eventdomain.PaymentStatusPaid,
		eventdomain.PaymentStatusRefunded,
		minSales,
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *repo) InsertExecutionRecord(ctx context.Context, db *gorm.DB, record *domain.SchedulerExecutionRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO scheduler_executions (
			id, run_id, started_at, finished_at, window_to,
			candidate_count, succeeded_count, failed_count, skipped_count,
			total_transferred, dry_run, results, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RunID,
		record.StartedAt,
		record.FinishedAt,
		record.WindowTo,
		record.CandidateCount,
		record.SucceededCount,
		record.FailedCount,
		record.SkippedCount,
		record.TotalTransferred,
		record.DryRun,
		record.Results,
		record.Notes,
	).Error
}
