package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// DownstreamStatus is the bank-rail confirmation state pushed by the
// platform after the transfer itself already succeeded.
const (
	DownstreamStatusPaid   = "paid"
	DownstreamStatusFailed = "failed"
)

// Payout is the settlement row for one event. A partial unique index on
// event_id over non-failed rows backs the at-most-one-open-payout
// invariant:
//
//	CREATE UNIQUE INDEX uniq_payouts_open_event
//	ON payouts (event_id) WHERE status <> 'failed'
type Payout struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID          snowflake.ID `json:"event_id" gorm:"not null;index"`
	OrganizerID      snowflake.ID `json:"organizer_id" gorm:"not null;index"`
	GrossSales       int64        `json:"gross_sales" gorm:"not null"`
	PlatformFee      int64        `json:"platform_fee" gorm:"not null"`
	NetAmount        int64        `json:"net_amount" gorm:"not null"`
	Status           PayoutStatus `json:"status" gorm:"type:text;not null"`
	DownstreamStatus *string      `json:"downstream_status"`
	StripeTransferID *string      `json:"stripe_transfer_id"`
	IdempotencyKey   string       `json:"idempotency_key" gorm:"type:text;not null"`
	FailureReason    *string      `json:"failure_reason"`
	Notes            string       `json:"notes" gorm:"type:text"`
	ProcessedAt      *time.Time   `json:"processed_at"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

// IdempotencyKey derives the stable per-event transfer key. Crash-restarts
// and network retries reuse it, so the platform deduplicates the transfer.
func IdempotencyKey(eventID, organizerID snowflake.ID) string {
	return fmt.Sprintf("payout_%s_%s", eventID.String(), organizerID.String())
}

// AggregatedSales is derived from payment rows at the moment of computation,
// never persisted. Refunds must be reflected before any transfer decision.
type AggregatedSales struct {
	GrossSales     int64
	RefundCount    int
	RefundedAmount int64
}

func (a AggregatedSales) Net() int64 {
	return a.GrossSales - a.RefundedAmount
}

// Eligibility is the validator verdict plus the amounts it was computed from.
type Eligibility struct {
	Eligible    bool     `json:"eligible"`
	Reasons     []string `json:"reasons,omitempty"`
	GrossSales  int64    `json:"gross_sales"`
	RefundedAmt int64    `json:"refunded_amount"`
	PlatformFee int64    `json:"platform_fee"`
	NetAmount   int64    `json:"net_amount"`
}

// Stable reason codes returned by the eligibility validator.
const (
	ReasonEventNotEnded         = "event_not_ended"
	ReasonGracePeriodActive     = "grace_period_active"
	ReasonEventCanceled         = "event_canceled"
	ReasonNoSales               = "no_sales"
	ReasonBelowMinimumAmount    = "below_minimum_amount"
	ReasonConnectAccountMissing = "connect_account_missing"
	ReasonPayoutsDisabled       = "payouts_disabled"
	ReasonPayoutAlreadyExists   = "payout_already_exists"
)

// PayoutResult is what a successful settlement returns to its caller.
type PayoutResult struct {
	PayoutID         snowflake.ID `json:"payout_id"`
	TransferID       string       `json:"transfer_id"`
	NetAmount        int64        `json:"net_amount"`
	EstimatedArrival time.Time    `json:"estimated_arrival"`
}

// EventResult is one candidate's outcome inside a scheduler run.
type EventResult struct {
	EventID  snowflake.ID `json:"event_id"`
	PayoutID snowflake.ID `json:"payout_id,omitempty"`
	Status   string       `json:"status"`
	Amount   int64        `json:"amount,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

const (
	EventResultCompleted = "completed"
	EventResultFailed    = "failed"
	EventResultSkipped   = "skipped"
	EventResultDryRun    = "dry_run"
)

// SchedulerExecutionRecord is the write-once audit row for one batch run.
type SchedulerExecutionRecord struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	RunID            string         `json:"run_id" gorm:"type:text;not null;uniqueIndex"`
	StartedAt        time.Time      `json:"started_at" gorm:"not null"`
	FinishedAt       time.Time      `json:"finished_at" gorm:"not null"`
	WindowTo         time.Time      `json:"window_to" gorm:"not null"`
	CandidateCount   int            `json:"candidate_count" gorm:"not null"`
	SucceededCount   int            `json:"succeeded_count" gorm:"not null"`
	FailedCount      int            `json:"failed_count" gorm:"not null"`
	SkippedCount     int            `json:"skipped_count" gorm:"not null"`
	TotalTransferred int64          `json:"total_transferred" gorm:"not null"`
	DryRun           bool           `json:"dry_run" gorm:"not null"`
	Results          datatypes.JSON `json:"results" gorm:"type:jsonb"`
	Notes            string         `json:"notes" gorm:"type:text"`
}

func (SchedulerExecutionRecord) TableName() string { return "scheduler_executions" }
