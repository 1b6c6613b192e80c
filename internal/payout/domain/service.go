package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PayoutRequest asks for one event to be settled. Manual marks operator
// triggers; scheduled sweeps leave it false.
type PayoutRequest struct {
	EventID     snowflake.ID
	OrganizerID snowflake.ID
	Notes       string
	Manual      bool
}

type Service interface {
	ProcessPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

type Repository interface {
	AggregateSales(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (AggregatedSales, error)
	FindNonFailedByEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (*Payout, error)
	InsertProcessing(ctx context.Context, db *gorm.DB, payout *Payout) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, processedAt time.Time) error
	UpdateDownstreamStatus(ctx context.Context, db *gorm.DB, transferID string, downstream string, now time.Time) (bool, error)
	FindCandidateEvents(ctx context.Context, db *gorm.DB, before time.Time, minSales int64, limit int) ([]CandidateEvent, error)
	InsertExecutionRecord(ctx context.Context, db *gorm.DB, record *SchedulerExecutionRecord) error
}

// CandidateEvent is the scheduler's claim row: a past event with enough
// sales to pay out and no non-failed payout yet.
type CandidateEvent struct {
	EventID     snowflake.ID
	OrganizerID snowflake.ID
	EventDate   time.Time
}
