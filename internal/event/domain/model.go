package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Event struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizerID snowflake.ID `json:"organizer_id" gorm:"not null;index"`
	Title       string       `json:"title" gorm:"type:text;not null"`
	Fee         int64        `json:"fee" gorm:"not null"`
	EventDate   time.Time    `json:"event_date" gorm:"not null;index"`
	CanceledAt  *time.Time   `json:"canceled_at"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Event) TableName() string { return "events" }

func (e Event) Canceled() bool {
	return e.CanceledAt != nil
}

// PaymentRecord is one completed attendee payment. Rows are written by the
// collection path; the settlement engine only aggregates over them.
type PaymentRecord struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID        snowflake.ID `json:"event_id" gorm:"not null;index"`
	AttendeeID     snowflake.ID `json:"attendee_id" gorm:"not null"`
	Amount         int64        `json:"amount" gorm:"not null"`
	Status         string       `json:"status" gorm:"type:text;not null"`
	RefundedAmount int64        `json:"refunded_amount" gorm:"not null;default:0"`
	PaidAt         time.Time    `json:"paid_at" gorm:"not null"`
	RefundedAt     *time.Time   `json:"refunded_at"`
}

func (PaymentRecord) TableName() string { return "payments" }

const (
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
}

var (
	ErrNotFound  = errors.New("event_not_found")
	ErrInvalidID = errors.New("invalid_event_id")
)
