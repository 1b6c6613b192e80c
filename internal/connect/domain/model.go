package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ConnectAccount mirrors the organizer's account state on the payment
// platform. Only the webhook reconciler writes these rows; the settlement
// path reads them.
type ConnectAccount struct {
	OrganizerID     snowflake.ID `json:"organizer_id" gorm:"primaryKey"`
	StripeAccountID string       `json:"stripe_account_id" gorm:"type:text;not null"`
	ChargesEnabled  bool         `json:"charges_enabled" gorm:"not null"`
	PayoutsEnabled  bool         `json:"payouts_enabled" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (ConnectAccount) TableName() string { return "connect_accounts" }

type Repository interface {
	FindByOrganizer(ctx context.Context, db *gorm.DB, organizerID snowflake.ID) (*ConnectAccount, error)
	FindByStripeAccount(ctx context.Context, db *gorm.DB, stripeAccountID string) (*ConnectAccount, error)
	UpdateFlags(ctx context.Context, db *gorm.DB, stripeAccountID string, chargesEnabled, payoutsEnabled bool, now time.Time) (bool, error)
}

var ErrAccountNotFound = errors.New("connect_account_not_found")
