package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rytkhs/event-pay-sub012/internal/connect/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrganizer(ctx context.Context, db *gorm.DB, organizerID snowflake.ID) (*domain.ConnectAccount, error) {
	var item domain.ConnectAccount
	err := db.WithContext(ctx).Raw(
		`SELECT organizer_id, stripe_account_id, charges_enabled, payouts_enabled, updated_at
		 FROM connect_accounts
		 WHERE organizer_id = ?
		 LIMIT 1`,
		organizerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.OrganizerID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindByStripeAccount returns ErrAccountNotFound when no organizer links
// to the platform account; webhook handlers treat that as terminal.
func (r *repo) FindByStripeAccount(ctx context.Context, db *gorm.DB, stripeAccountID string) (*domain.ConnectAccount, error) {
	stripeAccountID = strings.TrimSpace(stripeAccountID)
	if stripeAccountID == "" {
		return nil, domain.ErrAccountNotFound
	}
	var item domain.ConnectAccount
	err := db.WithContext(ctx).Raw(
		`SELECT organizer_id, stripe_account_id, charges_enabled, payouts_enabled, updated_at
		 FROM connect_accounts
		 WHERE stripe_account_id = ?
		 LIMIT 1`,
		stripeAccountID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.OrganizerID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return &item, nil
}

func (r *repo) UpdateFlags(ctx context.Context, db *gorm.DB, stripeAccountID string, chargesEnabled, payoutsEnabled bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE connect_accounts
		 SET charges_enabled = ?, payouts_enabled = ?, updated_at = ?
		 WHERE stripe_account_id = ?`,
		chargesEnabled,
		payoutsEnabled,
		now,
		strings.TrimSpace(stripeAccountID),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
