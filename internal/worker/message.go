package worker

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WebhookMessage is the dedup ledger for relay deliveries. A claimed row
// means some worker already owns (or finished) that message id.
type WebhookMessage struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	MessageID  string       `json:"message_id" gorm:"type:text;not null;uniqueIndex"`
	EventID    string       `json:"event_id" gorm:"type:text;not null"`
	EventType  string       `json:"event_type" gorm:"type:text;not null"`
	Result     string       `json:"result" gorm:"type:text;not null"`
	ReceivedAt time.Time    `json:"received_at" gorm:"not null"`
}

func (WebhookMessage) TableName() string { return "webhook_messages" }

func claimMessage(ctx context.Context, db *gorm.DB, msg *WebhookMessage) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_messages (id, message_id, event_id, event_type, result, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`,
		msg.ID,
		msg.MessageID,
		msg.EventID,
		msg.EventType,
		msg.Result,
		msg.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func finishMessage(ctx context.Context, db *gorm.DB, messageID, result string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_messages SET result = ? WHERE message_id = ?`,
		result,
		messageID,
	).Error
}

// releaseMessage drops the claim so the relay's next retry is processed
// instead of deduplicated away.
func releaseMessage(ctx context.Context, db *gorm.DB, messageID string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM webhook_messages WHERE message_id = ?`,
		messageID,
	).Error
}
