package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for PurchaseOrderEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// PurchaseOrderEvent is written in the same transaction as the workflow it
// describes and published after commit by the outbox dispatcher.
type PurchaseOrderEvent struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	BusinessId       string              `gorm:"size:64;index;not null" json:"business_id"`
	PurchaseOrderId  int                 `gorm:"index;not null" json:"purchase_order_id"`
	CreditorId       int                 `gorm:"index;not null" json:"creditor_id"`
	Action           PurchaseEventAction `gorm:"size:1;not null" json:"action"`
	Payload          string              `gorm:"type:text" json:"payload"`
	CorrelationId    string              `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string              `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time          `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time          `json:"locked_at"`
	LockedBy         *string             `gorm:"size:64" json:"locked_by"`
	LastPublishError *string             `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string             `gorm:"size:255" json:"pub_sub_message_id"`
	PublishedAt      *time.Time          `json:"published_at"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppendPurchaseOrderEvent snapshots order into the outbox inside tx.
func AppendPurchaseOrderEvent(tx *gorm.DB, action PurchaseEventAction, order *PurchaseOrder, correlationId string) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	event := PurchaseOrderEvent{
		BusinessId:      order.BusinessId,
		PurchaseOrderId: order.ID,
		CreditorId:      order.CreditorId,
		Action:          action,
		Payload:         string(payload),
		CorrelationId:   correlationId,
		PublishStatus:   OutboxPublishStatusPending,
	}
	return tx.Create(&event).Error
}

func (e PurchaseOrderEvent) ToMessage() config.PurchaseEventMessage {
	return config.PurchaseEventMessage{
		ID:              e.ID,
		BusinessId:      e.BusinessId,
		EventDateTime:   e.CreatedAt,
		PurchaseOrderId: e.PurchaseOrderId,
		CreditorId:      e.CreditorId,
		Action:          string(e.Action),
		Payload:         []byte(e.Payload),
		CorrelationId:   e.CorrelationId,
	}
}

// ReplayPurchaseOrderEvents puts DEAD and FAILED events of the business back
// to PENDING with a fresh attempt budget.
func ReplayPurchaseOrderEvents(ctx context.Context) (int64, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, errors.New("business id is required")
	}

	db := config.GetDB()
	res := db.WithContext(ctx).
		Model(&PurchaseOrderEvent{}).
		Where("business_id = ? AND publish_status IN ?", businessId, []string{OutboxPublishStatusDead, OutboxPublishStatusFailed}).
		Updates(map[string]interface{}{
			"publish_status":   OutboxPublishStatusPending,
			"publish_attempts": 0,
			"next_attempt_at":  nil,
			"locked_at":        nil,
			"locked_by":        nil,
		})
	return res.RowsAffected, res.Error
}

func GetPurchaseOrderEvents(ctx context.Context, purchaseOrderId int) ([]*PurchaseOrderEvent, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*PurchaseOrderEvent
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND purchase_order_id = ?", businessId, purchaseOrderId).
		Order("id").
		Find(&results).Error
	return results, err
}
