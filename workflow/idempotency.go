package workflow

import (
	"encoding/json"
	"errors"

	"github.com/mmdatafocus/purchase_ledger/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var idempotencyConflictColumns = []clause.Column{{Name: "business_id"}, {Name: "handler_name"}, {Name: "message_id"}}

// FindSucceededIdempotency returns the stored outcome for a key that already
// succeeded, or nil. It runs inside the workflow transaction so a concurrent
// request on the same aggregate sees the committed row.
func FindSucceededIdempotency(tx *gorm.DB, businessId, handlerName, messageId string) (*models.IdempotencyKey, error) {
	var existing models.IdempotencyKey
	err := tx.Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Status != models.IdempotencyStatusSucceeded {
		return nil, nil
	}
	return &existing, nil
}

// MarkIdempotencySucceeded stores the response in the same transaction as the
// workflow writes, so the key and the writes commit together.
func MarkIdempotencySucceeded(tx *gorm.DB, businessId, handlerName, messageId string, referenceId int, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	key := models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusSucceeded,
		ReferenceId: referenceId,
		Response:    string(body),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   idempotencyConflictColumns,
		DoUpdates: clause.AssignmentColumns([]string{"status", "reference_id", "response", "last_error", "updated_at"}),
	}).Create(&key).Error
}

// MarkIdempotencyFailed runs after rollback, outside the workflow transaction.
// A failed key does not block a retry with the same key. A key that already
// succeeded is left untouched, so a late duplicate cannot stop its replay.
func MarkIdempotencyFailed(db *gorm.DB, businessId, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res := db.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ? AND status <> ?",
			businessId, handlerName, messageId, models.IdempotencyStatusSucceeded).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusFailed,
			"last_error": &msg,
		})
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	key := models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusFailed,
		LastError:   &msg,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   idempotencyConflictColumns,
		DoNothing: true,
	}).Create(&key).Error
}
