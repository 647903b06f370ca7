package workflow

import (
	"context"
	"testing"

	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkFailedKeepsSucceededKey(t *testing.T) {
	db := openTestDB(t)

	tx := testDBBegin(t)
	require.NoError(t, MarkIdempotencySucceeded(tx, testBusinessId, WorkflowRecordPayment, "k1", 7, map[string]int{"id": 7}))
	require.NoError(t, tx.Commit().Error)

	require.NoError(t, MarkIdempotencyFailed(db, testBusinessId, WorkflowRecordPayment, "k1", context.DeadlineExceeded))

	key, err := FindSucceededIdempotency(db, testBusinessId, WorkflowRecordPayment, "k1")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, 7, key.ReferenceId)
	assert.Nil(t, key.LastError)
}

func TestMarkFailedRecordsAndAllowsRetry(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, MarkIdempotencyFailed(db, testBusinessId, WorkflowRecordPayment, "k2", context.Canceled))
	require.NoError(t, MarkIdempotencyFailed(db, testBusinessId, WorkflowRecordPayment, "k2", context.DeadlineExceeded))

	var key models.IdempotencyKey
	require.NoError(t, db.Where("message_id = ?", "k2").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)
	require.NotNil(t, key.LastError)
	assert.Equal(t, context.DeadlineExceeded.Error(), *key.LastError)
	assert.Equal(t, int64(1), countRows[models.IdempotencyKey](t, db, "message_id = ?", "k2"))

	tx := testDBBegin(t)
	require.NoError(t, MarkIdempotencySucceeded(tx, testBusinessId, WorkflowRecordPayment, "k2", 3, nil))
	require.NoError(t, tx.Commit().Error)

	found, err := FindSucceededIdempotency(db, testBusinessId, WorkflowRecordPayment, "k2")
	require.NoError(t, err)
	require.NotNil(t, found)
}

// A duplicate that fails after the first request committed must not stop
// later retries from replaying.
func TestLateDuplicateFailureStillReplays(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	require.NoError(t, err)

	keyed := utils.SetIdempotencyKeyInContext(ctx, "pay-late")
	_, err = RecordPurchaseOrderPayment(keyed, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("300")})
	require.NoError(t, err)

	require.NoError(t, MarkIdempotencyFailed(db, testBusinessId, WorkflowRecordPayment, "pay-late", context.DeadlineExceeded))

	replayed, err := RecordPurchaseOrderPayment(keyed, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("300")})
	require.NoError(t, err)
	requireDecimal(t, "300", replayed.PaidAmount)
	assert.Equal(t, int64(1), countRows[models.PurchaseOrderPayment](t, db, "purchase_order_id = ?", order.ID))
	requireDecimal(t, "700", creditorBalance(t, ctx, f.creditor.ID))
}
