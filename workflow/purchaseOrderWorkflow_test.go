package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentsMoveOrderToCompleted(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 2)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100"), f.item(1, "20", "200")},
	})
	require.NoError(t, err)
	assert.Equal(t, "PO-000001", order.OrderNumber)
	assert.Equal(t, models.PurchaseOrderStatusPending, order.Status)
	requireDecimal(t, "5000", order.TotalAmount)
	requireDecimal(t, "5000", creditorBalance(t, ctx, f.creditor.ID))

	order, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("2000")})
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusPartial, order.Status)
	requireDecimal(t, "2000", order.PaidAmount)
	requireDecimal(t, "3000", creditorBalance(t, ctx, f.creditor.ID))

	order, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{
		Amount: dec("3000"),
		Method: models.PaymentMethodBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusCompleted, order.Status)
	requireDecimal(t, "5000", order.PaidAmount)
	require.Len(t, order.Payments, 2)
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))

	statement, err := models.GetCreditorStatement(ctx, f.creditor.ID)
	require.NoError(t, err)
	assert.True(t, statement.InBalance)
	require.Len(t, statement.Lines, 3)
	assert.Equal(t, models.CreditorTransactionTypeBill, statement.Lines[0].Type)
	assert.Equal(t, "PO-000001", statement.Lines[0].ReferenceNumber)
	assert.Equal(t, "PAY-PO-000001", statement.Lines[1].ReferenceNumber)
	for _, line := range statement.Lines {
		assert.Equal(t, order.ID, line.PurchaseOrderId)
	}

	events, err := models.GetPurchaseOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.PurchaseEventActionCreate, events[0].Action)
	assert.Equal(t, models.PurchaseEventActionPayment, events[2].Action)
	assert.Equal(t, "cid-test", events[0].CorrelationId)

	assert.Equal(t, int64(2), countRows[models.PurchaseOrderPayment](t, db, "purchase_order_id = ?", order.ID))
}

func TestOverpaymentIsRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId:     f.creditor.ID,
		Items:          []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
		InitialPayment: &models.NewPurchaseOrderPayment{Amount: dec("800")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusPartial, order.Status)
	requireDecimal(t, "200", creditorBalance(t, ctx, f.creditor.ID))

	_, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("300")})
	var over *models.OverpaymentError
	require.True(t, errors.As(err, &over), "got %v", err)
	requireDecimal(t, "200", over.Remaining)

	reloaded, err := models.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, "800", reloaded.PaidAmount)
	assert.Len(t, reloaded.Payments, 1)
	requireDecimal(t, "200", creditorBalance(t, ctx, f.creditor.ID))

	order, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("200")})
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusCompleted, order.Status)
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))
	assert.Equal(t, int64(2), countRows[models.CreditorTransaction](t, db, "purchase_order_id = ? AND type = ?", order.ID, models.CreditorTransactionTypePayment))
}

func TestPaymentInputIsValidatedBeforeLookup(t *testing.T) {
	openTestDB(t)
	ctx := testContext()

	_, err := RecordPurchaseOrderPayment(ctx, 999, &models.NewPurchaseOrderPayment{Amount: dec("0")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = RecordPurchaseOrderPayment(ctx, 999, &models.NewPurchaseOrderPayment{Amount: dec("10")})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateRejectsUnknownReferences(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	_, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID + 100,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "1", "10")},
	})
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Equal(t, "creditor", nf.Resource)

	_, err = CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items: []models.NewPurchaseOrderItem{
			f.item(0, "1", "10"),
			{VariantId: 4242, Quantity: dec("1"), UnitCost: dec("10")},
		},
	})
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Equal(t, 4242, nf.ID)

	assert.Equal(t, int64(0), countRows[models.PurchaseOrder](t, db, "business_id = ?", testBusinessId))
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))
}

func TestZeroTotalOrderIsCompletedWithoutBill(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "3", "0")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseOrderStatusCompleted, order.Status)
	assert.Equal(t, int64(0), countRows[models.CreditorTransaction](t, db, "purchase_order_id = ?", order.ID))

	second, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "1", "5")},
	})
	require.NoError(t, err)
	assert.Equal(t, "PO-000002", second.OrderNumber)
}

func TestReceiveAllocatesLandedCost(t *testing.T) {
	openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 2)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId:   f.creditor.ID,
		Items:        []models.NewPurchaseOrderItem{f.item(0, "10", "100"), f.item(1, "5", "600")},
		FreightCost:  dec("200"),
		CustomsCost:  dec("150"),
		HandlingCost: dec("50"),
	})
	require.NoError(t, err)
	requireDecimal(t, "4000", order.TotalAmount)

	order, err = ReceivePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, order.ReceivedAt)
	require.Len(t, order.Items, 2)
	require.NotNil(t, order.Items[0].LandedUnitCost)
	requireDecimal(t, "110", *order.Items[0].LandedUnitCost)
	requireDecimal(t, "660", *order.Items[1].LandedUnitCost)

	requireDecimal(t, "10", inventoryQuantity(t, ctx, f.variants[0].ID))
	requireDecimal(t, "5", inventoryQuantity(t, ctx, f.variants[1].ID))

	variant, err := models.GetProductVariant(ctx, f.variants[1].ID)
	require.NoError(t, err)
	requireDecimal(t, "660", variant.CostPrice)

	// variable costs never reach the creditor ledger
	requireDecimal(t, "4000", creditorBalance(t, ctx, f.creditor.ID))
	assert.Equal(t, models.PurchaseOrderStatusPending, order.Status)

	_, err = ReceivePurchaseOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyReceived)
	requireDecimal(t, "10", inventoryQuantity(t, ctx, f.variants[0].ID))

	txns, err := models.GetInventoryTransactions(ctx, f.variants[0].ID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestReceiveFailureLeavesNothingPosted(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 2)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100"), f.item(1, "5", "600")},
	})
	require.NoError(t, err)

	// second item's variant disappears after ordering
	require.NoError(t, db.Delete(&models.ProductVariant{}, f.variants[1].ID).Error)

	_, err = ReceivePurchaseOrder(ctx, order.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	reloaded, err := models.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.ReceivedAt)
	assert.Nil(t, reloaded.Items[0].LandedUnitCost)
	requireDecimal(t, "0", inventoryQuantity(t, ctx, f.variants[0].ID))
	assert.Equal(t, int64(0), countRows[models.InventoryTransaction](t, db, "reference_id = ?", order.ID))
}

func TestDeleteRestoresCreditorBalance(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	_, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	require.NoError(t, err)
	requireDecimal(t, "1000", creditorBalance(t, ctx, f.creditor.ID))

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId:     f.creditor.ID,
		Items:          []models.NewPurchaseOrderItem{f.item(0, "50", "100")},
		InitialPayment: &models.NewPurchaseOrderPayment{Amount: dec("2000")},
	})
	require.NoError(t, err)
	requireDecimal(t, "4000", creditorBalance(t, ctx, f.creditor.ID))

	deleted, err := DeletePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, deleted.OrderNumber)
	requireDecimal(t, "1000", creditorBalance(t, ctx, f.creditor.ID))

	_, err = models.GetPurchaseOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int64(0), countRows[models.CreditorTransaction](t, db, "purchase_order_id = ?", order.ID))
	assert.Equal(t, int64(0), countRows[models.PurchaseOrderPayment](t, db, "purchase_order_id = ?", order.ID))
	assert.Equal(t, int64(0), countRows[models.PurchaseOrderItem](t, db, "purchase_order_id = ?", order.ID))

	statement, err := models.GetCreditorStatement(ctx, f.creditor.ID)
	require.NoError(t, err)
	assert.True(t, statement.InBalance)

	events, err := models.GetPurchaseOrderEvents(ctx, order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.PurchaseEventActionDelete, events[len(events)-1].Action)

	_, err = DeletePurchaseOrder(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteReceivedOrderReversesStock(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId:  f.creditor.ID,
		Items:       []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
		FreightCost: dec("100"),
	})
	require.NoError(t, err)
	_, err = ReceivePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, "10", inventoryQuantity(t, ctx, f.variants[0].ID))

	_, err = DeletePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", inventoryQuantity(t, ctx, f.variants[0].ID))
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))
	assert.Equal(t, int64(1), countRows[models.InventoryTransaction](t, db, "reference_id = ? AND transaction_type = ?",
		order.ID, models.InventoryTransactionTypePurchaseReversal))

	// cost price keeps the last landed cost
	variant, err := models.GetProductVariant(ctx, f.variants[0].ID)
	require.NoError(t, err)
	requireDecimal(t, "110", variant.CostPrice)
}

func TestDeleteReceivedOrderWithConsumedStockFails(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	require.NoError(t, err)
	_, err = ReceivePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)

	// stock sold elsewhere
	require.NoError(t, db.Model(&models.Inventory{}).
		Where("business_id = ? AND variant_id = ?", testBusinessId, f.variants[0].ID).
		Update("quantity", dec("4")).Error)

	_, err = DeletePurchaseOrder(ctx, order.ID)
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	reloaded, err := models.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.ReceivedAt)
	requireDecimal(t, "1000", creditorBalance(t, ctx, f.creditor.ID))
	requireDecimal(t, "4", inventoryQuantity(t, ctx, f.variants[0].ID))
}

func TestIdempotentPaymentIsReplayed(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	require.NoError(t, err)

	keyed := utils.SetIdempotencyKeyInContext(ctx, "pay-once")
	first, err := RecordPurchaseOrderPayment(keyed, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("400")})
	require.NoError(t, err)
	second, err := RecordPurchaseOrderPayment(keyed, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("400")})
	require.NoError(t, err)

	requireDecimal(t, "400", first.PaidAmount)
	requireDecimal(t, "400", second.PaidAmount)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, int64(1), countRows[models.PurchaseOrderPayment](t, db, "purchase_order_id = ?", order.ID))
	requireDecimal(t, "600", creditorBalance(t, ctx, f.creditor.ID))

	var key models.IdempotencyKey
	require.NoError(t, db.Where("message_id = ?", "pay-once").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)
	assert.Equal(t, order.ID, key.ReferenceId)

	// a repeated delete replays instead of reporting the order missing
	delKeyed := utils.SetIdempotencyKeyInContext(ctx, "delete-once")
	_, err = DeletePurchaseOrder(delKeyed, order.ID)
	require.NoError(t, err)
	replayed, err := DeletePurchaseOrder(delKeyed, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, replayed.OrderNumber)
}

func TestConcurrentPaymentsDoNotOverpay(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "30", "100")},
	})
	require.NoError(t, err)

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("1000")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, models.ErrOverpayment):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, rejected)

	reloaded, err := models.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, "3000", reloaded.PaidAmount)
	assert.Equal(t, models.PurchaseOrderStatusCompleted, reloaded.Status)
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))
	assert.Equal(t, int64(3), countRows[models.PurchaseOrderPayment](t, db, "purchase_order_id = ?", order.ID))
}

func TestInfrastructureFailureIsReportedWithStep(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 1)

	require.NoError(t, db.Migrator().DropTable(&models.PurchaseOrderEvent{}))

	keyed := utils.SetIdempotencyKeyInContext(ctx, "create-1")
	_, err := CreatePurchaseOrder(keyed, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	var partial *models.PartialFailureError
	require.True(t, errors.As(err, &partial), "got %v", err)
	assert.Equal(t, WorkflowCreatePurchaseOrder, partial.Workflow)
	assert.Equal(t, "append event", partial.Step)
	assert.True(t, partial.RolledBack)

	assert.Equal(t, int64(0), countRows[models.PurchaseOrder](t, db, "business_id = ?", testBusinessId))
	assert.Equal(t, int64(0), countRows[models.CreditorTransaction](t, db, "business_id = ?", testBusinessId))
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))

	var key models.IdempotencyKey
	require.NoError(t, db.Where("message_id = ?", "create-1").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)

	// a failed key does not block the retry
	require.NoError(t, db.AutoMigrate(&models.PurchaseOrderEvent{}))
	order, err := CreatePurchaseOrder(keyed, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "10", "100")},
	})
	require.NoError(t, err)
	assert.Equal(t, "PO-000001", order.OrderNumber)
	requireDecimal(t, "1000", creditorBalance(t, ctx, f.creditor.ID))
}

func TestFractionalAmountsStayExact(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext()
	f := seedFixture(t, ctx, 2)

	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "1", "0.1"), f.item(1, "1.5", "0.1333")},
	})
	require.NoError(t, err)
	// 1.5 x 0.1333 = 0.19995, stored at four places
	requireDecimal(t, "0.3", order.TotalAmount)

	var items []models.PurchaseOrderItem
	require.NoError(t, db.Where("purchase_order_id = ?", order.ID).Find(&items).Error)
	subtotal := dec("0")
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal)
	}
	requireDecimal(t, "0.3", subtotal)

	_, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("0.1")})
	require.NoError(t, err)
	order, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("0.2")})
	require.NoError(t, err)

	requireDecimal(t, "0.3", order.PaidAmount)
	assert.Equal(t, models.PurchaseOrderStatusCompleted, order.Status)
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))

	statement, err := models.GetCreditorStatement(ctx, f.creditor.ID)
	require.NoError(t, err)
	assert.True(t, statement.InBalance, "folded %s cached %s", statement.FoldedBalance, statement.CachedBalance)

	_, err = RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("0.00001")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}
