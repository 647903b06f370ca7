package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"gorm.io/gorm"
)

const (
	WorkflowCreatePurchaseOrder  = "CreatePurchaseOrder"
	WorkflowReceivePurchaseOrder = "ReceivePurchaseOrder"
	WorkflowRecordPayment        = "RecordPurchaseOrderPayment"
	WorkflowDeletePurchaseOrder  = "DeletePurchaseOrder"
)

func requireBusinessId(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}
	return businessId, nil
}

func correlationId(ctx context.Context) string {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	return cid
}

// CreatePurchaseOrder inserts the order and its items, bills the creditor for
// the items total and applies the optional initial payment, all in one
// transaction. Variable costs are recorded on the order but never billed.
func CreatePurchaseOrder(ctx context.Context, input *models.NewPurchaseOrder) (*models.PurchaseOrder, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if replay, ok, err := replaySucceeded[models.PurchaseOrder](ctx, WorkflowCreatePurchaseOrder, businessId); err != nil || ok {
		return replay, err
	}
	if err := input.Validate(config.PaymentEpsilon()); err != nil {
		return nil, err
	}

	actor := utils.GetActorFromContext(ctx)
	cid := correlationId(ctx)
	w := &workflowRun{
		name:       WorkflowCreatePurchaseOrder,
		businessId: businessId,
		lockKeys:   []string{CreditorLockKey(input.CreditorId), PurchaseOrderNumberLockKey(businessId)},
	}
	return runWorkflow(ctx, w, func(tx *gorm.DB) (*models.PurchaseOrder, int, error) {
		w.at("validate references")
		if err := input.ValidateReferences(tx, businessId); err != nil {
			return nil, 0, err
		}

		w.at("insert order")
		order, err := models.InsertPurchaseOrder(tx, businessId, input, actor)
		if err != nil {
			return nil, 0, err
		}

		if order.TotalAmount.IsPositive() {
			w.at("append bill")
			bill := models.CreditorTransaction{
				BusinessId:      businessId,
				CreditorId:      order.CreditorId,
				Type:            models.CreditorTransactionTypeBill,
				Amount:          order.TotalAmount,
				ReferenceNumber: order.OrderNumber,
				PurchaseOrderId: order.ID,
			}
			if err := models.AppendCreditorTransaction(tx, &bill); err != nil {
				return nil, 0, err
			}
			w.at("update creditor balance")
			if err := models.AdjustCreditorBalance(tx, businessId, order.CreditorId, order.TotalAmount); err != nil {
				return nil, 0, err
			}
		}

		if input.InitialPaymentAmount().IsPositive() {
			w.at("apply initial payment")
			if _, err := models.ApplyPurchaseOrderPayment(tx, order, input.InitialPayment, actor, time.Now().UTC()); err != nil {
				return nil, 0, err
			}
		}

		return finishWorkflow(tx, w, models.PurchaseEventActionCreate, businessId, order.ID, cid)
	})
}

// ReceivePurchaseOrder allocates the variable costs over the items, posts the
// stock and overwrites each variant's cost price with its landed unit cost.
// An order can be received once.
func ReceivePurchaseOrder(ctx context.Context, id int) (*models.PurchaseOrder, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if replay, ok, err := replaySucceeded[models.PurchaseOrder](ctx, WorkflowReceivePurchaseOrder, businessId); err != nil || ok {
		return replay, err
	}
	current, err := models.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	actor := utils.GetActorFromContext(ctx)
	cid := correlationId(ctx)
	w := &workflowRun{
		name:       WorkflowReceivePurchaseOrder,
		businessId: businessId,
		lockKeys:   []string{PurchaseOrderLockKey(current.ID)},
	}
	return runWorkflow(ctx, w, func(tx *gorm.DB) (*models.PurchaseOrder, int, error) {
		w.at("lock order")
		order, err := models.LockPurchaseOrder(tx, businessId, id)
		if err != nil {
			return nil, 0, err
		}

		now := time.Now().UTC()
		w.at("mark received")
		if err := models.MarkPurchaseOrderReceived(tx, businessId, order.ID, now); err != nil {
			return nil, 0, err
		}

		w.at("allocate landed cost")
		allocations, err := models.AllocateLandedCost(order.LandedCostLines(), order.VariableCosts())
		if err != nil {
			return nil, 0, err
		}

		for _, alloc := range allocations {
			w.at(fmt.Sprintf("receive item %d", alloc.ItemId))
			if _, err := models.PostInventoryMovement(tx, businessId, models.InventoryMovement{
				VariantId:       alloc.VariantId,
				QuantityChange:  alloc.Quantity,
				TransactionType: models.InventoryTransactionTypePurchaseReceive,
				ReferenceType:   models.InventoryReferenceTypePurchaseOrder,
				ReferenceId:     order.ID,
				Notes:           "Received " + order.OrderNumber,
				CreatedBy:       actor,
			}, now); err != nil {
				return nil, 0, err
			}
			if err := models.SetVariantCostPrice(tx, businessId, alloc.VariantId, alloc.LandedUnitCost); err != nil {
				return nil, 0, err
			}
			if err := models.SetItemLandedUnitCost(tx, alloc.ItemId, alloc.LandedUnitCost); err != nil {
				return nil, 0, err
			}
		}

		return finishWorkflow(tx, w, models.PurchaseEventActionReceive, businessId, order.ID, cid)
	})
}

// RecordPurchaseOrderPayment adds a payment of at most the remaining balance
// (plus the configured epsilon) and moves the order status forward.
func RecordPurchaseOrderPayment(ctx context.Context, id int, input *models.NewPurchaseOrderPayment) (*models.PurchaseOrder, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if replay, ok, err := replaySucceeded[models.PurchaseOrder](ctx, WorkflowRecordPayment, businessId); err != nil || ok {
		return replay, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	current, err := models.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	epsilon := config.PaymentEpsilon()
	actor := utils.GetActorFromContext(ctx)
	cid := correlationId(ctx)
	w := &workflowRun{
		name:       WorkflowRecordPayment,
		businessId: businessId,
		lockKeys:   []string{CreditorLockKey(current.CreditorId), PurchaseOrderLockKey(current.ID)},
	}
	return runWorkflow(ctx, w, func(tx *gorm.DB) (*models.PurchaseOrder, int, error) {
		w.at("lock order")
		order, err := models.LockPurchaseOrder(tx, businessId, id)
		if err != nil {
			return nil, 0, err
		}
		if err := models.ValidatePaymentAmount(order, input.Amount, epsilon); err != nil {
			return nil, 0, err
		}
		w.at("lock creditor")
		if _, err := models.LockCreditor(tx, businessId, order.CreditorId); err != nil {
			return nil, 0, err
		}

		w.at("apply payment")
		if _, err := models.ApplyPurchaseOrderPayment(tx, order, input, actor, time.Now().UTC()); err != nil {
			return nil, 0, err
		}

		return finishWorkflow(tx, w, models.PurchaseEventActionPayment, businessId, order.ID, cid)
	})
}

// DeletePurchaseOrder is the compensating workflow: it reverses received
// stock, takes the unpaid part of the order off the creditor balance and
// removes the order with its items, payments and ledger rows.
// Variant cost prices are left as they are.
func DeletePurchaseOrder(ctx context.Context, id int) (*models.PurchaseOrder, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if replay, ok, err := replaySucceeded[models.PurchaseOrder](ctx, WorkflowDeletePurchaseOrder, businessId); err != nil || ok {
		return replay, err
	}
	current, err := models.GetPurchaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	actor := utils.GetActorFromContext(ctx)
	cid := correlationId(ctx)
	w := &workflowRun{
		name:       WorkflowDeletePurchaseOrder,
		businessId: businessId,
		lockKeys:   []string{CreditorLockKey(current.CreditorId), PurchaseOrderLockKey(current.ID)},
	}
	return runWorkflow(ctx, w, func(tx *gorm.DB) (*models.PurchaseOrder, int, error) {
		w.at("lock order")
		if _, err := models.LockPurchaseOrder(tx, businessId, id); err != nil {
			return nil, 0, err
		}
		snapshot, err := models.FetchPurchaseOrder(tx, businessId, id)
		if err != nil {
			return nil, 0, err
		}
		w.at("lock creditor")
		if _, err := models.LockCreditor(tx, businessId, snapshot.CreditorId); err != nil {
			return nil, 0, err
		}

		if snapshot.IsReceived() {
			now := time.Now().UTC()
			for _, item := range snapshot.Items {
				w.at(fmt.Sprintf("reverse item %d", item.ID))
				if _, err := models.PostInventoryMovement(tx, businessId, models.InventoryMovement{
					VariantId:       item.VariantId,
					QuantityChange:  item.Quantity.Neg(),
					TransactionType: models.InventoryTransactionTypePurchaseReversal,
					ReferenceType:   models.InventoryReferenceTypePurchaseOrder,
					ReferenceId:     snapshot.ID,
					Notes:           "Deleted " + snapshot.OrderNumber,
					CreatedBy:       actor,
				}, now); err != nil {
					return nil, 0, err
				}
			}
		}

		w.at("update creditor balance")
		if err := models.AdjustCreditorBalance(tx, businessId, snapshot.CreditorId, snapshot.RemainingBalance().Neg()); err != nil {
			return nil, 0, err
		}
		w.at("delete ledger entries")
		if _, err := models.DeleteCreditorTransactionsByPurchaseOrder(tx, businessId, snapshot.ID); err != nil {
			return nil, 0, err
		}
		w.at("delete payments")
		if err := models.DeletePurchaseOrderPayments(tx, businessId, snapshot.ID); err != nil {
			return nil, 0, err
		}
		w.at("delete order")
		if err := models.DeletePurchaseOrderRows(tx, businessId, snapshot.ID); err != nil {
			return nil, 0, err
		}

		w.at("append event")
		if err := models.AppendPurchaseOrderEvent(tx, models.PurchaseEventActionDelete, snapshot, cid); err != nil {
			return nil, 0, err
		}
		return snapshot, snapshot.ID, nil
	})
}

// finishWorkflow reloads the aggregate and appends its outbox event.
func finishWorkflow(tx *gorm.DB, w *workflowRun, action models.PurchaseEventAction, businessId string, id int, cid string) (*models.PurchaseOrder, int, error) {
	w.at("reload order")
	order, err := models.FetchPurchaseOrder(tx, businessId, id)
	if err != nil {
		return nil, 0, err
	}
	w.at("append event")
	if err := models.AppendPurchaseOrderEvent(tx, action, order, cid); err != nil {
		return nil, 0, err
	}
	return order, order.ID, nil
}
