package models

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReconciliationResult struct {
	CorrelationId string                 `json:"correlation_id"`
	Checked       map[string]int         `json:"checked"`
	Mismatches    []ReconciliationReport `json:"mismatches"`
}

type sumByRef struct {
	RefId int
	Total decimal.Decimal
}

// RunLedgerReconciliationChecks folds the payment, ledger and inventory logs of
// a business, compares them with the cached fields and writes one
// reconciliation_reports row per mismatch.
func RunLedgerReconciliationChecks(ctx context.Context, businessId string) (*ReconciliationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	cid, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || cid == "" {
		cid = uuid.NewString()
	}

	result := &ReconciliationResult{CorrelationId: cid, Checked: map[string]int{}}
	report := func(checkType, entityType string, entityId int, details string) {
		result.Mismatches = append(result.Mismatches, ReconciliationReport{
			BusinessId:    businessId,
			CheckType:     checkType,
			EntityType:    entityType,
			EntityId:      entityId,
			Details:       details,
			CorrelationId: cid,
		})
	}

	tx := db.WithContext(ctx)
	if err := checkPurchaseOrders(tx, businessId, result, report); err != nil {
		return nil, err
	}
	if err := checkCreditorBalances(tx, businessId, result, report); err != nil {
		return nil, err
	}
	if err := checkInventory(tx, businessId, result, report); err != nil {
		return nil, err
	}

	if len(result.Mismatches) > 0 {
		if err := tx.Create(&result.Mismatches).Error; err != nil {
			return nil, err
		}
	}
	return result, nil
}

func sumsByRef(rows []sumByRef) map[int]decimal.Decimal {
	m := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		m[r.RefId] = r.Total
	}
	return m
}

func sameAmount(a, b decimal.Decimal) bool {
	return a.Round(4).Equal(b.Round(4))
}

func checkPurchaseOrders(tx *gorm.DB, businessId string, result *ReconciliationResult, report func(string, string, int, string)) error {
	var orders []PurchaseOrder
	if err := tx.Where("business_id = ?", businessId).Order("id").Find(&orders).Error; err != nil {
		return err
	}

	var paymentRows []sumByRef
	if err := tx.Model(&PurchaseOrderPayment{}).
		Select("purchase_order_id AS ref_id, COALESCE(SUM(amount), 0) AS total").
		Where("business_id = ?", businessId).
		Group("purchase_order_id").
		Scan(&paymentRows).Error; err != nil {
		return err
	}
	var itemRows []sumByRef
	if err := tx.Model(&PurchaseOrderItem{}).
		Select("purchase_order_items.purchase_order_id AS ref_id, COALESCE(SUM(purchase_order_items.subtotal), 0) AS total").
		Joins("JOIN purchase_orders ON purchase_orders.id = purchase_order_items.purchase_order_id").
		Where("purchase_orders.business_id = ?", businessId).
		Group("purchase_order_items.purchase_order_id").
		Scan(&itemRows).Error; err != nil {
		return err
	}
	payments := sumsByRef(paymentRows)
	items := sumsByRef(itemRows)

	for _, po := range orders {
		result.Checked["purchase_orders"]++
		paid := payments[po.ID]
		if !sameAmount(po.PaidAmount, paid) {
			report(CheckPurchaseOrderPaid, "PurchaseOrder", po.ID,
				fmt.Sprintf("paid_amount %s != sum of payments %s", po.PaidAmount, paid))
		}
		if derived := DeriveStatus(po.TotalAmount, po.PaidAmount); po.Status != derived {
			report(CheckPurchaseOrderStatus, "PurchaseOrder", po.ID,
				fmt.Sprintf("status %s != derived status %s", po.Status, derived))
		}
		subtotal := items[po.ID]
		if !sameAmount(po.TotalAmount, subtotal) {
			report(CheckPurchaseOrderTotal, "PurchaseOrder", po.ID,
				fmt.Sprintf("total_amount %s != sum of item subtotals %s", po.TotalAmount, subtotal))
		}
	}
	return nil
}

func checkCreditorBalances(tx *gorm.DB, businessId string, result *ReconciliationResult, report func(string, string, int, string)) error {
	var creditors []Creditor
	if err := tx.Where("business_id = ?", businessId).Order("id").Find(&creditors).Error; err != nil {
		return err
	}
	var ledgerRows []sumByRef
	if err := tx.Model(&CreditorTransaction{}).
		Select("creditor_id AS ref_id, COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0) AS total", CreditorTransactionTypeBill).
		Where("business_id = ?", businessId).
		Group("creditor_id").
		Scan(&ledgerRows).Error; err != nil {
		return err
	}
	folded := sumsByRef(ledgerRows)

	for _, c := range creditors {
		result.Checked["creditors"]++
		balance := folded[c.ID]
		if !sameAmount(c.OutstandingBalance, balance) {
			report(CheckCreditorBalance, "Creditor", c.ID,
				fmt.Sprintf("outstanding_balance %s != bills - payments %s", c.OutstandingBalance, balance))
		}
	}
	return nil
}

func checkInventory(tx *gorm.DB, businessId string, result *ReconciliationResult, report func(string, string, int, string)) error {
	var records []Inventory
	if err := tx.Where("business_id = ?", businessId).Order("id").Find(&records).Error; err != nil {
		return err
	}
	for _, rec := range records {
		result.Checked["inventory"]++
		var txns []InventoryTransaction
		if err := tx.Where("business_id = ? AND variant_id = ?", businessId, rec.VariantId).
			Order("id").
			Find(&txns).Error; err != nil {
			return err
		}
		if len(txns) == 0 {
			if !rec.Quantity.IsZero() {
				report(CheckInventoryQuantity, "Inventory", rec.ID,
					fmt.Sprintf("quantity %s with no inventory transactions", rec.Quantity))
			}
			continue
		}
		for i, t := range txns {
			if !sameAmount(t.PreviousQuantity.Add(t.QuantityChange), t.NewQuantity) {
				report(CheckInventoryTransaction, "InventoryTransaction", t.ID,
					fmt.Sprintf("previous %s + change %s != new %s", t.PreviousQuantity, t.QuantityChange, t.NewQuantity))
			}
			if i > 0 && !sameAmount(txns[i-1].NewQuantity, t.PreviousQuantity) {
				report(CheckInventoryTransaction, "InventoryTransaction", t.ID,
					fmt.Sprintf("previous %s != prior new quantity %s", t.PreviousQuantity, txns[i-1].NewQuantity))
			}
		}
		last := txns[len(txns)-1]
		if !sameAmount(rec.Quantity, last.NewQuantity) {
			report(CheckInventoryQuantity, "Inventory", rec.ID,
				fmt.Sprintf("quantity %s != last new_quantity %s", rec.Quantity, last.NewQuantity))
		}
	}
	return nil
}
