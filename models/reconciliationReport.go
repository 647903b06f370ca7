package models

import "time"

// Drift detection output of RunLedgerReconciliationChecks.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:64;index;not null" json:"business_id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"`
	EntityId      int       `gorm:"index;not null" json:"entity_id"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	CheckPurchaseOrderPaid    = "PURCHASE_ORDER_PAID"
	CheckPurchaseOrderStatus  = "PURCHASE_ORDER_STATUS"
	CheckPurchaseOrderTotal   = "PURCHASE_ORDER_TOTAL"
	CheckCreditorBalance      = "CREDITOR_BALANCE"
	CheckInventoryQuantity    = "INVENTORY_QUANTITY"
	CheckInventoryTransaction = "INVENTORY_TRANSACTION"
)
