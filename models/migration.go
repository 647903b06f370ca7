package models

import (
	"log"

	"github.com/mmdatafocus/purchase_ledger/config"
	"gorm.io/gorm"
)

// AllModels lists every table owned by this service, in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&Creditor{}, &CreditorTransaction{},
		&ProductVariant{},
		&PurchaseOrder{}, &PurchaseOrderItem{}, &PurchaseOrderPayment{},
		&Inventory{}, &InventoryTransaction{},
		&IdempotencyKey{},
		&PurchaseOrderEvent{},
		&ReconciliationReport{},
	}
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
