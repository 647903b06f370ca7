package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Inventory holds the on-hand quantity of one variant. Quantity always equals
// the new_quantity of the latest InventoryTransaction for the variant.
type Inventory struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;not null;uniqueIndex:uniq_inventory_variant" json:"business_id"`
	VariantId     int             `gorm:"not null;uniqueIndex:uniq_inventory_variant" json:"variant_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	LastStockDate *time.Time      `json:"last_stock_date"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Inventory) TableName() string {
	return "inventory"
}

type InventoryTransaction struct {
	ID               int                      `gorm:"primary_key" json:"id"`
	BusinessId       string                   `gorm:"index;not null" json:"business_id"`
	VariantId        int                      `gorm:"index;not null" json:"variant_id"`
	TransactionType  InventoryTransactionType `gorm:"size:30;not null" json:"transaction_type"`
	QuantityChange   decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"quantity_change"`
	PreviousQuantity decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"previous_quantity"`
	NewQuantity      decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"new_quantity"`
	ReferenceType    InventoryReferenceType   `gorm:"size:30;index:idx_inventory_txn_reference" json:"reference_type"`
	ReferenceId      int                      `gorm:"index:idx_inventory_txn_reference" json:"reference_id"`
	Notes            string                   `gorm:"type:text" json:"notes"`
	CreatedBy        string                   `gorm:"size:100" json:"created_by"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
}

type InventoryMovement struct {
	VariantId       int
	QuantityChange  decimal.Decimal
	TransactionType InventoryTransactionType
	ReferenceType   InventoryReferenceType
	ReferenceId     int
	Notes           string
	CreatedBy       string
}

// PostInventoryMovement locks the variant's inventory row (creating it at zero
// if absent), applies the change and appends the matching transaction row.
// A movement that would take stock below zero returns ErrInsufficientStock.
func PostInventoryMovement(tx *gorm.DB, businessId string, m InventoryMovement, now time.Time) (*InventoryTransaction, error) {
	if m.QuantityChange.IsZero() {
		return nil, NewValidationError("quantity_change", "quantity change must not be zero")
	}

	seed := Inventory{BusinessId: businessId, VariantId: m.VariantId, Quantity: decimal.Zero}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_id"}, {Name: "variant_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var record Inventory
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND variant_id = ?", businessId, m.VariantId).
		First(&record).Error; err != nil {
		return nil, err
	}

	previous := record.Quantity
	next := previous.Add(m.QuantityChange)
	if next.IsNegative() {
		return nil, ErrInsufficientStock
	}

	if err := tx.Model(&Inventory{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"quantity":        next,
			"last_stock_date": now,
		}).Error; err != nil {
		return nil, err
	}

	entry := InventoryTransaction{
		BusinessId:       businessId,
		VariantId:        m.VariantId,
		TransactionType:  m.TransactionType,
		QuantityChange:   m.QuantityChange,
		PreviousQuantity: previous,
		NewQuantity:      next,
		ReferenceType:    m.ReferenceType,
		ReferenceId:      m.ReferenceId,
		Notes:            m.Notes,
		CreatedBy:        m.CreatedBy,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetInventory returns a zero record for variants that were never stocked.
func GetInventory(ctx context.Context, variantId int) (*Inventory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if _, err := GetProductVariant(ctx, variantId); err != nil {
		return nil, err
	}
	var record Inventory
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND variant_id = ?", businessId, variantId).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Inventory{BusinessId: businessId, VariantId: variantId, Quantity: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func GetInventoryTransactions(ctx context.Context, variantId int) ([]*InventoryTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*InventoryTransaction
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND variant_id = ?", businessId, variantId).
		Order("id").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
