package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductVariant is owned by the catalog. Purchasing only reads it and
// overwrites cost_price when stock is received.
type ProductVariant struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Sku        string          `gorm:"size:100;not null" json:"sku"`
	CostPrice  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"cost_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductVariant struct {
	Name      string          `json:"name" binding:"required" validate:"required,max=255"`
	Sku       string          `json:"sku" binding:"required" validate:"required,max=100"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

func CreateProductVariant(ctx context.Context, input *NewProductVariant) (*ProductVariant, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	input.Sku = strings.TrimSpace(input.Sku)
	if err := utils.Validator().Struct(input); err != nil {
		return nil, NewValidationError("", "invalid product variant input: "+err.Error())
	}
	if input.CostPrice.IsNegative() {
		return nil, NewValidationError("cost_price", "cost price must not be negative")
	}
	if err := utils.ValidateUnique[ProductVariant](ctx, businessId, "sku", input.Sku, nil); err != nil {
		return nil, NewValidationError("sku", err.Error())
	}

	variant := ProductVariant{
		BusinessId: businessId,
		Name:       input.Name,
		Sku:        input.Sku,
		CostPrice:  input.CostPrice.Round(4),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&variant).Error; err != nil {
		config.LogError(config.GetLogger(), "ProductVariant", "CreateProductVariant", "Create variant", variant, err)
		return nil, err
	}
	return &variant, nil
}

func GetProductVariant(ctx context.Context, id int) (*ProductVariant, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	variant, err := utils.FetchModel[ProductVariant](ctx, businessId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &NotFoundError{Resource: "product variant", ID: id}
		}
		return nil, err
	}
	return variant, nil
}

// ValidateProductVariantsExist reports the first missing variant as NotFoundError.
func ValidateProductVariantsExist(tx *gorm.DB, businessId string, variantIds []int) error {
	err := utils.ValidateResourcesId[ProductVariant](tx, businessId, variantIds)
	if err == nil {
		return nil
	}
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		return err
	}
	var found []int
	if err := tx.Model(&ProductVariant{}).
		Where("business_id = ? AND id IN ?", businessId, variantIds).
		Pluck("id", &found).Error; err != nil {
		return err
	}
	seen := make(map[int]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}
	for _, id := range variantIds {
		if !seen[id] {
			return &NotFoundError{Resource: "product variant", ID: id}
		}
	}
	return &NotFoundError{Resource: "product variant"}
}

// SetVariantCostPrice overwrites cost_price with the last landed cost, rounded to 4 dp.
func SetVariantCostPrice(tx *gorm.DB, businessId string, variantId int, cost decimal.Decimal) error {
	res := tx.Model(&ProductVariant{}).
		Where("business_id = ? AND id = ?", businessId, variantId).
		Update("cost_price", cost.Round(4))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "product variant", ID: variantId}
	}
	return nil
}
