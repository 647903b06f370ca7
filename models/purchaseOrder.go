package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PurchaseOrder struct {
	ID                   int                    `gorm:"primary_key" json:"id"`
	BusinessId           string                 `gorm:"size:64;not null;uniqueIndex:uniq_purchase_order_number" json:"business_id"`
	CreditorId           int                    `gorm:"index;not null" json:"creditor_id"`
	OrderNumber          string                 `gorm:"size:64;not null;uniqueIndex:uniq_purchase_order_number" json:"order_number"`
	SequenceNo           int                    `gorm:"not null" json:"sequence_no"`
	TotalAmount          decimal.Decimal        `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	PaidAmount           decimal.Decimal        `gorm:"type:decimal(20,4);not null;default:0" json:"paid_amount"`
	Status               PurchaseOrderStatus    `gorm:"size:20;not null;index" json:"status"`
	ReceivedAt           *time.Time             `json:"received_at"`
	FreightCost          decimal.Decimal        `gorm:"type:decimal(20,4);not null;default:0" json:"freight_cost"`
	CustomsCost          decimal.Decimal        `gorm:"type:decimal(20,4);not null;default:0" json:"customs_cost"`
	HandlingCost         decimal.Decimal        `gorm:"type:decimal(20,4);not null;default:0" json:"handling_cost"`
	ExpectedDeliveryDate *time.Time             `json:"expected_delivery_date"`
	Notes                string                 `gorm:"type:text" json:"notes"`
	CreatedBy            string                 `gorm:"size:100" json:"created_by"`
	Items                []PurchaseOrderItem    `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	Payments             []PurchaseOrderPayment `gorm:"foreignKey:PurchaseOrderId" json:"payments"`
	CreatedAt            time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	VariantId       int             `gorm:"index;not null" json:"variant_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	// set once when the order is received
	LandedUnitCost *decimal.Decimal `gorm:"type:decimal(20,4)" json:"landed_unit_cost"`
}

type NewPurchaseOrder struct {
	CreditorId           int                      `json:"creditor_id" binding:"required" validate:"required,gt=0"`
	Items                []NewPurchaseOrderItem   `json:"items" validate:"required,min=1,dive"`
	InitialPayment       *NewPurchaseOrderPayment `json:"initial_payment"`
	FreightCost          decimal.Decimal          `json:"freight_cost"`
	CustomsCost          decimal.Decimal          `json:"customs_cost"`
	HandlingCost         decimal.Decimal          `json:"handling_cost"`
	ExpectedDeliveryDate *time.Time               `json:"expected_delivery_date"`
	Notes                string                   `json:"notes"`
}

type NewPurchaseOrderItem struct {
	VariantId int             `json:"variant_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseOrderFilter struct {
	CreditorId *int
	Status     *PurchaseOrderStatus
	Received   *bool
}

// DeriveStatus is the only place a purchase order status is decided.
func DeriveStatus(total, paid decimal.Decimal) PurchaseOrderStatus {
	if paid.GreaterThanOrEqual(total) {
		return PurchaseOrderStatusCompleted
	}
	if paid.IsPositive() {
		return PurchaseOrderStatusPartial
	}
	return PurchaseOrderStatusPending
}

func (po PurchaseOrder) RemainingBalance() decimal.Decimal {
	return po.TotalAmount.Sub(po.PaidAmount)
}

func (po PurchaseOrder) IsReceived() bool {
	return po.ReceivedAt != nil
}

func (po PurchaseOrder) VariableCosts() VariableCosts {
	return VariableCosts{Freight: po.FreightCost, Customs: po.CustomsCost, Handling: po.HandlingCost}
}

func (po PurchaseOrder) LandedCostLines() []LandedCostLine {
	lines := make([]LandedCostLine, 0, len(po.Items))
	for _, item := range po.Items {
		lines = append(lines, LandedCostLine{
			ItemId:    item.ID,
			VariantId: item.VariantId,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal,
		})
	}
	return lines
}

// AmountScale is the number of decimal places every stored quantity and amount keeps.
const AmountScale int32 = 4

// checkScale rejects values the decimal(20,4) columns would round on write.
func checkScale(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(AmountScale)) {
		return NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", AmountScale))
	}
	return nil
}

// Subtotal is rounded to the column scale so the stored total is the sum of
// the stored subtotals.
func (item NewPurchaseOrderItem) Subtotal() decimal.Decimal {
	return item.Quantity.Mul(item.UnitCost).Round(AmountScale)
}

func (input NewPurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (input NewPurchaseOrder) VariantIds() []int {
	ids := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		ids = append(ids, item.VariantId)
	}
	return ids
}

func (input NewPurchaseOrder) InitialPaymentAmount() decimal.Decimal {
	if input.InitialPayment == nil {
		return decimal.Zero
	}
	return input.InitialPayment.Amount
}

// Validate runs the checks that need no database access.
func (input *NewPurchaseOrder) Validate(epsilon decimal.Decimal) error {
	if len(input.Items) == 0 {
		return NewValidationError("items", "at least one item is required")
	}
	if err := utils.Validator().Struct(input); err != nil {
		return NewValidationError("", "invalid purchase order input: "+err.Error())
	}
	for i, item := range input.Items {
		if !item.Quantity.IsPositive() {
			return NewValidationError(fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than zero")
		}
		if item.UnitCost.IsNegative() {
			return NewValidationError(fmt.Sprintf("items[%d].unit_cost", i), "unit cost must not be negative")
		}
		if err := checkScale(fmt.Sprintf("items[%d].quantity", i), item.Quantity); err != nil {
			return err
		}
		if err := checkScale(fmt.Sprintf("items[%d].unit_cost", i), item.UnitCost); err != nil {
			return err
		}
	}
	costs := VariableCosts{Freight: input.FreightCost, Customs: input.CustomsCost, Handling: input.HandlingCost}
	if err := costs.validate(); err != nil {
		return err
	}
	if input.InitialPayment != nil {
		initial := input.InitialPayment.Amount
		if initial.IsNegative() {
			return &InvalidAmountError{Amount: initial, Message: "initial payment must not be negative"}
		}
		if initial.IsPositive() {
			if err := input.InitialPayment.Validate(); err != nil {
				return err
			}
			total := input.Total()
			if initial.GreaterThan(total.Add(epsilon)) {
				return &OverpaymentError{Amount: initial, Remaining: total}
			}
		}
	}
	return nil
}

// ValidateReferences checks the creditor and every variant inside tx.
func (input *NewPurchaseOrder) ValidateReferences(tx *gorm.DB, businessId string) error {
	if _, err := LockCreditor(tx, businessId, input.CreditorId); err != nil {
		return err
	}
	return ValidateProductVariantsExist(tx, businessId, input.VariantIds())
}

// NextPurchaseOrderNumber must run under the business order-number lock.
func NextPurchaseOrderNumber(tx *gorm.DB, businessId string) (int, string, error) {
	var row struct{ MaxSeq int }
	if err := tx.Model(&PurchaseOrder{}).
		Select("COALESCE(MAX(sequence_no), 0) AS max_seq").
		Where("business_id = ?", businessId).
		Scan(&row).Error; err != nil {
		return 0, "", err
	}
	seq := row.MaxSeq + 1
	return seq, fmt.Sprintf("%s%06d", PurchaseOrderNumberPrefix, seq), nil
}

// InsertPurchaseOrder writes the header with nothing paid, and its items.
// A zero-total order is completed from the start.
func InsertPurchaseOrder(tx *gorm.DB, businessId string, input *NewPurchaseOrder, createdBy string) (*PurchaseOrder, error) {
	seq, orderNumber, err := NextPurchaseOrderNumber(tx, businessId)
	if err != nil {
		return nil, err
	}

	items := make([]PurchaseOrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, PurchaseOrderItem{
			VariantId: item.VariantId,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
			Subtotal:  item.Subtotal(),
		})
	}
	total := input.Total()

	order := PurchaseOrder{
		BusinessId:           businessId,
		CreditorId:           input.CreditorId,
		OrderNumber:          orderNumber,
		SequenceNo:           seq,
		TotalAmount:          total,
		PaidAmount:           decimal.Zero,
		Status:               DeriveStatus(total, decimal.Zero),
		FreightCost:          input.FreightCost,
		CustomsCost:          input.CustomsCost,
		HandlingCost:         input.HandlingCost,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Notes:                input.Notes,
		CreatedBy:            createdBy,
	}
	if err := tx.Omit("Items", "Payments").Create(&order).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].PurchaseOrderId = order.ID
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// LockPurchaseOrder reads the order with FOR UPDATE and loads its items.
func LockPurchaseOrder(tx *gorm.DB, businessId string, id int) (*PurchaseOrder, error) {
	var order PurchaseOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, err
	}
	if err := tx.Where("purchase_order_id = ?", order.ID).Order("id").Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPurchaseOrderReceived is the receipt guard: it only succeeds for an
// order that has not been received yet.
func MarkPurchaseOrderReceived(tx *gorm.DB, businessId string, id int, now time.Time) error {
	res := tx.Model(&PurchaseOrder{}).
		Where("business_id = ? AND id = ? AND received_at IS NULL", businessId, id).
		Update("received_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyReceived
	}
	return nil
}

func SetItemLandedUnitCost(tx *gorm.DB, itemId int, cost decimal.Decimal) error {
	return tx.Model(&PurchaseOrderItem{}).
		Where("id = ?", itemId).
		Update("landed_unit_cost", cost.Round(4)).Error
}

// DeletePurchaseOrderRows removes the items and the header.
func DeletePurchaseOrderRows(tx *gorm.DB, businessId string, id int) error {
	if err := tx.Where("purchase_order_id = ?", id).Delete(&PurchaseOrderItem{}).Error; err != nil {
		return err
	}
	res := tx.Where("business_id = ? AND id = ?", businessId, id).Delete(&PurchaseOrder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "order", ID: id}
	}
	return nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	order, err := utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Items", "Payments")
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, err
	}
	return order, nil
}

func ListPurchaseOrders(ctx context.Context, filter PurchaseOrderFilter) ([]*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if filter.CreditorId != nil {
		dbCtx = dbCtx.Where("creditor_id = ?", *filter.CreditorId)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.Received != nil {
		if *filter.Received {
			dbCtx = dbCtx.Where("received_at IS NOT NULL")
		} else {
			dbCtx = dbCtx.Where("received_at IS NULL")
		}
	}
	var results []*PurchaseOrder
	if err := dbCtx.Preload("Items").Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FetchPurchaseOrder loads the order with items and payments inside tx.
func FetchPurchaseOrder(tx *gorm.DB, businessId string, id int) (*PurchaseOrder, error) {
	order, err := utils.FetchModelTx[PurchaseOrder](tx, businessId, id, "Items", "Payments")
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, err
	}
	return order, nil
}
