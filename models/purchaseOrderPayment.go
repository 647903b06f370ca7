package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PurchaseOrderPayment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date"`
	Method          PaymentMethod   `gorm:"size:20;not null" json:"method"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedBy       string          `gorm:"size:100" json:"created_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPurchaseOrderPayment struct {
	Amount          decimal.Decimal `json:"amount"`
	Method          PaymentMethod   `json:"method"`
	PaymentDate     *time.Time      `json:"payment_date"`
	ReferenceNumber string          `json:"reference_number" validate:"max=255"`
	Notes           string          `json:"notes"`
}

// Validate checks the payment on its own; the remaining balance is checked
// against the locked order.
func (input *NewPurchaseOrderPayment) Validate() error {
	if !input.Amount.IsPositive() {
		return &InvalidAmountError{Amount: input.Amount, Message: "payment amount must be greater than zero"}
	}
	if !input.Amount.Equal(input.Amount.Round(AmountScale)) {
		return &InvalidAmountError{Amount: input.Amount, Message: fmt.Sprintf("payment amount must have at most %d decimal places", AmountScale)}
	}
	if input.Method == "" {
		input.Method = PaymentMethodCash
	}
	if !input.Method.IsValid() {
		return NewValidationError("method", "unknown payment method "+string(input.Method))
	}
	if err := utils.Validator().Struct(input); err != nil {
		return NewValidationError("", err.Error())
	}
	return nil
}

// ValidatePaymentAmount rejects amounts above the remaining balance plus epsilon.
func ValidatePaymentAmount(order *PurchaseOrder, amount decimal.Decimal, epsilon decimal.Decimal) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Amount: amount, Message: "payment amount must be greater than zero"}
	}
	remaining := order.RemainingBalance()
	if amount.GreaterThan(remaining.Add(epsilon)) {
		return &OverpaymentError{Amount: amount, Remaining: remaining}
	}
	return nil
}

func (input *NewPurchaseOrderPayment) toPayment(businessId string, purchaseOrderId int, createdBy string, now time.Time) PurchaseOrderPayment {
	paymentDate := now
	if input.PaymentDate != nil {
		paymentDate = input.PaymentDate.UTC()
	}
	return PurchaseOrderPayment{
		BusinessId:      businessId,
		PurchaseOrderId: purchaseOrderId,
		Amount:          input.Amount,
		PaymentDate:     paymentDate,
		Method:          input.Method,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		CreatedBy:       createdBy,
	}
}

// ApplyPurchaseOrderPayment inserts the payment record, appends the payment
// ledger row, lowers the creditor balance and advances paid_amount and status.
// order must have been read with LockPurchaseOrder in the same tx.
func ApplyPurchaseOrderPayment(tx *gorm.DB, order *PurchaseOrder, input *NewPurchaseOrderPayment, createdBy string, now time.Time) (*PurchaseOrderPayment, error) {
	payment := input.toPayment(order.BusinessId, order.ID, createdBy, now)
	if err := tx.Create(&payment).Error; err != nil {
		return nil, err
	}

	paymentId := payment.ID
	entry := CreditorTransaction{
		BusinessId:             order.BusinessId,
		CreditorId:             order.CreditorId,
		Type:                   CreditorTransactionTypePayment,
		Amount:                 payment.Amount,
		ReferenceNumber:        PaymentReferenceNumber(order.OrderNumber),
		PurchaseOrderId:        order.ID,
		PurchaseOrderPaymentId: &paymentId,
	}
	if err := AppendCreditorTransaction(tx, &entry); err != nil {
		return nil, err
	}
	if err := AdjustCreditorBalance(tx, order.BusinessId, order.CreditorId, payment.Amount.Neg()); err != nil {
		return nil, err
	}

	newPaid := order.PaidAmount.Add(payment.Amount)
	status := DeriveStatus(order.TotalAmount, newPaid)
	if err := tx.Model(&PurchaseOrder{}).
		Where("business_id = ? AND id = ?", order.BusinessId, order.ID).
		Updates(map[string]interface{}{
			"paid_amount": newPaid,
			"status":      status,
		}).Error; err != nil {
		return nil, err
	}
	order.PaidAmount = newPaid
	order.Status = status
	return &payment, nil
}

func DeletePurchaseOrderPayments(tx *gorm.DB, businessId string, purchaseOrderId int) error {
	return tx.Where("business_id = ? AND purchase_order_id = ?", businessId, purchaseOrderId).
		Delete(&PurchaseOrderPayment{}).Error
}
