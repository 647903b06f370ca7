package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreditorTransaction is an append-only ledger row. Rows are only removed when
// the purchase order they belong to is deleted.
type CreditorTransaction struct {
	ID                     int                     `gorm:"primary_key" json:"id"`
	BusinessId             string                  `gorm:"index;not null" json:"business_id"`
	CreditorId             int                     `gorm:"index;not null" json:"creditor_id"`
	Type                   CreditorTransactionType `gorm:"size:20;not null" json:"type"`
	Amount                 decimal.Decimal         `gorm:"type:decimal(20,4);not null" json:"amount"`
	ReferenceNumber        string                  `gorm:"size:255;index" json:"reference_number"`
	PurchaseOrderId        int                     `gorm:"index;not null" json:"purchase_order_id"`
	PurchaseOrderPaymentId *int                    `gorm:"index" json:"purchase_order_payment_id"`
	CreatedAt              time.Time               `gorm:"autoCreateTime" json:"created_at"`
}

// SignedAmount is the entry's effect on the creditor balance.
func (t CreditorTransaction) SignedAmount() decimal.Decimal {
	if t.Type == CreditorTransactionTypePayment {
		return t.Amount.Neg()
	}
	return t.Amount
}

func PaymentReferenceNumber(orderNumber string) string {
	return PaymentReferenceNumberPrefix + orderNumber
}

// AppendCreditorTransaction inserts a ledger row. The caller adjusts the cached
// balance in the same transaction.
func AppendCreditorTransaction(tx *gorm.DB, entry *CreditorTransaction) error {
	if !entry.Amount.IsPositive() {
		return &InvalidAmountError{Amount: entry.Amount, Message: "ledger amount must be greater than zero"}
	}
	if entry.Type != CreditorTransactionTypeBill && entry.Type != CreditorTransactionTypePayment {
		return NewValidationError("type", "unknown creditor transaction type "+string(entry.Type))
	}
	return tx.Create(entry).Error
}

func DeleteCreditorTransactionsByPurchaseOrder(tx *gorm.DB, businessId string, purchaseOrderId int) (int64, error) {
	res := tx.Where("business_id = ? AND purchase_order_id = ?", businessId, purchaseOrderId).
		Delete(&CreditorTransaction{})
	return res.RowsAffected, res.Error
}

type CreditorStatementLine struct {
	CreditorTransaction
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type CreditorStatement struct {
	Creditor      *Creditor               `json:"creditor"`
	Lines         []CreditorStatementLine `json:"lines"`
	FoldedBalance decimal.Decimal         `json:"folded_balance"`
	CachedBalance decimal.Decimal         `json:"cached_balance"`
	InBalance     bool                    `json:"in_balance"`
}

// GetCreditorStatement folds the ledger in insertion order and reports the
// cached balance next to the folded one.
func GetCreditorStatement(ctx context.Context, creditorId int) (*CreditorStatement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	creditor, err := GetCreditor(ctx, creditorId)
	if err != nil {
		return nil, err
	}

	var entries []CreditorTransaction
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND creditor_id = ?", businessId, creditorId).
		Order("created_at, id").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	statement := &CreditorStatement{
		Creditor:      creditor,
		Lines:         make([]CreditorStatementLine, 0, len(entries)),
		CachedBalance: creditor.OutstandingBalance,
	}
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.SignedAmount())
		statement.Lines = append(statement.Lines, CreditorStatementLine{CreditorTransaction: e, RunningBalance: running})
	}
	statement.FoldedBalance = running
	statement.InBalance = running.Equal(creditor.OutstandingBalance)
	return statement, nil
}
