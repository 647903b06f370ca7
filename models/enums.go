package models

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusPending   PurchaseOrderStatus = "pending"
	PurchaseOrderStatusPartial   PurchaseOrderStatus = "partial"
	PurchaseOrderStatusCompleted PurchaseOrderStatus = "completed"
)

func (s PurchaseOrderStatus) IsValid() bool {
	switch s {
	case PurchaseOrderStatusPending, PurchaseOrderStatusPartial, PurchaseOrderStatusCompleted:
		return true
	}
	return false
}

type CreditorTransactionType string

const (
	CreditorTransactionTypeBill    CreditorTransactionType = "bill"
	CreditorTransactionTypePayment CreditorTransactionType = "payment"
)

type InventoryTransactionType string

const (
	InventoryTransactionTypePurchaseReceive  InventoryTransactionType = "purchase_recv"
	InventoryTransactionTypePurchaseReversal InventoryTransactionType = "purchase_reversal"
)

type InventoryReferenceType string

const (
	InventoryReferenceTypePurchaseOrder InventoryReferenceType = "purchase_order"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodMobileWallet PaymentMethod = "mobile_wallet"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCheque, PaymentMethodCard, PaymentMethodMobileWallet:
		return true
	}
	return false
}

// PurchaseEventAction is the action column of purchase_order_events.
type PurchaseEventAction string

const (
	PurchaseEventActionCreate  PurchaseEventAction = "C"
	PurchaseEventActionReceive PurchaseEventAction = "R"
	PurchaseEventActionPayment PurchaseEventAction = "P"
	PurchaseEventActionDelete  PurchaseEventAction = "D"
)

// Reference number prefixes shared with the front end.
const (
	PurchaseOrderNumberPrefix    = "PO-"
	PaymentReferenceNumberPrefix = "PAY-"
)
