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
	"gorm.io/gorm/clause"
)

type Creditor struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"index;not null" json:"business_id"`
	Name               string          `gorm:"size:255;not null" json:"name"`
	Email              string          `gorm:"size:100" json:"email"`
	Phone              string          `gorm:"size:20" json:"phone"`
	Address            string          `gorm:"type:text" json:"address"`
	OutstandingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"outstanding_balance"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCreditor struct {
	Name    string `json:"name" binding:"required" validate:"required,max=255"`
	Email   string `json:"email" validate:"omitempty,email,max=100"`
	Phone   string `json:"phone" validate:"omitempty,max=20"`
	Address string `json:"address"`
}

func (input *NewCreditor) validate(ctx context.Context, businessId string, id int) error {
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.Validator().Struct(input); err != nil {
		return NewValidationError("", "invalid creditor input: "+err.Error())
	}
	if err := utils.ValidateUnique[Creditor](ctx, businessId, "name", input.Name, id); err != nil {
		return NewValidationError("name", err.Error())
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return NewValidationError("phone", err.Error())
		}
	}
	return nil
}

func CreateCreditor(ctx context.Context, input *NewCreditor) (*Creditor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	creditor := Creditor{
		BusinessId:         businessId,
		Name:               input.Name,
		Email:              input.Email,
		Phone:              input.Phone,
		Address:            input.Address,
		OutstandingBalance: decimal.Zero,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&creditor).Error; err != nil {
		config.LogError(config.GetLogger(), "Creditor", "CreateCreditor", "Create creditor", creditor, err)
		return nil, err
	}
	return &creditor, nil
}

// UpdateCreditor edits contact details only; the balance belongs to the ledger.
func UpdateCreditor(ctx context.Context, id int, input *NewCreditor) (*Creditor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	creditor, err := GetCreditor(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(creditor).Updates(map[string]interface{}{
		"name":    input.Name,
		"email":   input.Email,
		"phone":   input.Phone,
		"address": input.Address,
	}).Error; err != nil {
		config.LogError(config.GetLogger(), "Creditor", "UpdateCreditor", "Update creditor", input, err)
		return nil, err
	}
	return GetCreditor(ctx, id)
}

func GetCreditor(ctx context.Context, id int) (*Creditor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	creditor, err := utils.FetchModel[Creditor](ctx, businessId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &NotFoundError{Resource: "creditor", ID: id}
		}
		return nil, err
	}
	return creditor, nil
}

func GetCreditors(ctx context.Context) ([]*Creditor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Creditor](ctx, businessId)
}

// LockCreditor reads the creditor row with FOR UPDATE inside tx.
func LockCreditor(tx *gorm.DB, businessId string, id int) (*Creditor, error) {
	var creditor Creditor
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, id).
		First(&creditor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "creditor", ID: id}
		}
		return nil, err
	}
	return &creditor, nil
}

// AdjustCreditorBalance locks the creditor row and writes the new balance
// computed in Go, so no driver does the arithmetic in floating point.
func AdjustCreditorBalance(tx *gorm.DB, businessId string, creditorId int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	creditor, err := LockCreditor(tx, businessId, creditorId)
	if err != nil {
		return err
	}
	return tx.Model(&Creditor{}).
		Where("business_id = ? AND id = ?", businessId, creditorId).
		Update("outstanding_balance", creditor.OutstandingBalance.Add(delta)).Error
}
