package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/mmdatafocus/purchase_ledger/config"
	"gorm.io/gorm"
)

// check if ALL id exists, using business_id in WHERE, return RecordNotFound Error
func ValidateResourcesId[M any, ID comparable](tx *gorm.DB, businessId string, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhereTx[M](tx, businessId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, businessId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, businessId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, businessId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE business_id = ? AND $condition
// business_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, businessId string, condition string, value ...interface{}) (int64, error) {
	return ResourceCountWhereTx[T](config.GetDB().WithContext(ctx), businessId, condition, value...)
}

func ResourceCountWhereTx[T any](tx *gorm.DB, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T

	dbCtx := tx.Model(&model)
	var count int64
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
