package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/mmdatafocus/purchase_ledger/workflow")

// workflowRun carries one workflow invocation: its name, the aggregates it
// serializes on and the step currently executing.
type workflowRun struct {
	name       string
	businessId string
	lockKeys   []string
	step       string
}

func (w *workflowRun) at(step string) {
	w.step = step
}

func (w *workflowRun) rollback(tx *gorm.DB, cause error) error {
	rbErr := tx.Rollback().Error
	rolledBack := rbErr == nil || errors.Is(rbErr, sql.ErrTxDone)
	if rolledBack && models.IsDomainError(cause) {
		return cause
	}
	if rolledBack && isLockConflict(cause) {
		return asAggregateBusy(cause)
	}
	return &models.PartialFailureError{Workflow: w.name, Step: w.step, RolledBack: rolledBack, Err: cause}
}

// replaySucceeded returns the stored response when the request's idempotency
// key already succeeded for this workflow.
func replaySucceeded[T any](ctx context.Context, name, businessId string) (*T, bool, error) {
	key, _ := utils.GetIdempotencyKeyFromContext(ctx)
	if key == "" {
		return nil, false, nil
	}
	existing, err := FindSucceededIdempotency(config.GetDB().WithContext(ctx), businessId, name, key)
	if err != nil || existing == nil {
		return nil, false, err
	}
	var replay T
	if err := json.Unmarshal([]byte(existing.Response), &replay); err != nil {
		return nil, false, err
	}
	return &replay, true, nil
}

// runWorkflow executes fn as one database transaction on a pinned connection,
// holding the redis and advisory locks for w.lockKeys until after commit.
// Domain errors come back unwrapped; any other failure after Begin is a
// PartialFailureError naming the step that failed.
func runWorkflow[T any](ctx context.Context, w *workflowRun, fn func(tx *gorm.DB) (*T, int, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, config.WorkflowTimeout())
	defer cancel()
	ctx, span := tracer.Start(ctx, w.name, trace.WithAttributes(attribute.String("business_id", w.businessId)))
	defer span.End()

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	idemKey, _ := utils.GetIdempotencyKeyFromContext(ctx)

	result, err := func() (*T, error) {
		releaseLocks, err := ObtainAggregateLocks(ctx, w.lockKeys...)
		if err != nil {
			return nil, err
		}
		defer releaseLocks()

		var result *T
		err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
			releaseAdvisory, err := AcquireAdvisoryLocks(conn, w.lockKeys...)
			if err != nil {
				return err
			}
			defer releaseAdvisory()

			w.at("begin")
			tx := conn.Begin()
			if tx.Error != nil {
				return &models.PartialFailureError{Workflow: w.name, Step: w.step, RolledBack: true, Err: tx.Error}
			}
			defer func() {
				if r := recover(); r != nil {
					tx.Rollback()
					panic(r)
				}
			}()

			if idemKey != "" {
				w.at("idempotency lookup")
				existing, err := FindSucceededIdempotency(tx, w.businessId, w.name, idemKey)
				if err != nil {
					return w.rollback(tx, err)
				}
				if existing != nil {
					tx.Rollback()
					var replay T
					if err := json.Unmarshal([]byte(existing.Response), &replay); err != nil {
						return err
					}
					result = &replay
					return nil
				}
			}

			res, referenceId, err := fn(tx)
			if err != nil {
				return w.rollback(tx, err)
			}
			if idemKey != "" {
				w.at("idempotency record")
				if err := MarkIdempotencySucceeded(tx, w.businessId, w.name, idemKey, referenceId, res); err != nil {
					return w.rollback(tx, err)
				}
			}
			w.at("commit")
			if err := tx.Commit().Error; err != nil {
				return &models.PartialFailureError{Workflow: w.name, Step: w.step, RolledBack: false, Err: err}
			}
			result = res
			return nil
		})
		return result, err
	}()
	if err == nil {
		return result, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger := config.GetLogger()
	if models.IsDomainError(err) {
		logger.WithFields(logrus.Fields{
			"module":      "PurchaseOrderWorkflow.go",
			"funcName":    w.name,
			"business_id": w.businessId,
		}).Info(err.Error())
		return nil, err
	}
	config.LogError(logger, "PurchaseOrderWorkflow.go", w.name, w.step, w.businessId, err)
	if idemKey != "" {
		if markErr := MarkIdempotencyFailed(db.WithContext(context.WithoutCancel(ctx)), w.businessId, w.name, idemKey, err); markErr != nil {
			config.LogError(logger, "PurchaseOrderWorkflow.go", w.name, "MarkIdempotencyFailed", idemKey, markErr)
		}
	}
	return nil, err
}
