package workflow

import (
	"context"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/sirupsen/logrus"
)

// RunLedgerReconciliationChecks writes mismatch rows to reconciliation_reports.
// This is intended to be run on a schedule (nightly) or via an admin trigger,
// and after any PartialFailureError whose rollback did not complete.
func RunLedgerReconciliationChecks(ctx context.Context, logger *logrus.Logger, businessId string) (*models.ReconciliationResult, error) {
	ctx, span := tracer.Start(ctx, "RunLedgerReconciliationChecks")
	defer span.End()

	result, err := models.RunLedgerReconciliationChecks(ctx, businessId)
	if err != nil {
		config.LogError(logger, "ReconciliationChecks.go", "RunLedgerReconciliationChecks", "run checks", businessId, err)
		return nil, err
	}
	if logger != nil {
		entry := logger.WithFields(logrus.Fields{
			"field":          "ReconciliationChecks",
			"business_id":    businessId,
			"correlation_id": result.CorrelationId,
			"mismatches":     len(result.Mismatches),
		})
		if len(result.Mismatches) > 0 {
			entry.Warn("ledger reconciliation found mismatches")
		} else {
			entry.Info("ledger reconciliation checks completed")
		}
	}
	return result, nil
}
