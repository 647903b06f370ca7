package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var defaultPaymentEpsilon = decimal.RequireFromString("0.01")

// PaymentEpsilon is the tolerance allowed when a payment is compared against the
// remaining balance of a purchase order.
//
// Set via env:
// - PAYMENT_EPSILON=0.01
func PaymentEpsilon() decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv("PAYMENT_EPSILON"))
	if raw == "" {
		return defaultPaymentEpsilon
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return defaultPaymentEpsilon
	}
	return d
}

// WorkflowTimeout bounds a single reconciliation workflow, including lock waits.
//
// Set via env:
// - WORKFLOW_TIMEOUT_SECONDS=30
func WorkflowTimeout() time.Duration {
	return time.Duration(IntFromEnv("WORKFLOW_TIMEOUT_SECONDS", 30)) * time.Second
}

// AggregateLockTTL is how long a redis aggregate lock lives if its holder dies.
//
// Set via env:
// - AGGREGATE_LOCK_TTL_SECONDS=30
func AggregateLockTTL() time.Duration {
	return time.Duration(IntFromEnv("AGGREGATE_LOCK_TTL_SECONDS", 30)) * time.Second
}

// IsProduction reports GO_ENV=production.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
