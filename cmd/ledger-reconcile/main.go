// ledger-reconcile folds the payment, creditor ledger and inventory logs of a
// business and reports every cached field that disagrees with them.
//
// Usage:
//
//	DB_DRIVER=mysql DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/ledger-reconcile --business-id=<uuid>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/mmdatafocus/purchase_ledger/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Optional: overall timeout")
	failOnMismatch := flag.Bool("fail-on-mismatch", false, "Exit with status 3 when mismatches are found")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetBusinessIdInContext(ctx, *businessID)
	ctx = utils.SetUserNameInContext(ctx, "ledger-reconcile")

	result, err := workflow.RunLedgerReconciliationChecks(ctx, config.GetLogger(), *businessID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if *failOnMismatch && len(result.Mismatches) > 0 {
		os.Exit(3)
	}
}
