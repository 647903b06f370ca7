package workflow

import (
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mmdatafocus/purchase_ledger/models"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213

	pgDeadlockDetected    = "40P01"
	pgLockNotAvailable    = "55P03"
	pgSerializationFailed = "40001"
)

// isLockConflict reports database errors raised when a row lock could not be
// taken. The transaction is rolled back by the server and can be retried.
func isLockConflict(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDeadlockDetected, pgLockNotAvailable, pgSerializationFailed:
			return true
		}
	}
	return false
}

func asAggregateBusy(err error) error {
	return fmt.Errorf("%w: %v", models.ErrAggregateBusy, err)
}
