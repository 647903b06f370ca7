package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"gorm.io/gorm"
)

// lock wait before a request is rejected as busy
var lockWait = 5 * time.Second

func CreditorLockKey(creditorId int) string {
	return fmt.Sprintf("lock:creditor:%d", creditorId)
}

func PurchaseOrderLockKey(purchaseOrderId int) string {
	return fmt.Sprintf("lock:purchase_order:%d", purchaseOrderId)
}

func PurchaseOrderNumberLockKey(businessId string) string {
	return fmt.Sprintf("lock:purchase_order_number:%s", businessId)
}

func sortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

// ObtainAggregateLocks takes a redis lock per key, in sorted order. When redis
// is not configured it returns a no-op release; the database locks still apply.
func ObtainAggregateLocks(ctx context.Context, keys ...string) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil || len(keys) == 0 {
		return func() {}, nil
	}

	ttl := config.AggregateLockTTL()
	retry := redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(lockWait/(50*time.Millisecond)))

	var held []*redislock.Lock
	release := func() {
		// released with a fresh context so a cancelled request still frees its locks
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(context.Background())
		}
	}
	for _, key := range sortedKeys(keys) {
		lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: retry})
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			config.LogError(config.GetLogger(), "AggregateLock.go", "ObtainAggregateLocks", "Could not obtain lock", key, err)
			return nil, models.ErrAggregateBusy
		}
		if err != nil {
			release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// redis outage: fall back to database locking only
			config.LogError(config.GetLogger(), "AggregateLock.go", "ObtainAggregateLocks", "Error obtaining lock", key, err)
			return func() {}, nil
		}
		held = append(held, lock)
	}
	return release, nil
}

// AcquireAdvisoryLocks serializes workflows on the same aggregates across
// instances using session-level advisory locks.
// NOTE: the locks are connection-scoped, so conn must be the pinned connection
// that runs the workflow transaction, and release must run on it after commit.
func AcquireAdvisoryLocks(conn *gorm.DB, keys ...string) (func(), error) {
	var acquire, unlock string
	switch conn.Dialector.Name() {
	case config.DriverMySQL:
		acquire = "SELECT GET_LOCK(?, ?)"
		unlock = "SELECT RELEASE_LOCK(?)"
	case config.DriverPostgres:
		acquire = "SELECT CASE WHEN pg_try_advisory_lock(hashtext(?)) THEN 1 ELSE 0 END"
		unlock = "SELECT pg_advisory_unlock(hashtext(?))"
	default:
		// sqlite serializes writers on its own
		return func() {}, nil
	}

	var held []string
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			var ok int
			_ = conn.Raw(unlock, held[i]).Scan(&ok).Error
		}
	}
	for _, key := range sortedKeys(keys) {
		ok, err := tryAdvisoryLock(conn, acquire, key)
		if err != nil {
			release()
			return nil, err
		}
		if !ok {
			release()
			return nil, models.ErrAggregateBusy
		}
		held = append(held, key)
	}
	return release, nil
}

func tryAdvisoryLock(conn *gorm.DB, acquire string, key string) (bool, error) {
	var ok int
	if conn.Dialector.Name() == config.DriverMySQL {
		if err := conn.Raw(acquire, key, int(lockWait/time.Second)).Scan(&ok).Error; err != nil {
			return false, err
		}
		return ok == 1, nil
	}

	deadline := time.Now().Add(lockWait)
	for {
		if err := conn.Raw(acquire, key).Scan(&ok).Error; err != nil {
			return false, err
		}
		if ok == 1 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-conn.Statement.Context.Done():
			return false, conn.Statement.Context.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
