package workflow

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLConcurrentPaymentsAndDelete(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "purchase_ledger_test")

	prev := config.GetDB()
	config.ConnectDatabaseWithRetry()
	t.Cleanup(func() { config.SetDB(prev) })
	models.MigrateTable()
	config.SetRedisClient(nil)

	ctx := testContext()
	f := seedFixture(t, ctx, 1)
	order, err := CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		CreditorId: f.creditor.ID,
		Items:      []models.NewPurchaseOrderItem{f.item(0, "50", "100")},
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := RecordPurchaseOrderPayment(ctx, order.ID, &models.NewPurchaseOrderPayment{Amount: dec("1000")})
			if err != nil && !errors.Is(err, models.ErrOverpayment) && !errors.Is(err, models.ErrAggregateBusy) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	reloaded, err := models.GetPurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, fmt.Sprintf("%d", succeeded*1000), reloaded.PaidAmount)
	requireDecimal(t, fmt.Sprintf("%d", 5000-succeeded*1000), creditorBalance(t, ctx, f.creditor.ID))
	assert.LessOrEqual(t, succeeded, 5)

	_, err = DeletePurchaseOrder(ctx, order.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", creditorBalance(t, ctx, f.creditor.ID))

	result, err := RunLedgerReconciliationChecks(ctx, config.GetLogger(), testBusinessId)
	require.NoError(t, err)
	assert.Empty(t, result.Mismatches)
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("purchase-ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=purchase_ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
