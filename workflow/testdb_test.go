package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testBusinessId = "biz-test"

// openTestDB installs a private in-memory sqlite database as the global handle.
// One connection: the workflow pins it for the whole transaction, so
// concurrent callers queue on the pool.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := config.OpenDatabase(sqlite.Open(dsn))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.Migrate(db))

	prevDB := config.GetDB()
	prevRedis := config.GetRedisDB()
	config.SetDB(db)
	config.SetRedisClient(nil)
	t.Cleanup(func() {
		config.SetDB(prevDB)
		config.SetRedisClient(prevRedis)
		_ = sqlDB.Close()
	})
	return db
}

func testContext() context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), testBusinessId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return utils.SetCorrelationIdInContext(ctx, "cid-test")
}

type fixture struct {
	creditor *models.Creditor
	variants []*models.ProductVariant
}

func seedFixture(t *testing.T, ctx context.Context, variantCount int) fixture {
	t.Helper()
	creditor, err := models.CreateCreditor(ctx, &models.NewCreditor{Name: "Golden Rice Trading", Email: "sales@goldenrice.example"})
	require.NoError(t, err)
	f := fixture{creditor: creditor}
	for i := 0; i < variantCount; i++ {
		variant, err := models.CreateProductVariant(ctx, &models.NewProductVariant{
			Name: fmt.Sprintf("Variant %d", i+1),
			Sku:  fmt.Sprintf("SKU-%d", i+1),
		})
		require.NoError(t, err)
		f.variants = append(f.variants, variant)
	}
	return f
}

func (f fixture) item(i int, qty, unitCost string) models.NewPurchaseOrderItem {
	return models.NewPurchaseOrderItem{
		VariantId: f.variants[i].ID,
		Quantity:  dec(qty),
		UnitCost:  dec(unitCost),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func creditorBalance(t *testing.T, ctx context.Context, id int) decimal.Decimal {
	t.Helper()
	creditor, err := models.GetCreditor(ctx, id)
	require.NoError(t, err)
	return creditor.OutstandingBalance
}

func inventoryQuantity(t *testing.T, ctx context.Context, variantId int) decimal.Decimal {
	t.Helper()
	inv, err := models.GetInventory(ctx, variantId)
	require.NoError(t, err)
	return inv.Quantity
}

func countRows[T any](t *testing.T, db *gorm.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var model T
	var count int64
	require.NoError(t, db.Model(&model).Where(query, args...).Count(&count).Error)
	return count
}

func testDBBegin(t *testing.T) *gorm.DB {
	t.Helper()
	tx := config.GetDB().Begin()
	require.NoError(t, tx.Error)
	return tx
}
