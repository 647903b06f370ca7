// seed-dev prepares a local environment: it migrates the schema, creates a
// creditor and two product variants for the business and writes a session
// token to redis so the API can be called with the "token" header.
//
// Usage:
//
//	DB_DRIVER=sqlite REDIS_ADDRESS=localhost:6379 go run ./cmd/seed-dev --business-id=dev
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/middlewares"
	"github.com/mmdatafocus/purchase_ledger/models"
	"github.com/mmdatafocus/purchase_ledger/utils"
	"github.com/shopspring/decimal"
)

func main() {
	businessID := flag.String("business-id", "dev", "Business id to seed")
	username := flag.String("username", "devAdmin", "Session username")
	sessionTTL := flag.Duration("session-ttl", 24*time.Hour, "Session lifetime")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	redisCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancel()
	if config.GetRedisDB() == nil {
		fmt.Fprintln(os.Stderr, "redis not reachable; set REDIS_ADDRESS")
		os.Exit(1)
	}

	ctx = utils.SetBusinessIdInContext(ctx, *businessID)
	ctx = utils.SetUsernameInContext(ctx, *username)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	creditor, err := models.CreateCreditor(ctx, &models.NewCreditor{Name: "Dev Supplier", Email: "supplier@example.com"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create creditor: %v\n", err)
		os.Exit(1)
	}
	var variantIds []int
	for i, name := range []string{"Rice 25kg", "Cooking Oil 5L"} {
		variant, err := models.CreateProductVariant(ctx, &models.NewProductVariant{
			Name:      name,
			Sku:       fmt.Sprintf("DEV-%s-%d", uuid.NewString()[:8], i+1),
			CostPrice: decimal.Zero,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create product variant: %v\n", err)
			os.Exit(1)
		}
		variantIds = append(variantIds, variant.ID)
	}

	token := uuid.NewString()
	session := middlewares.Session{
		UserId:     1,
		Username:   *username,
		Name:       "Dev Admin",
		BusinessId: *businessID,
		IsAdmin:    true,
	}
	if err := config.SetRedisObject(ctx, middlewares.SessionKey(token), session, *sessionTTL); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("creditor_id=%d variant_ids=%v\n", creditor.ID, variantIds)
	fmt.Printf("token=%s\n", token)
}
