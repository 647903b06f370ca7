// outbox-dispatcher publishes pending purchase order events to Pub/Sub.
// Use it when the API runs with PUBSUB_TOPIC unset, or to drain a backlog.
//
// Usage:
//
//	PUBSUB_PROJECT_ID=... PUBSUB_TOPIC=... DB_*=... go run ./cmd/outbox-dispatcher [--once]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/purchase_ledger/config"
	"github.com/mmdatafocus/purchase_ledger/workflow"
)

func main() {
	once := flag.Bool("once", false, "Dispatch a single batch and exit")
	batchSize := flag.Int("batch-size", 50, "Events claimed per batch")
	flag.Parse()

	publisher := config.NewPubSubPublisherFromEnv()
	if publisher.TopicName == "" {
		fmt.Fprintln(os.Stderr, "PUBSUB_TOPIC is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	defer config.ClosePubSubClient()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := workflow.NewOutboxDispatcher(db, config.GetLogger(), publisher)
	dispatcher.BatchSize = *batchSize
	if *once {
		n := dispatcher.DispatchOnce(ctx)
		fmt.Printf("published %d events\n", n)
		return
	}
	dispatcher.Run(ctx)
}
