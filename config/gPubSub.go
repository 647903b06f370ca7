package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PurchaseEventMessage is the payload published for every committed purchase order workflow.
type PurchaseEventMessage struct {
	ID              int       `json:"id"`
	BusinessId      string    `json:"business_id"`
	EventDateTime   time.Time `json:"event_date_time"`
	PurchaseOrderId int       `json:"purchase_order_id"`
	CreditorId      int       `json:"creditor_id"`
	Action          string    `json:"action"`
	Payload         []byte    `json:"payload"`
	CorrelationId   string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns a lazily created Pub/Sub client.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// PubSubPublisher publishes purchase events to the topic named by PUBSUB_TOPIC.
type PubSubPublisher struct {
	TopicName string
}

func NewPubSubPublisherFromEnv() *PubSubPublisher {
	return &PubSubPublisher{TopicName: os.Getenv("PUBSUB_TOPIC")}
}

// Publish returns the server-assigned message id.
func (p *PubSubPublisher) Publish(ctx context.Context, msg PurchaseEventMessage) (string, error) {
	if p.TopicName == "" {
		return "", errors.New("PUBSUB_TOPIC is required")
	}
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(p.TopicName).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"business_id":    msg.BusinessId,
			"action":         msg.Action,
			"correlation_id": msg.CorrelationId,
		},
	})
	return result.Get(ctx)
}

// ClosePubSubClient closes the client if one was created.
func ClosePubSubClient() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
