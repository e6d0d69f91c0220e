// Package jobs publishes asynchronous work to Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/naiaprojects/naia-sub001/internal/services"
)

// EventPurchaseVerified is the eventType attribute consumers filter on.
const EventPurchaseVerified = "store.purchase.verified"

// PubSubDeliveryPublisher publishes verified purchase deliveries for the mailer.
type PubSubDeliveryPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubDeliveryPublisher(topic *pubsub.Topic) (*PubSubDeliveryPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub delivery publisher: topic is required")
	}
	return &PubSubDeliveryPublisher{topic: topic}, nil
}

// PublishPurchaseDelivery publishes the event and waits for the server ack. The event ID is
// sent as an attribute so subscribers can drop redeliveries.
func (p *PubSubDeliveryPublisher) PublishPurchaseDelivery(ctx context.Context, event services.PurchaseDeliveryEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub delivery publisher: not initialised")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal purchase delivery: %w", err)
	}

	attrs := map[string]string{"eventType": EventPurchaseVerified}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "invoiceNumber", event.InvoiceNumber)
	setAttr(attrs, "itemId", event.ItemID)

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish purchase delivery: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
