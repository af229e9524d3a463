package kafka

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	rooms  []string
}

func (c *captureNotifier) Publish(sellerID string, event domain.OrderEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = append(c.rooms, sellerID)
	c.events = append(c.events, event)
}

func bridgeMessage(t *testing.T, value string) *sarama.ConsumerMessage {
	t.Helper()
	return &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Key:   []byte("order-1"),
		Value: []byte(value),
	}
}

func TestRealtimeBridgeHandler(t *testing.T) {
	notifier := &captureNotifier{}
	handler := NewRealtimeBridgeHandler(notifier, log.WithField("test", "bridge"))

	msg := bridgeMessage(t, `{
		"id": "evt-1",
		"aggregate_type": "order",
		"aggregate_id": "order-1",
		"event_type": "order.status_changed",
		"payload": {"event_type":"order.status_changed","order_id":"order-1","seller_id":"seller-1","buyer_id":"buyer-1","status":"shipped"}
	}`)
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(notifier.events))
	}
	if notifier.rooms[0] != "seller-1" {
		t.Fatalf("event published to wrong room: %s", notifier.rooms[0])
	}
	event := notifier.events[0]
	if event.OrderID != "order-1" || event.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestRealtimeBridgeHandlerSkipsForeignAggregates(t *testing.T) {
	notifier := &captureNotifier{}
	handler := NewRealtimeBridgeHandler(notifier, nil)

	msg := bridgeMessage(t, `{
		"id": "evt-2",
		"aggregate_type": "payment",
		"aggregate_id": "pay-1",
		"event_type": "payment.verified",
		"payload": {"event_type":"payment.verified","intent_id":"pi-1"}
	}`)
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("payment event should not reach the hub, got %d", len(notifier.events))
	}
}

func TestRealtimeBridgeHandlerSkipsEventsWithoutSeller(t *testing.T) {
	notifier := &captureNotifier{}
	handler := NewRealtimeBridgeHandler(notifier, nil)

	msg := bridgeMessage(t, `{
		"id": "evt-3",
		"aggregate_type": "order",
		"aggregate_id": "order-2",
		"event_type": "order.status_changed",
		"payload": {"event_type":"order.status_changed","order_id":"order-2","status":"delivered"}
	}`)
	if err := handler(context.Background(), msg); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("event without seller should be skipped, got %d", len(notifier.events))
	}
}

func TestRealtimeBridgeHandlerRejectsMalformedEnvelope(t *testing.T) {
	notifier := &captureNotifier{}
	handler := NewRealtimeBridgeHandler(notifier, nil)

	if err := handler(context.Background(), bridgeMessage(t, "{")); err == nil {
		t.Fatal("expected envelope parse error")
	}
}
