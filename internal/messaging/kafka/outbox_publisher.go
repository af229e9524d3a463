package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka. Топик выбирается
// по aggregate_type события: платёжные события идут в отдельный топик.
type OutboxTopicPublisher struct {
	producer     *Producer
	defaultTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, defaultTopic string) domain.OutboxPublisher {
	if defaultTopic == "" {
		defaultTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:     producer,
		defaultTopic: defaultTopic,
	}
}

// routeOutboxTopic выбирает топик для outbox-события.
func routeOutboxTopic(aggregateType, defaultTopic string) string {
	if aggregateType == "payment" {
		return TopicPaymentEvents
	}
	return defaultTopic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// Ключ — идентификатор агрегата: события одного заказа попадают
	// в одну партицию и сохраняют порядок.
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(routeOutboxTopic(event.AggregateType, p.defaultTopic), key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
