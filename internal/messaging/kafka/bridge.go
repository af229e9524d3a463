package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// NewRealtimeBridgeHandler возвращает обработчик событий заказов,
// пробрасывающий их в локальный realtime-хаб. Мост нужен при нескольких
// инстансах сервиса: подписчик может висеть на одном инстансе, а переход
// статуса — произойти на другом; Kafka доставляет событие всем.
// При включённом мосте сервисы не публикуют в хаб напрямую, иначе
// инстанс-автор доставил бы событие дважды.
func NewRealtimeBridgeHandler(notifier domain.StatusNotifier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "realtime-bridge")
	}

	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			return err
		}
		if envelope.AggregateType != "order" {
			return nil
		}

		event, err := ParseOrderStatusEvent(envelope)
		if err != nil {
			return err
		}
		if event.SellerID == "" {
			logger.WithField("order_id", event.OrderID).Warn("order event without seller, skipping")
			return nil
		}

		notifier.Publish(event.SellerID, domain.OrderEvent{
			OrderID:    event.OrderID,
			SellerID:   event.SellerID,
			Status:     domain.OrderStatus(event.Status),
			OccurredAt: event.Timestamp,
		})
		return nil
	}
}
