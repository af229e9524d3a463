package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/realtime"
)

// initKafkaProducer инициализирует Kafka producer, если заданы brokers.
// Ошибка подключения не роняет сервис: он продолжает работать без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initRealtimeBridge создаёт консьюмер, транслирующий события заказов
// из Kafka в локальный realtime-хаб.
func initRealtimeBridge(cfg Config, hub *realtime.Hub, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	handler := kafka.NewRealtimeBridgeHandler(hub, logger.WithField("component", "realtime-bridge"))
	return kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]string{kafka.TopicOrderEvents},
		handler,
		dlqProducer,
		3,
	)
}

// closeKafka закрывает Kafka producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
