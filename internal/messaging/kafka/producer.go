package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	kafkaPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_kafka_published_total",
		Help: "Total number of messages published to Kafka grouped by topic.",
	}, []string{"topic"})
	kafkaPublishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_kafka_publish_errors_total",
		Help: "Total number of failed Kafka publishes grouped by topic.",
	}, []string{"topic"})
)

// Producer — синхронный Kafka producer для событий заказов и платежей.
// Включена идемпотентность брокера, поэтому повтор публикации при сбое
// сети не создаёт дубликат в партиции.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает producer с ожиданием подтверждения всех ISR-реплик.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	// Идемпотентный producer требует не больше одного запроса в полёте.
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}

	return &Producer{
		producer: producer,
		logger:   logger,
	}, nil
}

// PublishEvent сериализует событие в JSON и публикует его под заданным ключом.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for topic %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(eventData),
		Timestamp: time.Now().UTC(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		kafkaPublishErrorsTotal.WithLabelValues(topic).Inc()
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("send message to %s: %w", topic, err)
	}

	kafkaPublishedTotal.WithLabelValues(topic).Inc()
	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
