package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"

	// Payment события
	EventTypePaymentVerified EventType = "payment.verified"
	// EventTypePaymentReconciliationRequired — оплата захвачена шлюзом,
	// но заказ так и не был сохранён. Самый тяжёлый сбой: обрабатывается
	// отдельным контуром сверки.
	EventTypePaymentReconciliationRequired EventType = "payment.reconciliation_required"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicPaymentEvents   = "checkout.payment.events"
	TopicDeadLetterQueue = "checkout.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderStatusEvent представляет событие изменения заказа
type OrderStatusEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	SellerID  string                 `json:"seller_id"`
	BuyerID   string                 `json:"buyer_id,omitempty"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentEvent представляет событие платёжного контура
type PaymentEvent struct {
	EventType   EventType              `json:"event_type"`
	IntentID    string                 `json:"intent_id"`
	PaymentID   string                 `json:"payment_id"`
	BuyerID     string                 `json:"buyer_id"`
	AmountMinor int64                  `json:"amount_minor"`
	Currency    string                 `json:"currency"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderStatusEvent создает новое событие изменения заказа
func NewOrderStatusEvent(eventType EventType, orderID, sellerID, buyerID, status string, metadata map[string]interface{}) *OrderStatusEvent {
	return &OrderStatusEvent{
		EventType: eventType,
		OrderID:   orderID,
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewPaymentEvent создает новое событие платёжного контура
func NewPaymentEvent(eventType EventType, intentID, paymentID, buyerID string, amountMinor int64, currency string) *PaymentEvent {
	return &PaymentEvent{
		EventType:   eventType,
		IntentID:    intentID,
		PaymentID:   paymentID,
		BuyerID:     buyerID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Timestamp:   time.Now(),
	}
}
