package domain

import (
	"context"
	"time"
)

// ShippingQuote — ответ перевозчика на запрос оценки доставки.
type ShippingQuote struct {
	Serviceable   bool
	CostMinor     int64
	EstimatedDays int32
	CarrierName   string
}

// ShippingEstimator описывает взаимодействие с внешним перевозчиком.
type ShippingEstimator interface {
	// Estimate запрашивает стоимость и сроки доставки между индексами.
	// Флаг cod передаётся без изменений: перевозчики обычно берут наценку
	// за наложенный платёж. Недоступность перевозчика — ErrEstimatorUnavailable,
	// а не нулевая стоимость.
	Estimate(ctx context.Context, originPostal, destPostal string, weightKg float64, cod bool) (ShippingQuote, error)
}

// PaymentIntent — созданное у шлюза намерение оплаты.
type PaymentIntent struct {
	IntentID    string
	AmountMinor int64
	Currency    string
	// RedirectURL или client secret, на который уходит покупатель.
	RedirectURL string
	CreatedAt   time.Time
}

// PaymentProof — callback-данные шлюза, предъявленные покупателем на checkout.
type PaymentProof struct {
	IntentID  string
	PaymentID string
	Signature string
}

// VerifiedPayment — результат успешной проверки пруфа.
type VerifiedPayment struct {
	IntentID    string
	PaymentID   string
	AmountMinor int64
	VerifiedAt  time.Time
}

// PaymentGateway описывает взаимодействие с платёжным шлюзом.
type PaymentGateway interface {
	// CreateIntent создаёт намерение оплаты до отправки покупателя на шлюз.
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (PaymentIntent, error)
	// Verify криптографически проверяет подпись пруфа и точное совпадение
	// суммы с expectedAmountMinor. Каждый пруф авторизует ровно один заказ.
	Verify(ctx context.Context, proof PaymentProof, expectedAmountMinor int64) (VerifiedPayment, error)
}

// Address — запись адресной книги покупателя (внешний справочник).
type Address struct {
	ID         string
	BuyerID    string
	Name       string
	Street     string
	City       string
	State      string
	PostalCode string
	Phone      string
}

// Snapshot снимает денормализованную копию адреса для заказа.
func (a Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		Name:       a.Name,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Phone:      a.Phone,
	}
}

// AddressDirectory — внешний справочник адресов (CRUD вне этого ядра).
type AddressDirectory interface {
	// ResolveAddress возвращает адрес покупателя или ErrAddressUnresolved.
	ResolveAddress(ctx context.Context, buyerID, addressID string) (Address, error)
}

// ProductInfo — минимальные сведения о товаре, нужные checkout.
type ProductInfo struct {
	ProductID                string
	SellerID                 string
	OriginPostal             string
	WeightKg                 float64
	UnitPriceMinor           int64
	DiscountedUnitPriceMinor int64
}

// ProductDirectory — внешний каталог товаров (вне этого ядра).
type ProductDirectory interface {
	// ResolveProduct возвращает сведения о товаре или ErrProductUnresolved.
	ResolveProduct(ctx context.Context, productID string) (ProductInfo, error)
}

// OrderEvent — событие изменения заказа для realtime-канала продавца.
type OrderEvent struct {
	OrderID    string      `json:"order_id"`
	SellerID   string      `json:"seller_id"`
	Status     OrderStatus `json:"status"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// StatusNotifier доставляет события заказов в подключённые сессии продавца.
// Доставка best-effort и at-most-once: источником истины остаётся репозиторий.
type StatusNotifier interface {
	Publish(sellerID string, event OrderEvent)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending выдаёт pending-сообщения в порядке постановки. События
	// агрегата, у которого есть более раннее failed-сообщение, придерживаются
	// до переигрывания, чтобы не нарушать порядок внутри агрегата.
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
