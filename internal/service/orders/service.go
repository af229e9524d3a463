package orders

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/metrics"
)

// Service — операции над уже созданными заказами: продвижение статуса
// продавцом, отмена, фиксация отправления перевозчика и чтение.
// Легальность переходов проверяет репозиторий; сервис добавляет
// авторизацию принципала и побочные эффекты (события, уведомления).
type Service struct {
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	notifier domain.StatusNotifier
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, outbox domain.OutboxRepository, notifier domain.StatusNotifier, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "orders")
	}
	return &Service{
		orders:   orders,
		outbox:   outbox,
		notifier: notifier,
		metrics:  metrics.NewCheckoutMetrics(),
		logger:   logger,
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(orders domain.OrderRepository, outbox domain.OutboxRepository, notifier domain.StatusNotifier, logger *log.Entry) *Service {
	s := NewService(orders, outbox, notifier, logger)
	s.metrics = nil
	return s
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(_ context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// ListByBuyer возвращает заказы покупателя.
func (s *Service) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByBuyer(buyerID, limit)
}

// ListBySeller возвращает заказы продавца.
func (s *Service) ListBySeller(_ context.Context, sellerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListBySeller(sellerID, limit)
}

// UpdateStatus применяет переход статуса от имени продавца-принципала.
// Продавец может менять только собственные заказы. Сам переход атомарно
// проверяет и применяет репозиторий: два конкурентных вызова никогда
// не приводят к двум расходящимся статусам.
func (s *Service) UpdateStatus(_ context.Context, sellerID, orderID string, target domain.OrderStatus) (domain.Order, error) {
	current, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.SellerID != sellerID {
		// Чужой заказ неотличим от несуществующего.
		return domain.Order{}, domain.ErrOrderNotFound
	}

	updated, changed, err := s.orders.UpdateStatus(orderID, target)
	if err != nil {
		return domain.Order{}, err
	}

	// Побочные эффекты привязаны к флагу changed от репозитория, а не к
	// чтению статуса до вызова: из двух конкурентных одинаковых переходов
	// событие и уведомление эмитит ровно один.
	if !changed {
		return updated, nil
	}

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(string(updated.Status))
	}
	s.emitStatusChanged(updated)
	s.notify(updated)

	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"to":       string(updated.Status),
	}).Info("order status updated")
	return updated, nil
}

// Cancel отменяет заказ от имени покупателя-владельца.
// Отмена — обычный переход в cancelled, репозиторий отклонит её
// после отгрузки.
func (s *Service) Cancel(_ context.Context, buyerID, orderID string) (domain.Order, error) {
	current, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if current.BuyerID != buyerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	updated, changed, err := s.orders.UpdateStatus(orderID, domain.OrderStatusCancelled)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return updated, nil
	}

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(string(updated.Status))
	}
	s.emitStatusChanged(updated)
	s.notify(updated)
	return updated, nil
}

// AttachCarrierReference фиксирует идентификатор отправления перевозчика.
// Вызывается обработчиком carrier webhook.
func (s *Service) AttachCarrierReference(_ context.Context, orderID, carrierRef string) (domain.Order, error) {
	return s.orders.SetCarrierReference(orderID, carrierRef)
}

func (s *Service) emitStatusChanged(order domain.Order) {
	eventType := kafka.EventTypeOrderStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = kafka.EventTypeOrderCancelled
	}
	event := kafka.NewOrderStatusEvent(eventType, order.ID, order.SellerID, order.BuyerID, string(order.Status), nil)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("marshal status event failed")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("enqueue status event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) notify(order domain.Order) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(order.SellerID, domain.OrderEvent{
		OrderID:    order.ID,
		SellerID:   order.SellerID,
		Status:     order.Status,
		OccurredAt: time.Now().UTC(),
	})
}
