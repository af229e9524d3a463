package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Переходы статусов сериализуются мьютексом: из двух конкурентных
// UpdateStatus для одного заказа успешен ровно один.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Аналог уникального индекса по payment_reference: один захваченный
	// платёж привязан максимум к одному заказу.
	if order.PaymentReference != "" {
		for _, existing := range r.items {
			if existing.PaymentReference == order.PaymentReference {
				return domain.ErrPaymentReferenceInUse
			}
		}
	}
	// Сохраняем копию позиций, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.BuyerID == buyerID }, limit)
}

// ListBySeller возвращает заказы продавца, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListBySeller(sellerID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.SellerID == sellerID }, limit)
}

func (r *orderRepositoryInMemory) list(match func(domain.Order) bool, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// UpdateStatus применяет переход статуса, проверяя машину состояний на границе записи.
// Флаг changed=true возвращается только тому вызову, который реально сменил статус.
func (r *orderRepositoryInMemory) UpdateStatus(orderID string, target domain.OrderStatus) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}

	// Повторная установка текущего статуса — no-op успех без инкремента версии.
	if order.Status == target {
		return cloneOrder(order), false, nil
	}

	if !domain.CanTransition(order.Status, target) {
		return domain.Order{}, false, domain.NewInvalidTransition(order.Status, target)
	}

	order.Status = target
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order

	return cloneOrder(order), true, nil
}

// SetCarrierReference фиксирует идентификатор отправления у перевозчика.
func (r *orderRepositoryInMemory) SetCarrierReference(orderID, carrierRef string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return domain.Order{}, domain.ErrOrderTerminal
	}

	order.CarrierReference = carrierRef
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[orderID] = order

	return cloneOrder(order), nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
