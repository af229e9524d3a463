package domain

// OrderRepository описывает требования к хранилищу заказов.
// Машина состояний (CanTransition) и неизменяемость терминальных заказов
// проверяются на границе записи: ни один вызывающий не может их обойти.
type OrderRepository interface {
	// Create сохраняет новый заказ атомарно: либо записан целиком, либо ничего.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя с опциональным лимитом.
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// ListBySeller возвращает заказы продавца с опциональным лимитом.
	ListBySeller(sellerID string, limit int) ([]Order, error)
	// UpdateStatus применяет переход статуса с проверкой легальности.
	// Запрос target == current — no-op успех с changed=false. Запрещённый
	// переход — InvalidTransitionError. Конкурентные вызовы сериализуются:
	// из двух одновременных переходов changed=true получает ровно один,
	// поэтому побочные эффекты перехода привязываются к этому флагу,
	// а не к чтению статуса до вызова.
	UpdateStatus(orderID string, target OrderStatus) (Order, bool, error)
	// SetCarrierReference фиксирует идентификатор отправления у перевозчика.
	SetCarrierReference(orderID, carrierRef string) (Order, error)
}
