package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в маркетплейсе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает подтверждения продавцом.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — продавец принял заказ в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан перевозчику.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен покупателю (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до отгрузки (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod — способ оплаты, выбранный на checkout.
type PaymentMethod string

const (
	// PaymentMethodCOD — оплата наличными при получении.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline — оплата через платёжный шлюз до создания заказа.
	PaymentMethodOnline PaymentMethod = "online"
)

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не получена (допустимо только для COD).
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted — оплата подтверждена шлюзом.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — оплата не прошла.
	PaymentStatusFailed PaymentStatus = "failed"
)

// nextStatus задаёт линейную последовательность happy path.
var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:    OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusShipped,
	OrderStatusShipped:    OrderStatusDelivered,
}

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition проверяет легальность перехода (current → target).
// Разрешены только шаг вперёд по линейной последовательности и отмена
// из pending/processing: физически отгруженный заказ отменить нельзя.
func CanTransition(current, target OrderStatus) bool {
	if current.IsTerminal() {
		return false
	}
	if target == OrderStatusCancelled {
		return current == OrderStatusPending || current == OrderStatusProcessing
	}
	return nextStatus[current] == target
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — внешний идентификатор товара в каталоге.
	ProductID string
	// Size — вариант товара (размер), выбранный покупателем.
	Size string
	// Qty — количество единиц товара.
	Qty int32
	// UnitPriceMinor — цена за единицу до скидки в минимальных денежных единицах.
	UnitPriceMinor int64
	// DiscountedUnitPriceMinor — фактическая цена за единицу после скидки.
	DiscountedUnitPriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// AddressSnapshot — денормализованная копия адреса доставки на момент заказа.
// Копируется, а не ссылается: последующие правки адреса в профиле покупателя
// не меняют уже оформленный заказ.
type AddressSnapshot struct {
	Name       string
	Street     string
	City       string
	State      string
	PostalCode string
	Phone      string
}

// Complete проверяет, что в снапшоте заполнены обязательные поля доставки.
func (a AddressSnapshot) Complete() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.PostalCode != ""
}

// Order агрегирует состояние заказа: позиции, адрес, оплату и доставку.
type Order struct {
	ID       string
	BuyerID  string
	SellerID string

	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus

	Items           []OrderItem
	ShippingAddress AddressSnapshot

	// ShippingCostMinor и TotalAmountMinor вычисляются на checkout и замораживаются.
	ShippingCostMinor int64
	TotalAmountMinor  int64
	Currency          string

	// EstimatedDeliveryDays — оценка перевозчика, полученная на checkout.
	EstimatedDeliveryDays int32
	// CarrierReference — идентификатор отправления у перевозчика (после бронирования).
	CarrierReference string
	// PaymentReference — идентификатор платежа у шлюза (для online-заказов).
	PaymentReference string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemsSubtotalMinor возвращает сумму позиций по цене со скидкой.
func (o *Order) ItemsSubtotalMinor() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += int64(item.Qty) * item.DiscountedUnitPriceMinor
	}
	return sum
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.ShippingAddress.Complete() {
		errs = append(errs, ErrAddressIncomplete)
	}
	if o.ShippingCostMinor < 0 {
		errs = append(errs, ErrShippingCostNegative)
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.DiscountedUnitPriceMinor < 0 || item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	// Сверяем итог заказа: сумма позиций по цене со скидкой плюс доставка.
	if o.ItemsSubtotalMinor()+o.ShippingCostMinor != o.TotalAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	// Online-заказ не может существовать без подтверждённой оплаты,
	// если он уже продвинулся дальше pending.
	if o.PaymentMethod == PaymentMethodOnline &&
		o.PaymentStatus == PaymentStatusPending &&
		o.Status != OrderStatusPending {
		errs = append(errs, ErrOnlinePaymentNotVerified)
	}

	return errs
}
