package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего идентификатора продавца.
	ErrSellerRequired = errors.New("seller_id is required")
	// Ошибка пустой корзины на checkout.
	ErrEmptyCart = errors.New("cart must contain at least one item")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия итога заказа сумме позиций и доставки.
	ErrAmountMismatch = errors.New("order total does not match items sum plus shipping")
	// Ошибка отрицательной стоимости доставки.
	ErrShippingCostNegative = errors.New("shipping cost must be non-negative")
	// Ошибка неполного снапшота адреса.
	ErrAddressIncomplete = errors.New("shipping address snapshot is incomplete")
	// ErrOnlinePaymentNotVerified — online-заказ продвинулся без подтверждённой оплаты.
	ErrOnlinePaymentNotVerified = errors.New("online order requires verified payment before advancing")

	// ErrAddressUnresolved — адрес не найден или не принадлежит покупателю.
	ErrAddressUnresolved = errors.New("delivery address is unresolved")
	// ErrProductUnresolved — товар не найден в каталоге.
	ErrProductUnresolved = errors.New("product is unresolved")
	// ErrMixedSellers — корзина содержит товары разных продавцов;
	// один заказ всегда принадлежит одному продавцу.
	ErrMixedSellers = errors.New("cart items belong to different sellers")
	// ErrNotServiceable — перевозчик не доставляет по указанному индексу.
	ErrNotServiceable = errors.New("destination postal code is not serviceable")
	// ErrEstimatorUnavailable — перевозчик недоступен или вернул некорректный ответ.
	ErrEstimatorUnavailable = errors.New("shipping estimator unavailable")

	// ErrPaymentVerificationFailed — общий родитель ошибок проверки оплаты.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	// ErrSignatureInvalid — подпись шлюза не сошлась, возможна подделка.
	ErrSignatureInvalid = fmt.Errorf("%w: gateway signature invalid", ErrPaymentVerificationFailed)
	// ErrAmountMismatchProof — сумма в пруфе не равна сумме checkout.
	ErrAmountMismatchProof = fmt.Errorf("%w: proof amount mismatch", ErrPaymentVerificationFailed)
	// ErrGatewayUnavailable — временная недоступность платёжного шлюза.
	ErrGatewayUnavailable = fmt.Errorf("%w: gateway unavailable", ErrPaymentVerificationFailed)
	// ErrProofAlreadyConsumed — пруф уже использован другим заказом (replay).
	ErrProofAlreadyConsumed = fmt.Errorf("%w: payment proof already consumed", ErrPaymentVerificationFailed)
	// ErrPaymentProofRequired — online-checkout без пруфа оплаты.
	ErrPaymentProofRequired = fmt.Errorf("%w: payment proof is required", ErrPaymentVerificationFailed)
	// ErrPaymentReferenceInUse — платёж уже привязан к сохранённому заказу.
	// В отличие от ErrProofAlreadyConsumed, этот отказ приходит из хранилища
	// и действует между рестартами и инстансами сервиса.
	ErrPaymentReferenceInUse = fmt.Errorf("%w: payment reference already attached to an order", ErrProofAlreadyConsumed)

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderTerminal — заказ в терминальном статусе, записи запрещены.
	ErrOrderTerminal = errors.New("order is in terminal status")
	// ErrRepositoryUnavailable — временная недоступность хранилища.
	ErrRepositoryUnavailable = errors.New("order repository unavailable")
	// ErrOrderPersistenceFailed — запись заказа не удалась после всех retry.
	ErrOrderPersistenceFailed = errors.New("order persistence failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrRoomForbidden — подписчик пытается войти в чужую комнату продавца.
	ErrRoomForbidden = errors.New("subscriber is not allowed to join this seller room")
)

// InvalidTransitionError описывает запрещённый переход статуса, называя оба состояния.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition: %s -> %s", e.From, e.To)
}

// NewInvalidTransition создаёт ошибку запрещённого перехода.
func NewInvalidTransition(from, to OrderStatus) error {
	return &InvalidTransitionError{From: from, To: to}
}

// IsInvalidTransition проверяет, является ли ошибка запретом перехода.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsVerificationError проверяет, относится ли ошибка к проверке оплаты.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrPaymentVerificationFailed)
}

// ErrorKind сводит доменную ошибку к машинно-читаемому коду для API-ответов.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "EmptyCart"
	case errors.Is(err, ErrAddressUnresolved):
		return "AddressUnresolved"
	case errors.Is(err, ErrProductUnresolved):
		return "ProductUnresolved"
	case errors.Is(err, ErrMixedSellers):
		return "MixedSellers"
	case errors.Is(err, ErrItemQtyInvalid):
		return "ItemQtyInvalid"
	case errors.Is(err, ErrNotServiceable):
		return "NotServiceable"
	case errors.Is(err, ErrEstimatorUnavailable):
		return "EstimatorUnavailable"
	case errors.Is(err, ErrSignatureInvalid):
		return "SignatureInvalid"
	case errors.Is(err, ErrAmountMismatchProof):
		return "AmountMismatch"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GatewayUnavailable"
	case errors.Is(err, ErrProofAlreadyConsumed):
		return "AlreadyConsumed"
	case errors.Is(err, ErrPaymentVerificationFailed):
		return "PaymentVerificationFailed"
	case IsInvalidTransition(err):
		return "InvalidTransition"
	case errors.Is(err, ErrOrderPersistenceFailed):
		return "OrderPersistenceFailed"
	case errors.Is(err, ErrRepositoryUnavailable):
		return "RepositoryUnavailable"
	case errors.Is(err, ErrOrderNotFound):
		return "OrderNotFound"
	case errors.Is(err, ErrIdempotencyHashMismatch):
		return "IdempotencyConflict"
	case errors.Is(err, ErrIdempotencyKeyAlreadyExists):
		return "IdempotencyConflict"
	default:
		return "Internal"
	}
}
