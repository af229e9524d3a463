package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/metrics"
)

const (
	defaultEstimateTimeout = 5 * time.Second
	defaultVerifyTimeout   = 5 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultCurrency        = "INR"
)

// ItemRequest — одна позиция корзины в запросе checkout.
// Цены сюда не входят: они берутся из каталога, а не от клиента.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int32  `json:"qty"`
}

// Request — входной контракт checkout. Принципал (buyer_id) передаётся
// явно из аутентифицированного запроса, а не берётся из глобального состояния.
type Request struct {
	BuyerID       string               `json:"buyer_id"`
	Items         []ItemRequest        `json:"items"`
	AddressID     string               `json:"address_id"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PaymentProof  *domain.PaymentProof `json:"payment_proof,omitempty"`

	// IdempotencyKey — необязательный клиентский ключ: повторный запрос
	// с тем же ключом возвращает ранее созданный заказ, а не дубликат.
	IdempotencyKey string `json:"-"`
}

// Config — настройки оркестратора.
type Config struct {
	EstimateTimeout time.Duration
	VerifyTimeout   time.Duration
	PersistRetry    RetryConfig
	IdempotencyTTL  time.Duration
	Currency        string
}

// DefaultConfig возвращает конфигурацию оркестратора по умолчанию.
func DefaultConfig() Config {
	return Config{
		EstimateTimeout: defaultEstimateTimeout,
		VerifyTimeout:   defaultVerifyTimeout,
		PersistRetry:    DefaultRetryConfig(),
		IdempotencyTTL:  defaultIdempotencyTTL,
		Currency:        defaultCurrency,
	}
}

// Orchestrator проводит checkout от валидации корзины до уведомления продавца.
// Последовательность шагов фиксирована: доставка оценивается до оплаты,
// потому что итоговая сумма включает стоимость доставки; оплата проверяется
// строго до записи заказа, чтобы невалидный пруф не оставлял частичного
// состояния.
type Orchestrator struct {
	products    domain.ProductDirectory
	addresses   domain.AddressDirectory
	estimator   domain.ShippingEstimator
	payments    domain.PaymentGateway
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	notifier    domain.StatusNotifier
	idempotency domain.IdempotencyRepository

	cfg     Config
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
// Репозиторий идемпотентности опционален: без него ключи игнорируются.
func NewOrchestrator(
	products domain.ProductDirectory,
	addresses domain.AddressDirectory,
	estimator domain.ShippingEstimator,
	payments domain.PaymentGateway,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	notifier domain.StatusNotifier,
	idempotency domain.IdempotencyRepository,
	cfg Config,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	if cfg.EstimateTimeout <= 0 {
		cfg.EstimateTimeout = defaultEstimateTimeout
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	return &Orchestrator{
		products:    products,
		addresses:   addresses,
		estimator:   estimator,
		payments:    payments,
		orders:      orders,
		outbox:      outbox,
		notifier:    notifier,
		idempotency: idempotency,
		cfg:         cfg,
		metrics:     metrics.NewCheckoutMetrics(),
		logger:      logger,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	products domain.ProductDirectory,
	addresses domain.AddressDirectory,
	estimator domain.ShippingEstimator,
	payments domain.PaymentGateway,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	notifier domain.StatusNotifier,
	idempotency domain.IdempotencyRepository,
	cfg Config,
	logger *log.Entry,
) *Orchestrator {
	o := NewOrchestrator(products, addresses, estimator, payments, orders, outbox, notifier, idempotency, cfg, logger)
	o.metrics = nil
	return o
}

// Checkout проводит полный цикл оформления заказа.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (domain.Order, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCheckoutStarted()
	}

	order, err := o.checkout(ctx, req)
	if o.metrics != nil {
		o.metrics.RecordCheckoutDuration(time.Since(start))
		if err != nil {
			o.metrics.RecordCheckoutFailed(domain.ErrorKind(err))
		} else {
			o.metrics.RecordCheckoutCompleted()
		}
	}
	return order, err
}

func (o *Orchestrator) checkout(ctx context.Context, req Request) (domain.Order, error) {
	useIdempotency := req.IdempotencyKey != "" && o.idempotency != nil
	if useIdempotency {
		if cached, done, err := o.claimIdempotencyKey(req); done {
			return cached, err
		}
	}

	order, err := o.runPipeline(ctx, req)

	if useIdempotency {
		o.settleIdempotencyKey(req.IdempotencyKey, order, err)
	}
	return order, err
}

// runPipeline выполняет шаги checkout в фиксированном порядке.
func (o *Orchestrator) runPipeline(ctx context.Context, req Request) (domain.Order, error) {
	logger := o.logger.WithField("buyer_id", req.BuyerID)

	// Шаг 1: валидация позиций и каталожная резолюция.
	items, sellerID, originPostal, weightKg, err := o.resolveItems(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	logger = logger.WithField("seller_id", sellerID)

	// Шаг 2: резолюция адреса и немедленный снапшот.
	dirCtx, cancel := context.WithTimeout(ctx, o.cfg.EstimateTimeout)
	addr, err := o.addresses.ResolveAddress(dirCtx, req.BuyerID, req.AddressID)
	cancel()
	if err != nil {
		return domain.Order{}, domain.ErrAddressUnresolved
	}
	snapshot := addr.Snapshot()
	if !snapshot.Complete() {
		return domain.Order{}, domain.ErrAddressUnresolved
	}

	// Шаг 3: оценка доставки. Недоступность перевозчика никогда не
	// подменяется бесплатной доставкой.
	quote, err := o.estimateShipping(ctx, originPostal, snapshot.PostalCode, weightKg, req.PaymentMethod == domain.PaymentMethodCOD)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:                    uuid.New().String(),
		BuyerID:               req.BuyerID,
		SellerID:              sellerID,
		Status:                domain.OrderStatusPending,
		PaymentMethod:         req.PaymentMethod,
		PaymentStatus:         domain.PaymentStatusPending,
		Items:                 items,
		ShippingAddress:       snapshot,
		ShippingCostMinor:     quote.CostMinor,
		Currency:              o.cfg.Currency,
		EstimatedDeliveryDays: quote.EstimatedDays,
	}
	order.TotalAmountMinor = order.ItemsSubtotalMinor() + order.ShippingCostMinor

	// Шаг 4: ветвление по способу оплаты. COD не трогает шлюз вовсе.
	if req.PaymentMethod == domain.PaymentMethodOnline {
		verified, err := o.verifyPayment(ctx, req.PaymentProof, order.TotalAmountMinor)
		if err != nil {
			return domain.Order{}, err
		}
		order.PaymentStatus = domain.PaymentStatusCompleted
		order.PaymentReference = verified.PaymentID
	}

	// Шаг 5: атомарная запись с ограниченным числом повторов.
	now := time.Now().UTC()
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now
	persisted, err := persistWithRetry(o.cfg.PersistRetry, logger, func() (domain.Order, error) {
		if err := o.orders.Create(order); err != nil {
			return domain.Order{}, err
		}
		return order, nil
	})
	if err != nil {
		// Оплата захвачена, а заказа нет: любой отказ записи на online-пути
		// отправляет сигнал в контур сверки, молча терять захваченный платёж
		// нельзя. Исключение — payment_reference уже привязан к заказу:
		// платёж не потерян, его держит существующий заказ.
		if order.PaymentMethod == domain.PaymentMethodOnline && !errors.Is(err, domain.ErrPaymentReferenceInUse) {
			o.emitReconciliationSignal(order)
		}
		return domain.Order{}, err
	}

	// Шаг 6: событие и уведомление — best-effort, заказ уже создан.
	o.emitOrderCreated(persisted)
	o.notify(persisted)

	logger.WithFields(log.Fields{
		"order_id":     persisted.ID,
		"total_minor":  persisted.TotalAmountMinor,
		"payment":      string(persisted.PaymentMethod),
		"carrier_days": persisted.EstimatedDeliveryDays,
	}).Info("checkout completed")
	return persisted, nil
}

// resolveItems проверяет корзину и резолвит каждую позицию через каталог.
// Возвращает позиции заказа с замороженными ценами, продавца, индекс
// склада и суммарный вес посылки.
func (o *Orchestrator) resolveItems(ctx context.Context, req Request) ([]domain.OrderItem, string, string, float64, error) {
	if len(req.Items) == 0 {
		return nil, "", "", 0, domain.ErrEmptyCart
	}

	var (
		items        []domain.OrderItem
		sellerID     string
		originPostal string
		weightKg     float64
		now          = time.Now().UTC()
	)

	for _, it := range req.Items {
		if it.Qty <= 0 {
			return nil, "", "", 0, domain.ErrItemQtyInvalid
		}

		info, err := o.products.ResolveProduct(ctx, it.ProductID)
		if err != nil {
			return nil, "", "", 0, domain.ErrProductUnresolved
		}

		// Заказ принадлежит ровно одному продавцу.
		if sellerID == "" {
			sellerID = info.SellerID
			originPostal = info.OriginPostal
		} else if sellerID != info.SellerID {
			return nil, "", "", 0, domain.ErrMixedSellers
		}

		weightKg += info.WeightKg * float64(it.Qty)
		items = append(items, domain.OrderItem{
			ID:                       uuid.New().String(),
			ProductID:                it.ProductID,
			Size:                     it.Size,
			Qty:                      it.Qty,
			UnitPriceMinor:           info.UnitPriceMinor,
			DiscountedUnitPriceMinor: info.DiscountedUnitPriceMinor,
			CreatedAt:                now,
		})
	}

	return items, sellerID, originPostal, weightKg, nil
}

func (o *Orchestrator) estimateShipping(ctx context.Context, originPostal, destPostal string, weightKg float64, cod bool) (domain.ShippingQuote, error) {
	start := time.Now()
	estimateCtx, cancel := context.WithTimeout(ctx, o.cfg.EstimateTimeout)
	defer cancel()

	quote, err := o.estimator.Estimate(estimateCtx, originPostal, destPostal, weightKg, cod)
	if o.metrics != nil {
		o.metrics.RecordStepDuration("shipping_estimate", time.Since(start))
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotServiceable) {
			return domain.ShippingQuote{}, domain.ErrNotServiceable
		}
		// Таймаут или любая другая ошибка перевозчика — Unavailable.
		return domain.ShippingQuote{}, domain.ErrEstimatorUnavailable
	}
	return quote, nil
}

func (o *Orchestrator) verifyPayment(ctx context.Context, proof *domain.PaymentProof, expectedAmountMinor int64) (domain.VerifiedPayment, error) {
	if proof == nil {
		return domain.VerifiedPayment{}, domain.ErrPaymentProofRequired
	}

	start := time.Now()
	verifyCtx, cancel := context.WithTimeout(ctx, o.cfg.VerifyTimeout)
	defer cancel()

	verified, err := o.payments.Verify(verifyCtx, *proof, expectedAmountMinor)
	if o.metrics != nil {
		o.metrics.RecordStepDuration("payment_verify", time.Since(start))
	}
	if err != nil {
		if errors.Is(verifyCtx.Err(), context.DeadlineExceeded) && !domain.IsVerificationError(err) {
			return domain.VerifiedPayment{}, domain.ErrGatewayUnavailable
		}
		return domain.VerifiedPayment{}, err
	}
	return verified, nil
}

// emitOrderCreated кладёт событие о создании заказа в transactional outbox.
func (o *Orchestrator) emitOrderCreated(order domain.Order) {
	event := kafka.NewOrderStatusEvent(
		kafka.EventTypeOrderCreated,
		order.ID,
		order.SellerID,
		order.BuyerID,
		string(order.Status),
		map[string]interface{}{
			"total_minor":    order.TotalAmountMinor,
			"payment_method": string(order.PaymentMethod),
		},
	)
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("marshal order created event failed")
		return
	}

	if _, err := o.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("enqueue order created event failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

// emitReconciliationSignal сообщает контуру сверки о захваченном платеже
// без сохранённого заказа.
func (o *Orchestrator) emitReconciliationSignal(order domain.Order) {
	event := kafka.NewPaymentEvent(
		kafka.EventTypePaymentReconciliationRequired,
		"",
		order.PaymentReference,
		order.BuyerID,
		order.TotalAmountMinor,
		order.Currency,
	)
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.WithError(err).Error("marshal reconciliation event failed")
		return
	}

	if _, err := o.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   order.PaymentReference,
		EventType:     string(kafka.EventTypePaymentReconciliationRequired),
		Payload:       payload,
	}); err != nil {
		// Сигнал сверки потерян: остаётся только громкая запись в лог.
		o.logger.WithError(err).WithFields(log.Fields{
			"payment_id":   order.PaymentReference,
			"buyer_id":     order.BuyerID,
			"amount_minor": order.TotalAmountMinor,
		}).Error("captured payment without order and reconciliation enqueue failed")
		return
	}
	if o.metrics != nil {
		o.metrics.RecordReconciliationSignal()
	}
	o.logger.WithField("payment_id", order.PaymentReference).Error("captured payment without persisted order, reconciliation signal emitted")
}

// notify отправляет событие в realtime-канал продавца. Сбой уведомления
// не откатывает checkout: заказ для покупателя уже состоялся.
func (o *Orchestrator) notify(order domain.Order) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(order.SellerID, domain.OrderEvent{
		OrderID:    order.ID,
		SellerID:   order.SellerID,
		Status:     order.Status,
		OccurredAt: time.Now().UTC(),
	})
}

// claimIdempotencyKey пытается занять ключ идемпотентности.
// Возвращает done=true, когда обработку продолжать не нужно:
// либо ответ уже известен, либо ключ конфликтует.
func (o *Orchestrator) claimIdempotencyKey(req Request) (domain.Order, bool, error) {
	hash := requestHash(req)

	_, err := o.idempotency.CreateProcessing(req.IdempotencyKey, hash, time.Now().UTC().Add(o.cfg.IdempotencyTTL))
	if err == nil {
		return domain.Order{}, false, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return domain.Order{}, true, domain.ErrIdempotencyHashMismatch
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := o.idempotency.Get(req.IdempotencyKey)
		if getErr != nil {
			return domain.Order{}, true, getErr
		}
		switch record.Status {
		case domain.IdempotencyStatusDone:
			order, replayErr := o.replayStoredOrder(record)
			return order, true, replayErr
		case domain.IdempotencyStatusFailed:
			// Прошлая попытка закончилась ошибкой: выполняем заново.
			return domain.Order{}, false, nil
		default:
			// Параллельный запрос с тем же ключом ещё обрабатывается.
			return domain.Order{}, true, domain.ErrIdempotencyKeyAlreadyExists
		}
	default:
		o.logger.WithError(err).Warn("idempotency claim failed, proceeding without key")
		return domain.Order{}, false, nil
	}
}

// replayStoredOrder возвращает ранее созданный заказ по сохранённому ответу.
func (o *Orchestrator) replayStoredOrder(record domain.IdempotencyRecord) (domain.Order, error) {
	var stored struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(record.ResponseBody, &stored); err != nil || stored.OrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o.orders.Get(stored.OrderID)
}

func (o *Orchestrator) settleIdempotencyKey(key string, order domain.Order, checkoutErr error) {
	if checkoutErr != nil {
		if errors.Is(checkoutErr, domain.ErrIdempotencyKeyAlreadyExists) || errors.Is(checkoutErr, domain.ErrIdempotencyHashMismatch) {
			return
		}
		body, _ := json.Marshal(map[string]string{"error_kind": domain.ErrorKind(checkoutErr)})
		if err := o.idempotency.MarkFailed(key, body, 0); err != nil {
			o.logger.WithError(err).WithField("key", key).Warn("mark idempotency key failed errored")
		}
		return
	}

	body, _ := json.Marshal(map[string]string{"order_id": order.ID})
	if err := o.idempotency.MarkDone(key, body, 0); err != nil {
		o.logger.WithError(err).WithField("key", key).Warn("mark idempotency key done errored")
	}
}

// requestHash считает детерминированный отпечаток запроса.
// BuyerID входит в отпечаток: ключ идемпотентности действует только
// в пределах одного покупателя.
func requestHash(req Request) string {
	canonical, _ := json.Marshal(struct {
		BuyerID       string               `json:"buyer_id"`
		Items         []ItemRequest        `json:"items"`
		AddressID     string               `json:"address_id"`
		PaymentMethod domain.PaymentMethod `json:"payment_method"`
	}{req.BuyerID, req.Items, req.AddressID, req.PaymentMethod})

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
