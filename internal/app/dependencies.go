package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/health"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/realtime"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/directory"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/httpapi"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/shipping"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/storage/postgres"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/version"
)

// Dependencies содержит собранный граф зависимостей сервиса.
type Dependencies struct {
	Logger *log.Entry

	Store *postgres.Store
	Redis *redis.Client

	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository

	Hub       *realtime.Hub
	Cache     *orders.Cache
	Gateway   *payment.Coordinator
	Estimator domain.ShippingEstimator

	Checkout  *checkout.Orchestrator
	OrdersSvc *orders.Service
	Health    *health.Handler

	KafkaProducer   *kafka.Producer
	OutboxPublisher domain.OutboxPublisher

	HTTP *httpapi.Server
}

// NewDependencies собирает зависимости по конфигурации.
// Внешние системы (postgres, redis, kafka, шлюзы) подключаются только
// если заданы в конфигурации; без них сервис работает на in-memory
// заглушках для локальной разработки.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}
	deps.initRedis(ctx, cfg, logger)
	deps.initKafka(cfg, logger)

	deps.Hub = realtime.NewHub(cfg.SSEBufferSize, logger.WithField("component", "realtime-hub"))

	// При включённом мосте события в хаб доставляет Kafka-консьюмер,
	// прямые уведомления из сервисов отключаются: иначе инстанс-автор
	// доставил бы событие дважды.
	var notifier domain.StatusNotifier
	if !cfg.RealtimeBridge {
		notifier = deps.Hub
	}

	deps.Gateway = buildGateway(cfg, logger)
	deps.Estimator = buildEstimator(cfg, logger)

	products := directory.NewInMemoryProductDirectory()
	addresses := directory.NewInMemoryAddressDirectory()
	if cfg.DemoSeed {
		seedDemoData(products, addresses)
		logger.Info("demo catalog and addresses seeded")
	}

	deps.Checkout = checkout.NewOrchestrator(
		products,
		addresses,
		deps.Estimator,
		deps.Gateway,
		deps.Orders,
		deps.Outbox,
		notifier,
		deps.Idempotency,
		checkout.DefaultConfig(),
		logger.WithField("component", "checkout"),
	)
	deps.OrdersSvc = orders.NewService(deps.Orders, deps.Outbox, notifier, logger.WithField("component", "orders"))

	deps.Health = buildHealthHandler(deps)
	deps.HTTP = httpapi.NewServer(
		deps.Checkout,
		deps.OrdersSvc,
		deps.Cache,
		deps.Hub,
		deps.Gateway,
		deps.Health,
		logger.WithField("component", "httpapi"),
	)

	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	if cfg.PostgresDSN == "" {
		logger.Info("postgres dsn is empty, using in-memory storage")
		d.Orders = memory.NewOrderRepository()
		d.Outbox = memory.NewOutboxRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		return nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	d.Store = store
	d.Orders = postgres.NewOrderRepository(store)
	d.Outbox = postgres.NewOutboxRepository(store)
	d.Idempotency = postgres.NewIdempotencyRepository(store)
	logger.Info("postgres storage initialized")
	return nil
}

func (d *Dependencies) initRedis(ctx context.Context, cfg Config, logger *log.Entry) {
	if cfg.RedisAddr == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis is unreachable, order cache disabled")
		_ = client.Close()
		return
	}

	d.Redis = client
	d.Cache = orders.NewCache(client, cfg.CacheTTL, logger.WithField("component", "order-cache"))
	logger.WithField("addr", cfg.RedisAddr).Info("redis order cache initialized")
}

func (d *Dependencies) initKafka(cfg Config, logger *log.Entry) {
	if len(cfg.KafkaBrokers) == 0 {
		return
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		return
	}

	d.KafkaProducer = producer
	d.OutboxPublisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
}

func buildGateway(cfg Config, logger *log.Entry) *payment.Coordinator {
	var api payment.GatewayAPI
	if cfg.PaymentGatewayURL != "" {
		api = payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentKeyID, 0)
	} else {
		logger.Warn("payment gateway url is empty, using mock gateway")
		api = payment.NewMockGateway()
	}
	return payment.NewCoordinator(api, cfg.WebhookSecret, logger.WithField("component", "payment"))
}

func buildEstimator(cfg Config, logger *log.Entry) domain.ShippingEstimator {
	if cfg.ShippingEstimatorURL != "" {
		return shipping.NewHTTPEstimator(cfg.ShippingEstimatorURL, cfg.ShippingToken, 0, logger.WithField("component", "shipping"))
	}
	logger.Warn("shipping estimator url is empty, using mock estimator")
	return shipping.NewMockEstimator(4900, 4)
}

func buildHealthHandler(d *Dependencies) *health.Handler {
	handler := health.NewHandler(version.Build().Version)

	if d.Store != nil {
		handler.RegisterChecker("postgres", health.NewSimpleChecker("postgres", func(ctx context.Context) error {
			return d.Store.Ping(ctx)
		}))
	}
	if d.Redis != nil {
		handler.RegisterChecker("redis", health.NewSimpleChecker("redis", func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}))
	}

	return handler
}

// seedDemoData наполняет каталог и адресную книгу демо-данными
// для ручной проверки checkout без внешних сервисов.
func seedDemoData(products *directory.InMemoryProductDirectory, addresses *directory.InMemoryAddressDirectory) {
	products.PutProduct(domain.ProductInfo{
		ProductID:                "demo-tshirt",
		SellerID:                 "demo-seller",
		UnitPriceMinor:           149900,
		DiscountedUnitPriceMinor: 129900,
		WeightKg:                 0.3,
		OriginPostal:             "400001",
	})
	products.PutProduct(domain.ProductInfo{
		ProductID:                "demo-sneakers",
		SellerID:                 "demo-seller",
		UnitPriceMinor:           499900,
		DiscountedUnitPriceMinor: 499900,
		WeightKg:                 1.1,
		OriginPostal:             "400001",
	})
	addresses.PutAddress(domain.Address{
		ID:         "demo-address",
		BuyerID:    "demo-buyer",
		Name:       "Demo Buyer",
		Street:     "21 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Phone:      "+919800000000",
	})
}

// Close освобождает внешние ресурсы в обратном порядке инициализации.
func (d *Dependencies) Close() {
	if d.Hub != nil {
		d.Hub.Close()
	}
	closeKafka(d.KafkaProducer, d.Logger)
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
