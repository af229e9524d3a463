package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config описывает настройки запуска сервиса.
// Все значения читаются из окружения; .env подхватывается при наличии.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// PostgresDSN пустой — сервис работает на in-memory хранилище.
	PostgresDSN string

	// RedisAddr пустой — read-through кэш заказов выключен.
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// KafkaBrokers пустой — outbox worker и realtime bridge выключены.
	KafkaBrokers   []string
	KafkaGroupID   string
	RealtimeBridge bool

	PaymentGatewayURL string
	PaymentKeyID      string
	WebhookSecret     string

	ShippingEstimatorURL string
	ShippingToken        string

	SSEBufferSize              int
	OutboxPollInterval         time.Duration
	IdempotencyCleanupInterval time.Duration

	DemoSeed bool
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		ShutdownTimeout:            10 * time.Second,
		CacheTTL:                   30 * time.Second,
		KafkaGroupID:               "checkout-service",
		SSEBufferSize:              16,
		OutboxPollInterval:         time.Second,
		IdempotencyCleanupInterval: 10 * time.Minute,
	}
}

// LoadConfig собирает конфигурацию из переменных окружения.
// Отсутствующий .env не считается ошибкой.
func LoadConfig(logger *log.Entry) (Config, error) {
	if logger == nil {
		logger = log.WithField("component", "config")
	}

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Warn("failed to load .env file")
		}
	}

	cfg := DefaultConfig()
	cfg.HTTPAddr = envString("CHECKOUT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresDSN = envString("CHECKOUT_POSTGRES_DSN", "")
	cfg.RedisAddr = envString("CHECKOUT_REDIS_ADDR", "")
	cfg.RedisPassword = envString("CHECKOUT_REDIS_PASSWORD", "")
	cfg.KafkaGroupID = envString("CHECKOUT_KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.PaymentGatewayURL = envString("CHECKOUT_PAYMENT_GATEWAY_URL", "")
	cfg.PaymentKeyID = envString("CHECKOUT_PAYMENT_KEY_ID", "")
	cfg.WebhookSecret = envString("CHECKOUT_WEBHOOK_SECRET", "")
	cfg.ShippingEstimatorURL = envString("CHECKOUT_SHIPPING_URL", "")
	cfg.ShippingToken = envString("CHECKOUT_SHIPPING_TOKEN", "")

	if brokers := envString("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	var err error
	if cfg.ShutdownTimeout, err = envDuration("CHECKOUT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("CHECKOUT_CACHE_TTL", cfg.CacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = envDuration("CHECKOUT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyCleanupInterval, err = envDuration("CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval); err != nil {
		return Config{}, err
	}
	if cfg.SSEBufferSize, err = envInt("CHECKOUT_SSE_BUFFER", cfg.SSEBufferSize); err != nil {
		return Config{}, err
	}
	if cfg.RealtimeBridge, err = envBool("CHECKOUT_REALTIME_BRIDGE", false); err != nil {
		return Config{}, err
	}
	if cfg.DemoSeed, err = envBool("CHECKOUT_DEMO_SEED", false); err != nil {
		return Config{}, err
	}

	if cfg.RealtimeBridge && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("CHECKOUT_REALTIME_BRIDGE requires KAFKA_BROKERS")
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
	}
	return value, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer in %s: %w", key, err)
	}
	return value, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean in %s: %w", key, err)
	}
	return value, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
