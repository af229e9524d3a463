package checkout

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// RetryConfig конфигурация для retry логики записи заказа.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// persistWithRetry повторяет запись заказа при временной недоступности
// хранилища. Persist — единственный шаг, где повтор безопасен и необходим:
// для online-заказа оплата уже захвачена, и заказ терять нельзя.
func persistWithRetry(cfg RetryConfig, logger *log.Entry, fn func() (domain.Order, error)) (domain.Order, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		order, err := fn()
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("order persisted after retry")
			}
			return order, nil
		}

		lastErr = err
		if !errors.Is(err, domain.ErrRepositoryUnavailable) {
			return domain.Order{}, err
		}

		if attempt < cfg.MaxAttempts {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).WithError(err).Warn("order persistence failed, retrying")

			time.Sleep(delay)

			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	logger.WithError(lastErr).WithField("attempts", cfg.MaxAttempts).Error("order persistence retries exhausted")
	return domain.Order{}, domain.ErrOrderPersistenceFailed
}
