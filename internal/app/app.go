package app

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/outbox"
)

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	startWorkers(workerCtx, cfg, deps)

	var bridge *kafka.Consumer
	if cfg.RealtimeBridge && deps.KafkaProducer != nil {
		bridge, err = initRealtimeBridge(cfg, deps.Hub, deps.KafkaProducer, logger)
		if err != nil {
			return err
		}
		if err := bridge.Start(workerCtx); err != nil {
			return err
		}
		logger.Info("realtime kafka bridge started")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: deps.HTTP.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("HTTP shutdown with error")
		}
		stopBridge(bridge, logger)
		return ctx.Err()
	case err := <-errCh:
		stopBridge(bridge, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startWorkers запускает фоновые воркеры: публикацию outbox и очистку
// просроченных idempotency-ключей.
func startWorkers(ctx context.Context, cfg Config, deps *Dependencies) {
	if deps.OutboxPublisher != nil {
		worker := outbox.NewWorker(
			deps.Outbox,
			deps.OutboxPublisher,
			outbox.WithLogger(deps.Logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(deps.KafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
		)
		go worker.Run(ctx)
	} else {
		deps.Logger.Info("kafka is not configured, outbox worker disabled")
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(deps.Logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
	)
	go cleanup.Run(ctx)
}

func stopBridge(bridge *kafka.Consumer, logger *log.Entry) {
	if bridge == nil {
		return
	}
	if err := bridge.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop realtime bridge consumer")
	}
}
