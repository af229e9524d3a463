package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	// defaultRetention — запас сверх TTL ключа: завершённые записи живут
	// ещё немного после истечения, чтобы поздние повторы checkout-запроса
	// получили сохранённый ответ, а не создали заказ заново.
	defaultRetention = 30 * time.Minute
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency cleanup sweeps grouped by result.",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_idempotency_cleanup_deleted_total",
		Help: "Total number of deleted expired idempotency records.",
	})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_idempotency_cleanup_last_deleted",
		Help: "Number of deleted records during the last cleanup sweep.",
	})
)

type cleanupOptions struct {
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *cleanupOptions) {
		opts.logger = logger
	}
}

// WithInterval задает интервал между sweep-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *cleanupOptions) {
		opts.interval = interval
	}
}

// WithBatchSize задает размер порции для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *cleanupOptions) {
		opts.batchSize = batchSize
	}
}

// WithRetention задает запас хранения записей сверх их TTL.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *cleanupOptions) {
		opts.retention = retention
	}
}

// CleanupWorker периодически удаляет просроченные idempotency записи.
// Запись считается просроченной, когда её TTL истек больше чем retention назад.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration

	failStreak int
}

// NewCleanupWorker создает воркер очистки idempotency ключей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := cleanupOptions{
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.logger == nil {
		opts.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.interval <= 0 {
		opts.interval = defaultCleanupInterval
	}
	if opts.batchSize <= 0 {
		opts.batchSize = defaultCleanupBatchSize
	}
	if opts.retention < 0 {
		opts.retention = 0
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    opts.logger,
		interval:  opts.interval,
		batchSize: opts.batchSize,
		retention: opts.retention,
	}
}

// Run запускает периодическую очистку до отмены ctx.
// Первый sweep выполняется сразу, не дожидаясь первого тика.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.sweepOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *CleanupWorker) sweepOnce(ctx context.Context) {
	deleted, err := w.Sweep(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.failStreak++
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("fail_streak", w.failStreak).Warn("idempotency cleanup sweep failed")
		return
	}

	w.failStreak = 0
	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup sweep completed")
	}
}

// Sweep удаляет порциями batchSize все записи, чей TTL истек раньше
// now-retention. Возвращает суммарное число удалённых записей.
func (w *CleanupWorker) Sweep(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-w.retention)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(cutoff, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			idempotencyCleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			return total, nil
		}
	}
}
