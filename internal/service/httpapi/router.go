package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/health"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/realtime"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/orders"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/version"
)

// Заголовки принципала. Аутентификация живёт во внешнем шлюзе;
// сюда личность приходит явными заголовками, а не из глобального состояния.
const (
	HeaderBuyerID        = "X-Buyer-ID"
	HeaderSellerID       = "X-Seller-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Server объединяет HTTP-обработчики ядра checkout.
type Server struct {
	checkout *checkout.Orchestrator
	orders   *orders.Service
	cache    *orders.Cache
	hub      *realtime.Hub
	gateway  domain.PaymentGateway
	health   *health.Handler
	logger   *log.Entry

	heartbeat time.Duration
}

// NewServer создаёт HTTP-слой поверх сервисов ядра.
// Кэш и health-handler опциональны.
func NewServer(
	checkoutSvc *checkout.Orchestrator,
	ordersSvc *orders.Service,
	cache *orders.Cache,
	hub *realtime.Hub,
	gateway domain.PaymentGateway,
	healthHandler *health.Handler,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Server{
		checkout:  checkoutSvc,
		orders:    ordersSvc,
		cache:     cache,
		hub:       hub,
		gateway:   gateway,
		health:    healthHandler,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
}

// Router собирает маршруты API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", health.LivenessHandler)
	if s.health != nil {
		r.Get("/health", s.health.ServeHTTP)
		r.Get("/readyz", s.health.ReadinessHandler)
	}
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", s.handleCheckout)
		r.Post("/payments/intent", s.handleCreateIntent)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Put("/{orderID}/status", s.handleUpdateStatus)
			r.Post("/{orderID}/cancel", s.handleCancelOrder)
		})

		r.Get("/sellers/{sellerID}/orders", s.handleListSellerOrders)
		r.Get("/sellers/{sellerID}/events", s.handleSellerEvents)

		r.Post("/webhooks/carrier", s.handleCarrierWebhook)
	})

	return r
}

// requestLogger пишет структурированную запись по каждому запросу.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start),
		}).Info("http request")
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Build())
}
