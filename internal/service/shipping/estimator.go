package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const defaultEstimatorTimeout = 3 * time.Second

var estimateResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_shipping_estimate_total",
	Help: "Total number of shipping estimate requests grouped by result.",
}, []string{"result"})

// HTTPEstimator — клиент HTTP API перевозчика. Перевозчик сам решает
// вопросы serviceability и наценки за наложенный платёж; ядро передаёт
// флаг cod как есть и не подменяет недоступность нулевой стоимостью.
type HTTPEstimator struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Entry
}

// NewHTTPEstimator создаёт клиент перевозчика с жёстким таймаутом на запрос.
func NewHTTPEstimator(baseURL, token string, timeout time.Duration, logger *log.Entry) *HTTPEstimator {
	if timeout <= 0 {
		timeout = defaultEstimatorTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "shipping-estimator")
	}
	return &HTTPEstimator{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type estimateResponse struct {
	Serviceable   bool   `json:"serviceable"`
	CostMinor     int64  `json:"cost"`
	EstimatedDays int32  `json:"estimated_days"`
	CarrierName   string `json:"carrier_name"`
}

// Estimate запрашивает у перевозчика стоимость и сроки доставки.
// Любая сетевая ошибка или не-2xx ответ транслируется в
// ErrEstimatorUnavailable: вызывающая сторона решает, повторять ли запрос.
func (e *HTTPEstimator) Estimate(ctx context.Context, originPostal, destPostal string, weightKg float64, cod bool) (domain.ShippingQuote, error) {
	q := url.Values{}
	q.Set("origin", originPostal)
	q.Set("destination", destPostal)
	q.Set("weight_kg", strconv.FormatFloat(weightKg, 'f', 3, 64))
	q.Set("cod", strconv.FormatBool(cod))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/estimate?"+q.Encode(), nil)
	if err != nil {
		return domain.ShippingQuote{}, fmt.Errorf("build estimate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		estimateResults.WithLabelValues("unavailable").Inc()
		e.logger.WithError(err).WithFields(log.Fields{
			"origin":      originPostal,
			"destination": destPostal,
		}).Warn("carrier estimate call failed")
		return domain.ShippingQuote{}, domain.ErrEstimatorUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		estimateResults.WithLabelValues("unavailable").Inc()
		e.logger.WithFields(log.Fields{
			"status":      resp.StatusCode,
			"origin":      originPostal,
			"destination": destPostal,
		}).Warn("carrier returned non-ok status")
		return domain.ShippingQuote{}, domain.ErrEstimatorUnavailable
	}

	var decoded estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		estimateResults.WithLabelValues("unavailable").Inc()
		return domain.ShippingQuote{}, domain.ErrEstimatorUnavailable
	}

	if !decoded.Serviceable {
		estimateResults.WithLabelValues("not_serviceable").Inc()
		return domain.ShippingQuote{}, domain.ErrNotServiceable
	}

	estimateResults.WithLabelValues("ok").Inc()
	return domain.ShippingQuote{
		Serviceable:   true,
		CostMinor:     decoded.CostMinor,
		EstimatedDays: decoded.EstimatedDays,
		CarrierName:   decoded.CarrierName,
	}, nil
}

// IsTerminalEstimateError сообщает, является ли ошибка оценки окончательной:
// недоступность перевозчика можно повторить, необслуживаемый маршрут — нет.
func IsTerminalEstimateError(err error) bool {
	return errors.Is(err, domain.ErrNotServiceable)
}

var _ domain.ShippingEstimator = (*HTTPEstimator)(nil)
