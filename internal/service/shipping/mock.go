package shipping

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// MockEstimator — настраиваемая заглушка перевозчика для тестов.
type MockEstimator struct {
	mu sync.Mutex

	// Quote возвращается при успешной оценке.
	Quote domain.ShippingQuote
	// Err возвращается вместо котировки, если задана.
	Err error
	// CODSurchargeMinor добавляется к стоимости при cod=true.
	CODSurchargeMinor int64

	EstimateCalls int
	LastOrigin    string
	LastDest      string
	LastWeightKg  float64
	LastCOD       bool
}

// NewMockEstimator создаёт заглушку с фиксированной котировкой.
func NewMockEstimator(costMinor int64, estimatedDays int32) *MockEstimator {
	return &MockEstimator{
		Quote: domain.ShippingQuote{
			Serviceable:   true,
			CostMinor:     costMinor,
			EstimatedDays: estimatedDays,
			CarrierName:   "mock-carrier",
		},
	}
}

// Estimate возвращает настроенную котировку или ошибку.
func (m *MockEstimator) Estimate(_ context.Context, originPostal, destPostal string, weightKg float64, cod bool) (domain.ShippingQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EstimateCalls++
	m.LastOrigin = originPostal
	m.LastDest = destPostal
	m.LastWeightKg = weightKg
	m.LastCOD = cod

	if m.Err != nil {
		return domain.ShippingQuote{}, m.Err
	}
	quote := m.Quote
	if cod {
		quote.CostMinor += m.CODSurchargeMinor
	}
	return quote, nil
}

var _ domain.ShippingEstimator = (*MockEstimator)(nil)
