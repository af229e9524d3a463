package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// MockGateway — настраиваемая заглушка GatewayAPI для тестов и локального
// окружения без реального платёжного шлюза.
type MockGateway struct {
	mu sync.Mutex

	// CreateIntentError возвращается из CreateIntent, если задана.
	CreateIntentError error
	// FetchError возвращается из FetchPaymentAmount, если задана.
	FetchError error
	// Amounts — фактически списанные суммы по payment_id.
	Amounts map[string]int64

	CreateIntentCalls int
	FetchCalls        int
}

// NewMockGateway создаёт заглушку с пустой таблицей платежей.
func NewMockGateway() *MockGateway {
	return &MockGateway{Amounts: make(map[string]int64)}
}

// CreateIntent возвращает intent со сгенерированным идентификатором.
func (m *MockGateway) CreateIntent(_ context.Context, amountMinor int64, currency string) (domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateIntentCalls++
	if m.CreateIntentError != nil {
		return domain.PaymentIntent{}, m.CreateIntentError
	}
	return domain.PaymentIntent{
		IntentID:    "intent_" + uuid.New().String(),
		AmountMinor: amountMinor,
		Currency:    currency,
	}, nil
}

// FetchPaymentAmount возвращает сумму из таблицы Amounts.
func (m *MockGateway) FetchPaymentAmount(_ context.Context, paymentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	if m.FetchError != nil {
		return 0, m.FetchError
	}
	return m.Amounts[paymentID], nil
}

// RecordPayment регистрирует платёж со списанной суммой.
func (m *MockGateway) RecordPayment(paymentID string, amountMinor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Amounts[paymentID] = amountMinor
}

var _ GatewayAPI = (*MockGateway)(nil)
