package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const defaultGatewayTimeout = 5 * time.Second

// HTTPGateway — клиент REST API платёжного шлюза.
type HTTPGateway struct {
	baseURL string
	keyID   string
	client  *http.Client
}

// NewHTTPGateway создаёт клиент шлюза с таймаутом на каждый вызов.
func NewHTTPGateway(baseURL, keyID string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &HTTPGateway{
		baseURL: baseURL,
		keyID:   keyID,
		client:  &http.Client{Timeout: timeout},
	}
}

type createIntentRequest struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type createIntentResponse struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirect_url"`
}

type fetchPaymentResponse struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Status      string `json:"status"`
}

// CreateIntent создаёт намерение оплаты на стороне шлюза.
func (g *HTTPGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string) (domain.PaymentIntent, error) {
	body, err := json.Marshal(createIntentRequest{AmountMinor: amountMinor, Currency: currency})
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, "")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.PaymentIntent{}, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var decoded createIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("decode intent response: %w", err)
	}
	if decoded.ID == "" {
		return domain.PaymentIntent{}, fmt.Errorf("gateway returned empty intent id")
	}

	return domain.PaymentIntent{
		IntentID:    decoded.ID,
		AmountMinor: decoded.AmountMinor,
		Currency:    decoded.Currency,
		RedirectURL: decoded.RedirectURL,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// FetchPaymentAmount возвращает фактически списанную сумму по платежу.
func (g *HTTPGateway) FetchPaymentAmount(ctx context.Context, paymentID string) (int64, error) {
	endpoint := g.baseURL + "/v1/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build payment request: %w", err)
	}
	req.SetBasicAuth(g.keyID, "")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var decoded fetchPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode payment response: %w", err)
	}

	return decoded.AmountMinor, nil
}

var _ GatewayAPI = (*HTTPGateway)(nil)
