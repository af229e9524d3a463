package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

var verifyResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_payment_verify_total",
	Help: "Total number of payment proof verifications grouped by result.",
}, []string{"result"})

// GatewayAPI — низкоуровневые вызовы платёжного шлюза.
type GatewayAPI interface {
	// CreateIntent создаёт намерение оплаты на стороне шлюза.
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (domain.PaymentIntent, error)
	// FetchPaymentAmount возвращает фактически списанную сумму по платежу.
	FetchPaymentAmount(ctx context.Context, paymentID string) (int64, error)
}

// Coordinator реализует domain.PaymentGateway поверх конкретного шлюза:
// создание intent, криптографическая проверка подписи callback-а и защита
// от повторного использования пруфа. Реестр использованных пруфов здесь —
// локальный для процесса; окончательную одноразовость платежа гарантирует
// уникальность payment_reference в хранилище заказов.
type Coordinator struct {
	api    GatewayAPI
	secret []byte
	logger *log.Entry

	mu       sync.Mutex
	consumed map[string]struct{}
}

// NewCoordinator создаёт координатор платежей с webhook-секретом шлюза.
func NewCoordinator(api GatewayAPI, webhookSecret string, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "payment-coordinator")
	}
	return &Coordinator{
		api:      api,
		secret:   []byte(webhookSecret),
		logger:   logger,
		consumed: make(map[string]struct{}),
	}
}

// CreateIntent создаёт намерение оплаты до отправки покупателя на шлюз.
func (c *Coordinator) CreateIntent(ctx context.Context, amountMinor int64, currency string) (domain.PaymentIntent, error) {
	intent, err := c.api.CreateIntent(ctx, amountMinor, currency)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"amount_minor": amountMinor,
			"currency":     currency,
		}).Warn("create intent failed")
		return domain.PaymentIntent{}, domain.ErrGatewayUnavailable
	}

	c.logger.WithFields(log.Fields{
		"intent_id":    intent.IntentID,
		"amount_minor": amountMinor,
	}).Debug("payment intent created")
	return intent, nil
}

// Verify проверяет пруф оплаты: подпись, точную сумму и одноразовость.
// Проверка выполняется строго до создания заказа, поэтому невалидный пруф
// никогда не оставляет частичного состояния.
func (c *Coordinator) Verify(ctx context.Context, proof domain.PaymentProof, expectedAmountMinor int64) (domain.VerifiedPayment, error) {
	if strings.TrimSpace(proof.IntentID) == "" || strings.TrimSpace(proof.PaymentID) == "" || strings.TrimSpace(proof.Signature) == "" {
		verifyResults.WithLabelValues("proof_missing").Inc()
		return domain.VerifiedPayment{}, domain.ErrPaymentProofRequired
	}

	if !c.signatureValid(proof) {
		// Несовпадение подписи — потенциальная подделка, логируем громко.
		verifyResults.WithLabelValues("signature_invalid").Inc()
		c.logger.WithFields(log.Fields{
			"intent_id":  proof.IntentID,
			"payment_id": proof.PaymentID,
		}).Error("payment proof signature mismatch, possible tampering")
		return domain.VerifiedPayment{}, domain.ErrSignatureInvalid
	}

	amount, err := c.api.FetchPaymentAmount(ctx, proof.PaymentID)
	if err != nil {
		verifyResults.WithLabelValues("gateway_unavailable").Inc()
		c.logger.WithError(err).WithField("payment_id", proof.PaymentID).Warn("fetch payment amount failed")
		return domain.VerifiedPayment{}, domain.ErrGatewayUnavailable
	}

	// Сумма сверяется точно: даже валидная подпись не позволяет
	// оплатить меньше, чем было посчитано на checkout.
	if amount != expectedAmountMinor {
		verifyResults.WithLabelValues("amount_mismatch").Inc()
		c.logger.WithFields(log.Fields{
			"payment_id":   proof.PaymentID,
			"amount_minor": amount,
			"expected":     expectedAmountMinor,
		}).Warn("payment amount mismatch")
		return domain.VerifiedPayment{}, domain.ErrAmountMismatchProof
	}

	if err := c.consumeProof(proof.PaymentID); err != nil {
		verifyResults.WithLabelValues("already_consumed").Inc()
		c.logger.WithField("payment_id", proof.PaymentID).Warn("payment proof replay rejected")
		return domain.VerifiedPayment{}, err
	}

	verifyResults.WithLabelValues("ok").Inc()
	return domain.VerifiedPayment{
		IntentID:    proof.IntentID,
		PaymentID:   proof.PaymentID,
		AmountMinor: amount,
		VerifiedAt:  time.Now().UTC(),
	}, nil
}

// signatureValid сверяет HMAC-SHA256 подпись шлюза над intent_id|payment_id.
func (c *Coordinator) signatureValid(proof domain.PaymentProof) bool {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s|%s", proof.IntentID, proof.PaymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(proof.Signature))))
}

// consumeProof помечает payment_id использованным в пределах процесса.
// Это быстрый отказ для повтора внутри одного инстанса; долговечную
// границу «один платёж — один заказ» держит уникальный индекс по
// payment_reference в хранилище заказов, переживающий рестарты и
// общий для всех инстансов.
func (c *Coordinator) consumeProof(paymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.consumed[paymentID]; ok {
		return domain.ErrProofAlreadyConsumed
	}
	c.consumed[paymentID] = struct{}{}
	return nil
}

// Sign вычисляет подпись пруфа; используется шлюзом-заглушкой и тестами.
func Sign(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", intentID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.PaymentGateway = (*Coordinator)(nil)
