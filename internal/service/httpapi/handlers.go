package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-checkout/internal/service/checkout"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type checkoutRequestBody struct {
	Items         []checkout.ItemRequest `json:"items"`
	AddressID     string                 `json:"addressId"`
	PaymentMethod string                 `json:"paymentMethod"`
	PaymentProof  *paymentProofBody      `json:"paymentProof,omitempty"`
}

type paymentProofBody struct {
	IntentID  string `json:"intentId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// handleCheckout — POST /api/v1/checkout.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID))
	if buyerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{ErrorKind: "Unauthenticated", Message: "buyer principal is required"})
		return
	}

	var body checkoutRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: err.Error()})
		return
	}

	method := domain.PaymentMethod(body.PaymentMethod)
	if method != domain.PaymentMethodCOD && method != domain.PaymentMethodOnline {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: "payment_method must be cod or online"})
		return
	}

	req := checkout.Request{
		BuyerID:        buyerID,
		Items:          body.Items,
		AddressID:      body.AddressID,
		PaymentMethod:  method,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	}
	if body.PaymentProof != nil {
		req.PaymentProof = &domain.PaymentProof{
			IntentID:  body.PaymentProof.IntentID,
			PaymentID: body.PaymentProof.PaymentID,
			Signature: body.PaymentProof.Signature,
		}
	}

	order, err := s.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

type createIntentBody struct {
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
}

// handleCreateIntent — POST /api/v1/payments/intent.
// Вызывается до редиректа покупателя на платёжный шлюз.
func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID))
	if buyerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{ErrorKind: "Unauthenticated", Message: "buyer principal is required"})
		return
	}

	var body createIntentBody
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: err.Error()})
		return
	}
	if body.AmountMinor <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: "amountMinor must be positive"})
		return
	}

	intent, err := s.gateway.CreateIntent(r.Context(), body.AmountMinor, body.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"intentId":    intent.IntentID,
		"amountMinor": intent.AmountMinor,
		"currency":    intent.Currency,
		"redirectUrl": intent.RedirectURL,
	})
}

// handleGetOrder — GET /api/v1/orders/{orderID}.
// Читает через кэш; доступ есть у покупателя и продавца заказа.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, cached := s.cache.Get(r.Context(), orderID)
	if !cached {
		var err error
		order, err = s.orders.Get(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		s.cache.Set(r.Context(), order)
	}

	if !s.principalOwnsOrder(r, order) {
		// Чужой заказ неотличим от несуществующего.
		writeError(w, domain.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// handleListOrders — GET /api/v1/orders (заказы покупателя-принципала).
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID))
	if buyerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{ErrorKind: "Unauthenticated", Message: "buyer principal is required"})
		return
	}

	list, err := s.orders.ListByBuyer(r.Context(), buyerID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderResponses(list)})
}

// handleListSellerOrders — GET /api/v1/sellers/{sellerID}/orders.
func (s *Server) handleListSellerOrders(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	principal := strings.TrimSpace(r.Header.Get(HeaderSellerID))
	if principal == "" || principal != sellerID {
		writeJSON(w, http.StatusForbidden, errorResponse{ErrorKind: "Forbidden", Message: "seller may list only own orders"})
		return
	}

	list, err := s.orders.ListBySeller(r.Context(), sellerID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderResponses(list)})
}

type updateStatusBody struct {
	TargetStatus string `json:"targetStatus"`
}

// handleUpdateStatus — PUT /api/v1/orders/{orderID}/status (продавец).
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	sellerID := strings.TrimSpace(r.Header.Get(HeaderSellerID))
	if sellerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{ErrorKind: "Unauthenticated", Message: "seller principal is required"})
		return
	}

	var body updateStatusBody
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: err.Error()})
		return
	}

	target := domain.OrderStatus(body.TargetStatus)
	if !target.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: "unknown target status"})
		return
	}

	orderID := chi.URLParam(r, "orderID")
	order, err := s.orders.UpdateStatus(r.Context(), sellerID, orderID, target)
	if err != nil {
		writeError(w, err)
		return
	}

	s.cache.Invalidate(r.Context(), orderID)
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// handleCancelOrder — POST /api/v1/orders/{orderID}/cancel (покупатель).
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID))
	if buyerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{ErrorKind: "Unauthenticated", Message: "buyer principal is required"})
		return
	}

	orderID := chi.URLParam(r, "orderID")
	order, err := s.orders.Cancel(r.Context(), buyerID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.cache.Invalidate(r.Context(), orderID)
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type carrierWebhookBody struct {
	OrderID          string `json:"orderId"`
	CarrierReference string `json:"carrierReference"`
}

// handleCarrierWebhook — POST /api/v1/webhooks/carrier.
// Перевозчик сообщает идентификатор отправления после бронирования.
func (s *Server) handleCarrierWebhook(w http.ResponseWriter, r *http.Request) {
	var body carrierWebhookBody
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: err.Error()})
		return
	}
	if body.OrderID == "" || body.CarrierReference == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "MalformedBody", Message: "orderId and carrierReference are required"})
		return
	}

	order, err := s.orders.AttachCarrierReference(r.Context(), body.OrderID, body.CarrierReference)
	if err != nil {
		writeError(w, err)
		return
	}

	s.cache.Invalidate(r.Context(), order.ID)
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"carrier_ref": order.CarrierReference,
	}).Info("carrier reference attached")
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) principalOwnsOrder(r *http.Request, order domain.Order) bool {
	buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID))
	sellerID := strings.TrimSpace(r.Header.Get(HeaderSellerID))
	return (buyerID != "" && buyerID == order.BuyerID) ||
		(sellerID != "" && sellerID == order.SellerID)
}

func toOrderResponses(list []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(list))
	for _, order := range list {
		out = append(out, toOrderResponse(order))
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
