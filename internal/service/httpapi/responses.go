package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

// orderResponse — представление заказа в API.
type orderResponse struct {
	ID       string `json:"id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`

	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`

	Items           []orderItemResponse `json:"items"`
	ShippingAddress addressResponse     `json:"shipping_address"`

	ShippingCostMinor int64  `json:"shipping_cost_minor"`
	TotalAmountMinor  int64  `json:"total_amount_minor"`
	Currency          string `json:"currency"`

	EstimatedDeliveryDays int32  `json:"estimated_delivery_days"`
	CarrierReference      string `json:"carrier_reference,omitempty"`
	PaymentReference      string `json:"payment_reference,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type orderItemResponse struct {
	ProductID                string `json:"product_id"`
	Size                     string `json:"size,omitempty"`
	Qty                      int32  `json:"qty"`
	UnitPriceMinor           int64  `json:"unit_price_minor"`
	DiscountedUnitPriceMinor int64  `json:"discounted_unit_price_minor"`
}

type addressResponse struct {
	Name       string `json:"name,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

type errorResponse struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:                it.ProductID,
			Size:                     it.Size,
			Qty:                      it.Qty,
			UnitPriceMinor:           it.UnitPriceMinor,
			DiscountedUnitPriceMinor: it.DiscountedUnitPriceMinor,
		})
	}
	return orderResponse{
		ID:            order.ID,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Items:         items,
		ShippingAddress: addressResponse{
			Name:       order.ShippingAddress.Name,
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Phone:      order.ShippingAddress.Phone,
		},
		ShippingCostMinor:     order.ShippingCostMinor,
		TotalAmountMinor:      order.TotalAmountMinor,
		Currency:              order.Currency,
		EstimatedDeliveryDays: order.EstimatedDeliveryDays,
		CarrierReference:      order.CarrierReference,
		PaymentReference:      order.PaymentReference,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError сводит доменную ошибку к паре (HTTP-статус, errorKind).
// Конкретный kind отдаётся всегда: никакого обобщённого "что-то пошло не так".
func writeError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	writeJSON(w, statusForKind(kind), errorResponse{
		ErrorKind: kind,
		Message:   err.Error(),
	})
}

func statusForKind(kind string) int {
	switch kind {
	case "EmptyCart", "ItemQtyInvalid", "MixedSellers", "AddressUnresolved", "ProductUnresolved":
		return http.StatusBadRequest
	case "NotServiceable":
		return http.StatusUnprocessableEntity
	case "SignatureInvalid", "AmountMismatch", "AlreadyConsumed", "PaymentVerificationFailed":
		return http.StatusUnprocessableEntity
	case "EstimatorUnavailable", "GatewayUnavailable", "RepositoryUnavailable", "OrderPersistenceFailed":
		return http.StatusServiceUnavailable
	case "InvalidTransition", "IdempotencyConflict":
		return http.StatusConflict
	case "OrderNotFound":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
