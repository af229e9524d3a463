package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

func TestOrderRepository_PostgresCreateGetAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "buyer-1", "seller-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "buyer-1", "seller-2", now.Add(-time.Minute))

	if err := repo.Create(order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.BuyerID != order1.BuyerID || got.SellerID != order1.SellerID || got.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if got.ShippingAddress != order1.ShippingAddress {
		t.Fatalf("address snapshot not preserved: %+v", got.ShippingAddress)
	}
	if len(got.Items) != 1 || got.Items[0].ProductID != "prod-1" || got.Items[0].DiscountedUnitPriceMinor != 120 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}

	listed, err := repo.ListByBuyer("buyer-1", 1)
	if err != nil {
		t.Fatalf("list by buyer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByBuyer("buyer-1", 0)
	if err != nil {
		t.Fatalf("list by buyer without limit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	sellerOrders, err := repo.ListBySeller("seller-2", 0)
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(sellerOrders) != 1 || sellerOrders[0].ID != order2.ID {
		t.Fatalf("unexpected seller orders: %+v", sellerOrders)
	}
}

func TestOrderRepository_PostgresUpdateStatus(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-status", "buyer-3", "seller-3", now)
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	updated, changed, err := repo.UpdateStatus(order.ID, domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !changed {
		t.Fatal("applied transition must report changed=true")
	}
	if updated.Status != domain.OrderStatusProcessing || updated.Version != order.Version+1 {
		t.Fatalf("unexpected order after transition: status=%s version=%d", updated.Status, updated.Version)
	}

	// Повтор текущего статуса не меняет версию и возвращает changed=false.
	noop, changed, err := repo.UpdateStatus(order.ID, domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if changed {
		t.Fatal("noop must report changed=false")
	}
	if noop.Version != updated.Version {
		t.Fatalf("noop must keep version: got=%d want=%d", noop.Version, updated.Version)
	}

	if _, _, err := repo.UpdateStatus(order.ID, domain.OrderStatusDelivered); err == nil {
		t.Fatal("expected invalid transition processing -> delivered")
	} else {
		var transitionErr *domain.InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Fatalf("expected InvalidTransitionError, got %v", err)
		}
	}

	if _, _, err := repo.UpdateStatus("missing-order", domain.OrderStatusProcessing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_PostgresCarrierReference(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-carrier", "buyer-4", "seller-4", now)
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	updated, err := repo.SetCarrierReference(order.ID, "AWB-1001")
	if err != nil {
		t.Fatalf("set carrier reference: %v", err)
	}
	if updated.CarrierReference != "AWB-1001" || updated.Version != order.Version+1 {
		t.Fatalf("unexpected order after carrier reference: %+v", updated)
	}

	if _, _, err := repo.UpdateStatus(order.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if _, err := repo.SetCarrierReference(order.ID, "AWB-1002"); !errors.Is(err, domain.ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
}

func TestOrderRepository_PostgresDuplicateCreate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-dup", "buyer-2", "seller-2", now)

	if _, err := repo.Get("missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Create(base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}
}

func TestOrderRepository_PostgresDuplicatePaymentReference(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	first := sampleOrder("order-pay-1", "buyer-5", "seller-5", now)
	first.PaymentMethod = domain.PaymentMethodOnline
	first.PaymentStatus = domain.PaymentStatusCompleted
	first.PaymentReference = "pay-shared"
	if err := repo.Create(first); err != nil {
		t.Fatalf("create first online order: %v", err)
	}

	// Уникальный индекс по payment_reference действует между любыми
	// клиентами базы, не только внутри одного процесса.
	second := sampleOrder("order-pay-2", "buyer-6", "seller-5", now)
	second.PaymentMethod = domain.PaymentMethodOnline
	second.PaymentStatus = domain.PaymentStatusCompleted
	second.PaymentReference = "pay-shared"
	if err := repo.Create(second); !errors.Is(err, domain.ErrPaymentReferenceInUse) {
		t.Fatalf("expected ErrPaymentReferenceInUse, got %v", err)
	}
	if _, err := repo.Get("order-pay-2"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatal("rejected order must not be persisted")
	}

	// Пустой payment_reference (COD) под индекс не попадает.
	cod := sampleOrder("order-pay-3", "buyer-7", "seller-5", now)
	if err := repo.Create(cod); err != nil {
		t.Fatalf("create cod order without reference: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func TestUniqueViolationConstraint(t *testing.T) {
	name, ok := uniqueViolationConstraint(&pgconn.PgError{Code: "23505", ConstraintName: "uq_orders_payment_reference"})
	if !ok || name != "uq_orders_payment_reference" {
		t.Fatalf("expected constraint name, got %q ok=%v", name, ok)
	}
	if _, ok := uniqueViolationConstraint(&pgconn.PgError{Code: "22001"}); ok {
		t.Fatal("non-unique code must not report a constraint")
	}
}

func sampleOrder(id, buyerID, sellerID string, createdAt time.Time) domain.Order {
	items := []domain.OrderItem{
		{
			ID:                       id + "-item-1",
			ProductID:                "prod-1",
			Size:                     "M",
			Qty:                      2,
			UnitPriceMinor:           150,
			DiscountedUnitPriceMinor: 120,
			CreatedAt:                createdAt,
		},
	}

	return domain.Order{
		ID:            id,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         items,
		ShippingAddress: domain.AddressSnapshot{
			Name:       "Test Buyer",
			Street:     "1 Main St",
			City:       "Mumbai",
			State:      "MH",
			PostalCode: "400001",
			Phone:      "+911234567890",
		},
		ShippingCostMinor:     60,
		TotalAmountMinor:      300,
		Currency:              "INR",
		EstimatedDeliveryDays: 4,
		Version:               1,
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}
}
