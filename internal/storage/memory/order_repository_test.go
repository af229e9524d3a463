package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

func seedOrder(t *testing.T, repo domain.OrderRepository, id string, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:            id,
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      "INR",
		Items: []domain.OrderItem{{
			ID:                       "item-1",
			ProductID:                "P1",
			Qty:                      2,
			UnitPriceMinor:           100,
			DiscountedUnitPriceMinor: 100,
			CreatedAt:                now,
		}},
		ShippingAddress: domain.AddressSnapshot{
			Name:       "Ivan",
			Street:     "1 Main St",
			City:       "Pune",
			State:      "MH",
			PostalCode: "411001",
		},
		ShippingCostMinor: 40,
		TotalAmountMinor:  240,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Прогоняем заказ по легальной цепочке до нужного статуса.
	for order.Status != status {
		next := domain.OrderStatusProcessing
		switch order.Status {
		case domain.OrderStatusProcessing:
			next = domain.OrderStatusShipped
		case domain.OrderStatusShipped:
			next = domain.OrderStatusDelivered
		}
		if status == domain.OrderStatusCancelled {
			next = domain.OrderStatusCancelled
		}
		updated, _, err := repo.UpdateStatus(id, next)
		if err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		order = updated
	}

	return order
}

func TestOrderRepository_CreateAndGetRoundTrip(t *testing.T) {
	repo := NewOrderRepository()
	created := seedOrder(t, repo, "order-1", domain.OrderStatusPending)

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}

	if got.ID != created.ID || got.BuyerID != created.BuyerID || got.SellerID != created.SellerID {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.TotalAmountMinor != 240 || got.ShippingCostMinor != 40 {
		t.Fatalf("amount mismatch: total=%d shipping=%d", got.TotalAmountMinor, got.ShippingCostMinor)
	}
	if len(got.Items) != 1 || got.Items[0].ProductID != "P1" || got.Items[0].Qty != 2 {
		t.Fatalf("items mismatch: %+v", got.Items)
	}
	if got.ShippingAddress != created.ShippingAddress {
		t.Fatalf("address snapshot mismatch: %+v", got.ShippingAddress)
	}
}

func TestOrderRepository_CreateRejectsInvariantViolation(t *testing.T) {
	repo := NewOrderRepository()
	order := domain.Order{ID: "broken", BuyerID: "b", SellerID: "s", TotalAmountMinor: 10}

	if err := repo.Create(order); err == nil {
		t.Fatal("expected invariant violation on create")
	}
	if _, err := repo.Get("broken"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatal("broken order must not be persisted")
	}
}

func TestOrderRepository_CreateDuplicate(t *testing.T) {
	repo := NewOrderRepository()
	order := seedOrder(t, repo, "order-1", domain.OrderStatusPending)

	if err := repo.Create(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict on duplicate create, got %v", err)
	}
}

func TestOrderRepository_CreateDuplicatePaymentReference(t *testing.T) {
	repo := NewOrderRepository()
	first := seedOrder(t, repo, "order-1", domain.OrderStatusPending)

	second := first
	second.ID = "order-2"
	second.PaymentMethod = domain.PaymentMethodOnline
	second.PaymentStatus = domain.PaymentStatusCompleted
	second.PaymentReference = "pay-1"
	second.Items = []domain.OrderItem{{
		ID:                       "item-2",
		ProductID:                "P1",
		Qty:                      2,
		UnitPriceMinor:           100,
		DiscountedUnitPriceMinor: 100,
		CreatedAt:                second.CreatedAt,
	}}
	if err := repo.Create(second); err != nil {
		t.Fatalf("create online order: %v", err)
	}

	// Тот же payment_reference не может привязаться ко второму заказу.
	third := second
	third.ID = "order-3"
	third.Items = []domain.OrderItem{{
		ID:                       "item-3",
		ProductID:                "P1",
		Qty:                      2,
		UnitPriceMinor:           100,
		DiscountedUnitPriceMinor: 100,
		CreatedAt:                second.CreatedAt,
	}}
	if err := repo.Create(third); !errors.Is(err, domain.ErrPaymentReferenceInUse) {
		t.Fatalf("expected ErrPaymentReferenceInUse, got %v", err)
	}
	if _, err := repo.Get("order-3"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatal("rejected order must not be persisted")
	}
}

func TestOrderRepository_UpdateStatus_LegalChain(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "order-1", domain.OrderStatusPending)

	chain := []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	for _, target := range chain {
		updated, changed, err := repo.UpdateStatus("order-1", target)
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if !changed {
			t.Fatalf("transition to %s must report changed=true", target)
		}
		if updated.Status != target {
			t.Fatalf("expected %s, got %s", target, updated.Status)
		}
	}
}

func TestOrderRepository_UpdateStatus_IllegalPairs(t *testing.T) {
	cases := []struct {
		name string
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{"skip to shipped", domain.OrderStatusPending, domain.OrderStatusShipped},
		{"skip to delivered", domain.OrderStatusPending, domain.OrderStatusDelivered},
		{"cancel shipped", domain.OrderStatusShipped, domain.OrderStatusCancelled},
		{"backwards", domain.OrderStatusShipped, domain.OrderStatusProcessing},
		{"write to delivered", domain.OrderStatusDelivered, domain.OrderStatusProcessing},
		{"write to cancelled", domain.OrderStatusCancelled, domain.OrderStatusProcessing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := NewOrderRepository()
			seedOrder(t, repo, "order-1", tc.from)

			_, _, err := repo.UpdateStatus("order-1", tc.to)
			if !domain.IsInvalidTransition(err) {
				t.Fatalf("expected InvalidTransition, got %v", err)
			}

			// Статус не должен измениться после отклонённого перехода.
			got, gerr := repo.Get("order-1")
			if gerr != nil {
				t.Fatalf("get order: %v", gerr)
			}
			if got.Status != tc.from {
				t.Fatalf("status changed after rejected transition: %s", got.Status)
			}
		})
	}
}

func TestOrderRepository_UpdateStatus_SameStatusNoop(t *testing.T) {
	repo := NewOrderRepository()
	order := seedOrder(t, repo, "order-1", domain.OrderStatusProcessing)

	updated, changed, err := repo.UpdateStatus("order-1", domain.OrderStatusProcessing)
	if err != nil {
		t.Fatalf("noop update failed: %v", err)
	}
	if changed {
		t.Fatal("noop update must report changed=false")
	}
	if updated.Version != order.Version {
		t.Fatalf("noop update must not bump version: %d -> %d", order.Version, updated.Version)
	}
}

func TestOrderRepository_UpdateStatus_Concurrent(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "order-1", domain.OrderStatusProcessing)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	changedFlags := make([]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, changedFlags[idx], results[idx] = repo.UpdateStatus("order-1", domain.OrderStatusShipped)
		}(i)
	}
	wg.Wait()

	// Все вызовы либо успешны (переход или no-op), либо нет — но итоговое
	// состояние одно: shipped, и версия увеличена ровно один раз.
	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", got.Status)
	}
	if got.Version != 2 {
		t.Fatalf("expected exactly one applied transition after seed, version=%d", got.Version)
	}

	changedCount := 0
	for idx, rerr := range results {
		if rerr != nil && !domain.IsInvalidTransition(rerr) {
			t.Fatalf("worker %d unexpected error: %v", idx, rerr)
		}
		if changedFlags[idx] {
			changedCount++
		}
	}
	if changedCount != 1 {
		t.Fatalf("exactly one worker must observe changed=true, got %d", changedCount)
	}
}

func TestOrderRepository_SetCarrierReference(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "order-1", domain.OrderStatusProcessing)

	updated, err := repo.SetCarrierReference("order-1", "AWB-42")
	if err != nil {
		t.Fatalf("set carrier reference: %v", err)
	}
	if updated.CarrierReference != "AWB-42" {
		t.Fatalf("expected carrier reference, got %q", updated.CarrierReference)
	}

	// Терминальный заказ больше не принимает записей.
	seedOrder(t, repo, "order-2", domain.OrderStatusCancelled)
	if _, err := repo.SetCarrierReference("order-2", "AWB-43"); !errors.Is(err, domain.ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
}

func TestOrderRepository_ListBySellerAndBuyer(t *testing.T) {
	repo := NewOrderRepository()
	seedOrder(t, repo, "order-1", domain.OrderStatusPending)
	seedOrder(t, repo, "order-2", domain.OrderStatusPending)

	bySeller, err := repo.ListBySeller("seller-1", 0)
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(bySeller) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(bySeller))
	}

	byBuyer, err := repo.ListByBuyer("buyer-1", 1)
	if err != nil {
		t.Fatalf("list by buyer: %v", err)
	}
	if len(byBuyer) != 1 {
		t.Fatalf("expected limit applied, got %d", len(byBuyer))
	}

	empty, err := repo.ListBySeller("seller-2", 0)
	if err != nil {
		t.Fatalf("list by unknown seller: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no orders for another seller, got %d", len(empty))
	}
}
