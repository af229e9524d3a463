package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/marketplace-checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, buyer_id, seller_id, status, payment_method, payment_status,
	ship_name, ship_street, ship_city, ship_state, ship_postal_code, ship_phone,
	shipping_cost_minor, total_amount_minor, currency,
	estimated_delivery_days, carrier_reference, payment_reference,
	version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailableErr("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, status, payment_method, payment_status,
			ship_name, ship_street, ship_city, ship_state, ship_postal_code, ship_phone,
			shipping_cost_minor, total_amount_minor, currency,
			estimated_delivery_days, carrier_reference, payment_reference,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		order.ID, order.BuyerID, order.SellerID,
		string(order.Status), string(order.PaymentMethod), string(order.PaymentStatus),
		order.ShippingAddress.Name, order.ShippingAddress.Street, order.ShippingAddress.City,
		order.ShippingAddress.State, order.ShippingAddress.PostalCode, order.ShippingAddress.Phone,
		order.ShippingCostMinor, order.TotalAmountMinor, order.Currency,
		order.EstimatedDeliveryDays, order.CarrierReference, order.PaymentReference,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if name, ok := uniqueViolationConstraint(err); ok {
			// Индекс uq_orders_payment_reference отвергает второй заказ по
			// тому же платежу независимо от того, какой инстанс его создаёт.
			if name == "uq_orders_payment_reference" {
				return domain.ErrPaymentReferenceInUse
			}
			return domain.ErrOrderVersionConflict
		}
		return unavailableErr("insert order", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, size, qty,
				unit_price_minor, discounted_unit_price_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, item.ProductID, item.Size, item.Qty,
			item.UnitPriceMinor, item.DiscountedUnitPriceMinor, item.CreatedAt,
		); err != nil {
			return unavailableErr("insert order item", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return unavailableErr("commit create order", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.getTx(ctx, r.db.QueryRowContext, id, "")
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.list("buyer_id", buyerID, limit)
}

func (r *orderRepository) ListBySeller(sellerID string, limit int) ([]domain.Order, error) {
	return r.list("seller_id", sellerID, limit)
}

func (r *orderRepository) list(column, value string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		WHERE %s = $1
		ORDER BY created_at DESC, id DESC
	`, orderColumns, column)

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", value, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, value)
	}
	if err != nil {
		return nil, unavailableErr("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailableErr("iterate order rows", err)
	}

	return orders, nil
}

// UpdateStatus применяет переход статуса, проверяя машину состояний
// на границе записи. Строка заказа блокируется FOR UPDATE, поэтому из
// двух конкурентных переходов для одного заказа changed=true получает
// ровно один; второй видит уже применённый статус как no-op.
func (r *orderRepository) UpdateStatus(orderID string, target domain.OrderStatus) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, unavailableErr("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order, err := r.getTx(ctx, tx.QueryRowContext, orderID, " FOR UPDATE")
	if err != nil {
		return domain.Order{}, false, err
	}

	// Повторная установка текущего статуса — no-op успех без инкремента версии.
	if order.Status == target {
		if err = tx.Commit(); err != nil {
			return domain.Order{}, false, unavailableErr("commit status noop", err)
		}
		order, err = r.withItems(ctx, order)
		return order, false, err
	}

	if !domain.CanTransition(order.Status, target) {
		err = domain.NewInvalidTransition(order.Status, target)
		return domain.Order{}, false, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3
	`, string(target), now, orderID); err != nil {
		return domain.Order{}, false, unavailableErr("update order status", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, false, unavailableErr("commit status update", err)
	}

	order.Status = target
	order.Version++
	order.UpdatedAt = now
	order, err = r.withItems(ctx, order)
	return order, true, err
}

// SetCarrierReference фиксирует идентификатор отправления у перевозчика.
func (r *orderRepository) SetCarrierReference(orderID, carrierRef string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, unavailableErr("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order, err := r.getTx(ctx, tx.QueryRowContext, orderID, " FOR UPDATE")
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status.IsTerminal() {
		err = domain.ErrOrderTerminal
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET carrier_reference = $1, version = version + 1, updated_at = $2
		WHERE id = $3
	`, carrierRef, now, orderID); err != nil {
		return domain.Order{}, unavailableErr("update carrier reference", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, unavailableErr("commit carrier reference", err)
	}

	order.CarrierReference = carrierRef
	order.Version++
	order.UpdatedAt = now
	return r.withItems(ctx, order)
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row

func (r *orderRepository) getTx(ctx context.Context, queryRow queryRowFunc, id, suffix string) (domain.Order, error) {
	query := fmt.Sprintf("SELECT %s FROM orders WHERE id = $1%s", orderColumns, suffix)

	order, err := scanOrder(queryRow(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailableErr("select order", err)
	}
	return order, nil
}

func (r *orderRepository) withItems(ctx context.Context, order domain.Order) (domain.Order, error) {
	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var order domain.Order
	var status, paymentMethod, paymentStatus string

	err := scan(
		&order.ID, &order.BuyerID, &order.SellerID,
		&status, &paymentMethod, &paymentStatus,
		&order.ShippingAddress.Name, &order.ShippingAddress.Street, &order.ShippingAddress.City,
		&order.ShippingAddress.State, &order.ShippingAddress.PostalCode, &order.ShippingAddress.Phone,
		&order.ShippingCostMinor, &order.TotalAmountMinor, &order.Currency,
		&order.EstimatedDeliveryDays, &order.CarrierReference, &order.PaymentReference,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, size, qty, unit_price_minor, discounted_unit_price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, unavailableErr("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.Size, &item.Qty,
			&item.UnitPriceMinor, &item.DiscountedUnitPriceMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailableErr("iterate order items", err)
	}

	return items, nil
}

func isUniqueViolation(err error) bool {
	_, ok := uniqueViolationConstraint(err)
	return ok
}

// uniqueViolationConstraint возвращает имя нарушенного уникального
// ограничения, чтобы различать дубликат первичного ключа и повторное
// использование payment_reference.
func uniqueViolationConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// unavailableErr помечает инфраструктурные сбои БД как ErrRepositoryUnavailable,
// чтобы вызывающий код мог отличать их от доменных отказов и ретраить.
func unavailableErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrRepositoryUnavailable)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
