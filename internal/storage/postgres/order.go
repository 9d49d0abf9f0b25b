package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliverus/orderd/internal/domain/order"
)

const orderColumns = `id, user_id, restaurant_id, address, price, shipping_costs,
	created_at, started_at, sent_at, delivered_at`

const (
	insertOrderSQL = `INSERT INTO orders (user_id, restaurant_id, address, price, shipping_costs)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at`

	insertLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
	VALUES ($1, $2, $3, $4)`

	lockOrderStateSQL = `SELECT started_at, sent_at, delivered_at FROM orders WHERE id = $1 FOR UPDATE`

	updateOrderHeaderSQL = `UPDATE orders SET address = $2, price = $3, shipping_costs = $4 WHERE id = $1`

	deleteLinesSQL = `DELETE FROM order_lines WHERE order_id = $1`

	deletePendingOrderSQL = `DELETE FROM orders WHERE id = $1 AND started_at IS NULL`

	enqueueMetricsJobSQL = `INSERT INTO metrics_jobs (restaurant_id) VALUES ($1)`

	selectLinesSQL = `SELECT product_id, quantity, unit_price FROM order_lines WHERE order_id = $1 ORDER BY product_id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// write runs under writeTimeout and a matching lock_timeout, so operations
// blocked by concurrent writers fail with a retryable error instead of
// waiting indefinitely.
type OrderRepository struct {
	pool         *pgxpool.Pool
	writeTimeout time.Duration
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool, writeTimeout time.Duration) *OrderRepository {
	return &OrderRepository{pool: pool, writeTimeout: writeTimeout}
}

// Get returns one order with its lines, or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	if o.Lines, err = loadLines(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByCustomer returns a customer's orders with lines, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %d: %w", userID, err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := attachLines(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListByRestaurant returns a restaurant's orders with the filter applied.
func (r *OrderRepository) ListByRestaurant(ctx context.Context, restaurantID int64, f order.ListFilter) ([]order.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE restaurant_id = $1`
	args := []any{restaurantID}

	if cond := statusCondition(f.Status); cond != "" {
		sql += ` AND ` + cond
	}
	if !f.CreatedFrom.IsZero() {
		args = append(args, f.CreatedFrom)
		sql += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !f.CreatedBefore.IsZero() {
		args = append(args, f.CreatedBefore)
		sql += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	sql += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders for restaurant %d: %w", restaurantID, err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := attachLines(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Create persists the header and all lines in one transaction, filling in
// the generated ID and CreatedAt. A failure on any row rolls back the
// whole order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, insertOrderSQL,
			o.UserID, o.RestaurantID, o.Address, o.Price, o.ShippingCosts)
		if err := row.Scan(&o.ID, &o.CreatedAt); err != nil {
			return errors.Wrap(err, "insert header")
		}
		return insertLines(ctx, tx, o.ID, o.Lines)
	})
	if err != nil {
		return mapWriteError(fmt.Errorf("creating order: %w", err))
	}
	return nil
}

// Replace atomically updates the header and swaps the entire line set. The
// header row is locked first; if the order has left the pending state by
// then, nothing is changed and order.ErrStateChanged is returned.
func (r *OrderRepository) Replace(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var startedAt, sentAt, deliveredAt *time.Time
		row := tx.QueryRow(ctx, lockOrderStateSQL, o.ID)
		if err := row.Scan(&startedAt, &sentAt, &deliveredAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "lock header")
		}
		if startedAt != nil {
			return order.ErrStateChanged
		}

		if _, err := tx.Exec(ctx, updateOrderHeaderSQL,
			o.ID, o.Address, o.Price, o.ShippingCosts); err != nil {
			return errors.Wrap(err, "update header")
		}
		if _, err := tx.Exec(ctx, deleteLinesSQL, o.ID); err != nil {
			return errors.Wrap(err, "delete lines")
		}
		return insertLines(ctx, tx, o.ID, o.Lines)
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStateChanged) {
			return err
		}
		return mapWriteError(fmt.Errorf("replacing order %d: %w", o.ID, err))
	}
	return nil
}

// Delete removes a pending order; its lines go with it via ON DELETE
// CASCADE. Deleting an order that has been started fails with
// order.ErrStateChanged.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, deletePendingOrderSQL, id)
	if err != nil {
		return mapWriteError(fmt.Errorf("deleting order %d: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking order %d: %w", id, err)
		}
		if exists {
			return order.ErrStateChanged
		}
		return order.ErrNotFound
	}
	return nil
}

// UpdateTimestamp performs the compare-and-set transition write: the UPDATE
// only matches while the order is still in the expected state, so a
// concurrent transition that committed first leaves zero rows affected and
// the caller gets order.ErrStateChanged. Stamping deliveredAt also enqueues
// the restaurant's metrics recomputation in the same transaction.
func (r *OrderRepository) UpdateTimestamp(ctx context.Context, id int64, field order.TimestampField, value *time.Time, expected order.Status) (*order.Order, error) {
	col, err := timestampColumn(field)
	if err != nil {
		return nil, err
	}
	guard := statusCondition(expected)
	if guard == "" {
		return nil, fmt.Errorf("unknown expected status %q", expected)
	}

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	var updated *order.Order
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		sql := fmt.Sprintf(`UPDATE orders SET %s = $2 WHERE id = $1 AND %s RETURNING `+orderColumns, col, guard)
		row := tx.QueryRow(ctx, sql, id, value)

		o, err := scanOrder(row)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return errors.Wrap(err, "update timestamp")
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order")
			}
			if exists {
				return order.ErrStateChanged
			}
			return order.ErrNotFound
		}

		if field == order.FieldDeliveredAt && value != nil {
			if _, err := tx.Exec(ctx, enqueueMetricsJobSQL, o.RestaurantID); err != nil {
				return errors.Wrap(err, "enqueue metrics job")
			}
		}

		if o.Lines, err = loadLines(ctx, tx, id); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStateChanged) {
			return nil, err
		}
		return nil, mapWriteError(fmt.Errorf("transitioning order %d: %w", id, err))
	}
	return updated, nil
}

// Analytics computes the dashboard aggregates in a single round trip.
func (r *OrderRepository) Analytics(ctx context.Context, restaurantID int64, todayStart, yesterdayStart time.Time) (*order.Analytics, error) {
	const sql = `SELECT
	(SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND created_at >= $3 AND created_at < $2),
	(SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND started_at IS NULL),
	(SELECT COUNT(*) FROM orders WHERE restaurant_id = $1 AND delivered_at >= $2),
	(SELECT COALESCE(SUM(price), 0) FROM orders WHERE restaurant_id = $1 AND created_at >= $2)`

	a := &order.Analytics{RestaurantID: restaurantID}
	row := r.pool.QueryRow(ctx, sql, restaurantID, todayStart, yesterdayStart)
	if err := row.Scan(&a.NumYesterdayOrders, &a.NumPendingOrders, &a.NumDeliveredTodayOrders, &a.InvoicedToday); err != nil {
		return nil, fmt.Errorf("computing analytics for restaurant %d: %w", restaurantID, err)
	}
	return a, nil
}

// inTx runs fn inside a transaction with lock_timeout bounded by the write
// timeout, committing on success and rolling back on any error.
func (r *OrderRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.writeTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, lockTimeout); err != nil {
		return errors.Wrap(err, "set lock timeout")
	}

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

func insertLines(ctx context.Context, tx pgx.Tx, orderID int64, lines []order.Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(insertLineSQL, orderID, l.ProductID, l.Quantity, l.UnitPrice)
	}
	br := tx.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range lines {
		if _, err := br.Exec(); err != nil {
			return errors.Wrap(err, "insert line")
		}
	}
	return br.Close()
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.RestaurantID, &o.Address, &o.Price, &o.ShippingCosts,
		&o.CreatedAt, &o.StartedAt, &o.SentAt, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func loadLines(ctx context.Context, q querier, orderID int64) ([]order.Line, error) {
	rows, err := q.Query(ctx, selectLinesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading lines for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var lines []order.Line
	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// attachLines fetches the lines for all orders in one query.
func attachLines(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
	}

	rows, err := q.Query(ctx,
		`SELECT order_id, product_id, quantity, unit_price FROM order_lines
		WHERE order_id = ANY($1) ORDER BY order_id, product_id`, ids)
	if err != nil {
		return fmt.Errorf("loading order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scanning line: %w", err)
		}
		if o, ok := index[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

// timestampColumn maps a domain timestamp field to its column. The switch
// doubles as a whitelist: the column name is interpolated into SQL.
func timestampColumn(field order.TimestampField) (string, error) {
	switch field {
	case order.FieldStartedAt:
		return "started_at", nil
	case order.FieldSentAt:
		return "sent_at", nil
	case order.FieldDeliveredAt:
		return "delivered_at", nil
	default:
		return "", fmt.Errorf("unknown timestamp field %q", field)
	}
}

// statusCondition translates a derived status into the timestamp predicate
// that defines it. An empty string means no filtering.
func statusCondition(s order.Status) string {
	switch s {
	case order.StatusPending:
		return "started_at IS NULL"
	case order.StatusInProcess:
		return "started_at IS NOT NULL AND sent_at IS NULL"
	case order.StatusSent:
		return "sent_at IS NOT NULL AND delivered_at IS NULL"
	case order.StatusDelivered:
		return "delivered_at IS NOT NULL"
	default:
		return ""
	}
}
