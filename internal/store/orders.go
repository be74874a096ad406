package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lecas/commerce/internal/config"
	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/models"
	"github.com/lecas/commerce/internal/pricing"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const trackingLocation = "System"

type CreateOrderRequest struct {
	UserID        int64
	Items         []OrderItemRequest // empty: order the user's whole cart
	ShippingInfo  models.ShippingInfo
	PaymentMethod models.PaymentMethod
	Note          string
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
	Size      string
	Color     string
}

// CreateOrder turns a line-item list (or the user's cart) into a persisted
// pending order. The whole workflow runs in one serializable transaction:
// validate every line, resolve promotion pricing, decrement stock with
// conditional writes, insert the order with its seed tracking and history,
// and remove the charged cart lines. Any failure rolls the lot back, so
// there is never a partially committed order.
func CreateOrder(ctx context.Context, db *sql.DB, ship config.ShippingConfig, req CreateOrderRequest) (*models.Order, error) {
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		return nil, database.ErrInvalidPaymentMethod
	}
	if !req.ShippingInfo.Validate() {
		return nil, database.ErrInvalidShippingInfo
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		cartID, cartItems, err := userCartLines(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		items := req.Items
		if len(items) == 0 {
			items = lo.Map(cartItems, func(ci models.CartItem, _ int) OrderItemRequest {
				return OrderItemRequest{
					ProductID: ci.ProductID,
					Quantity:  ci.Quantity,
					Size:      ci.Size,
					Color:     ci.Color,
				}
			})
		}
		if len(items) == 0 {
			return database.ErrEmptyOrder
		}

		now := time.Now().UTC()

		promotions, err := GetActivePromotions(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("load promotions: %w", err)
		}

		// Validate-all pass: every line must be satisfiable before any
		// stock is touched.
		products := make(map[int64]*models.Product, len(items))
		for _, item := range items {
			if item.Quantity <= 0 {
				return database.ErrEmptyOrder
			}

			product, err := GetProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}

			if !product.InStock || product.StockQuantity < item.Quantity {
				return database.ErrInsufficientStock
			}

			products[item.ProductID] = product
		}

		// Build pass: promotion-resolved prices, denormalized snapshots,
		// and the cart lines this order will consume.
		var orderItems []models.OrderItem
		var reconcile []uuid.UUID
		subtotal := decimal.Zero

		for _, item := range items {
			product := products[item.ProductID]

			resolved := pricing.Resolve(*product, promotions, now)

			orderItem := models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				ImageURL:    product.ImageURL,
				Quantity:    item.Quantity,
				Size:        item.Size,
				Color:       item.Color,
				Price:       resolved.Price,
				TotalPrice:  resolved.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
			}
			orderItems = append(orderItems, orderItem)
			subtotal = subtotal.Add(orderItem.TotalPrice)

			for _, ci := range cartItems {
				if ci.ProductID == item.ProductID && ci.Size == item.Size && ci.Color == item.Color {
					reconcile = append(reconcile, ci.ID)
				}
			}
		}

		totalItems := lo.SumBy(orderItems, func(oi models.OrderItem) int { return oi.Quantity })
		totals := models.ComputeTotals(totalItems, subtotal, ship.FreeThreshold, ship.FlatFee)

		// Commit pass. Each decrement is conditional on remaining stock;
		// a zero-row update means a concurrent order won the race and the
		// transaction rolls back.
		for _, item := range items {
			if err := DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		orderNumber, err := nextOrderNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, subtotal, shipping, tax, total,
				payment_method, ship_name, ship_phone, ship_address, ship_city, ship_district, ship_note,
				note, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW(), 1)
			 RETURNING id`,
			req.UserID, orderNumber, models.OrderStatusPending,
			totals.Subtotal, totals.Shipping, totals.Tax, totals.Total,
			req.PaymentMethod,
			req.ShippingInfo.Name, req.ShippingInfo.Phone, req.ShippingInfo.Address,
			req.ShippingInfo.City, req.ShippingInfo.District, req.ShippingInfo.Note,
			req.Note).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range orderItems {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, image_url, quantity, size, color, price, total_price)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				orderID, item.ProductID, item.ProductName, item.ImageURL,
				item.Quantity, item.Size, item.Color, item.Price, item.TotalPrice)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		if err := appendTracking(ctx, tx, orderID, string(models.OrderStatusPending), "Order created"); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, orderID, string(models.OrderStatusPending), "customer", req.Note); err != nil {
			return err
		}

		// Reconcile the cart: a line charged against this order must not
		// remain chargeable.
		if cartID != 0 && len(reconcile) > 0 {
			for _, itemID := range reconcile {
				if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID); err != nil {
					return fmt.Errorf("remove cart item: %w", err)
				}
			}

			if _, err := refreshCartTotals(ctx, tx, ship, cartID); err != nil {
				return err
			}
		}

		order, err = getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// nextOrderNumber hands out YYYYMMDD-NNNN, a zero-padded per-UTC-day
// sequence. The counter row upsert runs inside the order transaction, so the
// store serializes concurrent creators and numbers cannot collide.
func nextOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.UTC().Truncate(24 * time.Hour)

	var seq int
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_counters (day, seq) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET seq = order_counters.seq + 1
		 RETURNING seq`,
		day).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}

	return fmt.Sprintf("%s-%04d", now.UTC().Format("20060102"), seq), nil
}

// GetOrder loads an order with its items, tracking trail, and history.
func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	return getOrder(ctx, db, id)
}

// GetOrderForUser is GetOrder plus an ownership check.
func GetOrderForUser(ctx context.Context, db *sql.DB, id, userID int64) (*models.Order, error) {
	order, err := getOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, database.ErrAccessDenied
	}

	return order, nil
}

type OrderFilter struct {
	Status        *models.OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListUserOrders returns the user's orders, newest first, optionally
// filtered by status and creation window. Items are not loaded.
func ListUserOrders(ctx context.Context, db *sql.DB, userID int64, filter OrderFilter) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, userID, filter.Status, filter.CreatedAfter, filter.CreatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// CancelOrder is the customer cancellation path, legal only while the order
// is pending or confirmed. Stock is not restored: inventory reconciliation
// for cancelled orders happens out of band, matching the refund flow.
func CancelOrder(ctx context.Context, db *sql.DB, orderID, userID int64, reason string) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if current.UserID != userID {
			return database.ErrAccessDenied
		}
		if !current.Status.Cancellable() {
			return database.ErrOrderNotCancellable
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, cancel_reason = $2, updated_at = NOW(), version = version + 1
			 WHERE id = $3`,
			models.OrderStatusCancelled, reason, orderID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		if err := appendTracking(ctx, tx, orderID, string(models.OrderStatusCancelled), "Order cancelled"); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, orderID, string(models.OrderStatusCancelled), "customer", reason); err != nil {
			return err
		}

		order, err = getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderStatus is the administrative transition path. Moves outside the
// lifecycle table are rejected unless force is set; forced overrides are
// recorded in the history trail like any other change.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, newStatus models.OrderStatus, note, changedBy string, force bool) (*models.Order, error) {
	if !models.ValidOrderStatus(newStatus) {
		return nil, database.ErrIllegalTransition
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if !force && !current.Status.CanTransitionTo(newStatus) {
			return database.ErrIllegalTransition
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2`,
			newStatus, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		description := note
		if description == "" {
			description = fmt.Sprintf("Order status updated: %s", newStatus)
		}

		if err := appendTracking(ctx, tx, orderID, string(newStatus), description); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, orderID, string(newStatus), changedBy, note); err != nil {
			return err
		}

		order, err = getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderInfoRequest applies only the fields that are set.
type UpdateOrderInfoRequest struct {
	ShippingInfo *models.ShippingInfo
	Note         *string
}

// UpdateOrderInfo lets the owner amend the shipping snapshot or note while
// the order is still pending.
func UpdateOrderInfo(ctx context.Context, db *sql.DB, orderID, userID int64, req UpdateOrderInfoRequest) (*models.Order, error) {
	if req.ShippingInfo != nil && !req.ShippingInfo.Validate() {
		return nil, database.ErrInvalidShippingInfo
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if current.UserID != userID {
			return database.ErrAccessDenied
		}
		if current.Status != models.OrderStatusPending {
			return database.ErrOrderNotEditable
		}

		if req.ShippingInfo != nil {
			info := *req.ShippingInfo
			_, err = tx.ExecContext(ctx,
				`UPDATE orders
				 SET ship_name = $1, ship_phone = $2, ship_address = $3,
				     ship_city = $4, ship_district = $5, ship_note = $6,
				     updated_at = NOW(), version = version + 1
				 WHERE id = $7`,
				info.Name, info.Phone, info.Address, info.City, info.District, info.Note, orderID)
			if err != nil {
				return fmt.Errorf("update shipping info: %w", err)
			}
		}

		if req.Note != nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET note = $1, updated_at = NOW(), version = version + 1 WHERE id = $2`,
				*req.Note, orderID)
			if err != nil {
				return fmt.Errorf("update order note: %w", err)
			}
		}

		if err := appendHistory(ctx, tx, orderID, string(current.Status), "customer", "Order info updated"); err != nil {
			return err
		}

		order, err = getOrder(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrderTracking returns the customer-facing trail, oldest first.
func GetOrderTracking(ctx context.Context, db *sql.DB, orderID, userID int64) ([]models.OrderTracking, error) {
	order, err := GetOrderForUser(ctx, db, orderID, userID)
	if err != nil {
		return nil, err
	}

	return order.Tracking, nil
}

const orderColumns = `id, user_id, order_number, status, subtotal, shipping, tax, total,
		payment_method, ship_name, ship_phone, ship_address, ship_city, ship_district, ship_note,
		note, cancel_reason, created_at, updated_at, version`

func getOrder(ctx context.Context, q DBTX, id int64) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1`

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = loadOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}

	order.Tracking, err = loadTracking(ctx, q, id)
	if err != nil {
		return nil, err
	}

	order.History, err = loadHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// lockOrder reads the order row FOR UPDATE so status transitions on the same
// order serialize.
func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	order, err := scanOrder(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

func appendTracking(ctx context.Context, tx *sql.Tx, orderID int64, status, description string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_tracking (order_id, status, location, description, time)
		 VALUES ($1, $2, $3, $4, NOW())`,
		orderID, status, trackingLocation, description)
	if err != nil {
		return fmt.Errorf("append tracking: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, orderID int64, status, changedBy, note string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_history (order_id, status, changed_by, note, changed_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		orderID, status, changedBy, note)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func userCartLines(ctx context.Context, tx *sql.Tx, userID int64) (int64, []models.CartItem, error) {
	cartID, err := cartIDForUser(ctx, tx, userID)
	if err != nil {
		if err == database.ErrCartNotFound {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	items, err := loadCartItems(ctx, tx, cartID)
	if err != nil {
		return 0, nil, err
	}

	return cartID, items, nil
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	var shipCity, shipDistrict, shipNote, note, cancelReason sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.Subtotal,
		&order.Shipping,
		&order.Tax,
		&order.Total,
		&order.PaymentMethod,
		&order.ShippingInfo.Name,
		&order.ShippingInfo.Phone,
		&order.ShippingInfo.Address,
		&shipCity,
		&shipDistrict,
		&shipNote,
		&note,
		&cancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.ShippingInfo.City = shipCity.String
	order.ShippingInfo.District = shipDistrict.String
	order.ShippingInfo.Note = shipNote.String
	order.Note = note.String
	order.CancelReason = cancelReason.String

	return order, nil
}

func scanOrderRows(rows *sql.Rows) (*models.Order, error) {
	order := &models.Order{}
	var shipCity, shipDistrict, shipNote, note, cancelReason sql.NullString

	err := rows.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.Subtotal,
		&order.Shipping,
		&order.Tax,
		&order.Total,
		&order.PaymentMethod,
		&order.ShippingInfo.Name,
		&order.ShippingInfo.Phone,
		&order.ShippingInfo.Address,
		&shipCity,
		&shipDistrict,
		&shipNote,
		&note,
		&cancelReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.ShippingInfo.City = shipCity.String
	order.ShippingInfo.District = shipDistrict.String
	order.ShippingInfo.Note = shipNote.String
	order.Note = note.String
	order.CancelReason = cancelReason.String

	return order, nil
}

func loadOrderItems(ctx context.Context, q DBTX, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, image_url, quantity, size, color, price, total_price
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var imageURL sql.NullString

		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&imageURL,
			&item.Quantity,
			&item.Size,
			&item.Color,
			&item.Price,
			&item.TotalPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}

		item.ImageURL = imageURL.String
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func loadTracking(ctx context.Context, q DBTX, orderID int64) ([]models.OrderTracking, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, status, location, description, time
		 FROM order_tracking
		 WHERE order_id = $1
		 ORDER BY time, id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("load tracking: %w", err)
	}
	defer rows.Close()

	var entries []models.OrderTracking
	for rows.Next() {
		var entry models.OrderTracking
		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.Status,
			&entry.Location,
			&entry.Description,
			&entry.Time,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}

func loadHistory(ctx context.Context, q DBTX, orderID int64) ([]models.OrderHistory, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, status, changed_by, note, changed_at
		 FROM order_history
		 WHERE order_id = $1
		 ORDER BY changed_at, id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var entries []models.OrderHistory
	for rows.Next() {
		var entry models.OrderHistory
		var note sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.Status,
			&entry.ChangedBy,
			&note,
			&entry.ChangedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}

		entry.Note = note.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
