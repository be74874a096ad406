package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lecas/commerce/internal/config"
	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/models"
)

type AddCartItemRequest struct {
	ProductID int64
	Quantity  int
	Size      string
	Color     string
}

// UpdateCartItemRequest applies only the fields that are set. A quantity of
// zero or less removes the line.
type UpdateCartItemRequest struct {
	Quantity *int
	Size     *string
	Color    *string
}

// GetCart returns the user's cart, creating an empty one on first access.
func GetCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	var cart *models.Cart

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		cart, err = getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		cart.Items, err = loadCartItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// AddCartItem merges into an existing line on an exact (product, size, color)
// match, otherwise appends a new line snapshotting the product's current
// price. Out-of-stock products and quantities above available stock are
// rejected before anything is written.
func AddCartItem(ctx context.Context, db *sql.DB, ship config.ShippingConfig, userID int64, req AddCartItemRequest) (*models.Cart, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	var cart *models.Cart

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product, err := GetProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}

		if !product.InStock || product.StockQuantity < req.Quantity {
			return database.ErrInsufficientStock
		}

		cart, err = getOrCreateCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		var existingID uuid.UUID
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM cart_items
			 WHERE cart_id = $1 AND product_id = $2 AND size = $3 AND color = $4`,
			cart.ID, req.ProductID, req.Size, req.Color).Scan(&existingID)

		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx,
				`UPDATE cart_items
				 SET quantity = quantity + $1, updated_at = NOW()
				 WHERE id = $2`,
				req.Quantity, existingID)
			if err != nil {
				return fmt.Errorf("merge cart item: %w", err)
			}
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO cart_items (id, cart_id, product_id, quantity, size, color, price, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
				uuid.New(), cart.ID, req.ProductID, req.Quantity, req.Size, req.Color, product.Price)
			if err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		default:
			return fmt.Errorf("find cart item: %w", err)
		}

		cart, err = refreshCartTotals(ctx, tx, ship, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func UpdateCartItem(ctx context.Context, db *sql.DB, ship config.ShippingConfig, userID int64, itemID uuid.UUID, req UpdateCartItemRequest) (*models.Cart, error) {
	var cart *models.Cart

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := cartIDForUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		var currentQty int
		err = tx.QueryRowContext(ctx,
			`SELECT quantity FROM cart_items WHERE id = $1 AND cart_id = $2`,
			itemID, cartID).Scan(&currentQty)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCartItemNotFound
			}
			return fmt.Errorf("find cart item: %w", err)
		}

		if req.Quantity != nil && *req.Quantity <= 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
			if err != nil {
				return fmt.Errorf("delete cart item: %w", err)
			}
		} else {
			quantity := currentQty
			if req.Quantity != nil {
				quantity = *req.Quantity
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE cart_items
				 SET quantity = $1,
				     size = COALESCE($2, size),
				     color = COALESCE($3, color),
				     updated_at = NOW()
				 WHERE id = $4`,
				quantity, req.Size, req.Color, itemID)
			if err != nil {
				return fmt.Errorf("update cart item: %w", err)
			}
		}

		cart, err = refreshCartTotals(ctx, tx, ship, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func RemoveCartItem(ctx context.Context, db *sql.DB, ship config.ShippingConfig, userID int64, itemID uuid.UUID) (*models.Cart, error) {
	var cart *models.Cart

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := cartIDForUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`,
			itemID, cartID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrCartItemNotFound
		}

		cart, err = refreshCartTotals(ctx, tx, ship, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// ClearCart empties the cart. A missing cart is already empty and not an error.
func ClearCart(ctx context.Context, db *sql.DB, ship config.ShippingConfig, userID int64) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := cartIDForUser(ctx, tx, userID)
		if err != nil {
			if err == database.ErrCartNotFound {
				return nil
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}

		_, err = refreshCartTotals(ctx, tx, ship, cartID)
		return err
	})
}

// GetCartSummary returns just the derived totals; an absent cart reads as
// all zeros.
func GetCartSummary(ctx context.Context, db *sql.DB, userID int64) (*models.Totals, error) {
	summary := &models.Totals{}

	err := db.QueryRowContext(ctx,
		`SELECT total_items, subtotal, shipping, tax, total
		 FROM carts WHERE user_id = $1`,
		userID).Scan(
		&summary.TotalItems,
		&summary.Subtotal,
		&summary.Shipping,
		&summary.Tax,
		&summary.Total,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.Totals{}, nil
		}
		return nil, fmt.Errorf("get cart summary: %w", err)
	}

	return summary, nil
}

const cartColumns = `id, user_id, total_items, subtotal, shipping, tax, total, created_at, updated_at`

// getOrCreateCart is idempotent per user; the unique index on user_id plus
// ON CONFLICT DO NOTHING make concurrent first accesses safe.
func getOrCreateCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO carts (user_id, total_items, subtotal, shipping, tax, total, created_at, updated_at)
		 VALUES ($1, 0, 0, 0, 0, 0, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	cart := &models.Cart{}
	err = tx.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE user_id = $1`, userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.TotalItems,
		&cart.Subtotal,
		&cart.Shipping,
		&cart.Tax,
		&cart.Total,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}

func cartIDForUser(ctx context.Context, q DBTX, userID int64) (int64, error) {
	var cartID int64

	err := q.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrCartNotFound
		}
		return 0, fmt.Errorf("get cart id: %w", err)
	}

	return cartID, nil
}

func loadCartItems(ctx context.Context, q DBTX, cartID int64) ([]models.CartItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, cart_id, product_id, quantity, size, color, price, created_at, updated_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY created_at, id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.Size,
			&item.Color,
			&item.Price,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// refreshCartTotals recomputes the derived totals from the surviving items
// and persists them. Every cart mutation ends here so totals are never stale.
func refreshCartTotals(ctx context.Context, tx *sql.Tx, ship config.ShippingConfig, cartID int64) (*models.Cart, error) {
	items, err := loadCartItems(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}

	totals := models.CartTotals(items, ship.FreeThreshold, ship.FlatFee)

	cart := &models.Cart{}
	err = tx.QueryRowContext(ctx,
		`UPDATE carts
		 SET total_items = $1, subtotal = $2, shipping = $3, tax = $4, total = $5, updated_at = NOW()
		 WHERE id = $6
		 RETURNING `+cartColumns,
		totals.TotalItems, totals.Subtotal, totals.Shipping, totals.Tax, totals.Total, cartID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.TotalItems,
		&cart.Subtotal,
		&cart.Shipping,
		&cart.Tax,
		&cart.Total,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update cart totals: %w", err)
	}

	cart.Items = items
	return cart, nil
}
