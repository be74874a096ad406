package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, price, original_price, image_url,
		category_id, stock_quantity, in_stock, created_at, updated_at, version`

type CreateProductRequest struct {
	SKU           string
	Name          string
	Description   string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	ImageURL      string
	CategoryID    *int64
	Stock         int
}

func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	if req.OriginalPrice.IsZero() {
		req.OriginalPrice = req.Price
	}

	query := `
		INSERT INTO products (sku, name, description, price, original_price, image_url,
			category_id, stock_quantity, in_stock, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8 > 0, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	row := db.QueryRowContext(ctx, query,
		req.SKU, req.Name, req.Description, req.Price, req.OriginalPrice,
		req.ImageURL, req.CategoryID, req.Stock)

	product, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q DBTX, id int64) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProduct replaces the catalog fields of a product. Stock moves through
// the reservation path, never through here.
func UpdateProduct(ctx context.Context, db *sql.DB, p *models.Product) (*models.Product, error) {
	query := `
		UPDATE products
		SET sku = $1, name = $2, description = $3, price = $4, original_price = $5,
		    image_url = $6, category_id = $7, updated_at = NOW(), version = version + 1
		WHERE id = $8
		RETURNING ` + productColumns

	row := db.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Price, p.OriginalPrice,
		p.ImageURL, p.CategoryID, p.ID)

	product, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

// ReserveStock locks the product row and verifies availability. The caller
// must follow up with DecrementStock in the same transaction.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
		FOR UPDATE`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if product.StockQuantity < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

func ReserveStockNoWait(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
		FOR UPDATE NOWAIT`

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product (nowait): %w", err)
	}

	if product.StockQuantity < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

func UpdateStockOptimistic(ctx context.Context, db *sql.DB, productID int64, newStock int, version int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = $1, in_stock = $1 > 0, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newStock, productID, version)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// DecrementStock commits a reservation as a single conditional write: the
// decrement only happens while enough stock remains, so concurrent orders
// are serialized by the database and stock can never go negative. Zero rows
// affected means someone else took the stock first.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     in_stock = stock_quantity - $1 > 0,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProductRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

func scanProduct(row *sql.Row) (*models.Product, error) {
	product := &models.Product{}
	var description, imageURL sql.NullString

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&description,
		&product.Price,
		&product.OriginalPrice,
		&imageURL,
		&product.CategoryID,
		&product.StockQuantity,
		&product.InStock,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	product.Description = description.String
	product.ImageURL = imageURL.String

	return product, nil
}

func scanProductRows(rows *sql.Rows) (*models.Product, error) {
	product := &models.Product{}
	var description, imageURL sql.NullString

	err := rows.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&description,
		&product.Price,
		&product.OriginalPrice,
		&imageURL,
		&product.CategoryID,
		&product.StockQuantity,
		&product.InStock,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	product.Description = description.String
	product.ImageURL = imageURL.String

	return product, nil
}
