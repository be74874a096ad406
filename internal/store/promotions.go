package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/models"
	"github.com/lib/pq"
)

func CreatePromotion(ctx context.Context, db *sql.DB, promo models.Promotion) (*models.Promotion, error) {
	created := promo

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		query := `
			INSERT INTO promotions (name, description, discount_type, discount_value, starts_at, ends_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`

		err := tx.QueryRowContext(ctx, query,
			promo.Name, promo.Description, promo.DiscountType, promo.DiscountValue,
			promo.StartsAt, promo.EndsAt, promo.IsActive).Scan(&created.ID)
		if err != nil {
			return fmt.Errorf("insert promotion: %w", err)
		}

		for _, productID := range promo.ProductIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO promotion_products (promotion_id, product_id) VALUES ($1, $2)`,
				created.ID, productID)
			if err != nil {
				return fmt.Errorf("insert promotion product: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func GetPromotion(ctx context.Context, db *sql.DB, id int64) (*models.Promotion, error) {
	promos, err := queryPromotions(ctx, db, `WHERE p.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(promos) == 0 {
		return nil, database.ErrPromotionNotFound
	}

	return &promos[0], nil
}

// GetActivePromotions returns every promotion whose window covers now,
// eligible product sets included. Loaded once per order creation.
func GetActivePromotions(ctx context.Context, q DBTX, now time.Time) ([]models.Promotion, error) {
	return queryPromotions(ctx, q, `WHERE p.is_active AND p.starts_at <= $1 AND p.ends_at >= $1`, now)
}

func queryPromotions(ctx context.Context, q DBTX, where string, args ...any) ([]models.Promotion, error) {
	query := `
		SELECT p.id, p.name, p.description, p.discount_type, p.discount_value,
		       p.starts_at, p.ends_at, p.is_active,
		       COALESCE(array_agg(pp.product_id) FILTER (WHERE pp.product_id IS NOT NULL), '{}')
		FROM promotions p
		LEFT JOIN promotion_products pp ON pp.promotion_id = p.id
		` + where + `
		GROUP BY p.id
		ORDER BY p.id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query promotions: %w", err)
	}
	defer rows.Close()

	var promos []models.Promotion
	for rows.Next() {
		var promo models.Promotion
		var description sql.NullString
		var productIDs pq.Int64Array

		err := rows.Scan(
			&promo.ID,
			&promo.Name,
			&description,
			&promo.DiscountType,
			&promo.DiscountValue,
			&promo.StartsAt,
			&promo.EndsAt,
			&promo.IsActive,
			&productIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}

		promo.Description = description.String
		promo.ProductIDs = productIDs
		promos = append(promos, promo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return promos, nil
}
