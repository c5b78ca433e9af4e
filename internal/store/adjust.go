package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/zaloga/internal/model"
)

// AdjustStock changes an item's stock by delta, for deliveries (positive)
// and for losses or count corrections (negative). A negative delta may not
// take the stock below zero. A positive delta always applies, so a delivery
// can be booked against stock that orders took negative.
func AdjustStock(ctx context.Context, db *sql.DB, id string, delta int) (*model.StockItem, error) {
	if delta == 0 {
		return nil, validationf("delta", "must be non-zero")
	}
	if delta > MaxQuantity || delta < -MaxQuantity {
		return nil, validationf("delta", "must be within ±%d", MaxQuantity)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	var archived bool
	err = tx.QueryRowContext(ctx,
		`SELECT current_stock, is_archived FROM stock_items WHERE id = ?`, id,
	).Scan(&current, &archived)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "stock item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("checking current stock: %w", err)
	}
	if archived {
		return nil, &ConflictError{Message: fmt.Sprintf("stock item %s is archived", id)}
	}

	next := current + delta
	if delta > 0 && next < current {
		return nil, &ConflictError{Message: fmt.Sprintf("adjustment would overflow stock: %d + %d", current, delta)}
	}
	if delta < 0 && next < 0 {
		return nil, &ConflictError{Message: fmt.Sprintf("adjustment would result in negative stock: %d + %d = %d", current, delta, next)}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE stock_items SET current_stock = ?, updated_at = ? WHERE id = ?`, next, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("adjusting stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing adjustment: %w", err)
	}
	return GetStockItem(ctx, db, id)
}
