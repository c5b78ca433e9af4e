package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/zaloga/internal/model"
)

var stockItemColumnNames = []string{
	"id", "name", "category", "description", "current_stock", "minimum_stock",
	"last_minute_stock", "unit", "expiry_date", "is_archived", "image IS NOT NULL",
	"created_at", "updated_at",
}

var stockItemColumns = strings.Join(stockItemColumnNames, ", ")

// prefixedStockItemColumns qualifies the stock item columns with a table alias.
func prefixedStockItemColumns(alias string) string {
	cols := make([]string, len(stockItemColumnNames))
	for i, c := range stockItemColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// StockItemFilter narrows ListStockItems. Zero values match everything.
type StockItemFilter struct {
	Category string
	Archived *bool
}

// CreateStockItem validates and inserts a new stock item.
func CreateStockItem(ctx context.Context, db *sql.DB, item model.StockItem) (*model.StockItem, error) {
	if item.Unit == "" {
		item.Unit = model.DefaultUnit
	}
	if item.CurrentStock < 0 {
		return nil, validationf("currentStock", "must not be negative")
	}
	if err := validateStockItem(&item); err != nil {
		return nil, err
	}

	item.ID = newID()
	item.CreatedAt = now()
	item.UpdatedAt = item.CreatedAt

	_, err := db.ExecContext(ctx,
		`INSERT INTO stock_items (id, name, category, description, current_stock, minimum_stock,
		                          last_minute_stock, unit, expiry_date, is_archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Category, item.Description, item.CurrentStock, item.MinimumStock,
		item.LastMinuteStock, item.Unit, nullTime(item.ExpiryDate), item.IsArchived, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating stock item: %w", err)
	}

	return GetStockItem(ctx, db, item.ID)
}

// GetStockItem returns a stock item by ID, or nil if it does not exist.
func GetStockItem(ctx context.Context, db *sql.DB, id string) (*model.StockItem, error) {
	return getStockItem(ctx, db, id)
}

func getStockItem(ctx context.Context, q queryer, id string) (*model.StockItem, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+stockItemColumns+` FROM stock_items WHERE id = ?`, id,
	)
	item, err := scanStockItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock item: %w", err)
	}
	return item, nil
}

// ListStockItems returns stock items, newest first.
func ListStockItems(ctx context.Context, db *sql.DB, filter StockItemFilter) ([]model.StockItem, error) {
	query := `SELECT ` + stockItemColumns + ` FROM stock_items WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Archived != nil {
		query += ` AND is_archived = ?`
		args = append(args, *filter.Archived)
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stock items: %w", err)
	}
	defer rows.Close()

	var items []model.StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stock item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateStockItem applies a partial update and returns the updated item.
func UpdateStockItem(ctx context.Context, db *sql.DB, id string, patch model.StockItemPatch) (*model.StockItem, error) {
	if patch.CurrentStock != nil && *patch.CurrentStock < 0 {
		return nil, validationf("currentStock", "must not be negative")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	item, err := getStockItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &NotFoundError{Entity: "stock item", ID: id}
	}

	patch.Apply(item)
	if err := validateStockItem(item); err != nil {
		return nil, err
	}
	item.UpdatedAt = now()

	_, err = tx.ExecContext(ctx,
		`UPDATE stock_items
		 SET name = ?, category = ?, description = ?, current_stock = ?, minimum_stock = ?,
		     last_minute_stock = ?, unit = ?, expiry_date = ?, is_archived = ?, updated_at = ?
		 WHERE id = ?`,
		item.Name, item.Category, item.Description, item.CurrentStock, item.MinimumStock,
		item.LastMinuteStock, item.Unit, nullTime(item.ExpiryDate), item.IsArchived, item.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating stock item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stock item update: %w", err)
	}
	return GetStockItem(ctx, db, id)
}

// DeleteStockItem removes a stock item. Items referenced by an order line or
// an alert cannot be deleted; archive them instead.
func DeleteStockItem(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lines, alerts int
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM order_lines WHERE stock_item_id = ?),
		        (SELECT COUNT(*) FROM urgency_alerts WHERE stock_item_id = ?)`, id, id,
	).Scan(&lines, &alerts)
	if err != nil {
		return fmt.Errorf("checking stock item references: %w", err)
	}
	if lines > 0 {
		return &ConflictError{Message: fmt.Sprintf("cannot delete stock item: referenced by %d order lines", lines)}
	}
	if alerts > 0 {
		return &ConflictError{Message: fmt.Sprintf("cannot delete stock item: referenced by %d alerts", alerts)}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting stock item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "stock item", ID: id}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing stock item deletion: %w", err)
	}
	return nil
}

// SetStockItemImage stores a stock item's photo.
func SetStockItemImage(ctx context.Context, db *sql.DB, id string, image []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE stock_items SET image = ?, image_mime = ?, updated_at = ? WHERE id = ?`,
		image, mime, now(), id,
	)
	if err != nil {
		return fmt.Errorf("setting stock item image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "stock item", ID: id}
	}
	return nil
}

// GetStockItemImage returns a stock item's photo and its MIME type.
// It returns nil data if the item or the photo does not exist.
func GetStockItemImage(ctx context.Context, db *sql.DB, id string) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM stock_items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting stock item image: %w", err)
	}
	return image, mime.String, nil
}

// ListCategories returns the distinct non-empty categories in use.
func ListCategories(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT category FROM stock_items WHERE category <> '' ORDER BY category`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// validateStockItem checks the name and the threshold invariants.
func validateStockItem(item *model.StockItem) error {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return validationf("name", "required")
	}
	if item.MinimumStock < 0 {
		return validationf("minimumStock", "must not be negative")
	}
	if item.LastMinuteStock < 0 {
		return validationf("lastMinuteStock", "must not be negative")
	}
	if item.LastMinuteStock > item.MinimumStock {
		return validationf("lastMinuteStock", "must not exceed minimumStock (%d)", item.MinimumStock)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// stockItemDest returns scan targets matching stockItemColumnNames.
func stockItemDest(item *model.StockItem) []any {
	return []any{&item.ID, &item.Name, &item.Category, &item.Description, &item.CurrentStock,
		&item.MinimumStock, &item.LastMinuteStock, &item.Unit, &item.ExpiryDate, &item.IsArchived,
		&item.HasImage, &item.CreatedAt, &item.UpdatedAt}
}

func scanStockItem(s rowScanner) (*model.StockItem, error) {
	item := &model.StockItem{}
	if err := s.Scan(stockItemDest(item)...); err != nil {
		return nil, err
	}
	return item, nil
}
