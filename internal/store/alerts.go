package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/zaloga/internal/model"
)

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Resolved    *bool
	StockItemID string
}

// OpenAlert records an unresolved alert for a stock item unless one of the
// same type is already open. It reports whether a new alert was created.
func OpenAlert(ctx context.Context, db *sql.DB, stockItemID string, alertType model.AlertType, severity model.Severity, message string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var open int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM urgency_alerts
		 WHERE stock_item_id = ? AND alert_type = ? AND is_resolved = 0`,
		stockItemID, string(alertType),
	).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("checking open alerts: %w", err)
	}
	if open > 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO urgency_alerts (id, alert_type, message, severity, stock_item_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), string(alertType), message, string(severity), stockItemID, now(),
	)
	if err != nil {
		return false, fmt.Errorf("creating alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing alert: %w", err)
	}
	return true, nil
}

const alertSelect = `SELECT a.id, a.alert_type, a.message, a.severity, a.is_resolved, a.resolved_at,
	a.stock_item_id, a.created_at, `

// GetAlert returns an alert with its stock item, or nil if it does not exist.
func GetAlert(ctx context.Context, db *sql.DB, id string) (*model.UrgencyAlert, error) {
	row := db.QueryRowContext(ctx,
		alertSelect+prefixedStockItemColumns("s")+`
		 FROM urgency_alerts a
		 JOIN stock_items s ON s.id = a.stock_item_id
		 WHERE a.id = ?`, id,
	)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts with their stock items, newest first.
func ListAlerts(ctx context.Context, db *sql.DB, filter AlertFilter) ([]model.UrgencyAlert, error) {
	query := alertSelect + prefixedStockItemColumns("s") + `
	          FROM urgency_alerts a
	          JOIN stock_items s ON s.id = a.stock_item_id
	          WHERE 1=1`
	var args []any

	if filter.Resolved != nil {
		query += ` AND a.is_resolved = ?`
		args = append(args, *filter.Resolved)
	}
	if filter.StockItemID != "" {
		query += ` AND a.stock_item_id = ?`
		args = append(args, filter.StockItemID)
	}

	query += ` ORDER BY a.created_at DESC, a.rowid DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.UrgencyAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks an alert resolved. Resolving twice keeps the first
// resolution time.
func ResolveAlert(ctx context.Context, db *sql.DB, id string) (*model.UrgencyAlert, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE urgency_alerts SET is_resolved = 1, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
		now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, &NotFoundError{Entity: "alert", ID: id}
	}
	return GetAlert(ctx, db, id)
}

func scanAlert(s rowScanner) (*model.UrgencyAlert, error) {
	a := &model.UrgencyAlert{}
	item := &model.StockItem{}
	dest := append([]any{&a.ID, &a.AlertType, &a.Message, &a.Severity, &a.IsResolved, &a.ResolvedAt,
		&a.StockItemID, &a.CreatedAt}, stockItemDest(item)...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	a.StockItem = item
	return a, nil
}
