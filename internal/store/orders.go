package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/erazemk/zaloga/internal/model"
)

// StockPolicy decides whether an order may take an item below zero stock.
type StockPolicy string

// Stock policies.
const (
	StockPolicyReject        StockPolicy = "reject"
	StockPolicyAllowNegative StockPolicy = "allow-negative"
)

// MaxQuantity bounds a single order line and a single stock adjustment.
const MaxQuantity = math.MaxInt32

// ParseStockPolicy parses a policy name. The empty string selects reject.
func ParseStockPolicy(s string) (StockPolicy, error) {
	switch StockPolicy(s) {
	case "", StockPolicyReject:
		return StockPolicyReject, nil
	case StockPolicyAllowNegative:
		return StockPolicyAllowNegative, nil
	}
	return "", fmt.Errorf("unknown stock policy %q (want %q or %q)", s, StockPolicyReject, StockPolicyAllowNegative)
}

// PlaceOrder creates an order with its lines and decrements the stock of
// every referenced item, all in one transaction. Input is fully validated
// before the transaction starts. Failures after that point are returned as
// *TransactionAbortedError and leave the store untouched. If the order
// committed but the hydrated read fails, the unhydrated order is returned
// together with a *ReadBackError.
func PlaceOrder(ctx context.Context, db *sql.DB, req model.OrderRequest, policy StockPolicy) (*model.Order, error) {
	order, err := newOrder(req)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TransactionAbortedError{Stage: StageCreateOrder, Err: fmt.Errorf("beginning transaction: %w", err)}
	}
	defer tx.Rollback()

	if err := insertOrder(ctx, tx, order); err != nil {
		return nil, &TransactionAbortedError{Stage: StageCreateOrder, Err: err}
	}

	for _, line := range order.Items {
		if err := decrementStock(ctx, tx, line, policy); err != nil {
			return nil, &TransactionAbortedError{Stage: StageUpdateInventory, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &TransactionAbortedError{Stage: StageUpdateInventory, Err: fmt.Errorf("committing order: %w", err)}
	}

	placed, err := GetOrder(ctx, db, order.ID)
	if err == nil && placed == nil {
		err = fmt.Errorf("order missing after commit")
	}
	if err != nil {
		return order, &ReadBackError{OrderID: order.ID, Err: err}
	}
	return placed, nil
}

// newOrder validates a request and builds the order to insert.
func newOrder(req model.OrderRequest) (*model.Order, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, validationf("customerName", "required")
	}
	if len(req.Items) == 0 {
		return nil, validationf("items", "at least one line required")
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, validationf("priority", "invalid priority %q", req.Priority)
	}

	status := req.Status
	if status == "" {
		status = model.OrderStatusPending
	}
	if !status.Valid() {
		return nil, validationf("status", "invalid status %q", req.Status)
	}

	order := &model.Order{
		ID:           newID(),
		CustomerName: name,
		ContactInfo:  strings.TrimSpace(req.ContactInfo),
		Priority:     priority,
		Status:       status,
		Deadline:     model.ParseDeadline(req.Deadline),
		Notes:        req.Notes,
		CreatedAt:    now(),
	}
	order.UpdatedAt = order.CreatedAt

	for i, l := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if l.StockItemID == "" {
			return nil, validationf(field+".stockItemId", "required")
		}
		qty, err := l.Quantity.Int()
		if err != nil {
			return nil, validationf(field+".quantity", "invalid quantity for item %s", l.StockItemID)
		}
		if qty <= 0 {
			return nil, validationf(field+".quantity", "quantity for item %s must be positive", l.StockItemID)
		}
		if qty > MaxQuantity {
			return nil, validationf(field+".quantity", "quantity for item %s exceeds %d", l.StockItemID, MaxQuantity)
		}
		order.Items = append(order.Items, model.OrderLine{
			ID:          newID(),
			OrderID:     order.ID,
			StockItemID: l.StockItemID,
			Quantity:    qty,
		})
	}

	return order, nil
}

// insertOrder writes the order row and its lines, after checking that every
// referenced stock item exists and is not archived.
func insertOrder(ctx context.Context, tx *sql.Tx, order *model.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_name, contact_info, priority, status, deadline, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.CustomerName, nullString(order.ContactInfo), string(order.Priority), string(order.Status),
		nullTime(order.Deadline), nullString(order.Notes), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}

	for i, line := range order.Items {
		var archived bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_archived FROM stock_items WHERE id = ?`, line.StockItemID,
		).Scan(&archived)
		if err == sql.ErrNoRows {
			return &NotFoundError{Entity: "stock item", ID: line.StockItemID}
		}
		if err != nil {
			return fmt.Errorf("checking stock item: %w", err)
		}
		if archived {
			return &ConflictError{Message: fmt.Sprintf("stock item %s is archived", line.StockItemID)}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_lines (id, order_id, stock_item_id, quantity, position) VALUES (?, ?, ?, ?, ?)`,
			line.ID, order.ID, line.StockItemID, line.Quantity, i,
		)
		if err != nil {
			return fmt.Errorf("inserting order line: %w", err)
		}
	}
	return nil
}

// decrementStock takes one line's quantity off its stock item with a single
// conditional update.
func decrementStock(ctx context.Context, tx *sql.Tx, line model.OrderLine, policy StockPolicy) error {
	query := `UPDATE stock_items SET current_stock = current_stock - ?, updated_at = ?
	          WHERE id = ? AND is_archived = 0`
	args := []any{line.Quantity, now(), line.StockItemID}
	if policy != StockPolicyAllowNegative {
		query += ` AND current_stock >= ?`
		args = append(args, line.Quantity)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return &ConflictError{Message: fmt.Sprintf("stock of item %s out of range", line.StockItemID)}
		}
		return fmt.Errorf("decrementing stock of %s: %w", line.StockItemID, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT current_stock FROM stock_items WHERE id = ?`, line.StockItemID,
	).Scan(&available)
	if err == sql.ErrNoRows {
		return &NotFoundError{Entity: "stock item", ID: line.StockItemID}
	}
	if err != nil {
		return fmt.Errorf("checking available stock: %w", err)
	}
	return fmt.Errorf("%w for item %s: have %d, need %d", ErrInsufficientStock, line.StockItemID, available, line.Quantity)
}

const orderColumns = `id, customer_name, contact_info, priority, status, deadline, notes, created_at, updated_at`

// GetOrder returns an order with its lines and their stock items, or nil if
// it does not exist.
func GetOrder(ctx context.Context, db *sql.DB, id string) (*model.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	lines, err := listOrderLines(ctx, db, `WHERE l.order_id = ?`, id)
	if err != nil {
		return nil, err
	}
	order.Items = lines[order.ID]
	if order.Items == nil {
		order.Items = []model.OrderLine{}
	}
	return order, nil
}

// ListOrders returns all orders with their lines, newest first.
func ListOrders(ctx context.Context, db *sql.DB) ([]model.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	lines, err := listOrderLines(ctx, db, ``)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = lines[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []model.OrderLine{}
		}
	}
	return orders, nil
}

// UpdateOrderStatus sets an order's status. With strict set, only the
// transitions allowed by model.CanTransition are accepted.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, id string, status model.OrderStatus, strict bool) (*model.Order, error) {
	if !status.Valid() {
		return nil, validationf("status", "invalid status %q", status)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current model.OrderStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting order status: %w", err)
	}

	if strict && !model.CanTransition(current, status) {
		return nil, &ConflictError{Message: fmt.Sprintf("cannot change order status from %s to %s", current, status)}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, string(status), now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing order status: %w", err)
	}
	return GetOrder(ctx, db, id)
}

// listOrderLines loads order lines joined with their stock items, grouped by
// order id and kept in insertion order.
func listOrderLines(ctx context.Context, db *sql.DB, where string, args ...any) (map[string][]model.OrderLine, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT l.id, l.order_id, l.stock_item_id, l.quantity, `+prefixedStockItemColumns("s")+`
		 FROM order_lines l
		 JOIN stock_items s ON s.id = l.stock_item_id
		 `+where+`
		 ORDER BY l.order_id, l.position`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[string][]model.OrderLine)
	for rows.Next() {
		var line model.OrderLine
		item := &model.StockItem{}
		dest := append([]any{&line.ID, &line.OrderID, &line.StockItemID, &line.Quantity}, stockItemDest(item)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning order line: %w", err)
		}
		line.StockItem = item
		lines[line.OrderID] = append(lines[line.OrderID], line)
	}
	return lines, rows.Err()
}

func scanOrder(s rowScanner) (*model.Order, error) {
	o := &model.Order{}
	var contact, notes sql.NullString
	err := s.Scan(&o.ID, &o.CustomerName, &contact, &o.Priority, &o.Status, &o.Deadline, &notes,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.ContactInfo = contact.String
	o.Notes = notes.String
	return o, nil
}
