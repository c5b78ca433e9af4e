package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority of an order.
type Priority string

// Order priorities.
const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

// Order statuses.
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// orderTransitions is the progression enforced in strict mode.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusInProgress: {OrderStatusCompleted, OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another
// under the strict lifecycle. Re-setting the current status is always allowed.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a customer request for quantities of stock items.
type Order struct {
	ID           string      `json:"id"`
	CustomerName string      `json:"customerName"`
	ContactInfo  string      `json:"contactInfo"`
	Priority     Priority    `json:"priority"`
	Status       OrderStatus `json:"status"`
	Deadline     *time.Time  `json:"deadline"`
	Notes        string      `json:"notes"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Items        []OrderLine `json:"items"`
}

// OrderLine is one (stock item, quantity) pair of an order.
type OrderLine struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"orderId"`
	StockItemID string     `json:"stockItemId"`
	Quantity    int        `json:"quantity"`
	StockItem   *StockItem `json:"stockItem,omitempty"`
}

// OrderRequest is the input of order placement, as received from clients.
type OrderRequest struct {
	CustomerName string        `json:"customerName"`
	ContactInfo  string        `json:"contactInfo"`
	Priority     Priority      `json:"priority"`
	Status       OrderStatus   `json:"status"`
	Deadline     string        `json:"deadline"`
	Notes        string        `json:"notes"`
	Items        []LineRequest `json:"items"`
}

// LineRequest is one requested order line.
type LineRequest struct {
	StockItemID string   `json:"stockItemId"`
	Quantity    Quantity `json:"quantity"`
}

// Quantity is a line quantity as sent by clients: either a JSON number or a
// JSON string holding an integer. It is kept raw until Int is called.
type Quantity string

// UnmarshalJSON accepts numbers and strings without interpreting them.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	*q = Quantity(b)
	return nil
}

// Int parses the quantity as a base-10 integer.
func (q Quantity) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(q)))
	if err != nil {
		return 0, fmt.Errorf("quantity %q is not an integer", string(q))
	}
	return n, nil
}

// deadlineLayouts are the accepted deadline formats, tried in order.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDeadline parses a client supplied deadline. Unparseable or empty input
// yields nil: a bad deadline never fails an order.
func ParseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
