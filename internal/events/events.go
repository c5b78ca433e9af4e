// Package events carries stock level changes from the writers of the store
// to whatever reacts to them, either in-process or over Kafka.
package events

import (
	"context"
	"time"
)

// Reasons a stock level changed.
const (
	ReasonOrderPlaced   = "order_placed"
	ReasonItemCreated   = "item_created"
	ReasonItemUpdated   = "item_updated"
	ReasonStockAdjusted = "stock_adjusted"
)

// StockChanged is emitted after a committed write that touched an item's
// stock level or thresholds.
type StockChanged struct {
	StockItemID  string    `json:"stockItemId"`
	CurrentStock int       `json:"currentStock"`
	Reason       string    `json:"reason"`
	OrderID      string    `json:"orderId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Handler reacts to stock changes.
type Handler interface {
	HandleStockChanged(ctx context.Context, ev StockChanged) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev StockChanged) error

func (f HandlerFunc) HandleStockChanged(ctx context.Context, ev StockChanged) error {
	return f(ctx, ev)
}

// Publisher delivers stock changes.
type Publisher interface {
	Publish(ctx context.Context, evs ...StockChanged) error
	Close() error
}

// Direct hands events to a Handler synchronously.
type Direct struct {
	Handler Handler
}

// NewDirect returns a publisher that calls h for every event.
func NewDirect(h Handler) *Direct {
	return &Direct{Handler: h}
}

// Publish calls the handler for each event in order and returns the first
// error. Later events are still delivered after a failure.
func (d *Direct) Publish(ctx context.Context, evs ...StockChanged) error {
	var first error
	for _, ev := range evs {
		if err := d.Handler.HandleStockChanged(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *Direct) Close() error { return nil }

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ...StockChanged) error { return nil }
func (Discard) Close() error { return nil }
