// Package alerting turns stock changes into persisted urgency alerts.
package alerting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/urgency"
)

// Generator opens alerts for items whose stock or expiry needs attention.
// It implements events.Handler.
type Generator struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Now is used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

var _ events.Handler = (*Generator)(nil)

// NewGenerator returns a generator writing alerts to db.
func NewGenerator(db *sql.DB, logger *slog.Logger) *Generator {
	return &Generator{DB: db, Logger: logger, Now: time.Now}
}

// HandleStockChanged reloads the item and opens an alert for every active
// condition that has no unresolved alert yet.
func (g *Generator) HandleStockChanged(ctx context.Context, ev events.StockChanged) error {
	item, err := store.GetStockItem(ctx, g.DB, ev.StockItemID)
	if err != nil {
		return err
	}
	if item == nil || item.IsArchived {
		return nil
	}
	return g.Check(ctx, *item)
}

// Check evaluates a single item.
func (g *Generator) Check(ctx context.Context, item model.StockItem) error {
	switch urgency.ClassifyItem(item) {
	case urgency.LevelCritical:
		msg := fmt.Sprintf("%s is critically low: %d %s left (critical at %d)",
			item.Name, item.CurrentStock, item.Unit, item.LastMinuteStock)
		if err := g.open(ctx, item, model.AlertCriticalStock, model.SeverityCritical, msg); err != nil {
			return err
		}
	case urgency.LevelLow:
		msg := fmt.Sprintf("%s is running low: %d %s left (minimum %d)",
			item.Name, item.CurrentStock, item.Unit, item.MinimumStock)
		if err := g.open(ctx, item, model.AlertLowStock, model.SeverityMedium, msg); err != nil {
			return err
		}
	}

	if item.ExpiryDate != nil {
		now := g.now()
		days := urgency.DaysUntil(*item.ExpiryDate, now)
		if days <= urgency.MediumDays {
			band := urgency.ClassifyExpiry(*item.ExpiryDate, now)
			msg := fmt.Sprintf("%s expires in %d days", item.Name, days)
			if days <= 0 {
				msg = fmt.Sprintf("%s has expired", item.Name)
			}
			if err := g.open(ctx, item, model.AlertExpirySoon, model.Severity(band), msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sweep checks every active item. It catches expiry alerts, which no stock
// write triggers on its own.
func (g *Generator) Sweep(ctx context.Context) error {
	active := false
	items, err := store.ListStockItems(ctx, g.DB, store.StockItemFilter{Archived: &active})
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := g.Check(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := g.Sweep(ctx); err != nil && ctx.Err() == nil {
			g.Logger.Error("alert sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Generator) open(ctx context.Context, item model.StockItem, t model.AlertType, sev model.Severity, msg string) error {
	created, err := store.OpenAlert(ctx, g.DB, item.ID, t, sev, msg)
	if err != nil {
		return fmt.Errorf("opening %s alert for %s: %w", t, item.ID, err)
	}
	if created {
		g.Logger.Info("alert opened", "type", t, "severity", sev, "stock_item_id", item.ID)
	}
	return nil
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}
