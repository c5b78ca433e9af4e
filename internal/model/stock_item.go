package model

import "time"

// StockItem is a tracked inventory good with its reorder thresholds.
type StockItem struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Description     string     `json:"description"`
	CurrentStock    int        `json:"currentStock"`
	MinimumStock    int        `json:"minimumStock"`
	LastMinuteStock int        `json:"lastMinuteStock"`
	Unit            string     `json:"unit"`
	ExpiryDate      *time.Time `json:"expiryDate"`
	IsArchived      bool       `json:"isArchived"`
	HasImage        bool       `json:"hasImage"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// DefaultUnit is used when a stock item is created without a unit label.
const DefaultUnit = "units"

// StockItemPatch holds the fields of a partial stock item update.
// Nil fields are left unchanged.
type StockItemPatch struct {
	Name            *string    `json:"name"`
	Category        *string    `json:"category"`
	Description     *string    `json:"description"`
	CurrentStock    *int       `json:"currentStock"`
	MinimumStock    *int       `json:"minimumStock"`
	LastMinuteStock *int       `json:"lastMinuteStock"`
	Unit            *string    `json:"unit"`
	ExpiryDate      *time.Time `json:"expiryDate"`
	ClearExpiry     bool       `json:"clearExpiry"`
	IsArchived      *bool      `json:"isArchived"`
}

// Apply copies the set fields of p onto item.
func (p StockItemPatch) Apply(item *StockItem) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.CurrentStock != nil {
		item.CurrentStock = *p.CurrentStock
	}
	if p.MinimumStock != nil {
		item.MinimumStock = *p.MinimumStock
	}
	if p.LastMinuteStock != nil {
		item.LastMinuteStock = *p.LastMinuteStock
	}
	if p.Unit != nil {
		item.Unit = *p.Unit
	}
	if p.ClearExpiry {
		item.ExpiryDate = nil
	} else if p.ExpiryDate != nil {
		t := *p.ExpiryDate
		item.ExpiryDate = &t
	}
	if p.IsArchived != nil {
		item.IsArchived = *p.IsArchived
	}
}
