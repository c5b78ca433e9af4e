// Package urgency classifies stock items by stock level and by time to expiry.
// Every consumer that shows or persists a severity uses these functions.
package urgency

import (
	"math"
	"sort"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// Level is the stock level classification of an item.
type Level string

// Stock levels.
const (
	LevelNormal   Level = "NORMAL"
	LevelLow      Level = "LOW"
	LevelCritical Level = "CRITICAL"
)

// Band is the expiry urgency of an item.
type Band string

// Expiry bands, least urgent first.
const (
	BandLow      Band = "LOW"
	BandMedium   Band = "MEDIUM"
	BandHigh     Band = "HIGH"
	BandCritical Band = "CRITICAL"
)

// Expiry band upper bounds in days, inclusive.
const (
	CriticalDays = 2
	HighDays     = 7
	MediumDays   = 14
)

// DefaultExpiryWindow is how far ahead the expiring items list looks.
const DefaultExpiryWindow = 30

// Classify maps stock counts to a level. The critical check runs first, so
// when critical == minimum the boundary value is Critical.
func Classify(current, minimum, critical int) Level {
	switch {
	case current <= critical:
		return LevelCritical
	case current <= minimum:
		return LevelLow
	default:
		return LevelNormal
	}
}

// ClassifyItem classifies a stock item by its own thresholds.
func ClassifyItem(item model.StockItem) Level {
	return Classify(item.CurrentStock, item.MinimumStock, item.LastMinuteStock)
}

// DaysUntil returns the whole days from now until t, rounded up.
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// ClassifyExpiry maps an expiry date to a band. Past dates are Critical.
func ClassifyExpiry(expiry, now time.Time) Band {
	return bandForDays(DaysUntil(expiry, now))
}

func bandForDays(days int) Band {
	switch {
	case days <= CriticalDays:
		return BandCritical
	case days <= HighDays:
		return BandHigh
	case days <= MediumDays:
		return BandMedium
	default:
		return BandLow
	}
}

// StockLevel pairs a stock item with its classification.
type StockLevel struct {
	Item  model.StockItem `json:"item"`
	Level Level           `json:"level"`
}

// StockLevels classifies every item, preserving order.
func StockLevels(items []model.StockItem) []StockLevel {
	levels := make([]StockLevel, 0, len(items))
	for _, item := range items {
		levels = append(levels, StockLevel{Item: item, Level: ClassifyItem(item)})
	}
	return levels
}

// ExpiringItem is a stock item with its time to expiry.
type ExpiringItem struct {
	Item     model.StockItem `json:"item"`
	DaysLeft int             `json:"daysLeft"`
	Band     Band            `json:"band"`
}

// ExpiringItems returns the items expiring within window days, soonest first.
// Items without an expiry date are not included.
func ExpiringItems(items []model.StockItem, now time.Time, window int) []ExpiringItem {
	expiring := []ExpiringItem{}
	for _, item := range items {
		if item.ExpiryDate == nil {
			continue
		}
		days := DaysUntil(*item.ExpiryDate, now)
		if days > window {
			continue
		}
		expiring = append(expiring, ExpiringItem{Item: item, DaysLeft: days, Band: bandForDays(days)})
	}
	sort.SliceStable(expiring, func(i, j int) bool {
		return expiring[i].DaysLeft < expiring[j].DaysLeft
	})
	return expiring
}
