package model

import "time"

// AlertType is the condition an urgency alert reports.
type AlertType string

// Alert types.
const (
	AlertLowStock      AlertType = "LOW_STOCK"
	AlertCriticalStock AlertType = "CRITICAL_STOCK"
	AlertExpirySoon    AlertType = "EXPIRY_SOON"
)

// Severity of an urgency alert.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// UrgencyAlert is a persisted record of a stock or expiry condition.
type UrgencyAlert struct {
	ID          string     `json:"id"`
	AlertType   AlertType  `json:"alertType"`
	Message     string     `json:"message"`
	Severity    Severity   `json:"severity"`
	IsResolved  bool       `json:"isResolved"`
	ResolvedAt  *time.Time `json:"resolvedAt"`
	StockItemID string     `json:"stockItemId"`
	StockItem   *StockItem `json:"stockItem,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
