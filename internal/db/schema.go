package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS stock_items (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    category          TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    current_stock     INTEGER NOT NULL DEFAULT 0 CHECK (typeof(current_stock) = 'integer'),
    minimum_stock     INTEGER NOT NULL DEFAULT 0 CHECK (minimum_stock >= 0),
    last_minute_stock INTEGER NOT NULL DEFAULT 0 CHECK (last_minute_stock >= 0),
    unit              TEXT NOT NULL DEFAULT 'units',
    expiry_date       DATETIME,
    is_archived       INTEGER NOT NULL DEFAULT 0,
    image             BLOB,
    image_mime        TEXT,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stock_items_created ON stock_items(created_at);

CREATE TABLE IF NOT EXISTS orders (
    id            TEXT PRIMARY KEY,
    customer_name TEXT NOT NULL,
    contact_info  TEXT,
    priority      TEXT NOT NULL DEFAULT 'MEDIUM' CHECK (priority IN ('LOW', 'MEDIUM', 'HIGH', 'URGENT')),
    status        TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED')),
    deadline      DATETIME,
    notes         TEXT,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

CREATE TABLE IF NOT EXISTS order_lines (
    id            TEXT PRIMARY KEY,
    order_id      TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    stock_item_id TEXT NOT NULL REFERENCES stock_items(id) ON DELETE RESTRICT,
    quantity      INTEGER NOT NULL CHECK (quantity > 0),
    position      INTEGER NOT NULL,
    UNIQUE (order_id, position)
);

CREATE INDEX IF NOT EXISTS idx_order_lines_stock_item ON order_lines(stock_item_id);

CREATE TABLE IF NOT EXISTS urgency_alerts (
    id            TEXT PRIMARY KEY,
    alert_type    TEXT NOT NULL CHECK (alert_type IN ('LOW_STOCK', 'CRITICAL_STOCK', 'EXPIRY_SOON')),
    message       TEXT NOT NULL,
    severity      TEXT NOT NULL CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
    is_resolved   INTEGER NOT NULL DEFAULT 0,
    resolved_at   DATETIME,
    stock_item_id TEXT NOT NULL REFERENCES stock_items(id) ON DELETE RESTRICT,
    created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_open
    ON urgency_alerts(stock_item_id, alert_type) WHERE is_resolved = 0;

CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'TODO' CHECK (status IN ('TODO', 'IN_PROGRESS', 'DONE')),
    order_id    TEXT REFERENCES orders(id) ON DELETE SET NULL,
    due_date    DATETIME,
    created_at  DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
