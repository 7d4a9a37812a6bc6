// Package storage provides order persistence using SQLite.
package storage

// Schema definitions for the order record store
const (
	// SchemaV1 is the initial database schema: the order table keyed by the
	// (order_id, product_code, imei) identity triple, plus daily outcome
	// counters and the unknown-product-code registry.
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	document_type TEXT NOT NULL DEFAULT '',
	document_number TEXT NOT NULL DEFAULT '',
	department_code TEXT NOT NULL DEFAULT '',
	order_date TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	phone_number TEXT NOT NULL DEFAULT '',
	province TEXT NOT NULL DEFAULT '',
	district TEXT NOT NULL DEFAULT '',
	ward TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	product_code TEXT NOT NULL,
	product_name TEXT NOT NULL DEFAULT '',
	imei TEXT NOT NULL DEFAULT '',
	quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	revenue TEXT NOT NULL DEFAULT '0',
	source_type TEXT NOT NULL DEFAULT 'online'
		CHECK (source_type IN ('online', 'offline')),
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'needs_retry', 'running', 'completed', 'failed')),
	error_code TEXT NOT NULL DEFAULT '',
	first_failure_time INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (order_id, product_code, imei)
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_orders_first_failure ON orders(first_failure_time);
CREATE INDEX IF NOT EXISTS idx_orders_product_code ON orders(product_code);

CREATE TABLE IF NOT EXISTS daily_task_stats (
	stat_date TEXT PRIMARY KEY,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS non_existing_codes (
	product_code TEXT NOT NULL,
	order_id TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	email_sent INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (product_code, order_id)
);

CREATE INDEX IF NOT EXISTS idx_nec_email_sent ON non_existing_codes(email_sent);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
)

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
}
