// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	idempotency_key TEXT PRIMARY KEY,
	origin TEXT NOT NULL,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	kind TEXT NOT NULL,
	units REAL NOT NULL,
	price REAL NOT NULL,
	status TEXT NOT NULL,
	venue_order_id TEXT NOT NULL DEFAULT '',
	filled_price REAL NOT NULL DEFAULT 0,
	filled_units REAL NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rejections (
	idempotency_key TEXT NOT NULL,
	origin TEXT NOT NULL,
	symbol TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_rejections_time ON rejections(time);
`
