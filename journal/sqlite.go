package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// RecordOrder appends an order result. The idempotency key is the primary
// key; re-recording the same key upserts, which keeps the row at the final
// state when a duplicate submission returns the cached result.
func (j *SQLite) RecordOrder(r OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(idempotency_key, origin, venue, symbol, side, kind, units, price,
		 status, venue_order_id, filled_price, filled_units, error_kind, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			status=excluded.status,
			venue_order_id=excluded.venue_order_id,
			filled_price=excluded.filled_price,
			filled_units=excluded.filled_units,
			error_kind=excluded.error_kind,
			reason=excluded.reason,
			time=excluded.time`,
		r.IdempotencyKey, r.Origin, r.Venue, r.Symbol, r.Side, r.Kind, r.Units, r.Price,
		r.Status, r.VenueOrderID, r.FilledPrice, r.FilledUnits, r.ErrorKind, r.Reason, r.Time,
	)
	return err
}

func (j *SQLite) RecordRejection(r RejectionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO rejections
		(idempotency_key, origin, symbol, reason, detail, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.IdempotencyKey, r.Origin, r.Symbol, r.Reason, r.Detail, r.Time,
	)
	return err
}

// ListAmbiguous returns the audit rows flagged for reconciliation.
func (j *SQLite) ListAmbiguous() ([]OrderRecord, error) {
	rows, err := j.db.Query(`
		SELECT idempotency_key, origin, venue, symbol, side, kind, units, price,
		       status, venue_order_id, filled_price, filled_units, error_kind, reason, time
		FROM orders WHERE status = 'AMBIGUOUS' ORDER BY time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.IdempotencyKey, &r.Origin, &r.Venue, &r.Symbol, &r.Side,
			&r.Kind, &r.Units, &r.Price, &r.Status, &r.VenueOrderID,
			&r.FilledPrice, &r.FilledUnits, &r.ErrorKind, &r.Reason, &r.Time); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
