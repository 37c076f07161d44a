package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	j, err := NewSQLite(path)
	assert.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('orders','rejections')`)
	assert.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["orders"])
	assert.True(t, found["rejections"])
}

func TestRecordOrderUpsertsOnSameKey(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	rec := OrderRecord{
		IdempotencyKey: "01TESTKEY",
		Origin:         "grid-1",
		Venue:          "okx",
		Symbol:         "BTC_USD",
		Side:           "BUY",
		Kind:           "LIMIT",
		Units:          0.01,
		Price:          50_000,
		Status:         "AMBIGUOUS",
		Time:           time.Now().UTC(),
	}
	assert.NoError(t, j.RecordOrder(rec))

	amb, err := j.ListAmbiguous()
	assert.NoError(t, err)
	assert.Len(t, amb, 1)
	assert.Equal(t, "01TESTKEY", amb[0].IdempotencyKey)

	// Reconciled: same key recorded again with a terminal status.
	rec.Status = "FILLED"
	rec.VenueOrderID = "V-100"
	rec.FilledPrice = 50_000
	rec.FilledUnits = 0.01
	assert.NoError(t, j.RecordOrder(rec))

	amb, err = j.ListAmbiguous()
	assert.NoError(t, err)
	assert.Empty(t, amb)
}

func TestRecordRejection(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	assert.NoError(t, j.RecordRejection(RejectionRecord{
		IdempotencyKey: "01REJECTED",
		Origin:         "martingale-1",
		Symbol:         "EUR_USD",
		Reason:         "POSITION_LIMIT_EXCEEDED",
		Detail:         "resulting position 1.3 exceeds per-symbol limit 1",
		Time:           time.Now().UTC(),
	}))
}
