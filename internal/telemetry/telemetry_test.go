package telemetry

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/kquant-trader/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		severity TEXT NOT NULL,
		service TEXT NOT NULL,
		module TEXT NOT NULL,
		message TEXT NOT NULL,
		stack TEXT NOT NULL,
		type_tag TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		resolved_at DATETIME,
		resolution_note TEXT
	)`)
	require.NoError(t, err)
	return db
}

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) Notify(ctx context.Context, title, body, correlationID string) error {
	f.calls++
	return nil
}

func TestLedger_RecordPersistsRow(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db, nil, zerolog.Nop())

	row := ledger.Record(context.Background(), domain.SeverityError, "trading", "executor", "order rejected", "")
	assert.NotEmpty(t, row.CorrelationID)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM error_logs`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLedger_CriticalSeverityNotifies(t *testing.T) {
	db := openTestDB(t)
	notifier := &fakeNotifier{}
	ledger := New(db, notifier, zerolog.Nop())

	ledger.Record(context.Background(), domain.SeverityCritical, "trading", "executor", "database unreachable", "")
	assert.Equal(t, 1, notifier.calls)
}

func TestLedger_NonCriticalDoesNotNotify(t *testing.T) {
	db := openTestDB(t)
	notifier := &fakeNotifier{}
	ledger := New(db, notifier, zerolog.Nop())

	ledger.Record(context.Background(), domain.SeverityWarning, "trading", "executor", "slippage above threshold", "")
	assert.Equal(t, 0, notifier.calls)
}

func TestLedger_ResolveSetsResolvedAt(t *testing.T) {
	db := openTestDB(t)
	ledger := New(db, nil, zerolog.Nop())
	ledger.Record(context.Background(), domain.SeverityError, "trading", "executor", "oops", "")

	require.NoError(t, ledger.Resolve(context.Background(), 1, "retried successfully"))

	var resolvedAt sql.NullTime
	require.NoError(t, db.QueryRow(`SELECT resolved_at FROM error_logs WHERE id = 1`).Scan(&resolvedAt))
	assert.True(t, resolvedAt.Valid)
}
