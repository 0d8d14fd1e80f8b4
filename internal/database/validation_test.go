package database

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestDBForValidation(t *testing.T) *sql.DB {
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = conn.Exec(schema)
	require.NoError(t, err)

	return conn
}

func insertStock(t *testing.T, db *sql.DB, code string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO stocks (code, name, sector, market) VALUES (?, ?, 'Tech', 'KOSPI')`, code, code)
	require.NoError(t, err)
}

func TestValidateStockCodes_AllValid(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "005930")
	insertStock(t, db, "000660K")

	validator := NewReferentialValidator(db)
	malformed, err := validator.ValidateStockCodes()
	require.NoError(t, err)
	assert.Empty(t, malformed)
}

func TestValidateStockCodes_FlagsMalformed(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "005930")
	insertStock(t, db, "NOT-A-CODE")

	validator := NewReferentialValidator(db)
	malformed, err := validator.ValidateStockCodes()
	require.NoError(t, err)
	assert.Equal(t, []string{"NOT-A-CODE"}, malformed)
}

func TestValidateForeignKeys_AllValid(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "005930")

	_, err := db.Exec(`INSERT INTO watchlist_stocks (code, added_at) VALUES ('005930', '2026-08-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO trades (code, side, requested_price, filled_price, quantity, entry_time) VALUES ('005930', 'buy', 100, 100, 10, '2026-08-01T00:00:00Z')`)
	require.NoError(t, err)

	validator := NewReferentialValidator(db)
	orphans, err := validator.ValidateForeignKeys()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestValidateForeignKeys_OrphanedReferences(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "005930")

	// trades referencing a stock code that was never inserted (foreign_keys
	// pragma off by default on this raw sql.Open connection, so this insert
	// succeeds and the validator must catch it)
	_, err := db.Exec(`INSERT INTO trades (code, side, requested_price, filled_price, quantity, entry_time) VALUES ('999999', 'buy', 100, 100, 10, '2026-08-01T00:00:00Z')`)
	require.NoError(t, err)

	validator := NewReferentialValidator(db)
	orphans, err := validator.ValidateForeignKeys()
	require.NoError(t, err)
	assert.Contains(t, orphans, "trades:999999")
}

func TestValidateAll_Comprehensive(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "005930")
	insertStock(t, db, "000660")

	validator := NewReferentialValidator(db)
	result, err := validator.ValidateAll()
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.MalformedCodes)
	assert.Empty(t, result.OrphanedReferences)
}

func TestValidateAll_FailsOnMalformedCode(t *testing.T) {
	db := setupTestDBForValidation(t)
	defer db.Close()

	insertStock(t, db, "BAD")

	validator := NewReferentialValidator(db)
	result, err := validator.ValidateAll()
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.MalformedCodes)
}

func TestFormatErrors_ValidResult(t *testing.T) {
	result := &ValidationResult{IsValid: true}
	assert.Equal(t, "All validations passed", result.FormatErrors())
}
