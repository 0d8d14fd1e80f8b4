package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/aristath/kquant-trader/internal/domain"
)

// ReferentialValidator checks the single-database schema's code-keyed
// references. SQLite only enforces its declared REFERENCES clauses when
// PRAGMA foreign_keys is on for the connection that issued the write, so
// this is the defense-in-depth check run at startup and after any bulk
// watchlist/universe import.
type ReferentialValidator struct {
	db *sql.DB
}

// ValidationResult is the outcome of a full validation pass.
type ValidationResult struct {
	IsValid            bool
	MalformedCodes     []string // stocks.code values that fail the six-digit format
	OrphanedReferences []string // "table:code" pairs referencing a missing stock
}

// NewReferentialValidator constructs a ReferentialValidator over db.
func NewReferentialValidator(db *sql.DB) *ReferentialValidator {
	return &ReferentialValidator{db: db}
}

// ValidateStockCodes reports stocks.code values that do not match the
// six-digit KRX code format (optionally K/P/SPAC-suffixed).
func (v *ReferentialValidator) ValidateStockCodes() ([]string, error) {
	rows, err := v.db.Query("SELECT code FROM stocks")
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var malformed []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		if !domain.IsValidStockCode(code) {
			malformed = append(malformed, code)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}

	return malformed, nil
}

// referencingTables are the tables whose code column must resolve to a row
// in stocks. positions is included since it is the materialized cache
// backing Store's Recorder implementation, not a distinct domain entity.
var referencingTables = []string{"watchlist_stocks", "daily_selections", "trades", "positions"}

// ValidateForeignKeys reports every row in a referencing table whose code
// does not exist in stocks, formatted as "table:code".
func (v *ReferentialValidator) ValidateForeignKeys() ([]string, error) {
	var orphans []string

	for _, table := range referencingTables {
		query := fmt.Sprintf(`
			SELECT t.code FROM %s t
			LEFT JOIN stocks s ON t.code = s.code
			WHERE s.code IS NULL
		`, table)

		rows, err := v.db.Query(query)
		if err != nil {
			return nil, fmt.Errorf("failed to query orphaned %s rows: %w", table, err)
		}

		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan orphaned %s code: %w", table, err)
			}
			orphans = append(orphans, fmt.Sprintf("%s:%s", table, code))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating orphaned %s rows: %w", table, err)
		}
		rows.Close()
	}

	return orphans, nil
}

// ValidateAll runs every check and returns a comprehensive result.
func (v *ReferentialValidator) ValidateAll() (*ValidationResult, error) {
	result := &ValidationResult{IsValid: true, MalformedCodes: []string{}, OrphanedReferences: []string{}}

	malformed, err := v.ValidateStockCodes()
	if err != nil {
		return nil, fmt.Errorf("failed to validate stock codes: %w", err)
	}
	result.MalformedCodes = malformed
	if len(malformed) > 0 {
		result.IsValid = false
	}

	orphans, err := v.ValidateForeignKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to validate foreign keys: %w", err)
	}
	result.OrphanedReferences = orphans
	if len(orphans) > 0 {
		result.IsValid = false
	}

	return result, nil
}

// FormatErrors renders a ValidationResult as a human-readable summary.
func (r *ValidationResult) FormatErrors() string {
	if r.IsValid {
		return "All validations passed"
	}

	var parts []string
	if len(r.MalformedCodes) > 0 {
		parts = append(parts, fmt.Sprintf("Malformed stock codes (%d): %s", len(r.MalformedCodes), strings.Join(r.MalformedCodes, ", ")))
	}
	if len(r.OrphanedReferences) > 0 {
		parts = append(parts, fmt.Sprintf("Orphaned references (%d): %s", len(r.OrphanedReferences), strings.Join(r.OrphanedReferences, ", ")))
	}
	return strings.Join(parts, "\n")
}
