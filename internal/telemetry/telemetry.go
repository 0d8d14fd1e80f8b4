// Package telemetry persists structured error rows, tracks Redis health,
// and dispatches out-of-band notifications.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/domain"
)

// Notifier sends a user-visible, out-of-band alert.
type Notifier interface {
	Notify(ctx context.Context, title, body, correlationID string) error
}

// Ledger persists ErrorLogRow entries and reports Redis health.
type Ledger struct {
	db       *sql.DB
	notifier Notifier
	log      zerolog.Logger
}

// New constructs a Ledger. notifier may be nil to disable notifications.
func New(db *sql.DB, notifier Notifier, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, notifier: notifier, log: log.With().Str("component", "telemetry").Logger()}
}

// Record writes an ErrorLogRow, attaching the caller's stack and a fresh
// correlation id if none is supplied. Always logs; never a silent catch.
func (l *Ledger) Record(ctx context.Context, severity domain.Severity, service, module, message string, correlationID string) domain.ErrorLogRow {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	row := domain.NewErrorLogRow(severity, service, module, message, string(debug.Stack()), string(severity), correlationID)

	l.log.Error().
		Str("service", service).
		Str("module", module).
		Str("correlation_id", correlationID).
		Str("severity", string(severity)).
		Msg(message)

	if l.db != nil {
		if _, err := l.db.ExecContext(ctx,
			`INSERT INTO error_logs (timestamp, severity, service, module, message, stack, type_tag, correlation_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.Timestamp, row.Severity, row.Service, row.Module, row.Message, row.Stack, row.TypeTag, row.CorrelationID,
		); err != nil {
			l.log.Error().Err(err).Msg("failed to persist error log row")
		}
	}

	if severity == domain.SeverityCritical && l.notifier != nil {
		if err := l.notifier.Notify(ctx, fmt.Sprintf("[%s] %s", service, module), message, correlationID); err != nil {
			l.log.Error().Err(err).Msg("failed to send out-of-band notification")
		}
	}

	return row
}

// Resolve marks a previously recorded error row as resolved.
func (l *Ledger) Resolve(ctx context.Context, id int64, note string) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE error_logs SET resolved_at = ?, resolution_note = ? WHERE id = ?`,
		time.Now().UTC(), note, id,
	)
	return err
}

// RedisHealth reports the primary cache tier's reachability and latency,
// for the /readyz surface and periodic metrics logging.
type RedisHealth struct {
	client *redis.Client
}

// NewRedisHealth wraps client for health probing. client may be nil.
func NewRedisHealth(client *redis.Client) *RedisHealth {
	return &RedisHealth{client: client}
}

// Probe pings the primary cache and returns round-trip latency.
func (h *RedisHealth) Probe(ctx context.Context) (time.Duration, error) {
	if h.client == nil {
		return 0, fmt.Errorf("telemetry: no redis client configured")
	}
	start := time.Now()
	if err := h.client.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("telemetry: redis ping: %w", err)
	}
	return time.Since(start), nil
}
