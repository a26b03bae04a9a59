package persistence

import (
	"context"
	"database/sql"
	"time"

	"VaultLedger/internal/core"
)

// PostgresIdempotencyChecker is the second deduplication tier behind the
// core's in-memory LRU. It answers from the durable event log, so keys
// evicted from the LRU are still caught.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

var _ core.DBIdempotencyChecker = (*PostgresIdempotencyChecker)(nil)

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether the event already exists in the event log.
// The lookup is bounded to 500ms; the caller treats an error as "not a
// duplicate" and relies on the unique index to reject a true replay.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM event_log.events
        WHERE event_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
