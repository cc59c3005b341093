package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const recordEventSQL = `INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2)
	ON CONFLICT (event_id) DO NOTHING`

// EventLog is the processed-event ledger for provider webhooks.
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog returns an EventLog that uses the given pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Record inserts the event id and reports false if it was already present.
// Called inside the reconciling transaction, a rollback forgets the event.
func (l *EventLog) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := conn(ctx, l.pool).Exec(ctx, recordEventSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
