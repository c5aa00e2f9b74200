package repositories

import (
	"context"
	"errors"
	"fmt"
)

// Initialize the database schema for the store's dialect. Idempotent.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createParcelsQuery := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS parcels (
		id %s,
		tracking_number TEXT NOT NULL UNIQUE,
		carrier TEXT NOT NULL DEFAULT '',
		queue_number TEXT NOT NULL,
		status TEXT NOT NULL,
		recipient_name TEXT NOT NULL DEFAULT '',
		recipient_phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	`, s.d.serialPK)

	createCountersQuery := `
	CREATE TABLE IF NOT EXISTS daily_counters (
		carrier TEXT NOT NULL,
		date TEXT NOT NULL,
		last_seq INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (carrier, date)
	);
	`

	createRecycledQuery := `
	CREATE TABLE IF NOT EXISTS recycled_numbers (
		carrier TEXT NOT NULL,
		date TEXT NOT NULL,
		queue_number TEXT NOT NULL,
		PRIMARY KEY (carrier, date, queue_number)
	);
	`

	createAuditQuery := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_logs (
		id %s,
		entity TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	`, s.d.serialPK)

	createParcelsCreatedIndex := `
	CREATE INDEX IF NOT EXISTS idx_parcels_created_at
	ON parcels(created_at);
	`

	createParcelsQueueIndex := `
	CREATE INDEX IF NOT EXISTS idx_parcels_queue_number
	ON parcels(queue_number);
	`

	statements := []string{
		createParcelsQuery,
		createCountersQuery,
		createRecycledQuery,
		createAuditQuery,
		createParcelsCreatedIndex,
		createParcelsQueueIndex,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}
