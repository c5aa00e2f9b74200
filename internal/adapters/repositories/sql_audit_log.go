package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL-backed implementation of the AuditSink port, appending to the
// audit_logs table outside the transaction that triggered the event.
// Wrap it in audit.NewAsyncSink for fire-and-forget delivery.
type SQLAuditLog struct {
	DB *sql.DB
	d  dialect
}

func NewPostgresAuditLog(db *sql.DB) *SQLAuditLog {
	return &SQLAuditLog{DB: db, d: postgresDialect}
}

func NewSQLiteAuditLog(db *sql.DB) *SQLAuditLog {
	return &SQLAuditLog{DB: db, d: sqliteDialect}
}

func (a *SQLAuditLog) Record(ctx context.Context, entity string, entityID int64, action, actor, details string) error {
	if a.DB == nil {
		return errors.New("audit log: DB is nil")
	}

	query := a.d.rebind(`
	INSERT INTO audit_logs (entity, entity_id, action, actor, details, created_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`)
	if _, err := a.DB.ExecContext(ctx, query, entity, entityID, action, actor, details, time.Now().UTC()); err != nil {
		return fmt.Errorf("audit log: insert %s/%s: %w", entity, action, err)
	}
	return nil
}
