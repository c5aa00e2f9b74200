package ports

import "context"

// Port: best-effort append-only audit event log. Implementations must be
// safe for concurrent use. Callers log and swallow errors: audit failure
// never rolls back the transition that triggered it.
type AuditSink interface {
	Record(ctx context.Context, entity string, entityID int64, action, actor, details string) error
}
