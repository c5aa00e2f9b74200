package repositories

import (
	"database/sql"
	"errors"

	sqlite "modernc.org/sqlite"
)

// SQLite constraint error codes (SQLITE_CONSTRAINT_UNIQUE and
// SQLITE_CONSTRAINT_PRIMARYKEY).
const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// SQLite dialect: native `?` placeholders and no FOR UPDATE clause.
// SQLite allows a single writer at a time, so every write transaction is
// serialized — stricter than the per-partition locking the allocator
// needs, never weaker. Open the handle with an immediate txlock so the
// write lock is taken at BEGIN rather than at first write.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, d: sqliteDialect}
}

var sqliteDialect = dialect{
	name:       "sqlite",
	rebind:     func(query string) string { return query },
	lockSuffix: "",
	serialPK:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	isUniqueErr: func(err error) bool {
		var sqErr *sqlite.Error
		if !errors.As(err, &sqErr) {
			return false
		}
		return sqErr.Code() == sqliteConstraintUnique || sqErr.Code() == sqliteConstraintPrimaryKey
	},
}
