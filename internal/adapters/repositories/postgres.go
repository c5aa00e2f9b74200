package repositories

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres dialect: $N placeholders, SELECT ... FOR UPDATE row locks
// (partitions lock independently), pgerrcode 23505 for unique violations.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, d: postgresDialect}
}

var postgresDialect = dialect{
	name:       "postgres",
	rebind:     rebindDollar,
	lockSuffix: "\n	FOR UPDATE",
	serialPK:   "BIGSERIAL PRIMARY KEY",
	isUniqueErr: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

// Rewrite `?` placeholders to positional `$1..$N`. Queries never embed a
// literal question mark.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
