package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour and driver
type Dialect int

const (
	DialectPostgres Dialect = iota + 1
	DialectSQLite
)

// ParseDialect accepts "postgres"/"postgresql" and "sqlite"/"sqlite3"
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return 0, fmt.Errorf("unknown sql dialect: %q", s)
}

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		panic(fmt.Sprintf("unknown sql dialect %d", int(d)))
	}
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite3"
	default:
		panic(fmt.Sprintf("unknown sql dialect %d", int(d)))
	}
}

// rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
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

// lockRow is appended to a SELECT that must hold the row until commit.
// SQLite locks the whole database for the writing transaction instead.
func (d Dialect) lockRow() string {
	switch d {
	case DialectPostgres:
		return " FOR UPDATE"
	case DialectSQLite:
		return ""
	default:
		panic(fmt.Sprintf("unknown sql dialect %d", int(d)))
	}
}

func (d Dialect) ddl(stmt string) string {
	var r *strings.Replacer
	switch d {
	case DialectPostgres:
		r = strings.NewReplacer("{{blob}}", "BYTEA", "{{timestamp}}", "TIMESTAMPTZ", "{{serial}}", "BIGSERIAL PRIMARY KEY")
	case DialectSQLite:
		r = strings.NewReplacer("{{blob}}", "BLOB", "{{timestamp}}", "TIMESTAMP", "{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
	default:
		panic(fmt.Sprintf("unknown sql dialect %d", int(d)))
	}
	return r.Replace(stmt)
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
