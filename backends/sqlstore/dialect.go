package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name     string
	driver   string
	numbered bool // $1, $2 placeholders instead of ?
	unique   func(error) bool
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	unique: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

var postgresDialect = dialect{
	name:     "postgres",
	driver:   "postgres",
	numbered: true,
	unique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// rebind rewrites ? placeholders for dialects that number their parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
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
