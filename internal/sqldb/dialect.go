// Package sqldb opens database handles for the supported SQL dialects and
// hides the few syntax differences the stores care about.
package sqldb

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies a database/sql driver and its SQL flavour.
type Dialect string

const (
	DialectPgx       Dialect = "pgx"
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
	DialectSQLite    Dialect = "sqlite3"
)

// ParseDialect normalizes a configured driver name.
func ParseDialect(value string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pgx", "":
		return DialectPgx, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", value)
	}
}

// DriverName returns the name registered with database/sql.
func (d Dialect) DriverName() string {
	return string(d)
}

// Placeholder renders the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	switch d {
	case DialectMySQL:
		return "?"
	case DialectSQLServer:
		return "@p" + strconv.Itoa(n)
	default:
		return "$" + strconv.Itoa(n)
	}
}

// Rebind rewrites $n placeholders for the dialect. Queries passed here must
// reference each placeholder once and in ascending order.
func (d Dialect) Rebind(query string) string {
	switch d {
	case DialectMySQL, DialectSQLServer:
	default:
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		n, _ := strconv.Atoi(query[i+1 : j])
		b.WriteString(d.Placeholder(n))
		i = j - 1
	}
	return b.String()
}

// Placeholders renders count parameters starting at position start, comma separated.
func (d Dialect) Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
}

// Limit renders a row limit clause placed after ORDER BY.
func (d Dialect) Limit(n int) string {
	if d == DialectSQLServer {
		return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n)
	}
	return fmt.Sprintf("LIMIT %d", n)
}
