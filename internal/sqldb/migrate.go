package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the bookkeeping DDL for the dialect.
func Schema(d Dialect) (string, error) {
	var name string
	switch d {
	case DialectPgx, DialectPostgres:
		name = "schema/postgres.sql"
	case DialectSQLite:
		name = "schema/sqlite.sql"
	case DialectMySQL:
		name = "schema/mysql.sql"
	case DialectSQLServer:
		name = "schema/sqlserver.sql"
	default:
		return "", fmt.Errorf("sqldb: no schema for %q", d)
	}
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Migrate creates the bookkeeping tables when missing. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	if db == nil {
		return errors.New("sqldb: nil db")
	}
	ddl, err := Schema(d)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
