package sqldb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"":           DialectPgx,
		"PGX":        DialectPgx,
		"postgresql": DialectPostgres,
		"mariadb":    DialectMySQL,
		"mssql":      DialectSQLServer,
		"sqlite":     DialectSQLite,
	}
	for in, want := range cases {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := ParseDialect("oracle")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	query := "SELECT a FROM t WHERE x = $1 AND y IN ($2, $3) AND z = '$'"

	require.Equal(t, query, DialectPgx.Rebind(query))
	require.Equal(t, query, DialectSQLite.Rebind(query))
	require.Equal(t, "SELECT a FROM t WHERE x = ? AND y IN (?, ?) AND z = '$'", DialectMySQL.Rebind(query))
	require.Equal(t, "SELECT a FROM t WHERE x = @p1 AND y IN (@p2, @p3) AND z = '$'", DialectSQLServer.Rebind(query))
}

func TestPlaceholdersAndLimit(t *testing.T) {
	require.Equal(t, "$3, $4, $5", DialectPgx.Placeholders(3, 3))
	require.Equal(t, "LIMIT 10", DialectSQLite.Limit(10))
	require.Equal(t, "OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY", DialectSQLServer.Limit(10))
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DialectSQLite, ":memory:", PoolOptions{})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db, DialectSQLite))
	require.NoError(t, Migrate(ctx, db, DialectSQLite))

	_, err = db.ExecContext(ctx, `INSERT INTO alarm_sync_status (alarm_instance_id, sync_status, created_at, updated_at) VALUES (1, 'PENDING', '2026-01-01', '2026-01-01')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO alarm_sync_status (alarm_instance_id, sync_status, created_at, updated_at) VALUES (1, 'PENDING', '2026-01-01', '2026-01-01')`)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
}

func TestSchemaForEveryDialect(t *testing.T) {
	for _, d := range []Dialect{DialectPgx, DialectPostgres, DialectMySQL, DialectSQLServer, DialectSQLite} {
		ddl, err := Schema(d)
		require.NoError(t, err)
		require.Contains(t, ddl, "alarm_sync_status")
		require.Contains(t, ddl, "alarm_sync_log")
	}
}
