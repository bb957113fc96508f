package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-sync/internal/version"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "alarm-sync", cmd.Use)
	assert.Contains(t, cmd.Long, "Alertmanager")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "sync-once", "cleanup", "migrate", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NotNil(t, serve.Flags().Lookup("addr"))
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), version.Version)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMigratePrintsSchema(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: sqlite3\n  dsn: \":memory:\"\n")
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--config", path, "--print", "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.Contains(strings.ToLower(out.String()), "create table"))
}

func TestMigrateAppliesSchema(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "store.db")
	path := writeConfig(t, "store:\n  driver: sqlite3\n  dsn: "+dsn+"\n")
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate", "--config", path, "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "ok\n", out.String())
	_, err := os.Stat(dsn)
	require.NoError(t, err)
}

func TestSyncOnceRejectsInvalidConfig(t *testing.T) {
	t.Setenv("ALERTMANAGER_URL", "")
	path := writeConfig(t, "alertmanager:\n  url: \"\"\n")
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"sync-once", "--config", path, "--log-level", "error"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
