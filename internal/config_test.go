package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novaexec/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "novaexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
app_name: orders
source:
  driver: pgxpool
  dsn: postgres://localhost/orders
execution:
  fetch_size: 500
  max_rows: 10000
  query_timeout: 2s
  batch_size: 250
transaction:
  auto_rollback: false
  close_action: commit
server:
  addr: 0.0.0.0:9000
  max_sessions: 8
  requests_per_second: 50
  burst: 10
  metrics_addr: :9100
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "orders", cfg.AppName)
	require.Equal(t, "pgxpool", cfg.Source.Driver)
	require.Equal(t, 500, cfg.Execution.FetchSize)
	require.Equal(t, 2*time.Second, cfg.Execution.QueryTimeout)
	require.Equal(t, 250, cfg.Execution.BatchSize)
	require.False(t, cfg.Transaction.AutoRollback)
	require.Equal(t, "commit", cfg.Transaction.CloseAction)
	require.Equal(t, 8, cfg.Server.MaxSessions)
	require.InDelta(t, 50.0, cfg.Server.RequestsPerSecond, 0.001)
	require.Equal(t, ":9100", cfg.Server.MetricsAddr)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)

	opts := cfg.ClientOptions(nil)
	require.Equal(t, 10000, opts.MaxRows)
	require.Equal(t, "commit", opts.CloseAction)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Source.Driver)
	require.Equal(t, 100, cfg.Execution.BatchSize)
	require.True(t, cfg.Transaction.AutoRollback)
	require.Equal(t, "rollback", cfg.Transaction.CloseAction)
	require.Equal(t, 64, cfg.Server.MaxSessions)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NOVAEXEC_EXECUTION_BATCH_SIZE", "7")
	t.Setenv("NOVAEXEC_SOURCE_DSN", "file:env.db")

	cfg, err := LoadConfig(writeConfig(t, "source:\n  dsn: file:yaml.db\n"))
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Execution.BatchSize)
	require.Equal(t, "file:env.db", cfg.Source.DSN)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for _, body := range []string{
		"transaction:\n  close_action: explode\n",
		"execution:\n  batch_size: -1\n",
		"server:\n  max_sessions: 0\n",
		"log:\n  level: loud\n",
	} {
		_, err := LoadConfig(writeConfig(t, body))
		require.ErrorIs(t, err, errs.ErrConfiguration, body)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}
