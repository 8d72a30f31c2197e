package dedup

import (
	"bytes"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/block/histclean/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Dedup, error) {
	t.Helper()
	var d Dedup
	p, err := kong.New(&d)
	require.NoError(t, err)
	_, err = p.Parse(args)
	return &d, err
}

func TestFlags(t *testing.T) {
	d, err := parse(t, "--dataset", "ads", "--project", "my-project")
	require.NoError(t, err)
	assert.Equal(t, "bigquery", d.Warehouse)
	assert.Equal(t, 8, d.Threads)
	assert.Equal(t, 30*time.Minute, d.JobTimeout)
	assert.True(t, strings.HasSuffix(d.Config, "tables_and_keys.yaml"))
	mode, err := d.normalizeOptions()
	require.NoError(t, err)
	assert.Equal(t, ModeCheck, mode)

	d, err = parse(t, "--dataset", "ads", "--project", "p", "--delete", "--table", "t1", "--table", "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, d.Tables)
	mode, err = d.normalizeOptions()
	require.NoError(t, err)
	assert.Equal(t, ModeDelete, mode)

	_, err = parse(t, "--dataset", "ads", "--project", "p", "--backup", "--delete")
	assert.Error(t, err)

	_, err = parse(t, "--project", "p")
	assert.Error(t, err)

	_, err = parse(t, "--dataset", "ads", "--warehouse", "clickhouse")
	assert.Error(t, err)
}

func TestNormalizeOptions(t *testing.T) {
	d := &Dedup{Dataset: "ads", Backup: true, Delete: true, Project: "p"}
	_, err := d.normalizeOptions()
	assert.ErrorIs(t, err, ErrConflictingModes)

	d = &Dedup{Dataset: "ads"}
	_, err = d.normalizeOptions()
	assert.ErrorContains(t, err, "--project is required")

	d = &Dedup{Dataset: "main", Warehouse: "sqlite"}
	_, err = d.normalizeOptions()
	assert.ErrorContains(t, err, "--dsn is required")

	d = &Dedup{Dataset: "ads", Warehouse: "mysql"}
	_, err = d.normalizeOptions()
	require.NoError(t, err)
	assert.Equal(t, DefaultThreads, d.Threads)
	assert.Equal(t, DefaultJobTimeout, d.JobTimeout)
}

func TestMySQLConfigPrefersFlags(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "my.cnf")
	require.NoError(t, os.WriteFile(conf, []byte("[client]\nhost=db.internal\nuser=reporting\npassword=s3cret\n"), 0o600))
	d := &Dedup{Dataset: "ads", MySQLUsername: "admin", MySQLConf: conf}
	cfg, err := d.mysqlConfig()
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, "ads", cfg.Database)
	assert.Contains(t, cfg.Host, "db.internal")
}

func keepDefaultLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tables_and_keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`Campaign_History:
  primary_keys: [campaign_id]
  order_key: _fivetran_end
keyword_history:
  primary_keys: [keyword_id]
  order_key: _fivetran_end
`), 0o600))
	return path
}

func TestRunDeleteOnSQLite(t *testing.T) {
	keepDefaultLogger(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "warehouse.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	testutils.CreateHistoryTable(t, db, campaigns.Name, campaigns.PrimaryKeys, campaigns.OrderKey,
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 1},
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 2},
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 3},
	)
	require.NoError(t, db.Close())

	var stdout, stderr bytes.Buffer
	d := &Dedup{
		Delete:    true,
		Dataset:   "main",
		Config:    writeConfig(t, dir),
		Warehouse: "sqlite",
		DSN:       dbPath,
		stdin:     strings.NewReader("y\n"),
		stdout:    &stdout,
		stderr:    &stderr,
	}
	require.NoError(t, d.Run())
	out := stdout.String()
	assert.Contains(t, out, "Deleting duplicates from history tables\n")
	assert.Contains(t, out, "Continue? y/n")
	assert.Contains(t, out, "  campaign_history... updated, deleted 2 rows\n")
	assert.Contains(t, out, "  keyword_history... is not present\n")
}

func TestRunDryRunNeedsNoCredentials(t *testing.T) {
	keepDefaultLogger(t)
	var stdout bytes.Buffer
	d := &Dedup{
		Dataset: "fivetran_ads",
		Project: "my-project",
		Config:  writeConfig(t, t.TempDir()),
		Tables:  []string{"campaign_history"},
		DryRun:  true,
		stdout:  &stdout,
		stderr:  &bytes.Buffer{},
	}
	require.NoError(t, d.Run())
	assert.Contains(t, stdout.String(), "-- campaign_history (check)\n")
	assert.Contains(t, stdout.String(), "from `my-project.fivetran_ads.campaign_history`")
	assert.NotContains(t, stdout.String(), "keyword_history")
}

func TestRunRejectsUnknownTable(t *testing.T) {
	keepDefaultLogger(t)
	d := &Dedup{
		Dataset: "ads",
		Project: "p",
		Config:  writeConfig(t, t.TempDir()),
		Tables:  []string{"ad_history"},
		DryRun:  true,
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	assert.Error(t, d.Run())
}
