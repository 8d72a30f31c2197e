// Package testutils contains some common utilities used exclusively
// by the test suite.
package testutils

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// HistoryRow is one version of a record in a history table.
type HistoryRow struct {
	Keys      []any // primary key values, in primary key order
	UpdatedAt string
	Order     int64
	Payload   string
}

// NewSQLiteDB opens a file-backed SQLite database in a temporary directory
// that is removed when the test ends.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// CreateHistoryTable creates table with the given primary key columns,
// an updated_at column, the order key column and a payload column, and
// inserts rows.
func CreateHistoryTable(t *testing.T, db *sql.DB, table string, primaryKeys []string, orderKey string, rows ...HistoryRow) {
	t.Helper()
	cols := make([]string, 0, len(primaryKeys)+3)
	for _, pk := range primaryKeys {
		cols = append(cols, fmt.Sprintf("%q INTEGER", pk))
	}
	cols = append(cols, `"updated_at" TEXT`, fmt.Sprintf("%q INTEGER", orderKey), `"payload" TEXT`)
	RunSQL(t, db, fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(cols, ", ")))
	InsertHistoryRows(t, db, table, primaryKeys, orderKey, rows...)
}

// InsertHistoryRows appends rows to a table made by CreateHistoryTable.
func InsertHistoryRows(t *testing.T, db *sql.DB, table string, primaryKeys []string, orderKey string, rows ...HistoryRow) {
	t.Helper()
	names := make([]string, 0, len(primaryKeys)+3)
	for _, pk := range primaryKeys {
		names = append(names, fmt.Sprintf("%q", pk))
	}
	names = append(names, `"updated_at"`, fmt.Sprintf("%q", orderKey), `"payload"`)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(names, ", "), placeholders)
	for _, r := range rows {
		require.Len(t, r.Keys, len(primaryKeys))
		args := append(append([]any{}, r.Keys...), r.UpdatedAt, r.Order, r.Payload)
		_, err := db.ExecContext(t.Context(), stmt, args...)
		require.NoError(t, err)
	}
}

// RunSQL executes stmt and fails the test on error.
func RunSQL(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	_, err := db.ExecContext(t.Context(), stmt)
	require.NoError(t, err)
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRowContext(t.Context(), fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n))
	return n
}

// OrderKeys returns the order key values of table sorted ascending.
func OrderKeys(t *testing.T, db *sql.DB, table, orderKey string) []int64 {
	t.Helper()
	rows, err := db.QueryContext(t.Context(), fmt.Sprintf("SELECT %q FROM %q ORDER BY 1", orderKey, table))
	require.NoError(t, err)
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}
