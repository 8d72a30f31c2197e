package sqldb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/block/histclean/pkg/config"
	"github.com/block/histclean/pkg/querybuilder"
	"github.com/block/histclean/pkg/statement"
	"github.com/block/histclean/pkg/testutils"
	"github.com/block/histclean/pkg/validation"
	"github.com/block/histclean/pkg/warehouse"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

var campaigns = config.TableSpec{
	Name:        "campaign_history",
	PrimaryKeys: []string{"campaign_id"},
	OrderKey:    "_fivetran_end",
	UpdatedKey:  "updated_at",
}

func newWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	db := testutils.NewSQLiteDB(t)
	testutils.CreateHistoryTable(t, db, campaigns.Name, campaigns.PrimaryKeys, campaigns.OrderKey,
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 1},
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 2},
		testutils.HistoryRow{Keys: []any{5}, UpdatedAt: "T0", Order: 3},
	)
	return NewSQLite(db, "")
}

func wait(t *testing.T, w *Warehouse, table, stmt string) (*warehouse.Result, error) {
	t.Helper()
	job, err := w.Submit(t.Context(), table, stmt)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID())
	return job.Wait(t.Context())
}

func TestSubmitSelectAndDelete(t *testing.T) {
	w := newWarehouse(t)
	target := querybuilder.Target{Dataset: "main"}

	check, err := querybuilder.SQLite.CheckQuery(campaigns, target)
	require.NoError(t, err)
	res, err := wait(t, w, campaigns.Name, check)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.False(t, res.HasAffected)

	del, err := querybuilder.SQLite.DeleteQuery(campaigns, target)
	require.NoError(t, err)
	res, err = wait(t, w, campaigns.Name, del)
	require.NoError(t, err)
	assert.True(t, res.HasAffected)
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Equal(t, []int64{3}, testutils.OrderKeys(t, w.DB(), campaigns.Name, campaigns.OrderKey))

	n, ok, err := w.RowCount(t.Context(), campaigns.Name)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestSubmitClassifiesErrors(t *testing.T) {
	w := newWarehouse(t)
	target := querybuilder.Target{Dataset: "main"}

	missing := campaigns
	missing.Name = "keyword_history"
	check, err := querybuilder.SQLite.CheckQuery(missing, target)
	require.NoError(t, err)
	_, err = wait(t, w, missing.Name, check)
	assert.ErrorIs(t, err, warehouse.ErrNotFound)

	_, _, err = w.RowCount(t.Context(), missing.Name)
	assert.ErrorIs(t, err, warehouse.ErrNotFound)

	backup, err := querybuilder.SQLite.BackupQuery(campaigns.Name, target)
	require.NoError(t, err)
	_, err = wait(t, w, campaigns.Name, backup)
	require.NoError(t, err)
	_, err = wait(t, w, campaigns.Name, backup)
	assert.ErrorIs(t, err, warehouse.ErrConflict)

	_, err = wait(t, w, campaigns.Name, "select nope from campaign_history")
	assert.ErrorIs(t, err, warehouse.ErrBadRequest)
}

func TestValidatorRejectsBeforeSubmit(t *testing.T) {
	db := testutils.NewSQLiteDB(t)
	called := false
	w := New(db, querybuilder.SQLite, querybuilder.Target{Dataset: "main"}, ClassifySQLiteError,
		WithValidator(func(string) error {
			called = true
			return errors.New("line 1 column 7 near \"nope\"")
		}))
	_, err := w.Submit(t.Context(), "t1", "select nope")
	assert.True(t, called)
	assert.ErrorIs(t, err, warehouse.ErrBadRequest)
}

func TestWaitTimeout(t *testing.T) {
	w := newWarehouse(t)
	job, err := w.Submit(t.Context(), "forever",
		"with recursive c(x) as (select 1 union all select x + 1 from c) select count(*) from c")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err = job.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, warehouse.KindTimeout, warehouse.KindOf(err))
}

func TestPing(t *testing.T) {
	w := newWarehouse(t)
	require.NoError(t, w.Ping(t.Context()))

	other := NewSQLite(w.DB(), "archive")
	assert.ErrorIs(t, other.Ping(t.Context()), ErrDatasetNotFound)
}

func TestIsQuery(t *testing.T) {
	assert.True(t, isQuery("select * from t"))
	assert.True(t, isQuery("\n  SELECT 1"))
	assert.True(t, isQuery("WITH x AS (select 1) select * from x"))
	assert.False(t, isQuery("delete from t"))
	assert.False(t, isQuery("create table t2\nas select * from t"))
	assert.False(t, isQuery(""))
}

func TestClassifyPostgresError(t *testing.T) {
	assert.Equal(t, warehouse.KindNotFound, ClassifyPostgresError(&pgconn.PgError{Code: "42P01"}))
	assert.Equal(t, warehouse.KindNotFound, ClassifyPostgresError(&pgconn.PgError{Code: "3F000"}))
	assert.Equal(t, warehouse.KindConflict, ClassifyPostgresError(&pgconn.PgError{Code: "42P07"}))
	assert.Equal(t, warehouse.KindBadRequest, ClassifyPostgresError(&pgconn.PgError{Code: "42601"}))
	assert.Equal(t, warehouse.KindBadRequest, ClassifyPostgresError(&pgconn.PgError{Code: "22P02"}))
	assert.Equal(t, warehouse.KindUnknown, ClassifyPostgresError(&pgconn.PgError{Code: "57014"}))
	assert.Equal(t, warehouse.KindUnknown, ClassifyPostgresError(errors.New("conn closed")))
}

func TestClassifySQLiteError(t *testing.T) {
	assert.Equal(t, warehouse.KindNotFound, ClassifySQLiteError(errors.New("SQL logic error: no such table: main.t1 (1)")))
	assert.Equal(t, warehouse.KindConflict, ClassifySQLiteError(errors.New(`SQL logic error: table "t1_backup" already exists (1)`)))
	assert.Equal(t, warehouse.KindBadRequest, ClassifySQLiteError(errors.New(`SQL logic error: no such column: nope (1)`)))
	assert.Equal(t, warehouse.KindUnknown, ClassifySQLiteError(errors.New("database is locked")))
	assert.Equal(t, warehouse.KindUnknown, ClassifySQLiteError(nil))
}

func TestValidateMySQL(t *testing.T) {
	target := querybuilder.Target{Dataset: "ads"}
	for _, render := range []func() (string, error){
		func() (string, error) { return querybuilder.MySQL.CheckQuery(campaigns, target) },
		func() (string, error) { return querybuilder.MySQL.DeleteQuery(campaigns, target) },
		func() (string, error) { return querybuilder.MySQL.BackupQuery(campaigns.Name, target) },
		func() (string, error) { return querybuilder.MySQL.DropBackupQuery(campaigns.Name, target) },
		func() (string, error) { return querybuilder.MySQL.CountQuery(campaigns.Name, target) },
	} {
		sql, err := render()
		require.NoError(t, err)
		assert.NoError(t, ValidateMySQL(sql), sql)
	}

	assert.ErrorIs(t, ValidateMySQL("delete from `ads`.`campaign_history`"), validation.ErrUnscopedDelete)
	assert.ErrorIs(t, ValidateMySQL("drop table `ads`.`campaign_history`"), validation.ErrUnexpectedDrop)
	assert.ErrorIs(t, ValidateMySQL("select 1; select 2"), statement.ErrMultipleStatements)
	assert.ErrorIs(t, ValidateMySQL("update t set a = 1"), statement.ErrNotSupportedStatement)
}
