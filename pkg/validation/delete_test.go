package validation

import (
	"testing"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, sql string) ast.StmtNode {
	t.Helper()
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	require.NoError(t, err)
	require.Len(t, stmtNodes, 1)
	return stmtNodes[0]
}

func parseDelete(t *testing.T, sql string) *ast.DeleteStmt {
	t.Helper()
	stmt, ok := parseOne(t, sql).(*ast.DeleteStmt)
	require.True(t, ok, sql)
	return stmt
}

func TestDeleteIsScoped(t *testing.T) {
	ok := parseDelete(t, "delete tname from `ads`.`t1` as tname where exists (select 1 from `ads`.`t1` as src where src.id <=> tname.id)")
	assert.NoError(t, DeleteIsScoped(ok))

	ok = parseDelete(t, "DELETE FROM t1 WHERE EXISTS (SELECT 1 FROM t2 WHERE t2.id = t1.id)")
	assert.NoError(t, DeleteIsScoped(ok))

	assert.ErrorIs(t, DeleteIsScoped(parseDelete(t, "delete from t1")), ErrUnscopedDelete)
	assert.ErrorIs(t, DeleteIsScoped(parseDelete(t, "delete from t1 where id > 3")), ErrUncorrelatedDelete)
	assert.ErrorIs(t, DeleteIsScoped(parseDelete(t, "delete from t1 where not exists (select 1 from t2)")), ErrUncorrelatedDelete)
	assert.ErrorIs(t, DeleteIsScoped(parseDelete(t, "delete from t1 where exists (select 1 from t2) limit 10")), ErrUncorrelatedDelete)
	assert.ErrorIs(t, DeleteIsScoped(parseDelete(t, "delete a, b from t1 as a join t2 as b on a.id = b.id where exists (select 1)")), ErrMultiTableDelete)
}

func TestDropOnlySuffixed(t *testing.T) {
	drop := func(sql string) *ast.DropTableStmt {
		stmt, ok := parseOne(t, sql).(*ast.DropTableStmt)
		require.True(t, ok)
		return stmt
	}
	assert.NoError(t, DropOnlySuffixed(drop("drop table `ads`.`t1_backup`"), "_backup"))
	assert.NoError(t, DropOnlySuffixed(drop("DROP TABLE T1_BACKUP"), "_backup"))
	assert.ErrorIs(t, DropOnlySuffixed(drop("drop table `ads`.`t1`"), "_backup"), ErrUnexpectedDrop)
	assert.ErrorIs(t, DropOnlySuffixed(drop("drop table t1_backup, t2"), "_backup"), ErrUnexpectedDrop)
}
