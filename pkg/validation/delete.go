// Package validation provides structural checks on parsed destructive
// statements, applied before they are sent to a server.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

var (
	ErrUnscopedDelete     = errors.New("DELETE has no WHERE clause")
	ErrUncorrelatedDelete = errors.New("DELETE is not restricted by an EXISTS subquery")
	ErrMultiTableDelete   = errors.New("DELETE targets more than one table")
	ErrUnexpectedDrop     = errors.New("DROP TABLE targets a table that is not a backup")
)

// DeleteIsScoped checks that a DELETE removes rows of one table only, and
// only those matched by an EXISTS subquery. A missing or negated predicate
// would delete every row that is not a duplicate.
func DeleteIsScoped(stmt *ast.DeleteStmt) error {
	if stmt.Where == nil {
		return ErrUnscopedDelete
	}
	if stmt.IsMultiTable && stmt.Tables != nil && len(stmt.Tables.Tables) != 1 {
		return fmt.Errorf("%w: %d targets", ErrMultiTableDelete, len(stmt.Tables.Tables))
	}
	if stmt.Limit != nil {
		return fmt.Errorf("%w: has a LIMIT", ErrUncorrelatedDelete)
	}
	exists, ok := stmt.Where.(*ast.ExistsSubqueryExpr)
	if !ok || exists.Not {
		return ErrUncorrelatedDelete
	}
	return nil
}

// DropOnlySuffixed checks that every table a DROP TABLE names ends in
// suffix.
func DropOnlySuffixed(stmt *ast.DropTableStmt, suffix string) error {
	for _, t := range stmt.Tables {
		if !strings.HasSuffix(t.Name.L, strings.ToLower(suffix)) {
			return fmt.Errorf("%w: %s", ErrUnexpectedDrop, t.Name.O)
		}
	}
	return nil
}
