// Package statement is a wrapper around the TiDB parser. It is used to
// verify that MySQL-dialect statements are well formed, single, and of an
// expected kind before they are sent to a server.
package statement

import (
	"errors"
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Type is the kind of a parsed statement.
type Type int

const (
	TypeUnknown Type = iota
	TypeSelect
	TypeDelete
	TypeCreateTable
	TypeDropTable
)

func (t Type) String() string {
	switch t {
	case TypeSelect:
		return "SELECT"
	case TypeDelete:
		return "DELETE"
	case TypeCreateTable:
		return "CREATE TABLE"
	case TypeDropTable:
		return "DROP TABLE"
	}
	return "unknown"
}

var (
	ErrNotSupportedStatement = errors.New("not a supported statement type")
	ErrMultipleStatements    = errors.New("statement must be executed alone")
)

// Statement is a single parsed statement.
type Statement struct {
	Type      Type
	Statement string
	StmtNode  ast.StmtNode
}

// New parses sql, which must contain exactly one SELECT, DELETE,
// CREATE TABLE or DROP TABLE statement.
func New(sql string) (*Statement, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, err
	}
	if len(stmtNodes) != 1 {
		return nil, fmt.Errorf("%w: found %d statements", ErrMultipleStatements, len(stmtNodes))
	}
	stmt := &Statement{Statement: sql, StmtNode: stmtNodes[0]}
	switch node := stmtNodes[0].(type) {
	case *ast.SelectStmt:
		stmt.Type = TypeSelect
	case *ast.DeleteStmt:
		stmt.Type = TypeDelete
	case *ast.CreateTableStmt:
		// Only CREATE TABLE ... AS SELECT copies data; anything else is not ours.
		if node.Select == nil {
			return nil, fmt.Errorf("%w: CREATE TABLE without AS SELECT", ErrNotSupportedStatement)
		}
		stmt.Type = TypeCreateTable
	case *ast.DropTableStmt:
		if node.IsView {
			return nil, fmt.Errorf("%w: DROP VIEW", ErrNotSupportedStatement)
		}
		stmt.Type = TypeDropTable
	default:
		return nil, ErrNotSupportedStatement
	}
	return stmt, nil
}

// Validate is a convenience wrapper around New that discards the result.
func Validate(sql string) error {
	_, err := New(sql)
	return err
}
