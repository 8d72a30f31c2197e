package sqldb

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/block/histclean/pkg/dbconn"
	"github.com/block/histclean/pkg/querybuilder"
	"github.com/block/histclean/pkg/statement"
	"github.com/block/histclean/pkg/validation"
	"github.com/block/histclean/pkg/warehouse"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	_ "modernc.org/sqlite"             // registers the sqlite driver
)

// OpenMySQL connects to the database named by cfg. Statements are checked
// with the TiDB parser before they are sent.
func OpenMySQL(cfg *dbconn.DBConfig, opts ...Option) (*Warehouse, error) {
	db, err := dbconn.New(cfg)
	if err != nil {
		return nil, err
	}
	target := querybuilder.Target{Dataset: cfg.Database}
	opts = append([]Option{
		WithValidator(ValidateMySQL),
		WithDatasetProbe("select count(*) from information_schema.schemata where schema_name = ?"),
	}, opts...)
	return New(db, querybuilder.MySQL, target, dbconn.ClassifyError, opts...), nil
}

// ValidateMySQL parses sql and rejects anything but the statement shapes
// the query builder renders. A DELETE must be scoped by an EXISTS subquery
// and a DROP TABLE may only name backup tables.
func ValidateMySQL(sql string) error {
	stmt, err := statement.New(sql)
	if err != nil {
		return err
	}
	switch node := stmt.StmtNode.(type) {
	case *ast.DeleteStmt:
		return validation.DeleteIsScoped(node)
	case *ast.DropTableStmt:
		return validation.DropOnlySuffixed(node, querybuilder.BackupSuffix)
	}
	return nil
}

// OpenPostgres connects through pgx. The dataset is the schema.
func OpenPostgres(dsn, schema string, opts ...Option) (*Warehouse, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	target := querybuilder.Target{Dataset: schema}
	opts = append([]Option{
		WithDatasetProbe("select count(*) from information_schema.schemata where schema_name = $1"),
	}, opts...)
	return New(db, querybuilder.PostgreSQL, target, ClassifyPostgresError, opts...), nil
}

// OpenSQLite opens the database file at path (":memory:" for an in-memory
// database).
func OpenSQLite(path, schema string, opts ...Option) (*Warehouse, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLite(db, schema, opts...), nil
}

// NewSQLite wraps an open SQLite handle. SQLite allows one writer at a
// time, so the pool is limited to a single connection and statements run
// one after another.
func NewSQLite(db *sql.DB, schema string, opts ...Option) *Warehouse {
	db.SetMaxOpenConns(1)
	if schema == "" {
		schema = "main"
	}
	target := querybuilder.Target{Dataset: schema}
	opts = append([]Option{
		WithDatasetProbe("select count(*) from pragma_database_list where name = ?"),
	}, opts...)
	return New(db, querybuilder.SQLite, target, ClassifySQLiteError, opts...)
}

// ClassifyPostgresError maps a PostgreSQL SQLSTATE onto the warehouse taxonomy.
func ClassifyPostgresError(err error) warehouse.Kind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return warehouse.KindUnknown
	}
	switch pgErr.Code {
	case "42P01", "3F000": // undefined_table, invalid_schema_name
		return warehouse.KindNotFound
	case "42P07": // duplicate_table
		return warehouse.KindConflict
	}
	// Class 42 is syntax error or access rule violation, class 22 is data exception.
	if strings.HasPrefix(pgErr.Code, "42") || strings.HasPrefix(pgErr.Code, "22") {
		return warehouse.KindBadRequest
	}
	return warehouse.KindUnknown
}

// ClassifySQLiteError classifies by message; SQLite reports all of these
// with the generic SQLITE_ERROR code.
func ClassifySQLiteError(err error) warehouse.Kind {
	if err == nil {
		return warehouse.KindUnknown
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return warehouse.KindNotFound
	case strings.Contains(msg, "already exists"):
		return warehouse.KindConflict
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such function"),
		strings.Contains(msg, "misuse of"):
		return warehouse.KindBadRequest
	}
	return warehouse.KindUnknown
}
