package dbconn

import (
	"errors"

	"github.com/block/histclean/pkg/warehouse"
	"github.com/go-sql-driver/mysql"
)

const (
	errTableExists    = 1050
	errBadTable       = 1051 // DROP TABLE on a missing table
	errBadDB          = 1049
	errBadField       = 1054
	errParse          = 1064
	errNoSuchTable    = 1146
	errUpdateSameTbl  = 1093
	errWrongValueType = 1366
	errAccessDenied   = 1045
)

// ClassifyError maps a MySQL server error onto the warehouse taxonomy.
func ClassifyError(err error) warehouse.Kind {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return warehouse.KindUnknown
	}
	switch myErr.Number {
	case errNoSuchTable, errBadTable, errBadDB:
		return warehouse.KindNotFound
	case errTableExists:
		return warehouse.KindConflict
	case errParse, errBadField, errUpdateSameTbl, errWrongValueType:
		return warehouse.KindBadRequest
	default:
		return warehouse.KindUnknown
	}
}

// IsAccessDenied reports whether err is an authentication failure.
func IsAccessDenied(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errAccessDenied
}
