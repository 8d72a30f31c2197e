// Package querybuilder renders the detection, deletion and backup
// statements for a history table. Rendering has no side effects; every
// identifier sourced from configuration is validated and then quoted in
// the dialect's quote character.
package querybuilder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/block/histclean/pkg/config"
)

// BackupSuffix is appended to a table name to name its backup copy.
const BackupSuffix = "_backup"

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownDialect    = errors.New("unknown dialect")

	columnRegexp  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tableRegexp   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	projectRegexp = regexp.MustCompile(`^[a-z][a-z0-9.:-]*[a-z0-9]$`)
)

// Target locates the dataset that holds the history tables. Project is
// only meaningful to BigQuery; the other dialects ignore it.
type Target struct {
	Project string
	Dataset string
}

// Dialect renders statements for one warehouse.
type Dialect interface {
	Name() string
	// CheckQuery selects every row whose order key is strictly less than
	// the maximum order key of its (primary keys, updated_at) partition.
	CheckQuery(spec config.TableSpec, t Target) (string, error)
	// DeleteQuery deletes exactly the rows CheckQuery selects.
	DeleteQuery(spec config.TableSpec, t Target) (string, error)
	// BackupQuery copies the whole table to <table>_backup.
	BackupQuery(table string, t Target) (string, error)
	// DropBackupQuery drops <table>_backup.
	DropBackupQuery(table string, t Target) (string, error)
	// CountQuery counts the rows of table.
	CountQuery(table string, t Target) (string, error)
}

// New returns the dialect registered under name.
func New(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "bigquery":
		return BigQuery, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql":
		return PostgreSQL, nil
	case "sqlite":
		return SQLite, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

// BackupName returns the name of the backup copy of table.
func BackupName(table string) string {
	return table + BackupSuffix
}

func validateColumn(kind, name string) error {
	if !columnRegexp.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, name)
	}
	return nil
}

func validateTable(kind, name string) error {
	if !tableRegexp.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, name)
	}
	return nil
}

func validateSpec(spec config.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := validateTable("table", spec.Name); err != nil {
		return err
	}
	for _, pk := range spec.PrimaryKeys {
		if err := validateColumn("primary key", pk); err != nil {
			return err
		}
	}
	if err := validateColumn("order key", spec.OrderKey); err != nil {
		return err
	}
	return validateColumn("updated_at column", updatedKey(spec))
}

func updatedKey(spec config.TableSpec) string {
	if spec.UpdatedKey == "" {
		return config.DefaultUpdatedKey
	}
	return spec.UpdatedKey
}
