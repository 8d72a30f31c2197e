package querybuilder

import (
	"fmt"
	"strings"

	"github.com/block/histclean/pkg/config"
)

// sqlDialect holds the syntax differences between warehouses. The shape
// of the statements is shared.
type sqlDialect struct {
	name string
	// quote quotes a single validated identifier.
	quote func(string) string
	// qualify returns the fully qualified, quoted table name.
	qualify func(t Target, table string) string
	// validateTarget checks the dataset (and project, where used).
	validateTarget func(t Target) error
	// nullSafeEq compares two expressions treating NULLs as equal, so
	// the correlated delete matches the same partitions PARTITION BY forms.
	nullSafeEq string
	// deleteFrom renders the DELETE head for a qualified table and returns
	// the name that the correlated subquery uses to refer to the outer row.
	deleteFrom func(qualified, table string) (head, outer string)
	// star is the select-list entry for "every column of the source row".
	// BigQuery accepts a bare * after other expressions; the others need it qualified.
	star string
	// source renders the inner FROM item.
	source func(qualified string) string
}

var _ Dialect = (*sqlDialect)(nil)

const checkTemplate = `select * from (
    select
        max(%[1]s)
            over (partition by %[2]s) latest,
        %[3]s
    from %[4]s
) with_latest
where %[1]s < latest`

const deleteTemplate = `%[1]s
where exists (
    select 1 from (
        select
            max(%[2]s)
                over (partition by %[3]s) latest,
            %[4]s
        from %[5]s
    ) with_latest
    where %[6]s.%[2]s < with_latest.latest
    and with_latest.%[2]s = %[6]s.%[2]s
    and %[7]s
)`

func (d *sqlDialect) Name() string {
	return d.name
}

func (d *sqlDialect) partitionBy(spec config.TableSpec) string {
	cols := make([]string, 0, len(spec.PrimaryKeys)+1)
	for _, pk := range spec.PrimaryKeys {
		cols = append(cols, d.quote(pk))
	}
	cols = append(cols, d.quote(updatedKey(spec)))
	return strings.Join(cols, ", ")
}

// correlation matches the outer row on updated_at and every primary key.
func (d *sqlDialect) correlation(spec config.TableSpec, outer string) string {
	keys := append([]string{updatedKey(spec)}, spec.PrimaryKeys...)
	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		q := d.quote(k)
		conds = append(conds, fmt.Sprintf("with_latest.%s %s %s.%s", q, d.nullSafeEq, outer, q))
	}
	return strings.Join(conds, "\n    and ")
}

func (d *sqlDialect) prepare(spec config.TableSpec, t Target) error {
	if err := validateSpec(spec); err != nil {
		return err
	}
	return d.validateTarget(t)
}

func (d *sqlDialect) CheckQuery(spec config.TableSpec, t Target) (string, error) {
	if err := d.prepare(spec, t); err != nil {
		return "", err
	}
	return fmt.Sprintf(checkTemplate,
		d.quote(spec.OrderKey),
		d.partitionBy(spec),
		d.star,
		d.source(d.qualify(t, spec.Name)),
	), nil
}

func (d *sqlDialect) DeleteQuery(spec config.TableSpec, t Target) (string, error) {
	if err := d.prepare(spec, t); err != nil {
		return "", err
	}
	qualified := d.qualify(t, spec.Name)
	head, outer := d.deleteFrom(qualified, spec.Name)
	return fmt.Sprintf(deleteTemplate,
		head,
		d.quote(spec.OrderKey),
		d.partitionBy(spec),
		d.star,
		d.source(qualified),
		outer,
		d.correlation(spec, outer),
	), nil
}

func (d *sqlDialect) prepareTable(table string, t Target) error {
	if err := validateTable("table", table); err != nil {
		return err
	}
	return d.validateTarget(t)
}

func (d *sqlDialect) BackupQuery(table string, t Target) (string, error) {
	if err := d.prepareTable(table, t); err != nil {
		return "", err
	}
	return fmt.Sprintf("create table %s\nas select * from %s",
		d.qualify(t, BackupName(table)), d.qualify(t, table)), nil
}

func (d *sqlDialect) DropBackupQuery(table string, t Target) (string, error) {
	if err := d.prepareTable(table, t); err != nil {
		return "", err
	}
	return "drop table " + d.qualify(t, BackupName(table)), nil
}

func (d *sqlDialect) CountQuery(table string, t Target) (string, error) {
	if err := d.prepareTable(table, t); err != nil {
		return "", err
	}
	return "select count(*) from " + d.qualify(t, table), nil
}

func backtick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func validateDataset(t Target) error {
	return validateTable("dataset", t.Dataset)
}

// BigQuery renders GoogleSQL. Tables are addressed as `project.dataset.table`.
var BigQuery Dialect = &sqlDialect{
	name:  "bigquery",
	quote: backtick,
	qualify: func(t Target, table string) string {
		return "`" + t.Project + "." + t.Dataset + "." + table + "`"
	},
	validateTarget: func(t Target) error {
		if !projectRegexp.MatchString(t.Project) {
			return fmt.Errorf("%w: project %q", ErrInvalidIdentifier, t.Project)
		}
		return validateDataset(t)
	},
	nullSafeEq: "is not distinct from",
	deleteFrom: func(qualified, _ string) (string, string) {
		return "delete from " + qualified + " tname", "tname"
	},
	star:   "*",
	source: func(qualified string) string { return qualified },
}

// MySQL renders MySQL 8 syntax. The dataset is the database.
var MySQL Dialect = &sqlDialect{
	name:  "mysql",
	quote: backtick,
	qualify: func(t Target, table string) string {
		return backtick(t.Dataset) + "." + backtick(table)
	},
	validateTarget: validateDataset,
	nullSafeEq:     "<=>",
	// Multi-table form: the single-table form cannot alias the target on older servers.
	deleteFrom: func(qualified, _ string) (string, string) {
		return "delete tname from " + qualified + " as tname", "tname"
	},
	star:   "src.*",
	source: func(qualified string) string { return qualified + " as src" },
}

// PostgreSQL renders PostgreSQL syntax. The dataset is the schema.
var PostgreSQL Dialect = &sqlDialect{
	name:  "postgres",
	quote: doubleQuote,
	qualify: func(t Target, table string) string {
		return doubleQuote(t.Dataset) + "." + doubleQuote(table)
	},
	validateTarget: validateDataset,
	nullSafeEq:     "is not distinct from",
	deleteFrom: func(qualified, _ string) (string, string) {
		return "delete from " + qualified + " as tname", "tname"
	},
	star:   "src.*",
	source: func(qualified string) string { return qualified + " as src" },
}

// SQLite renders SQLite syntax. The dataset is the schema (usually "main").
// The DELETE target is not aliased; the subquery refers to it by table name.
var SQLite Dialect = &sqlDialect{
	name:  "sqlite",
	quote: doubleQuote,
	qualify: func(t Target, table string) string {
		return doubleQuote(t.Dataset) + "." + doubleQuote(table)
	},
	validateTarget: validateDataset,
	nullSafeEq:     "is",
	deleteFrom: func(qualified, table string) (string, string) {
		return "delete from " + qualified, doubleQuote(table)
	},
	star:   "src.*",
	source: func(qualified string) string { return qualified + " as src" },
}
