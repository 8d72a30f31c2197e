package dedup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/block/histclean/pkg/config"
	"github.com/block/histclean/pkg/querybuilder"
)

var ErrConflictingModes = errors.New("only one of --backup, --delete-backup and --delete can be specified")

// Mode is the operation applied to every table in a run.
type Mode int

const (
	ModeCheck Mode = iota
	ModeBackup
	ModeDeleteBackup
	ModeDelete
)

func (m Mode) String() string {
	switch m {
	case ModeCheck:
		return "check"
	case ModeBackup:
		return "backup"
	case ModeDeleteBackup:
		return "delete-backup"
	case ModeDelete:
		return "delete"
	}
	return "unknown"
}

// ModeFromFlags returns the mode selected by the command-line flags.
// No flag selects ModeCheck; more than one is an error.
func ModeFromFlags(backup, deleteBackup, del bool) (Mode, error) {
	var set []string
	mode := ModeCheck
	if backup {
		set = append(set, "--backup")
		mode = ModeBackup
	}
	if deleteBackup {
		set = append(set, "--delete-backup")
		mode = ModeDeleteBackup
	}
	if del {
		set = append(set, "--delete")
		mode = ModeDelete
	}
	if len(set) > 1 {
		return ModeCheck, fmt.Errorf("%w: got %s", ErrConflictingModes, strings.Join(set, ", "))
	}
	return mode, nil
}

// header is printed once before the per-table status lines.
func (m Mode) header() string {
	switch m {
	case ModeBackup:
		return "Backing up history tables"
	case ModeDeleteBackup:
		return "Deleting history table backups"
	case ModeDelete:
		return "Deleting duplicates from history tables"
	}
	return "Checking history tables for duplicates"
}

// query renders the statement this mode runs for spec.
func (m Mode) query(d querybuilder.Dialect, spec config.TableSpec, t querybuilder.Target) (string, error) {
	switch m {
	case ModeCheck:
		return d.CheckQuery(spec, t)
	case ModeBackup:
		return d.BackupQuery(spec.Name, t)
	case ModeDeleteBackup:
		return d.DropBackupQuery(spec.Name, t)
	case ModeDelete:
		return d.DeleteQuery(spec, t)
	}
	return "", fmt.Errorf("unknown mode %d", m)
}

// label is the table name printed on the status line.
func (m Mode) label(table string) string {
	if m == ModeDeleteBackup {
		return querybuilder.BackupName(table)
	}
	return table
}
