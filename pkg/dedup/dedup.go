// Package dedup finds and removes duplicate "latest" rows in append-only
// history tables, and backs those tables up before it does.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/block/histclean/pkg/config"
	"github.com/block/histclean/pkg/dbconn"
	"github.com/block/histclean/pkg/metrics"
	"github.com/block/histclean/pkg/querybuilder"
	"github.com/block/histclean/pkg/utils"
	"github.com/block/histclean/pkg/warehouse"
	"github.com/block/histclean/pkg/warehouse/bigquery"
	"github.com/block/histclean/pkg/warehouse/sqldb"
	"github.com/google/uuid"
)

type Dedup struct {
	Backup       bool `name:"backup" help:"Back up every table to <table>_backup" xor:"mode"`
	DeleteBackup bool `name:"delete-backup" help:"Drop the <table>_backup tables" xor:"mode"`
	Delete       bool `name:"delete" help:"Actually delete data. Run a backup and check first!" xor:"mode"`

	Project   string   `name:"project" help:"BigQuery project the tables are located in" optional:""`
	Dataset   string   `name:"dataset" help:"Dataset the tables are located in (the database for MySQL, the schema for PostgreSQL and SQLite)" required:""`
	Config    string   `name:"config" help:"Table configuration file" type:"path" default:"tables_and_keys.yaml"`
	Tables    []string `name:"table" help:"Only process these tables" optional:""`
	Warehouse string   `name:"warehouse" help:"Warehouse backend" enum:"bigquery,mysql,postgres,sqlite" default:"bigquery"`
	DSN       string   `name:"dsn" help:"Connection string for postgres, database file for sqlite" optional:""`
	Location  string   `name:"location" help:"BigQuery location to run jobs in" optional:""`

	Threads    int           `name:"threads" help:"Number of jobs submitted concurrently" optional:"" default:"8"`
	JobTimeout time.Duration `name:"job-timeout" help:"How long to wait for each job" optional:"" default:"30m"`
	DryRun     bool          `name:"dry-run" help:"Print the queries without submitting them" optional:""`
	Verbose    bool          `name:"verbose" help:"Enable debug logging" optional:""`

	LogMetrics     bool   `name:"log-metrics" help:"Log run metrics" optional:""`
	PushgatewayURL string `name:"pushgateway-url" help:"Push run metrics to this Prometheus Pushgateway" optional:""`

	MySQLHost     string `name:"mysql-host" help:"MySQL hostname" optional:""`
	MySQLUsername string `name:"mysql-username" help:"MySQL user" optional:""`
	MySQLPassword string `name:"mysql-password" help:"MySQL password" optional:"" env:"MYSQL_PWD"`
	MySQLConf     string `name:"mysql-conf" help:"MySQL option file to read [client] credentials from" type:"path" optional:""`
	MySQLTLSMode  string `name:"mysql-tls-mode" help:"TLS connection mode: DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY" optional:""`

	stdin  io.Reader `kong:"-"`
	stdout io.Writer `kong:"-"`
	stderr io.Writer `kong:"-"`
}

func (d *Dedup) Run() error {
	mode, err := d.normalizeOptions()
	if err != nil {
		return err
	}
	logger := utils.NewLogger(d.stderr, d.Verbose)
	slog.SetDefault(logger)

	tables, err := config.Load(d.Config)
	if err != nil {
		return err
	}
	if tables, err = config.Select(tables, d.Tables); err != nil {
		return err
	}
	dialect, err := querybuilder.New(d.Warehouse)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()
	logger = logger.With("run_id", runID)
	var wh warehouse.Warehouse
	if !d.DryRun {
		wh, err = d.openWarehouse(ctx, runID, logger)
		if err != nil {
			return err
		}
		defer utils.CloseAndLog(wh, logger)
	}

	runner, err := NewRunner(wh, dialect, tables, Options{
		Mode:       mode,
		Target:     querybuilder.Target{Project: d.Project, Dataset: d.Dataset},
		Threads:    d.Threads,
		JobTimeout: d.JobTimeout,
		DryRun:     d.DryRun,
	})
	if err != nil {
		return err
	}
	runner.SetLogger(logger)
	runner.SetOutput(d.stdout)
	runner.SetConfirm(NewPrompt(d.stdin, d.stdout))
	runner.SetMetricsSink(d.metricsSink(mode, logger))

	logger.Debug("starting run", "mode", mode, "warehouse", d.Warehouse, "tables", len(tables))
	_, err = runner.Run(ctx)
	return err
}

// normalizeOptions validates the flags that kong cannot, sets defaults
// and returns the selected mode.
func (d *Dedup) normalizeOptions() (Mode, error) {
	mode, err := ModeFromFlags(d.Backup, d.DeleteBackup, d.Delete)
	if err != nil {
		return mode, err
	}
	if d.Dataset == "" {
		return mode, errors.New("--dataset is required")
	}
	switch d.Warehouse {
	case "", "bigquery":
		d.Warehouse = "bigquery"
		if d.Project == "" {
			return mode, errors.New("--project is required for the bigquery warehouse")
		}
	case "postgres", "sqlite":
		if d.DSN == "" && !d.DryRun {
			return mode, fmt.Errorf("--dsn is required for the %s warehouse", d.Warehouse)
		}
	}
	if d.Config == "" {
		d.Config = config.DefaultPath
	}
	if d.Threads <= 0 {
		d.Threads = DefaultThreads
	}
	if d.JobTimeout <= 0 {
		d.JobTimeout = DefaultJobTimeout
	}
	if d.stdin == nil {
		d.stdin = os.Stdin
	}
	if d.stdout == nil {
		d.stdout = os.Stdout
	}
	if d.stderr == nil {
		d.stderr = os.Stderr
	}
	return mode, nil
}

func (d *Dedup) openWarehouse(ctx context.Context, runID string, logger *slog.Logger) (warehouse.Warehouse, error) {
	switch d.Warehouse {
	case "bigquery":
		return bigquery.New(ctx, bigquery.Config{
			Project:  d.Project,
			Dataset:  d.Dataset,
			Location: d.Location,
			RunID:    runID,
		}, logger)
	case "mysql":
		cfg, err := d.mysqlConfig()
		if err != nil {
			return nil, err
		}
		return sqldb.OpenMySQL(cfg, sqldb.WithLogger(logger))
	case "postgres":
		return sqldb.OpenPostgres(d.DSN, d.Dataset, sqldb.WithLogger(logger))
	case "sqlite":
		return sqldb.OpenSQLite(d.DSN, d.Dataset, sqldb.WithLogger(logger))
	}
	return nil, fmt.Errorf("%w: %q", querybuilder.ErrUnknownDialect, d.Warehouse)
}

// mysqlConfig merges the explicit flags with the option file; flags win.
func (d *Dedup) mysqlConfig() (*dbconn.DBConfig, error) {
	cfg := dbconn.NewDBConfig()
	cfg.Host = d.MySQLHost
	cfg.Username = d.MySQLUsername
	cfg.Password = d.MySQLPassword
	cfg.Database = d.Dataset
	cfg.TLSMode = d.MySQLTLSMode
	if d.MySQLConf != "" {
		params, err := dbconn.LoadOptionFile(d.MySQLConf)
		if err != nil {
			return nil, err
		}
		cfg.ApplyOptionFile(params)
	}
	return cfg, nil
}

func (d *Dedup) metricsSink(mode Mode, logger *slog.Logger) metrics.Sink {
	switch {
	case d.PushgatewayURL != "":
		return metrics.NewPushSink(d.PushgatewayURL, "histclean", map[string]string{"mode": mode.String()})
	case d.LogMetrics:
		return metrics.NewLogSink(logger)
	}
	return &metrics.NoopSink{}
}
