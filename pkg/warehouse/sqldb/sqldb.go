// Package sqldb implements warehouse.Warehouse on top of database/sql for
// servers reachable through a Go SQL driver: MySQL, PostgreSQL and SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/block/histclean/pkg/querybuilder"
	"github.com/block/histclean/pkg/warehouse"
)

var ErrDatasetNotFound = errors.New("dataset not found")

// Classifier maps a driver error onto the warehouse taxonomy.
type Classifier func(error) warehouse.Kind

// Warehouse runs statements on a *sql.DB. Each submitted statement runs on
// its own goroutine; the pool bounds how many execute at once.
type Warehouse struct {
	db       *sql.DB
	dialect  querybuilder.Dialect
	target   querybuilder.Target
	classify Classifier
	// validate, if set, rejects a statement before it is sent.
	validate func(string) error
	// probe counts rows naming the dataset; zero means it does not exist.
	probe  string
	logger *slog.Logger
	seq    atomic.Int64
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

type Option func(*Warehouse)

// WithValidator rejects statements that fail fn as bad requests before
// they reach the server.
func WithValidator(fn func(string) error) Option {
	return func(w *Warehouse) { w.validate = fn }
}

// WithDatasetProbe sets the query Ping uses to verify the dataset exists.
// The query takes the dataset name as its only argument and returns a count.
func WithDatasetProbe(query string) Option {
	return func(w *Warehouse) { w.probe = query }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Warehouse) { w.logger = logger }
}

// New wraps db. classify must not be nil.
func New(db *sql.DB, dialect querybuilder.Dialect, target querybuilder.Target, classify Classifier, opts ...Option) *Warehouse {
	w := &Warehouse{
		db:       db,
		dialect:  dialect,
		target:   target,
		classify: classify,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DB returns the underlying pool.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

func (w *Warehouse) wrap(table string, err error) error {
	if err == nil {
		return nil
	}
	if kind := w.classify(err); kind != warehouse.KindUnknown {
		return warehouse.NewError(kind, table, err)
	}
	return err
}

func (w *Warehouse) Submit(ctx context.Context, table, stmt string) (warehouse.Job, error) {
	if w.validate != nil {
		if err := w.validate(stmt); err != nil {
			return nil, warehouse.NewError(warehouse.KindBadRequest, table, err)
		}
	}
	execCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id:     fmt.Sprintf("%s-%d", w.dialect.Name(), w.seq.Add(1)),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	w.logger.Debug("submitting statement", "job", j.id, "table", table)
	go func() {
		defer close(j.done)
		defer cancel()
		res, err := w.execute(execCtx, stmt)
		j.result, j.err = res, w.wrap(table, err)
	}()
	return j, nil
}

// execute runs stmt to completion. SELECT statements are drained and
// their rows counted; everything else reports affected rows.
func (w *Warehouse) execute(ctx context.Context, stmt string) (*warehouse.Result, error) {
	if isQuery(stmt) {
		rows, err := w.db.QueryContext(ctx, stmt)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var n int64
		for rows.Next() {
			n++
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return &warehouse.Result{Rows: n}, nil
	}
	res, err := w.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	result := &warehouse.Result{}
	if affected, err := res.RowsAffected(); err == nil {
		result.AffectedRows = affected
		result.HasAffected = true
	}
	return result, nil
}

func isQuery(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case "select", "with":
		return true
	}
	return false
}

func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, bool, error) {
	q, err := w.dialect.CountQuery(table, w.target)
	if err != nil {
		return 0, false, err
	}
	var n int64
	if err := w.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, false, w.wrap(table, err)
	}
	return n, true, nil
}

func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", w.dialect.Name(), err)
	}
	if w.probe == "" {
		return nil
	}
	var n int
	if err := w.db.QueryRowContext(ctx, w.probe, w.target.Dataset).Scan(&n); err != nil {
		return fmt.Errorf("checking dataset %q: %w", w.target.Dataset, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrDatasetNotFound, w.target.Dataset)
	}
	return nil
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

type job struct {
	id     string
	done   chan struct{}
	cancel context.CancelFunc
	result *warehouse.Result
	err    error
}

func (j *job) ID() string {
	return j.id
}

// Wait returns the statement's result. If ctx ends first the statement is
// cancelled and ctx's error is returned.
func (j *job) Wait(ctx context.Context) (*warehouse.Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		j.cancel()
		<-j.done
		return nil, ctx.Err()
	}
}
