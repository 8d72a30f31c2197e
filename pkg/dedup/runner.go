package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/block/histclean/pkg/check"
	"github.com/block/histclean/pkg/config"
	"github.com/block/histclean/pkg/metrics"
	"github.com/block/histclean/pkg/querybuilder"
	"github.com/block/histclean/pkg/status"
	"github.com/block/histclean/pkg/utils"
	"github.com/block/histclean/pkg/warehouse"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultThreads    = 8
	DefaultJobTimeout = 30 * time.Minute
)

var ErrUnclassifiedFailures = errors.New("some tables failed with unclassified errors")

// ConfirmFunc decides whether the delete query for table may be submitted.
// An error aborts the run before anything is submitted.
type ConfirmFunc func(ctx context.Context, table, query string) (bool, error)

// Options control a Runner.
type Options struct {
	Mode       Mode
	Target     querybuilder.Target
	Threads    int           // concurrent submissions
	JobTimeout time.Duration // per job, measured from the start of the wait
	DryRun     bool          // print queries, submit nothing
}

// Outcome is the terminal result of one table's operation.
type Outcome struct {
	Table string
	State status.State
	Kind  warehouse.Kind // only meaningful when State is Failed
	Line  string
	// Rows is the duplicate count for check and the deleted count for delete.
	Rows int64
	Err  error
}

type Runner struct {
	wh          warehouse.Warehouse
	dialect     querybuilder.Dialect
	tables      []config.TableSpec
	opts        Options
	confirm     ConfirmFunc
	out         io.Writer
	logger      *slog.Logger
	metricsSink metrics.Sink
}

// task carries one table through plan and commit.
type task struct {
	spec     config.TableSpec
	label    string
	query    string
	state    status.State
	before   int64
	beforeOK bool
	after    int64
	afterOK  bool
	job      warehouse.Job
	result   *warehouse.Result
	err      error
}

func NewRunner(wh warehouse.Warehouse, dialect querybuilder.Dialect, tables []config.TableSpec, opts Options) (*Runner, error) {
	if dialect == nil {
		return nil, errors.New("a query dialect is required")
	}
	if wh == nil && !opts.DryRun {
		return nil, errors.New("a warehouse is required unless --dry-run is set")
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables to process", config.ErrInvalidConfig)
	}
	if opts.Threads <= 0 {
		opts.Threads = DefaultThreads
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	return &Runner{
		wh:          wh,
		dialect:     dialect,
		tables:      tables,
		opts:        opts,
		confirm:     declineAll,
		out:         os.Stdout,
		logger:      slog.Default(),
		metricsSink: &metrics.NoopSink{},
	}, nil
}

func (r *Runner) SetMetricsSink(sink metrics.Sink) {
	r.metricsSink = sink
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// SetConfirm installs the decision function consulted before each delete.
// The default declines everything.
func (r *Runner) SetConfirm(fn ConfirmFunc) {
	r.confirm = fn
}

// SetOutput redirects the operator-facing report, which defaults to stdout.
func (r *Runner) SetOutput(w io.Writer) {
	r.out = w
}

func declineAll(context.Context, string, string) (bool, error) {
	return false, nil
}

// Run applies the mode to every table and returns one Outcome per table in
// table order. Configuration and preflight problems abort the run before
// anything is submitted. Per-table failures do not; the returned error is
// non-nil only if some table failed in a way that could not be classified.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	if err := check.RunChecks(ctx, check.Resources{Tables: r.tables}, r.logger, check.ScopeConfig); err != nil {
		return nil, err
	}
	tasks, err := r.plan()
	if err != nil {
		return nil, err
	}
	if r.opts.DryRun {
		r.printPlan(tasks)
		return nil, nil
	}
	if err := check.RunChecks(ctx, check.Resources{Warehouse: r.wh, Tables: r.tables}, r.logger, check.ScopePreflight); err != nil {
		return nil, err
	}
	fmt.Fprintln(r.out, r.opts.Mode.header())
	if r.opts.Mode == ModeDelete {
		if err := r.confirmDeletes(ctx, tasks); err != nil {
			return nil, err
		}
	}
	pending := make([]*task, 0, len(tasks))
	for _, t := range tasks {
		if t.state.Get() == status.Planned {
			pending = append(pending, t)
		}
	}
	r.submit(ctx, pending)
	r.gather(ctx, pending)

	outcomes := make([]Outcome, 0, len(tasks))
	var unclassified []error
	for _, t := range tasks {
		o := r.outcome(t)
		fmt.Fprintln(r.out, o.Line)
		if o.State == status.Failed && o.Kind == warehouse.KindUnknown {
			unclassified = append(unclassified, o.Err)
		}
		outcomes = append(outcomes, o)
	}
	if err := r.sendMetrics(ctx, outcomes); err != nil {
		r.logger.Error("failed to send metrics", "error", err)
	}
	if len(unclassified) > 0 {
		return outcomes, fmt.Errorf("%w: %w", ErrUnclassifiedFailures, errors.Join(unclassified...))
	}
	return outcomes, nil
}

// plan renders every query up front, so a bad identifier in any table
// aborts the run before the first submission.
func (r *Runner) plan() ([]*task, error) {
	tasks := make([]*task, 0, len(r.tables))
	for _, spec := range r.tables {
		query, err := r.opts.Mode.query(r.dialect, spec, r.opts.Target)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", spec.Name, err)
		}
		tasks = append(tasks, &task{
			spec:  spec,
			label: r.opts.Mode.label(spec.Name),
			query: query,
		})
	}
	return tasks, nil
}

func (r *Runner) printPlan(tasks []*task) {
	for _, t := range tasks {
		fmt.Fprintf(r.out, "-- %s (%s)\n%s;\n\n", t.spec.Name, r.opts.Mode, t.query)
	}
}

// confirmDeletes takes the before row count of every table, shows the
// operator each delete query and records the decision. Tables that are
// missing are marked failed here and never prompted for.
func (r *Runner) confirmDeletes(ctx context.Context, tasks []*task) error {
	for _, t := range tasks {
		n, ok, err := r.wh.RowCount(ctx, t.spec.Name)
		if err != nil {
			if warehouse.KindOf(err) == warehouse.KindNotFound {
				t.err = err
				t.state.Set(status.Failed)
				continue
			}
			r.logger.Warn("row count unavailable before delete", "table", t.spec.Name, "error", err)
		}
		t.before, t.beforeOK = n, ok && err == nil
		fmt.Fprintln(r.out, t.query)
		yes, err := r.confirm(ctx, t.spec.Name, t.query)
		if err != nil {
			return fmt.Errorf("confirming delete on %s: %w", t.spec.Name, err)
		}
		if !yes {
			r.logger.Info("delete declined", "table", t.spec.Name)
			t.state.Set(status.Declined)
		}
	}
	return nil
}

// submit sends every pending statement before any result is awaited.
func (r *Runner) submit(ctx context.Context, pending []*task) {
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Threads)
	for _, t := range pending {
		g.Go(func() error {
			job, err := r.wh.Submit(ctx, t.spec.Name, t.query)
			if err != nil {
				t.err = err
				t.state.Set(status.Failed)
				return nil
			}
			t.job = job
			t.state.Set(status.Submitted)
			r.logger.Debug("job submitted", "table", t.spec.Name, "job", job.ID())
			return nil
		})
	}
	_ = g.Wait() // failures are recorded per task
}

// gather waits for every submitted job, each under its own timeout.
func (r *Runner) gather(ctx context.Context, pending []*task) {
	g := new(errgroup.Group)
	for _, t := range pending {
		if t.job == nil {
			continue
		}
		g.Go(func() error {
			waitCtx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
			defer cancel()
			start := time.Now()
			res, err := t.job.Wait(waitCtx)
			if err != nil {
				t.err = err
				t.state.Set(status.Failed)
				r.logger.Debug("job failed", "table", t.spec.Name, "job", t.job.ID(), "error", err)
				return nil
			}
			t.result = res
			if r.opts.Mode == ModeDelete {
				n, ok, err := r.wh.RowCount(ctx, t.spec.Name)
				if err != nil {
					r.logger.Warn("row count unavailable after delete", "table", t.spec.Name, "error", err)
				}
				t.after, t.afterOK = n, ok && err == nil
			}
			t.state.Set(status.Succeeded)
			r.logger.Debug("job done", "table", t.spec.Name, "job", t.job.ID(), "elapsed", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) outcome(t *task) Outcome {
	o := Outcome{Table: t.spec.Name, State: t.state.Get(), Err: t.err}
	var msg string
	switch o.State {
	case status.Declined:
		msg = "skipped"
	case status.Succeeded:
		msg, o.Rows = r.successMessage(t)
	case status.Failed:
		o.Kind = warehouse.KindOf(t.err)
		msg = r.failureMessage(o.Kind, t.err)
		if o.Kind == warehouse.KindUnknown {
			r.logger.Error("table failed", "table", t.spec.Name, "error", t.err)
		}
	default:
		// Unreachable unless a job was lost between submit and gather.
		o.State = status.Failed
		o.Err = fmt.Errorf("table %s ended in state %s", t.spec.Name, t.state.Get())
		msg = "failed: " + o.Err.Error()
	}
	o.Line = fmt.Sprintf("  %s... %s", t.label, msg)
	return o
}

func (r *Runner) successMessage(t *task) (string, int64) {
	switch r.opts.Mode {
	case ModeBackup:
		return "backed up", 0
	case ModeDeleteBackup:
		return "deleted", 0
	case ModeDelete:
		n := deletedRows(t)
		return fmt.Sprintf("updated, deleted %d rows", n), n
	}
	if t.result.Rows > 0 {
		return fmt.Sprintf("has %d duplicates", t.result.Rows), t.result.Rows
	}
	return "has no duplicates", 0
}

// deletedRows prefers the table row count delta, then the affected rows
// reported for the statement, then the size of its result set. The delta
// includes any concurrent writes between the two counts.
func deletedRows(t *task) int64 {
	if t.beforeOK && t.afterOK && t.before >= t.after {
		return t.before - t.after
	}
	if t.result.HasAffected {
		return t.result.AffectedRows
	}
	return t.result.Rows
}

func (r *Runner) failureMessage(kind warehouse.Kind, err error) string {
	switch kind {
	case warehouse.KindNotFound:
		return "is not present"
	case warehouse.KindConflict:
		if r.opts.Mode == ModeBackup {
			return "is already backed up"
		}
		return trailingLine(err)
	case warehouse.KindBadRequest:
		return trailingLine(err)
	case warehouse.KindTimeout:
		return fmt.Sprintf("timed out after %s", r.opts.JobTimeout)
	}
	return "failed: " + trailingLine(err)
}

// trailingLine is the last line of the warehouse's own message for err.
func trailingLine(err error) string {
	if err == nil {
		return ""
	}
	var werr *warehouse.Error
	if errors.As(err, &werr) && werr.Message != "" {
		return utils.LastLine(werr.Message)
	}
	return utils.LastLine(err.Error())
}

func (r *Runner) sendMetrics(ctx context.Context, outcomes []Outcome) error {
	var duplicates, deleted, failures, missing int64
	for _, o := range outcomes {
		switch {
		case o.State == status.Failed && o.Kind == warehouse.KindNotFound:
			missing++
		case o.State == status.Failed && !(o.Kind == warehouse.KindConflict && r.opts.Mode == ModeBackup):
			failures++
		case o.State == status.Succeeded && r.opts.Mode == ModeCheck:
			duplicates += o.Rows
		case o.State == status.Succeeded && r.opts.Mode == ModeDelete:
			deleted += o.Rows
		}
	}
	m := &metrics.Metrics{
		Values: []metrics.MetricValue{
			{Name: metrics.TablesTotalMetricName, Type: metrics.GAUGE, Value: float64(len(outcomes))},
			{Name: metrics.TableFailuresMetricName, Type: metrics.GAUGE, Value: float64(failures)},
			{Name: metrics.TablesNotPresentMetricName, Type: metrics.GAUGE, Value: float64(missing)},
		},
	}
	switch r.opts.Mode {
	case ModeCheck:
		m.Values = append(m.Values, metrics.MetricValue{Name: metrics.DuplicateRowsMetricName, Type: metrics.GAUGE, Value: float64(duplicates)})
	case ModeDelete:
		m.Values = append(m.Values, metrics.MetricValue{Name: metrics.DeletedRowsMetricName, Type: metrics.COUNTER, Value: float64(deleted)})
	}

	// The run context may already be cancelled; metrics about a partial
	// run are still worth sending.
	contextWithTimeout, cancel := context.WithTimeout(context.WithoutCancel(ctx), metrics.SinkTimeout)
	defer cancel()

	return r.metricsSink.Send(contextWithTimeout, m)
}
