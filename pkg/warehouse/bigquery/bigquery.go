// Package bigquery implements warehouse.Warehouse with the BigQuery jobs API.
// Every statement becomes a query job labelled with the run id, so a
// batch can be found in the job history afterwards.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/block/histclean/pkg/warehouse"
)

const (
	jobIDPrefix   = "histclean_"
	maxLabelValue = 63
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")

	labelValueRegexp = regexp.MustCompile(`[^a-z0-9_-]`)
)

type Config struct {
	Project  string
	Dataset  string
	Location string // optional; jobs run in the dataset's location when empty
	RunID    string // attached to every job as the run_id label
}

type Warehouse struct {
	client *bigquery.Client
	cfg    Config
	logger *slog.Logger
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// New creates a client using Application Default Credentials unless opts
// say otherwise.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Warehouse, error) {
	if cfg.Project == "" {
		return nil, errors.New("project is required")
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{client: client, cfg: cfg, logger: logger}, nil
}

func (w *Warehouse) Submit(ctx context.Context, table, stmt string) (warehouse.Job, error) {
	q := w.client.Query(stmt)
	q.JobID = jobIDPrefix + labelValue(table)
	q.AddJobIDSuffix = true
	q.Labels = map[string]string{
		"tool":  "histclean",
		"table": labelValue(table),
	}
	if w.cfg.RunID != "" {
		q.Labels["run_id"] = labelValue(w.cfg.RunID)
	}
	job, err := q.Run(ctx)
	if err != nil {
		return nil, classify(table, err)
	}
	w.logger.Debug("submitted query job", "job", job.ID(), "table", table, "location", job.Location())
	return &queryJob{job: job, table: table, logger: w.logger}, nil
}

// RowCount reads the table metadata. The count is reported as unavailable
// while rows sit in the streaming buffer, since NumRows excludes them.
func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, bool, error) {
	md, err := w.client.DatasetInProject(w.cfg.Project, w.cfg.Dataset).Table(table).Metadata(ctx)
	if err != nil {
		return 0, false, classify(table, err)
	}
	if md.StreamingBuffer != nil {
		return int64(md.NumRows), false, nil
	}
	return int64(md.NumRows), true, nil
}

// Ping fetches the dataset metadata, which fails on bad credentials,
// missing permissions and a missing dataset alike.
func (w *Warehouse) Ping(ctx context.Context) error {
	_, err := w.client.DatasetInProject(w.cfg.Project, w.cfg.Dataset).Metadata(ctx)
	if err == nil {
		return nil
	}
	if classifyKind(err) == warehouse.KindNotFound {
		return fmt.Errorf("%w: %s.%s", ErrDatasetNotFound, w.cfg.Project, w.cfg.Dataset)
	}
	return fmt.Errorf("reading dataset %s.%s: %w", w.cfg.Project, w.cfg.Dataset, err)
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

type queryJob struct {
	job    *bigquery.Job
	table  string
	logger *slog.Logger
}

func (j *queryJob) ID() string {
	return j.job.ID()
}

// Wait polls the job until it is done. If ctx ends first the job is
// cancelled on the server so it does not keep running unattended.
func (j *queryJob) Wait(ctx context.Context) (*warehouse.Result, error) {
	status, err := j.job.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			j.cancel()
			return nil, ctx.Err()
		}
		return nil, classify(j.table, err)
	}
	if err := status.Err(); err != nil {
		return nil, classify(j.table, err)
	}
	result := &warehouse.Result{}
	qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return result, nil
	}
	if qs.StatementType != "SELECT" {
		if qs.StatementType == "DELETE" || qs.StatementType == "UPDATE" || qs.StatementType == "INSERT" || qs.StatementType == "MERGE" {
			result.AffectedRows = qs.NumDMLAffectedRows
			result.HasAffected = true
		}
		return result, nil
	}
	it, err := j.job.Read(ctx)
	if err != nil {
		return nil, classify(j.table, err)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return result, nil
		}
		return nil, classify(j.table, err)
	}
	// TotalRows is populated once the first page has been fetched.
	result.Rows = int64(it.TotalRows)
	return result, nil
}

func (j *queryJob) cancel() {
	// The caller's context is already done.
	if err := j.job.Cancel(context.Background()); err != nil {
		j.logger.Warn("could not cancel query job", "job", j.job.ID(), "table", j.table, "error", err)
	}
}

// labelValue coerces s into the character set BigQuery allows in label
// values and job ids.
func labelValue(s string) string {
	s = labelValueRegexp.ReplaceAllString(strings.ToLower(s), "_")
	if len(s) > maxLabelValue {
		s = s[:maxLabelValue]
	}
	return s
}

func classifyKind(err error) warehouse.Kind {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case 404:
			return warehouse.KindNotFound
		case 400:
			return warehouse.KindBadRequest
		case 409:
			return warehouse.KindConflict
		}
	}
	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) {
		switch bqErr.Reason {
		case "notFound":
			return warehouse.KindNotFound
		case "invalidQuery", "invalid":
			return warehouse.KindBadRequest
		case "duplicate":
			return warehouse.KindConflict
		}
	}
	return warehouse.KindUnknown
}

// classify wraps err as a warehouse error, keeping BigQuery's own message.
func classify(table string, err error) error {
	kind := classifyKind(err)
	if kind == warehouse.KindUnknown {
		return err
	}
	werr := warehouse.NewError(kind, table, err)
	var gErr *googleapi.Error
	var bqErr *bigquery.Error
	switch {
	case errors.As(err, &bqErr) && bqErr.Message != "":
		werr.Message = bqErr.Message
	case errors.As(err, &gErr) && gErr.Message != "":
		werr.Message = gErr.Message
	}
	return werr
}
