// Package service orchestrates report execution: it loads a definition
// snapshot, compiles it, runs the compiled statements against the right
// source connection, and shapes the results for the API and export layers.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/pool"
	"github.com/txn2/report-engine/pkg/query"
	"github.com/txn2/report-engine/pkg/report"
)

// DefaultPageSize is used when the caller does not specify one.
const DefaultPageSize = 10

// ErrUnsupportedDialect is returned when a report targets a source whose SQL
// dialect compiled statements cannot run against. Non-postgres sources are
// sync and browse only.
var ErrUnsupportedDialect = errors.New("report execution requires a postgres source")

// Connections resolves live source connections by alias. *pool.Pool
// implements this.
type Connections interface {
	Get(alias string) (*sql.DB, error)
	Driver(alias string) (string, error)
}

// ExecutionError wraps a failure of a compiled statement against the live
// source. It carries the failing statement for logging; execution failures
// are never retried.
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing report query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Service is the consumer-facing report service.
type Service struct {
	reports  report.Store
	catalog  catalog.Store
	conns    Connections
	executor *query.Executor
	log      *slog.Logger
}

// New creates a report service.
func New(reports report.Store, cat catalog.Store, conns Connections, executor *query.Executor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		reports:  reports,
		catalog:  cat,
		conns:    conns,
		executor: executor,
		log:      log,
	}
}

// List returns active reports.
func (s *Service) List(ctx context.Context) ([]report.Report, error) {
	return s.reports.List(ctx, true)
}

// Get returns a report's full definition.
func (s *Service) Get(ctx context.Context, id int64) (*report.Definition, error) {
	return s.reports.Get(ctx, id)
}

// Create persists a new report definition.
func (s *Service) Create(ctx context.Context, spec report.Spec) (int64, error) {
	return s.reports.Create(ctx, spec)
}

// Update rewrites a report definition, replacing its column set.
func (s *Service) Update(ctx context.Context, id int64, spec report.Spec) error {
	return s.reports.Update(ctx, id, spec)
}

// Delete removes a report.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.reports.Delete(ctx, id)
}

// Execute runs a report for one page. Page numbers are 1-based; page and
// pageSize fall back to 1 and DefaultPageSize. A nil date range means today
// only. A report with no visible columns yields an empty result without
// touching the source.
func (s *Service) Execute(ctx context.Context, id int64, page, pageSize int, dates *query.DateRange) (*query.Result, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	limit := uint64(pageSize)
	offset := uint64(page-1) * limit
	window := query.Window{Limit: &limit, Offset: &offset}

	result, _, err := s.run(ctx, id, window, dates)
	return result, err
}

// Export holds a full, unpaginated result set plus the rendering hints the
// export collaborator needs.
type Export struct {
	Title          string        `json:"title"`
	Landscape      bool          `json:"landscape"`
	NumericColumns []string      `json:"numeric_columns"`
	Result         *query.Result `json:"result"`
}

// ExportData runs a report with no pagination window and marks the columns
// formatted as number or currency. Rendering itself happens downstream.
func (s *Service) ExportData(ctx context.Context, id int64, dates *query.DateRange) (*Export, error) {
	result, def, err := s.run(ctx, id, query.Window{}, dates)
	if err != nil {
		return nil, err
	}
	return &Export{
		Title:          def.Report.Name,
		Landscape:      def.Report.Orientation == report.OrientationHorizontal,
		NumericColumns: def.NumericColumns(),
		Result:         result,
	}, nil
}

// run is the shared execute path: snapshot load, empty-report short-circuit,
// compile, execute.
func (s *Service) run(ctx context.Context, id int64, window query.Window, dates *query.DateRange) (*query.Result, *report.Definition, error) {
	def, err := s.reports.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if len(def.VisibleColumns()) == 0 {
		return query.EmptyResult(), def, nil
	}

	driver, err := s.conns.Driver(def.Database.Alias)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving driver for report %d: %w", id, err)
	}
	if driver != pool.DriverPostgres {
		return nil, nil, fmt.Errorf("report %d on source %q (%s): %w",
			id, def.Database.Alias, driver, ErrUnsupportedDialect)
	}

	compiled, err := query.Compile(def, window, dates)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling report %d: %w", id, err)
	}

	conn, err := s.conns.Get(def.Database.Alias)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving connection for report %d: %w", id, err)
	}

	result, err := s.executor.Execute(ctx, conn, compiled)
	if err != nil {
		stmt, _, renderErr := compiled.Data.ToSQL()
		if renderErr != nil {
			stmt = "<unrenderable>"
		}
		s.log.Error("report query failed",
			"report_id", id,
			"database", def.Database.Alias,
			"statement", stmt,
			"error", err,
		)
		return nil, nil, &ExecutionError{Statement: stmt, Err: err}
	}
	return result, def, nil
}

// Stats is the dashboard summary.
type Stats struct {
	Reports             int                     `json:"reports"`
	ReportsWithInterval int                     `json:"reports_with_interval"`
	Databases           int                     `json:"databases"`
	Tables              int                     `json:"tables"`
	Columns             int                     `json:"columns"`
	PerSource           []catalog.DatabaseStats `json:"per_source"`
}

// Stats combines catalog totals with report counts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	catStats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, err
	}
	total, withInterval, err := s.reports.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Reports:             total,
		ReportsWithInterval: withInterval,
		Databases:           catStats.Databases,
		Tables:              catStats.Tables,
		Columns:             catStats.Columns,
		PerSource:           catStats.PerSource,
	}, nil
}
