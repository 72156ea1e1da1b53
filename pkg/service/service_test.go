package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/pool"
	"github.com/txn2/report-engine/pkg/query"
	"github.com/txn2/report-engine/pkg/report"
)

// fakeReports serves a single canned definition.
type fakeReports struct {
	def *report.Definition
}

func (f *fakeReports) List(context.Context, bool) ([]report.Report, error) {
	return []report.Report{f.def.Report}, nil
}

func (f *fakeReports) Get(_ context.Context, id int64) (*report.Definition, error) {
	if f.def == nil || f.def.Report.ID != id {
		return nil, report.ErrNotFound
	}
	return f.def, nil
}

func (f *fakeReports) Create(context.Context, report.Spec) (int64, error) { return 1, nil }
func (f *fakeReports) Update(context.Context, int64, report.Spec) error   { return nil }
func (f *fakeReports) Delete(context.Context, int64) error                { return nil }
func (f *fakeReports) Counts(context.Context) (int, int, error)           { return 1, 0, nil }

// fakeCatalog returns fixed stats.
type fakeCatalog struct {
	catalog.Store
	stats catalog.Stats
}

func (f *fakeCatalog) Stats(context.Context) (*catalog.Stats, error) {
	return &f.stats, nil
}

// fakeConns records resolution calls. An empty driver reads as postgres.
type fakeConns struct {
	db     *sql.DB
	driver string
	err    error
	calls  int
}

func (f *fakeConns) Get(string) (*sql.DB, error) {
	f.calls++
	return f.db, f.err
}

func (f *fakeConns) Driver(string) (string, error) {
	if f.driver == "" {
		return pool.DriverPostgres, nil
	}
	return f.driver, nil
}

func testDefinition() *report.Definition {
	return &report.Definition{
		Report: report.Report{
			ID:          1,
			Name:        "Regions",
			Orientation: report.OrientationHorizontal,
			Interval:    report.IntervalAll,
			IsActive:    true,
		},
		Database: catalog.Database{ID: 1, Name: "Sales", Alias: "sales"},
		Table:    catalog.Table{ID: 1, SchemaName: "public", TableName: "orders"},
		Columns: []report.DefinitionColumn{
			{
				ReportColumn: report.ReportColumn{ColumnID: 1, Format: report.FormatText, IsVisible: true, Aggregate: report.AggregateNone},
				Column:       catalog.Column{ID: 1, ColumnName: "region", DataType: "text"},
			},
			{
				ReportColumn: report.ReportColumn{ColumnID: 2, Format: report.FormatCurrency, DisplayName: "Amount", IsVisible: true, Aggregate: report.AggregateNone},
				Column:       catalog.Column{ID: 2, ColumnName: "amount", DataType: "numeric"},
			},
		},
	}
}

func TestExecute(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "public"\."orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT "region", "amount" AS "Amount" FROM "public"\."orders" LIMIT 10 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows([]string{"region", "Amount"}).
			AddRow("west", 10.0).
			AddRow("east", 20.0).
			AddRow("north", 30.0))

	conns := &fakeConns{db: db}
	svc := New(&fakeReports{def: testDefinition()}, &fakeCatalog{}, conns, &query.Executor{}, nil)

	// Page and page size fall back to 1 and DefaultPageSize.
	result, err := svc.Execute(context.Background(), 1, 0, 0, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Count != 3 || len(result.Rows) != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if conns.calls != 1 {
		t.Errorf("expected one connection resolution, got %d", conns.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteNotFound(t *testing.T) {
	svc := New(&fakeReports{def: testDefinition()}, &fakeCatalog{}, &fakeConns{}, &query.Executor{}, nil)

	_, err := svc.Execute(context.Background(), 99, 1, 10, nil)
	if !errors.Is(err, report.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteNoVisibleColumns(t *testing.T) {
	def := testDefinition()
	for i := range def.Columns {
		def.Columns[i].IsVisible = false
	}

	conns := &fakeConns{}
	svc := New(&fakeReports{def: def}, &fakeCatalog{}, conns, &query.Executor{}, nil)

	result, err := svc.Execute(context.Background(), 1, 1, 10, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 0 || len(result.Rows) != 0 || result.Count != 0 {
		t.Errorf("expected an empty result, got %+v", result)
	}
	// The source must not be touched at all.
	if conns.calls != 0 {
		t.Errorf("expected no connection resolution, got %d", conns.calls)
	}
}

func TestExecuteNonPostgresSource(t *testing.T) {
	conns := &fakeConns{driver: pool.DriverSQLite}
	svc := New(&fakeReports{def: testDefinition()}, &fakeCatalog{}, conns, &query.Executor{}, nil)

	_, err := svc.Execute(context.Background(), 1, 1, 10, nil)
	if !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected ErrUnsupportedDialect, got %v", err)
	}
	// The refusal happens before any connection is opened.
	if conns.calls != 0 {
		t.Errorf("expected no connection resolution, got %d", conns.calls)
	}
}

func TestExecuteSourceFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(errors.New("relation does not exist"))

	svc := New(&fakeReports{def: testDefinition()}, &fakeCatalog{}, &fakeConns{db: db}, &query.Executor{}, nil)

	_, err = svc.Execute(context.Background(), 1, 1, 10, nil)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %v", err)
	}
	if execErr.Statement == "" {
		t.Error("expected the failing statement to be attached")
	}
}

func TestExportData(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	// No LIMIT or OFFSET on the export path.
	mock.ExpectQuery(`SELECT "region", "amount" AS "Amount" FROM "public"\."orders"$`).
		WillReturnRows(sqlmock.NewRows([]string{"region", "Amount"}).
			AddRow("west", 10.0).
			AddRow("east", 20.0))

	svc := New(&fakeReports{def: testDefinition()}, &fakeCatalog{}, &fakeConns{db: db}, &query.Executor{}, nil)

	export, err := svc.ExportData(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("ExportData() error = %v", err)
	}
	if export.Title != "Regions" {
		t.Errorf("unexpected title: %q", export.Title)
	}
	if !export.Landscape {
		t.Error("horizontal orientation should export landscape")
	}
	if len(export.NumericColumns) != 1 || export.NumericColumns[0] != "Amount" {
		t.Errorf("unexpected numeric columns: %v", export.NumericColumns)
	}
	if len(export.Result.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(export.Result.Rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStats(t *testing.T) {
	cat := &fakeCatalog{stats: catalog.Stats{
		Databases: 2,
		Tables:    10,
		Columns:   80,
		PerSource: []catalog.DatabaseStats{{Name: "Sales", Tables: 6, Columns: 50, Reports: 1}},
	}}
	svc := New(&fakeReports{def: testDefinition()}, cat, &fakeConns{}, &query.Executor{}, nil)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Reports != 1 || stats.Databases != 2 || len(stats.PerSource) != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
