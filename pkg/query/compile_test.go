package query

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/report"
)

// ordersDefinition builds a definition over public.orders with a timestamp
// column and a summed amount column.
func ordersDefinition(interval report.Interval) *report.Definition {
	return &report.Definition{
		Report: report.Report{
			ID:          1,
			Name:        "Hourly orders",
			Orientation: report.OrientationVertical,
			Order:       report.SortDesc,
			Interval:    interval,
			IsActive:    true,
		},
		Database: catalog.Database{ID: 1, Name: "Sales", Alias: "sales"},
		Table:    catalog.Table{ID: 1, SchemaName: "public", TableName: "orders"},
		Columns: []report.DefinitionColumn{
			{
				ReportColumn: report.ReportColumn{
					ColumnID:    10,
					Format:      report.FormatDatetime,
					DisplayName: "Order date",
					IsVisible:   true,
					Aggregate:   report.AggregateNone,
				},
				Column: catalog.Column{ID: 10, ColumnName: "order_date", DataType: "timestamp without time zone"},
			},
			{
				ReportColumn: report.ReportColumn{
					ColumnID:    11,
					Format:      report.FormatCurrency,
					DisplayName: "Amount",
					IsVisible:   true,
					Aggregate:   report.AggregateSum,
				},
				Column: catalog.Column{ID: 11, ColumnName: "amount", DataType: "numeric"},
			},
		},
	}
}

func testRange() *DateRange {
	return &DateRange{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
	}
}

func TestCompileFlat(t *testing.T) {
	c, err := Compile(ordersDefinition(report.IntervalAll), Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Grouped {
		t.Error("interval=all must not group")
	}

	sql, args, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	want := `SELECT "order_date" AS "Order date", "amount" AS "Amount" ` +
		`FROM "public"."orders" ` +
		`WHERE "order_date" >= $1::date AND "order_date" < $2::date + INTERVAL '1 day'`
	if sql != want {
		t.Errorf("data sql mismatch\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 2 || args[0] != "2025-03-01" || args[1] != "2025-03-07" {
		t.Errorf("unexpected args: %v", args)
	}

	countSQL, countArgs, err := c.Count.ToSQL()
	if err != nil {
		t.Fatalf("rendering count statement: %v", err)
	}
	wantCount := `SELECT COUNT(*) FROM "public"."orders" ` +
		`WHERE "order_date" >= $1::date AND "order_date" < $2::date + INTERVAL '1 day'`
	if countSQL != wantCount {
		t.Errorf("count sql mismatch\n got: %s\nwant: %s", countSQL, wantCount)
	}
	if len(countArgs) != 2 {
		t.Errorf("expected 2 count args, got %v", countArgs)
	}
}

func TestCompileGrouped(t *testing.T) {
	c, err := Compile(ordersDefinition(report.Interval60), Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Grouped {
		t.Fatal("interval=60 with a timestamp column must group")
	}

	sql, args, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	bucket := `DATE_TRUNC('hour', "order_date") + INTERVAL '60 min' * ` +
		`FLOOR(EXTRACT(MINUTE FROM "order_date")::int / 60)`
	want := `SELECT ` + bucket + ` AS "Order date", SUM("amount") AS "Amount" ` +
		`FROM "public"."orders" ` +
		`WHERE "order_date" >= $1::date AND "order_date" < $2::date + INTERVAL '1 day' ` +
		`GROUP BY 1 ORDER BY "Order date" DESC`
	if sql != want {
		t.Errorf("data sql mismatch\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %v", args)
	}

	countSQL, countArgs, err := c.Count.ToSQL()
	if err != nil {
		t.Fatalf("rendering count statement: %v", err)
	}
	wantCount := `SELECT COUNT(*) FROM (` + want + `) AS grouped_results`
	if countSQL != wantCount {
		t.Errorf("count sql mismatch\n got: %s\nwant: %s", countSQL, wantCount)
	}
	if len(countArgs) != 2 {
		t.Errorf("expected 2 count args, got %v", countArgs)
	}
}

func TestCompileGroupedExtraGroupingKey(t *testing.T) {
	def := ordersDefinition(report.Interval30)
	def.Columns = append(def.Columns, report.DefinitionColumn{
		ReportColumn: report.ReportColumn{
			ColumnID:  12,
			Format:    report.FormatText,
			IsVisible: true,
			Aggregate: report.AggregateNone,
		},
		Column: catalog.Column{ID: 12, ColumnName: "region", DataType: "text"},
	})

	c, err := Compile(def, Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql, _, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	// The non-aggregated region column is projected without an alias (its
	// display name equals the raw name) and becomes grouping key position 3.
	bucket := `DATE_TRUNC('hour', "order_date") + INTERVAL '30 min' * ` +
		`FLOOR(EXTRACT(MINUTE FROM "order_date")::int / 30)`
	want := `SELECT ` + bucket + ` AS "Order date", SUM("amount") AS "Amount", "region" ` +
		`FROM "public"."orders" ` +
		`WHERE "order_date" >= $1::date AND "order_date" < $2::date + INTERVAL '1 day' ` +
		`GROUP BY 1, 3 ORDER BY "Order date" DESC`
	if sql != want {
		t.Errorf("data sql mismatch\n got: %s\nwant: %s", sql, want)
	}
}

func TestCompilePaginationOnDataOnly(t *testing.T) {
	limit, offset := uint64(10), uint64(20)
	c, err := Compile(ordersDefinition(report.Interval60), Window{Limit: &limit, Offset: &offset}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dataSQL, _, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	if want := " LIMIT 10 OFFSET 20"; !strings.HasSuffix(dataSQL, want) {
		t.Errorf("data statement missing pagination: %s", dataSQL)
	}

	countSQL, _, err := c.Count.ToSQL()
	if err != nil {
		t.Fatalf("rendering count statement: %v", err)
	}
	for _, kw := range []string{"LIMIT", "OFFSET"} {
		if strings.Contains(countSQL, kw) {
			t.Errorf("count statement must not paginate: %s", countSQL)
		}
	}
}

func TestCompileNoVisibleColumns(t *testing.T) {
	def := ordersDefinition(report.IntervalAll)
	for i := range def.Columns {
		def.Columns[i].IsVisible = false
	}

	if _, err := Compile(def, Window{}, nil); !errors.Is(err, ErrNoVisibleColumns) {
		t.Errorf("expected ErrNoVisibleColumns, got %v", err)
	}
}

func TestCompileNoIntervalColumn(t *testing.T) {
	def := ordersDefinition(report.Interval60)
	def.Columns = def.Columns[1:] // drop the timestamp column

	c, err := Compile(def, Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Grouped {
		t.Error("grouping requires an interval column")
	}

	sql, args, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	// No interval column means no date filtering, even with a range supplied.
	if strings.Contains(sql, "WHERE") {
		t.Errorf("unexpected WHERE clause: %s", sql)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestCompileInvisibleTimestampIgnored(t *testing.T) {
	def := ordersDefinition(report.Interval60)
	def.Columns[0].IsVisible = false

	c, err := Compile(def, Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Grouped {
		t.Error("invisible timestamp column must not drive grouping")
	}
}

func TestCompileDefaultDateRangeIsToday(t *testing.T) {
	c, err := Compile(ordersDefinition(report.IntervalAll), Window{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, args, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	today := time.Now().Format("2006-01-02")
	if len(args) != 2 || args[0] != today || args[1] != today {
		t.Errorf("expected both bounds %q, got %v", today, args)
	}
}

func TestCompileFlatSortColumn(t *testing.T) {
	def := ordersDefinition(report.IntervalAll)
	def.Columns[1].OrderBy = true

	c, err := Compile(def, Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql, _, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	if want := `ORDER BY "amount" DESC`; !strings.Contains(sql, want) {
		t.Errorf("expected %q in %s", want, sql)
	}
}

func TestCompileGroupedIgnoresSortColumn(t *testing.T) {
	def := ordersDefinition(report.Interval60)
	def.Columns[1].OrderBy = true
	def.Report.Order = report.SortAsc

	c, err := Compile(def, Window{}, testRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql, _, err := c.Data.ToSQL()
	if err != nil {
		t.Fatalf("rendering data statement: %v", err)
	}
	if want := `ORDER BY "Order date" ASC`; !strings.Contains(sql, want) {
		t.Errorf("grouped path must sort by the bucket alias, got %s", sql)
	}
}

