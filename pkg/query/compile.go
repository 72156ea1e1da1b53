package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/txn2/report-engine/pkg/report"
)

// ErrNoVisibleColumns is returned when a report has nothing to select.
// Callers are expected to short-circuit to an empty result before compiling;
// the compiler still refuses rather than emitting an empty SELECT list.
var ErrNoVisibleColumns = errors.New("report has no visible columns")

// DateRange bounds the interval column by calendar dates: inclusive lower
// bound at Start, exclusive upper bound at the start of the day after End.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Today returns the default date range covering only the current date.
func Today() DateRange {
	now := time.Now()
	return DateRange{Start: now, End: now}
}

// Window is the pagination window. Nil fields are omitted from the statement,
// which yields the full result set used for export.
type Window struct {
	Limit  *uint64
	Offset *uint64
}

// Compiled holds the two statements produced for one report execution.
type Compiled struct {
	Count Statement
	Data  Statement
	// Grouped is true when the data statement buckets by interval, in which
	// case Count counts distinct buckets rather than raw source rows.
	Grouped bool
}

// Compile turns a report definition into a count statement and a data
// statement. It is a pure function over the definition snapshot and assumes
// the definition was validated at save time.
//
// Grouping is active iff an interval column exists and the report's interval
// is not "all". Without an interval column, both interval grouping and date
// filtering are skipped regardless of configuration.
//
// The emitted SQL targets the PostgreSQL dialect (time bucketing and date
// casts); statements must not run against other source kinds, which the
// catalog carries for sync and browsing only.
func Compile(def *report.Definition, window Window, dates *DateRange) (*Compiled, error) {
	visible := def.VisibleColumns()
	if len(visible) == 0 {
		return nil, ErrNoVisibleColumns
	}

	from := TableRef{Schema: def.Table.SchemaName, Table: def.Table.TableName}
	interval := def.IntervalColumn()
	where := dateFilter(interval, dates)

	minutes, bucketed := def.Report.Interval.Minutes()
	var c *Compiled
	if interval != nil && bucketed {
		c = compileGrouped(def, visible, interval, minutes, from, where)
	} else {
		c = compileFlat(def, visible, from, where)
	}

	// Pagination goes on the data statement only; the count statement always
	// sees the full result.
	c.Data.Limit = window.Limit
	c.Data.Offset = window.Offset
	return c, nil
}

// dateFilter builds the WHERE predicates for the date range. Bounds are bound
// as parameters; the boundary semantics are >= start and < end + 1 day.
func dateFilter(interval *report.DefinitionColumn, dates *DateRange) []Predicate {
	if interval == nil {
		return nil
	}
	r := Today()
	if dates != nil {
		r = *dates
	}
	col := QuoteIdent(interval.Column.ColumnName)
	return []Predicate{
		{Expr: col + " >= ?::date", Args: []any{r.Start.Format("2006-01-02")}},
		{Expr: col + " < ?::date + INTERVAL '1 day'", Args: []any{r.End.Format("2006-01-02")}},
	}
}

// compileFlat builds the ungrouped path: the visible columns in persisted
// order, ordered by the flagged sort column when one exists.
func compileFlat(def *report.Definition, visible []report.DefinitionColumn, from TableRef, where []Predicate) *Compiled {
	selects := make([]SelectItem, 0, len(visible))
	for _, dc := range visible {
		selects = append(selects, columnItem(dc))
	}

	data := Statement{Selects: selects, From: from, Where: where}
	if sc := def.SortColumn(); sc != nil && def.Report.Order != "" {
		data.OrderBy = &Ordering{
			Expr: QuoteIdent(sc.Column.ColumnName),
			Desc: def.Report.Order == report.SortDesc,
		}
	}

	count := Statement{
		Selects: []SelectItem{{Expr: "COUNT(*)"}},
		From:    from,
		Where:   where,
	}
	return &Compiled{Count: count, Data: data}
}

// compileGrouped builds the interval path: the bucket expression at position
// 1, aggregates for configured columns, and every other visible column as an
// additional grouping key. A non-aggregated column in a grouped query is
// always also a grouping key, never a bare projection.
func compileGrouped(def *report.Definition, visible []report.DefinitionColumn, interval *report.DefinitionColumn, minutes int, from TableRef, where []Predicate) *Compiled {
	bucketAlias := interval.EffectiveName()
	selects := []SelectItem{{Expr: bucketExpr(interval.Column.ColumnName, minutes), Alias: bucketAlias}}
	groupBy := []int{1}

	position := 2
	for _, dc := range visible {
		if dc.ColumnID == interval.ColumnID {
			continue // already emitted as the bucket
		}
		if dc.Aggregate != report.AggregateNone {
			selects = append(selects, SelectItem{
				Expr:  strings.ToUpper(string(dc.Aggregate)) + "(" + QuoteIdent(dc.Column.ColumnName) + ")",
				Alias: dc.EffectiveName(),
			})
		} else {
			selects = append(selects, columnItem(dc))
			groupBy = append(groupBy, position)
		}
		position++
	}

	data := Statement{
		Selects:          selects,
		From:             from,
		Where:            where,
		GroupByPositions: groupBy,
	}
	// The grouped path always sorts by the bucket alias, ignoring any
	// explicitly flagged sort column.
	if def.Report.Order != "" {
		data.OrderBy = &Ordering{
			Expr: QuoteIdent(bucketAlias),
			Desc: def.Report.Order == report.SortDesc,
		}
	}

	inner := data
	count := Statement{
		Selects:    []SelectItem{{Expr: "COUNT(*)"}},
		FromSelect: &inner,
		FromAlias:  "grouped_results",
	}
	return &Compiled{Count: count, Data: data, Grouped: true}
}

// bucketExpr truncates a timestamp column to the hour and adds whole bucket
// widths, producing fixed-size buckets aligned to the hour.
func bucketExpr(column string, minutes int) string {
	col := QuoteIdent(column)
	return fmt.Sprintf(
		"DATE_TRUNC('hour', %s) + INTERVAL '%d min' * FLOOR(EXTRACT(MINUTE FROM %s)::int / %d)",
		col, minutes, col, minutes,
	)
}

// columnItem projects a plain column, aliasing it to its display name unless
// the alias equals the raw name.
func columnItem(dc report.DefinitionColumn) SelectItem {
	item := SelectItem{Expr: QuoteIdent(dc.Column.ColumnName)}
	if name := dc.EffectiveName(); name != dc.Column.ColumnName {
		item.Alias = name
	}
	return item
}
