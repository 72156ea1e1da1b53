// Package report defines saved report definitions: a named projection over a
// single catalog table, with per-column format, aggregate, and ordering
// choices, and an optional time-bucketing interval.
package report

import (
	"fmt"
	"time"

	"github.com/txn2/report-engine/pkg/catalog"
)

// Orientation affects only downstream rendering.
type Orientation string

// Orientation values.
const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
)

// Valid reports whether the orientation is a known value.
func (o Orientation) Valid() bool {
	return o == OrientationVertical || o == OrientationHorizontal
}

// SortOrder is the report's default sort direction.
type SortOrder string

// SortOrder values. Empty means no ordering.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Valid reports whether the sort order is a known value. Empty is allowed.
func (s SortOrder) Valid() bool {
	return s == "" || s == SortAsc || s == SortDesc
}

// Interval is the time-bucketing interval in minutes, or "all" for none.
type Interval string

// Interval values.
const (
	IntervalAll Interval = "all"
	Interval5   Interval = "5"
	Interval10  Interval = "10"
	Interval15  Interval = "15"
	Interval30  Interval = "30"
	Interval60  Interval = "60"
)

// Valid reports whether the interval is a known value.
func (i Interval) Valid() bool {
	_, ok := i.Minutes()
	return ok || i == IntervalAll
}

// Minutes returns the bucket width. ok is false for IntervalAll and unknown
// values.
func (i Interval) Minutes() (int, bool) {
	switch i {
	case Interval5:
		return 5, true
	case Interval10:
		return 10, true
	case Interval15:
		return 15, true
	case Interval30:
		return 30, true
	case Interval60:
		return 60, true
	default:
		return 0, false
	}
}

// Format is a rendering hint for a report column.
type Format string

// Format values.
const (
	FormatText     Format = "text"
	FormatNumber   Format = "number"
	FormatDate     Format = "date"
	FormatDatetime Format = "datetime"
	FormatBoolean  Format = "boolean"
	FormatCurrency Format = "currency"
)

// Valid reports whether the format is a known value.
func (f Format) Valid() bool {
	switch f {
	case FormatText, FormatNumber, FormatDate, FormatDatetime, FormatBoolean, FormatCurrency:
		return true
	}
	return false
}

// IsNumeric reports whether values in this format are numeric for display
// purposes (number or currency).
func (f Format) IsNumeric() bool {
	return f == FormatNumber || f == FormatCurrency
}

// Aggregate is the function applied to a column when the report groups by
// interval.
type Aggregate string

// Aggregate values. AggregateNone means the column becomes a grouping key.
const (
	AggregateNone  Aggregate = "none"
	AggregateSum   Aggregate = "sum"
	AggregateAvg   Aggregate = "avg"
	AggregateMin   Aggregate = "min"
	AggregateMax   Aggregate = "max"
	AggregateCount Aggregate = "count"
)

// Valid reports whether the aggregate is a known value.
func (a Aggregate) Valid() bool {
	switch a {
	case AggregateNone, AggregateSum, AggregateAvg, AggregateMin, AggregateMax, AggregateCount:
		return true
	}
	return false
}

// Report is a saved report definition targeting exactly one catalog table.
type Report struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	TableID     int64       `json:"table_id"`
	Orientation Orientation `json:"orientation"`
	Order       SortOrder   `json:"order"`
	Interval    Interval    `json:"interval"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the report's enum fields at the model boundary so the
// compiler can assume a well-formed definition.
func (r Report) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("report name is required")
	}
	if !r.Orientation.Valid() {
		return fmt.Errorf("invalid orientation %q", r.Orientation)
	}
	if !r.Order.Valid() {
		return fmt.Errorf("invalid sort order %q", r.Order)
	}
	if !r.Interval.Valid() {
		return fmt.Errorf("invalid interval %q", r.Interval)
	}
	return nil
}

// ReportColumn orders one catalog column into one report.
type ReportColumn struct {
	ID          int64     `json:"id"`
	ReportID    int64     `json:"report_id"`
	ColumnID    int64     `json:"column_id"`
	Order       int       `json:"order"`
	Format      Format    `json:"format"`
	DisplayName string    `json:"display_name,omitempty"`
	IsVisible   bool      `json:"is_visible"`
	OrderBy     bool      `json:"order_by"`
	Aggregate   Aggregate `json:"aggregate"`
}

// Validate checks the column's enum fields.
func (rc ReportColumn) Validate() error {
	if !rc.Format.Valid() {
		return fmt.Errorf("invalid format %q", rc.Format)
	}
	if !rc.Aggregate.Valid() {
		return fmt.Errorf("invalid aggregate %q", rc.Aggregate)
	}
	return nil
}

// DefinitionColumn joins a ReportColumn with its catalog column metadata.
type DefinitionColumn struct {
	ReportColumn
	Column catalog.Column `json:"column"`
}

// EffectiveName returns the configured display name, falling back to the
// underlying column name.
func (dc DefinitionColumn) EffectiveName() string {
	if dc.DisplayName != "" {
		return dc.DisplayName
	}
	return dc.Column.ColumnName
}

// Definition is a snapshot of a report joined with its columns and the
// catalog metadata the compiler needs. Stores must read the whole graph in
// one snapshot so a concurrent edit cannot split compile and execute across
// two versions.
type Definition struct {
	Report   Report           `json:"report"`
	Database catalog.Database `json:"database"`
	Table    catalog.Table    `json:"table"`
	// Columns holds all report columns in persisted order, visible or not.
	Columns []DefinitionColumn `json:"columns"`
}

// VisibleColumns returns the visible columns in persisted order.
func (d *Definition) VisibleColumns() []DefinitionColumn {
	visible := make([]DefinitionColumn, 0, len(d.Columns))
	for _, dc := range d.Columns {
		if dc.IsVisible {
			visible = append(visible, dc)
		}
	}
	return visible
}

// SortColumn returns the first column flagged as the sort target, or nil.
func (d *Definition) SortColumn() *DefinitionColumn {
	for i := range d.Columns {
		if d.Columns[i].OrderBy {
			return &d.Columns[i]
		}
	}
	return nil
}

// IntervalColumn returns the first visible column whose declared type is a
// timestamp, or nil. It is used both for date-range filtering and, when the
// report groups by interval, as the bucketing axis. With multiple timestamp
// columns the first match in persisted order wins.
func (d *Definition) IntervalColumn() *DefinitionColumn {
	for i := range d.Columns {
		if d.Columns[i].IsVisible && d.Columns[i].Column.IsTimestamp() {
			return &d.Columns[i]
		}
	}
	return nil
}

// NumericColumns returns the display names of columns formatted as number or
// currency, used downstream for export formatting.
func (d *Definition) NumericColumns() []string {
	var names []string
	for _, dc := range d.Columns {
		if dc.Format.IsNumeric() {
			names = append(names, dc.EffectiveName())
		}
	}
	return names
}
