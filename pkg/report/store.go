package report

import (
	"context"
	"errors"
)

// Sentinel errors returned by report stores.
var (
	// ErrNotFound is returned when a report id does not resolve.
	ErrNotFound = errors.New("report not found")

	// ErrColumnMismatch is returned when a report column references a
	// catalog column outside the report's target table.
	ErrColumnMismatch = errors.New("column does not belong to the report's table")
)

// ColumnSpec describes one column of a report being created or updated.
type ColumnSpec struct {
	ColumnID    int64     `json:"column_id"`
	Order       int       `json:"order"`
	Format      Format    `json:"format"`
	DisplayName string    `json:"display_name,omitempty"`
	IsVisible   bool      `json:"is_visible"`
	OrderBy     bool      `json:"order_by"`
	Aggregate   Aggregate `json:"aggregate"`
}

// Spec describes a report being created or updated. Updates replace the full
// column set.
type Spec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	TableID     int64        `json:"table_id"`
	Orientation Orientation  `json:"orientation"`
	Order       SortOrder    `json:"order"`
	Interval    Interval     `json:"interval"`
	Columns     []ColumnSpec `json:"columns"`
}

// Validate checks all enum fields of the spec. Column/table membership is
// checked by the store against the catalog.
func (s Spec) Validate() error {
	r := Report{
		Name:        s.Name,
		TableID:     s.TableID,
		Orientation: s.Orientation,
		Order:       s.Order,
		Interval:    s.Interval,
	}
	if err := r.Validate(); err != nil {
		return err
	}
	for _, c := range s.Columns {
		rc := ReportColumn{ColumnID: c.ColumnID, Format: c.Format, Aggregate: c.Aggregate}
		if err := rc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Store persists report definitions. Reports are user-authored and mutated
// only through this interface.
type Store interface {
	List(ctx context.Context, activeOnly bool) ([]Report, error)

	// Get returns the full definition graph for a report. Implementations
	// must read report, columns, and catalog metadata in a single snapshot.
	Get(ctx context.Context, id int64) (*Definition, error)

	Create(ctx context.Context, spec Spec) (int64, error)
	Update(ctx context.Context, id int64, spec Spec) error
	Delete(ctx context.Context, id int64) error

	// Counts returns the number of active reports and how many of those
	// group by interval, for the dashboard.
	Counts(ctx context.Context) (total, withInterval int, err error)
}
