// Package postgres provides PostgreSQL storage for report definitions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/report-engine/pkg/report"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var reportColumns = []string{
	"id", "name", "description", "table_id", "orientation", "sort_order",
	"bucket_interval", "is_active", "created_at", "updated_at",
}

// Store implements report.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new report store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns reports ordered by name.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]report.Report, error) {
	qb := psq.Select(reportColumns...).From("reports").OrderBy("name")
	if activeOnly {
		qb = qb.Where(sq.Eq{"is_active": true})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building report query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []report.Report
	for rows.Next() {
		var r report.Report
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.TableID, &r.Orientation,
			&r.Order, &r.Interval, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return reports, nil
}

// Get returns the full definition graph for a report. The report, its target
// table and database, and all report columns are read inside one repeatable-
// read transaction so a concurrent edit cannot produce a half-updated
// snapshot.
func (s *Store) Get(ctx context.Context, id int64) (*report.Definition, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	def := &report.Definition{}
	err = tx.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.description, r.table_id, r.orientation, r.sort_order,
			r.bucket_interval, r.is_active, r.created_at, r.updated_at,
			t.id, t.database_id, t.schema_name, t.table_name, t.table_type,
			t.row_count, t.is_active, t.created_at, t.updated_at,
			d.id, d.name, d.alias, d.description, d.is_active, d.created_at, d.updated_at
		FROM reports r
		JOIN tables t ON t.id = r.table_id
		JOIN databases d ON d.id = t.database_id
		WHERE r.id = $1`, id,
	).Scan(
		&def.Report.ID, &def.Report.Name, &def.Report.Description, &def.Report.TableID,
		&def.Report.Orientation, &def.Report.Order, &def.Report.Interval,
		&def.Report.IsActive, &def.Report.CreatedAt, &def.Report.UpdatedAt,
		&def.Table.ID, &def.Table.DatabaseID, &def.Table.SchemaName, &def.Table.TableName,
		&def.Table.TableType, &def.Table.RowCount, &def.Table.IsActive,
		&def.Table.CreatedAt, &def.Table.UpdatedAt,
		&def.Database.ID, &def.Database.Name, &def.Database.Alias, &def.Database.Description,
		&def.Database.IsActive, &def.Database.CreatedAt, &def.Database.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, report.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading report %d: %w", id, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT rc.id, rc.report_id, rc.column_id, rc.display_order, rc.format,
			rc.display_name, rc.is_visible, rc.order_by, rc.aggregate,
			c.id, c.table_id, c.column_name, c.ordinal_position, c.data_type,
			c.character_maximum_length, c.numeric_precision, c.numeric_scale,
			c.is_nullable, c.column_default, c.is_primary_key, c.is_foreign_key,
			c.foreign_table, c.is_active
		FROM report_columns rc
		JOIN columns c ON c.id = rc.column_id
		WHERE rc.report_id = $1
		ORDER BY rc.display_order`, id)
	if err != nil {
		return nil, fmt.Errorf("reading report columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var dc report.DefinitionColumn
		if err := rows.Scan(
			&dc.ID, &dc.ReportID, &dc.ColumnID, &dc.Order, &dc.Format,
			&dc.DisplayName, &dc.IsVisible, &dc.OrderBy, &dc.Aggregate,
			&dc.Column.ID, &dc.Column.TableID, &dc.Column.ColumnName,
			&dc.Column.OrdinalPosition, &dc.Column.DataType,
			&dc.Column.CharacterMaximumLength, &dc.Column.NumericPrecision,
			&dc.Column.NumericScale, &dc.Column.IsNullable, &dc.Column.ColumnDefault,
			&dc.Column.IsPrimaryKey, &dc.Column.IsForeignKey,
			&dc.Column.ForeignTable, &dc.Column.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scanning report column row: %w", err)
		}
		def.Columns = append(def.Columns, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating report columns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot read: %w", err)
	}
	return def, nil
}

// Create persists a new report and its column set.
func (s *Store) Create(ctx context.Context, spec report.Spec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkColumns(ctx, tx, spec); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reports (name, description, table_id, orientation, sort_order, bucket_interval, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id`,
		spec.Name, spec.Description, spec.TableID, spec.Orientation, spec.Order, spec.Interval,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting report: %w", err)
	}

	if err := insertColumns(ctx, tx, id, spec.Columns); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing report: %w", err)
	}
	return id, nil
}

// Update rewrites a report and replaces its full column set.
func (s *Store) Update(ctx context.Context, id int64, spec report.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkColumns(ctx, tx, spec); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE reports
		SET name = $1, description = $2, table_id = $3, orientation = $4,
			sort_order = $5, bucket_interval = $6, updated_at = now()
		WHERE id = $7`,
		spec.Name, spec.Description, spec.TableID, spec.Orientation, spec.Order, spec.Interval, id)
	if err != nil {
		return fmt.Errorf("updating report %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return report.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_columns WHERE report_id = $1`, id); err != nil {
		return fmt.Errorf("clearing report columns: %w", err)
	}
	if err := insertColumns(ctx, tx, id, spec.Columns); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report update: %w", err)
	}
	return nil
}

// Delete removes a report; its columns go with it through the cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting report %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return report.ErrNotFound
	}
	return nil
}

// Counts returns the number of active reports and how many group by interval.
func (s *Store) Counts(ctx context.Context) (int, int, error) {
	var total, withInterval int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE bucket_interval <> 'all')
		FROM reports WHERE is_active`,
	).Scan(&total, &withInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("counting reports: %w", err)
	}
	return total, withInterval, nil
}

// checkColumns verifies every referenced column belongs to the spec's target
// table. Catching this at save time lets the compiler assume a well-formed
// definition.
func (s *Store) checkColumns(ctx context.Context, tx *sql.Tx, spec report.Spec) error {
	if len(spec.Columns) == 0 {
		return nil
	}
	ids := make([]int64, len(spec.Columns))
	for i, c := range spec.Columns {
		ids[i] = c.ColumnID
	}

	query, args, err := psq.Select("COUNT(*)").From("columns").
		Where(sq.Eq{"id": ids, "table_id": spec.TableID}).ToSql()
	if err != nil {
		return fmt.Errorf("building column check: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("checking report columns: %w", err)
	}
	if n != len(ids) {
		return report.ErrColumnMismatch
	}
	return nil
}

func insertColumns(ctx context.Context, tx *sql.Tx, reportID int64, columns []report.ColumnSpec) error {
	for _, c := range columns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO report_columns
			(report_id, column_id, display_order, format, display_name, is_visible, order_by, aggregate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			reportID, c.ColumnID, c.Order, c.Format, c.DisplayName, c.IsVisible, c.OrderBy, c.Aggregate)
		if err != nil {
			return fmt.Errorf("inserting report column %d: %w", c.ColumnID, err)
		}
	}
	return nil
}

// Verify interface compliance.
var _ report.Store = (*Store)(nil)
