// Package postgres provides PostgreSQL storage for the metadata catalog.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/report-engine/pkg/catalog"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	databaseColumns = []string{"id", "name", "alias", "description", "is_active", "created_at", "updated_at"}
	tableColumns    = []string{"id", "database_id", "schema_name", "table_name", "table_type", "row_count", "is_active", "created_at", "updated_at"}
	columnColumns   = []string{
		"id", "table_id", "column_name", "ordinal_position", "data_type",
		"character_maximum_length", "numeric_precision", "numeric_scale",
		"is_nullable", "column_default", "is_primary_key", "is_foreign_key",
		"foreign_table", "is_active",
	}
)

// Store implements catalog.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new catalog store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListDatabases returns registered databases ordered by name.
func (s *Store) ListDatabases(ctx context.Context, activeOnly bool) ([]catalog.Database, error) {
	qb := psq.Select(databaseColumns...).From("databases").OrderBy("name")
	if activeOnly {
		qb = qb.Where(sq.Eq{"is_active": true})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building database query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying databases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dbs []catalog.Database
	for rows.Next() {
		db, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating databases: %w", err)
	}
	return dbs, nil
}

// GetDatabase returns one database by id.
func (s *Store) GetDatabase(ctx context.Context, id int64) (*catalog.Database, error) {
	return s.getDatabase(ctx, sq.Eq{"id": id})
}

// GetDatabaseByAlias returns one database by connection alias.
func (s *Store) GetDatabaseByAlias(ctx context.Context, alias string) (*catalog.Database, error) {
	return s.getDatabase(ctx, sq.Eq{"alias": alias})
}

func (s *Store) getDatabase(ctx context.Context, where sq.Eq) (*catalog.Database, error) {
	query, args, err := psq.Select(databaseColumns...).From("databases").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building database query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	db, err := scanDatabase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &db, nil
}

// UpsertDatabase inserts or updates a database by alias and returns its id.
func (s *Store) UpsertDatabase(ctx context.Context, db catalog.Database) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO databases (name, alias, description, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (alias) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id`,
		db.Name, db.Alias, db.Description, db.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting database %q: %w", db.Alias, err)
	}
	return id, nil
}

// ListTables returns a database's tables ordered by schema and name.
func (s *Store) ListTables(ctx context.Context, databaseID int64) ([]catalog.Table, error) {
	query, args, err := psq.Select(tableColumns...).From("tables").
		Where(sq.Eq{"database_id": databaseID}).
		OrderBy("schema_name", "table_name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building table query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []catalog.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}
	return tables, nil
}

// GetTable returns one table by id.
func (s *Store) GetTable(ctx context.Context, id int64) (*catalog.Table, error) {
	query, args, err := psq.Select(tableColumns...).From("tables").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building table query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTable inserts or updates a table by its unique key and returns its id.
func (s *Store) UpsertTable(ctx context.Context, t catalog.Table) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tables (database_id, schema_name, table_name, table_type, row_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (database_id, schema_name, table_name) DO UPDATE SET
			table_type = EXCLUDED.table_type,
			row_count = EXCLUDED.row_count,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id`,
		t.DatabaseID, t.SchemaName, t.TableName, t.TableType, t.RowCount, t.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting table %s.%s: %w", t.SchemaName, t.TableName, err)
	}
	return id, nil
}

// ListColumns returns a table's columns in ordinal order.
func (s *Store) ListColumns(ctx context.Context, tableID int64) ([]catalog.Column, error) {
	query, args, err := psq.Select(columnColumns...).From("columns").
		Where(sq.Eq{"table_id": tableID}).
		OrderBy("ordinal_position").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building column query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []catalog.Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return columns, nil
}

// UpsertColumn inserts or updates a column by its unique key and returns its id.
func (s *Store) UpsertColumn(ctx context.Context, c catalog.Column) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO columns
		(table_id, column_name, ordinal_position, data_type, character_maximum_length,
		 numeric_precision, numeric_scale, is_nullable, column_default,
		 is_primary_key, is_foreign_key, foreign_table, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (table_id, column_name) DO UPDATE SET
			ordinal_position = EXCLUDED.ordinal_position,
			data_type = EXCLUDED.data_type,
			character_maximum_length = EXCLUDED.character_maximum_length,
			numeric_precision = EXCLUDED.numeric_precision,
			numeric_scale = EXCLUDED.numeric_scale,
			is_nullable = EXCLUDED.is_nullable,
			column_default = EXCLUDED.column_default,
			is_primary_key = EXCLUDED.is_primary_key,
			is_foreign_key = EXCLUDED.is_foreign_key,
			foreign_table = EXCLUDED.foreign_table,
			is_active = EXCLUDED.is_active
		RETURNING id`,
		c.TableID, c.ColumnName, c.OrdinalPosition, c.DataType, c.CharacterMaximumLength,
		c.NumericPrecision, c.NumericScale, c.IsNullable, c.ColumnDefault,
		c.IsPrimaryKey, c.IsForeignKey, c.ForeignTable, c.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting column %q: %w", c.ColumnName, err)
	}
	return id, nil
}

// Clear removes all catalog entities. Tables, columns, and reports go with
// their databases through the cascade chain.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM databases`); err != nil {
		return fmt.Errorf("clearing catalog: %w", err)
	}
	return nil
}

// Stats returns catalog totals and per-database entity counts.
func (s *Store) Stats(ctx context.Context) (*catalog.Stats, error) {
	stats := &catalog.Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM databases WHERE is_active),
			(SELECT COUNT(*) FROM tables WHERE is_active),
			(SELECT COUNT(*) FROM columns WHERE is_active)`,
	).Scan(&stats.Databases, &stats.Tables, &stats.Columns)
	if err != nil {
		return nil, fmt.Errorf("counting catalog entities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name,
			COUNT(DISTINCT t.id) FILTER (WHERE t.is_active),
			COUNT(DISTINCT c.id) FILTER (WHERE c.is_active),
			COUNT(DISTINCT r.id) FILTER (WHERE r.is_active)
		FROM databases d
		LEFT JOIN tables t ON t.database_id = d.id
		LEFT JOIN columns c ON c.table_id = t.id
		LEFT JOIN reports r ON r.table_id = t.id
		WHERE d.is_active
		GROUP BY d.name
		ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("querying per-source stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ds catalog.DatabaseStats
		if err := rows.Scan(&ds.Name, &ds.Tables, &ds.Columns, &ds.Reports); err != nil {
			return nil, fmt.Errorf("scanning per-source stats: %w", err)
		}
		stats.PerSource = append(stats.PerSource, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating per-source stats: %w", err)
	}
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDatabase(sc scanner) (catalog.Database, error) {
	var db catalog.Database
	err := sc.Scan(&db.ID, &db.Name, &db.Alias, &db.Description, &db.IsActive, &db.CreatedAt, &db.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return db, fmt.Errorf("scanning database row: %w", err)
	}
	return db, err
}

func scanTable(sc scanner) (catalog.Table, error) {
	var t catalog.Table
	err := sc.Scan(&t.ID, &t.DatabaseID, &t.SchemaName, &t.TableName, &t.TableType,
		&t.RowCount, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("scanning table row: %w", err)
	}
	return t, err
}

func scanColumn(sc scanner) (catalog.Column, error) {
	var c catalog.Column
	err := sc.Scan(&c.ID, &c.TableID, &c.ColumnName, &c.OrdinalPosition, &c.DataType,
		&c.CharacterMaximumLength, &c.NumericPrecision, &c.NumericScale,
		&c.IsNullable, &c.ColumnDefault, &c.IsPrimaryKey, &c.IsForeignKey,
		&c.ForeignTable, &c.IsActive)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("scanning column row: %w", err)
	}
	return c, err
}

// Verify interface compliance.
var _ catalog.Store = (*Store)(nil)
