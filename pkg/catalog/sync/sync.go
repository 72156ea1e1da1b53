// Package sync mirrors the schema of live source databases into the metadata
// catalog. It reads information_schema (postgres) or sqlite_master (sqlite)
// and upserts databases, tables, and columns.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/pool"
)

// ErrUnsupportedSource is returned for a source kind outside the supported
// set.
var ErrUnsupportedSource = errors.New("unsupported source kind")

// Syncer introspects source schemas into the catalog store.
type Syncer struct {
	store catalog.Store
	pool  *pool.Pool
}

// New creates a Syncer over the given catalog store and connection pool.
func New(store catalog.Store, p *pool.Pool) *Syncer {
	return &Syncer{store: store, pool: p}
}

// SyncAll syncs every configured source. Per-source failures are logged and
// do not stop the remaining sources; the first error is returned.
func (s *Syncer) SyncAll(ctx context.Context, clear bool) error {
	if clear {
		if err := s.store.Clear(ctx); err != nil {
			return err
		}
		clear = false // once is enough
	}

	var firstErr error
	for _, alias := range s.pool.Aliases() {
		if err := s.Sync(ctx, alias); err != nil {
			slog.Error("metadata sync failed", "database", alias, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Sync mirrors one source's schema into the catalog.
func (s *Syncer) Sync(ctx context.Context, alias string) error {
	driver, err := s.pool.Driver(alias)
	if err != nil {
		return err
	}

	conn, err := s.pool.Get(alias)
	if err != nil {
		return err
	}

	dbID, err := s.store.UpsertDatabase(ctx, catalog.Database{
		Name:     alias,
		Alias:    alias,
		IsActive: true,
	})
	if err != nil {
		return err
	}

	switch driver {
	case pool.DriverPostgres:
		err = s.syncPostgres(ctx, conn, dbID)
	case pool.DriverSQLite:
		err = s.syncSQLite(ctx, conn, dbID)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSource, driver)
	}
	if err != nil {
		return fmt.Errorf("syncing %q: %w", alias, err)
	}

	slog.Info("metadata synced", "database", alias, "driver", driver)
	return nil
}

// syncPostgres reads tables and columns from information_schema, including
// primary and foreign key flags from the constraint catalog.
func (s *Syncer) syncPostgres(ctx context.Context, conn *sql.DB, dbID int64) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type tableRow struct {
		schema, name, kind string
	}
	var tables []tableRow
	for rows.Next() {
		var t tableRow
		if err := rows.Scan(&t.schema, &t.name, &t.kind); err != nil {
			return fmt.Errorf("scanning table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating tables: %w", err)
	}

	for _, t := range tables {
		tableID, err := s.store.UpsertTable(ctx, catalog.Table{
			DatabaseID: dbID,
			SchemaName: t.schema,
			TableName:  t.name,
			TableType:  t.kind,
			IsActive:   true,
		})
		if err != nil {
			return err
		}

		primaryKeys, err := keyColumns(ctx, conn, t.schema, t.name, "PRIMARY KEY")
		if err != nil {
			return err
		}
		foreignKeys, err := foreignKeyColumns(ctx, conn, t.schema, t.name)
		if err != nil {
			return err
		}

		if err := s.syncPostgresColumns(ctx, conn, tableID, t.schema, t.name, primaryKeys, foreignKeys); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncPostgresColumns(ctx context.Context, conn *sql.DB, tableID int64, schema, table string, primaryKeys map[string]bool, foreignKeys map[string]string) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT column_name, ordinal_position, data_type, character_maximum_length,
			numeric_precision, numeric_scale, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return fmt.Errorf("listing columns for %s.%s: %w", schema, table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []catalog.Column
	for rows.Next() {
		var c catalog.Column
		var nullable string
		if err := rows.Scan(&c.ColumnName, &c.OrdinalPosition, &c.DataType,
			&c.CharacterMaximumLength, &c.NumericPrecision, &c.NumericScale,
			&nullable, &c.ColumnDefault); err != nil {
			return fmt.Errorf("scanning column row: %w", err)
		}
		c.TableID = tableID
		c.IsNullable = nullable == "YES"
		c.IsPrimaryKey = primaryKeys[c.ColumnName]
		if ft, ok := foreignKeys[c.ColumnName]; ok {
			c.IsForeignKey = true
			c.ForeignTable = &ft
		}
		c.IsActive = true
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating columns: %w", err)
	}

	for _, c := range cols {
		if _, err := s.store.UpsertColumn(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// keyColumns returns the column names covered by constraints of the given
// type on one table.
func keyColumns(ctx context.Context, conn *sql.DB, schema, table, constraint string) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = $1
			AND tc.table_schema = $2
			AND tc.table_name = $3`, constraint, schema, table)
	if err != nil {
		return nil, fmt.Errorf("listing %s columns: %w", constraint, err)
	}
	defer func() { _ = rows.Close() }()

	keys := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning key column: %w", err)
		}
		keys[name] = true
	}
	return keys, rows.Err()
}

// foreignKeyColumns maps foreign key column names to their referenced table.
func foreignKeyColumns(ctx context.Context, conn *sql.DB, schema, table string) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name AS foreign_table_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("listing foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fks := map[string]string{}
	for rows.Next() {
		var col, foreign string
		if err := rows.Scan(&col, &foreign); err != nil {
			return nil, fmt.Errorf("scanning foreign key: %w", err)
		}
		fks[col] = foreign
	}
	return fks, rows.Err()
}

// syncSQLite reads user tables from sqlite_master and columns via PRAGMA
// table_info. SQLite has a single implicit schema, recorded as "main".
func (s *Syncer) syncSQLite(ctx context.Context, conn *sql.DB, dbID int64) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating tables: %w", err)
	}

	for _, name := range names {
		tableID, err := s.store.UpsertTable(ctx, catalog.Table{
			DatabaseID: dbID,
			SchemaName: "main",
			TableName:  name,
			TableType:  "BASE TABLE",
			IsActive:   true,
		})
		if err != nil {
			return err
		}

		colRows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
		if err != nil {
			return fmt.Errorf("reading columns for %q: %w", name, err)
		}

		var cols []catalog.Column
		for colRows.Next() {
			var cid int
			var colName, dataType string
			var notNull, isPK int
			var dflt *string
			if err := colRows.Scan(&cid, &colName, &dataType, &notNull, &dflt, &isPK); err != nil {
				_ = colRows.Close()
				return fmt.Errorf("scanning column info: %w", err)
			}
			cols = append(cols, catalog.Column{
				TableID:         tableID,
				ColumnName:      colName,
				OrdinalPosition: cid + 1,
				DataType:        dataType,
				IsNullable:      notNull == 0,
				ColumnDefault:   dflt,
				IsPrimaryKey:    isPK > 0,
				IsActive:        true,
			})
		}
		err = colRows.Err()
		_ = colRows.Close()
		if err != nil {
			return fmt.Errorf("iterating column info: %w", err)
		}

		for _, c := range cols {
			if _, err := s.store.UpsertColumn(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}
