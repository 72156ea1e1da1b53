package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/txn2/report-engine/pkg/catalog"
	"github.com/txn2/report-engine/pkg/pool"
)

// fakeStore records upserts in memory.
type fakeStore struct {
	databases []catalog.Database
	tables    []catalog.Table
	columns   []catalog.Column
	cleared   bool
}

func (f *fakeStore) ListDatabases(context.Context, bool) ([]catalog.Database, error) {
	return f.databases, nil
}

func (f *fakeStore) GetDatabase(context.Context, int64) (*catalog.Database, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) GetDatabaseByAlias(context.Context, string) (*catalog.Database, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) UpsertDatabase(_ context.Context, db catalog.Database) (int64, error) {
	f.databases = append(f.databases, db)
	return int64(len(f.databases)), nil
}

func (f *fakeStore) ListTables(context.Context, int64) ([]catalog.Table, error) {
	return f.tables, nil
}

func (f *fakeStore) GetTable(context.Context, int64) (*catalog.Table, error) {
	return nil, catalog.ErrNotFound
}

func (f *fakeStore) UpsertTable(_ context.Context, t catalog.Table) (int64, error) {
	f.tables = append(f.tables, t)
	return int64(len(f.tables)), nil
}

func (f *fakeStore) ListColumns(context.Context, int64) ([]catalog.Column, error) {
	return f.columns, nil
}

func (f *fakeStore) UpsertColumn(_ context.Context, c catalog.Column) (int64, error) {
	f.columns = append(f.columns, c)
	return int64(len(f.columns)), nil
}

func (f *fakeStore) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeStore) Stats(context.Context) (*catalog.Stats, error) {
	return &catalog.Stats{}, nil
}

var _ catalog.Store = (*fakeStore)(nil)

func TestSyncPostgres(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer func() { _ = conn.Close() }()

	mock.ExpectQuery("SELECT table_schema, table_name, table_type").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "table_type"}).
			AddRow("public", "orders", "BASE TABLE"))
	mock.ExpectQuery("SELECT kcu.column_name FROM information_schema.table_constraints").
		WithArgs("PRIMARY KEY", "public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectQuery("SELECT kcu.column_name, ccu.table_name").
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "foreign_table_name"}).
			AddRow("customer_id", "customers"))
	mock.ExpectQuery("SELECT column_name, ordinal_position, data_type").
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "ordinal_position", "data_type", "character_maximum_length",
			"numeric_precision", "numeric_scale", "is_nullable", "column_default",
		}).
			AddRow("id", 1, "bigint", nil, 64, 0, "NO", nil).
			AddRow("customer_id", 2, "bigint", nil, 64, 0, "YES", nil).
			AddRow("order_date", 3, "timestamp without time zone", nil, nil, nil, "YES", nil))

	store := &fakeStore{}
	syncer := New(store, pool.New(nil))
	if err := syncer.syncPostgres(context.Background(), conn, 1); err != nil {
		t.Fatalf("syncPostgres() error = %v", err)
	}

	if len(store.tables) != 1 || store.tables[0].TableName != "orders" {
		t.Errorf("unexpected tables: %+v", store.tables)
	}
	if len(store.columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(store.columns))
	}
	if !store.columns[0].IsPrimaryKey {
		t.Error("id should be flagged as primary key")
	}
	fk := store.columns[1]
	if !fk.IsForeignKey || fk.ForeignTable == nil || *fk.ForeignTable != "customers" {
		t.Errorf("customer_id should reference customers, got %+v", fk)
	}
	if store.columns[2].IsNullable != true {
		t.Error("order_date should be nullable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSyncSQLite(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer func() { _ = conn.Close() }()

	mock.ExpectQuery("SELECT name FROM sqlite_master").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events"))
	mock.ExpectQuery("PRAGMA table_info").
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 1, nil, 1).
			AddRow(1, "created_at", "TIMESTAMP", 0, nil, 0))

	store := &fakeStore{}
	syncer := New(store, pool.New(nil))
	if err := syncer.syncSQLite(context.Background(), conn, 1); err != nil {
		t.Fatalf("syncSQLite() error = %v", err)
	}

	if len(store.tables) != 1 || store.tables[0].SchemaName != "main" {
		t.Errorf("unexpected tables: %+v", store.tables)
	}
	if len(store.columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(store.columns))
	}
	if !store.columns[0].IsPrimaryKey || store.columns[0].IsNullable {
		t.Errorf("unexpected id column: %+v", store.columns[0])
	}
	// SQLite cids are zero-based; ordinal positions are one-based.
	if store.columns[1].OrdinalPosition != 2 {
		t.Errorf("expected ordinal 2, got %d", store.columns[1].OrdinalPosition)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSyncUnknownAlias(t *testing.T) {
	syncer := New(&fakeStore{}, pool.New(nil))
	if err := syncer.Sync(context.Background(), "nope"); !errors.Is(err, pool.ErrUnknownAlias) {
		t.Errorf("expected ErrUnknownAlias, got %v", err)
	}
}

func TestSyncAllClearsOnce(t *testing.T) {
	store := &fakeStore{}
	syncer := New(store, pool.New(nil))
	if err := syncer.SyncAll(context.Background(), true); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if !store.cleared {
		t.Error("expected the catalog to be cleared")
	}
}
