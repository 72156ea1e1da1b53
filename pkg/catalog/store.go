package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a catalog entity does not resolve.
var ErrNotFound = errors.New("catalog entity not found")

// Store persists the metadata catalog.
type Store interface {
	ListDatabases(ctx context.Context, activeOnly bool) ([]Database, error)
	GetDatabase(ctx context.Context, id int64) (*Database, error)
	GetDatabaseByAlias(ctx context.Context, alias string) (*Database, error)
	UpsertDatabase(ctx context.Context, db Database) (int64, error)

	ListTables(ctx context.Context, databaseID int64) ([]Table, error)
	GetTable(ctx context.Context, id int64) (*Table, error)
	UpsertTable(ctx context.Context, t Table) (int64, error)

	ListColumns(ctx context.Context, tableID int64) ([]Column, error)
	UpsertColumn(ctx context.Context, c Column) (int64, error)

	// Clear removes all catalog entities. Reports referencing them are
	// removed by the cascade chain.
	Clear(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
}
