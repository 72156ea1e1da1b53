// Package catalog defines the metadata catalog: registered source databases,
// their tables, and their columns, as mirrored from live connections by the
// sync process. The catalog is read-only from the query compiler's
// perspective; only sync mutates it.
package catalog

import (
	"strings"
	"time"
)

// Database is a registered external data source. The Alias maps to a
// configured connection in the pool.
type Database struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Alias       string    `json:"alias"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Table is one table or view inside a database schema.
type Table struct {
	ID         int64     `json:"id"`
	DatabaseID int64     `json:"database_id"`
	SchemaName string    `json:"schema_name"`
	TableName  string    `json:"table_name"`
	TableType  string    `json:"table_type"`
	RowCount   *int64    `json:"row_count,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Column is one column of a table.
type Column struct {
	ID                     int64   `json:"id"`
	TableID                int64   `json:"table_id"`
	ColumnName             string  `json:"column_name"`
	OrdinalPosition        int     `json:"ordinal_position"`
	DataType               string  `json:"data_type"`
	CharacterMaximumLength *int    `json:"character_maximum_length,omitempty"`
	NumericPrecision       *int    `json:"numeric_precision,omitempty"`
	NumericScale           *int    `json:"numeric_scale,omitempty"`
	IsNullable             bool    `json:"is_nullable"`
	ColumnDefault          *string `json:"column_default,omitempty"`
	IsPrimaryKey           bool    `json:"is_primary_key"`
	IsForeignKey           bool    `json:"is_foreign_key"`
	ForeignTable           *string `json:"foreign_table,omitempty"`
	IsActive               bool    `json:"is_active"`
}

// Slug returns the stable configuration key for a column:
// schema_table_column, lowercased.
func (c Column) Slug(t Table) string {
	return strings.ToLower(t.SchemaName + "_" + t.TableName + "_" + c.ColumnName)
}

// IsTimestamp reports whether the column's declared type is a timestamp
// variant. The match is a case-insensitive prefix match, so both
// "timestamp without time zone" and "TIMESTAMPTZ" qualify.
func (c Column) IsTimestamp() bool {
	return len(c.DataType) >= len("timestamp") &&
		strings.EqualFold(c.DataType[:len("timestamp")], "timestamp")
}

// Stats summarizes the catalog for the dashboard endpoint.
type Stats struct {
	Databases int             `json:"databases"`
	Tables    int             `json:"tables"`
	Columns   int             `json:"columns"`
	PerSource []DatabaseStats `json:"per_source"`
}

// DatabaseStats counts catalog entities and reports per registered database.
type DatabaseStats struct {
	Name    string `json:"name"`
	Tables  int    `json:"tables"`
	Columns int    `json:"columns"`
	Reports int    `json:"reports"`
}
