package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Result is the tabular output of one report execution. Column names come
// from the data statement's result metadata, so compiled aliases are
// authoritative for the output shape. Rows align positionally with Columns.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
}

// EmptyResult is the defined output for a report with no visible columns.
func EmptyResult() *Result {
	return &Result{Columns: []string{}, Rows: [][]any{}}
}

// Executor runs compiled statements against a live connection. The zero
// value runs without a per-execution deadline.
type Executor struct {
	// Timeout bounds one execution (count plus data). Source tables are
	// third-party; an unbounded query is an operational risk.
	Timeout time.Duration
}

// Execute runs the count statement first, then the data statement, on the
// given connection. The two statements are not atomic together; a race with
// concurrent writes to the source table is accepted.
func (e *Executor) Execute(ctx context.Context, db *sql.DB, c *Compiled) (*Result, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	countSQL, countArgs, err := c.Count.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("rendering count statement: %w", err)
	}

	var total int
	if err := db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("executing count statement: %w", err)
	}

	dataSQL, dataArgs, err := c.Data.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("rendering data statement: %w", err)
	}

	rows, err := db.QueryContext(ctx, dataSQL, dataArgs...)
	if err != nil {
		return nil, fmt.Errorf("executing data statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: [][]any{}, Count: total}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}

	return result, nil
}
