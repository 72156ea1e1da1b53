// Package query compiles report definitions into parameterized SQL and
// executes the compiled statements against live source connections.
//
// Compilation goes through an intermediate representation (Statement) that is
// rendered to dialect SQL by a separate renderer, so identifier quoting and
// placeholder rules stay in one place and the IR can be tested independently
// of SQL text.
package query

import (
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SelectItem is one projection in a SELECT list. Expr is an already-rendered
// SQL expression; Alias, when set, becomes the output column name.
type SelectItem struct {
	Expr  string
	Alias string
}

func (it SelectItem) render() string {
	if it.Alias == "" {
		return it.Expr
	}
	return it.Expr + " AS " + QuoteIdent(it.Alias)
}

// TableRef identifies the source table of a statement.
type TableRef struct {
	Schema string
	Table  string
}

func (t TableRef) render() string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Table)
}

// Predicate is one WHERE condition with bound arguments. Expr uses ?
// placeholders; the renderer converts them to the dialect format.
type Predicate struct {
	Expr string
	Args []any
}

// Ordering is an ORDER BY clause over a single expression.
type Ordering struct {
	Expr string
	Desc bool
}

func (o Ordering) render() string {
	if o.Desc {
		return o.Expr + " DESC"
	}
	return o.Expr + " ASC"
}

// Statement is the IR for one SELECT. Either From or FromSelect is set;
// FromSelect wraps another statement as a subquery (used by grouped counts).
type Statement struct {
	Selects    []SelectItem
	From       TableRef
	FromSelect *Statement
	FromAlias  string
	Where      []Predicate
	// GroupByPositions holds 1-based output positions used as grouping keys.
	GroupByPositions []int
	OrderBy          *Ordering
	Limit            *uint64
	Offset           *uint64
}

// ToSQL renders the statement to PostgreSQL text with dollar placeholders.
func (s *Statement) ToSQL() (string, []any, error) {
	return s.builder().PlaceholderFormat(sq.Dollar).ToSql()
}

// builder assembles a squirrel SelectBuilder with ? placeholders. Placeholder
// conversion happens once, at the outermost ToSQL, so nested subqueries
// number their arguments correctly.
func (s *Statement) builder() sq.SelectBuilder {
	cols := make([]string, len(s.Selects))
	for i, it := range s.Selects {
		cols[i] = it.render()
	}

	qb := sq.Select(cols...)
	if s.FromSelect != nil {
		qb = qb.FromSelect(s.FromSelect.builder(), s.FromAlias)
	} else {
		qb = qb.From(s.From.render())
	}

	for _, p := range s.Where {
		qb = qb.Where(sq.Expr(p.Expr, p.Args...))
	}

	if len(s.GroupByPositions) > 0 {
		positions := make([]string, len(s.GroupByPositions))
		for i, pos := range s.GroupByPositions {
			positions[i] = strconv.Itoa(pos)
		}
		qb = qb.GroupBy(positions...)
	}

	if s.OrderBy != nil {
		qb = qb.OrderBy(s.OrderBy.render())
	}
	if s.Limit != nil {
		qb = qb.Limit(*s.Limit)
	}
	if s.Offset != nil {
		qb = qb.Offset(*s.Offset)
	}
	return qb
}

// QuoteIdent double-quotes a schema, table, or column identifier, escaping
// embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
