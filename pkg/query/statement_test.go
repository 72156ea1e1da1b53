package query

import "testing"

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"amount", `"amount"`},
		{"order date", `"order date"`},
		{`we"ird`, `"we""ird"`},
	}
	for _, tt := range tests {
		if got := QuoteIdent(tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStatementNestedPlaceholders(t *testing.T) {
	inner := Statement{
		Selects: []SelectItem{{Expr: `"a"`}},
		From:    TableRef{Schema: "public", Table: "t"},
		Where: []Predicate{
			{Expr: `"a" >= ?`, Args: []any{1}},
			{Expr: `"a" < ?`, Args: []any{2}},
		},
		GroupByPositions: []int{1},
	}
	outer := Statement{
		Selects:    []SelectItem{{Expr: "COUNT(*)"}},
		FromSelect: &inner,
		FromAlias:  "grouped_results",
	}

	sql, args, err := outer.ToSQL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `SELECT COUNT(*) FROM (SELECT "a" FROM "public"."t" WHERE "a" >= $1 AND "a" < $2 GROUP BY 1) AS grouped_results`
	if sql != want {
		t.Errorf("sql mismatch\n got: %s\nwant: %s", sql, want)
	}
	if len(args) != 2 || args[0] != 1 || args[1] != 2 {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestSelectItemRender(t *testing.T) {
	plain := SelectItem{Expr: `"amount"`}
	if got := plain.render(); got != `"amount"` {
		t.Errorf("unexpected render: %s", got)
	}
	aliased := SelectItem{Expr: `SUM("amount")`, Alias: "Total"}
	if got := aliased.render(); got != `SUM("amount") AS "Total"` {
		t.Errorf("unexpected render: %s", got)
	}
}
