package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testSchema = Schema{
	{Name: "language", Column: "r.language"},
	{Name: "severity", Column: "r.severity"},
	{Name: "priority", Type: Int, Column: "r.priority"},
	{Name: "tag", Clause: "EXISTS (SELECT 1 FROM rule_tags t WHERE t.rule_uuid = r.uuid AND t.tag = ?)"},
}

func TestParseEmpty(t *testing.T) {
	cond, err := Parse("   ", testSchema)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cond.Empty() {
		t.Fatalf("expected empty condition, got %+v", cond)
	}
}

func TestParseTranslatesToSQL(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   SQLCondition
	}{
		{
			name:   "equality",
			filter: `language = "xoo"`,
			want:   SQLCondition{Clause: "r.language = ?", Params: []any{"xoo"}},
		},
		{
			name:   "and",
			filter: `language = "xoo" AND severity != "INFO"`,
			want:   SQLCondition{Clause: "(r.language = ? AND r.severity != ?)", Params: []any{"xoo", "INFO"}},
		},
		{
			name:   "or with int",
			filter: `priority > 2 OR severity = "BLOCKER"`,
			want:   SQLCondition{Clause: "(r.priority > ? OR r.severity = ?)", Params: []any{int64(2), "BLOCKER"}},
		},
		{
			name:   "not",
			filter: `NOT language = "js"`,
			want:   SQLCondition{Clause: "NOT (r.language = ?)", Params: []any{"js"}},
		},
		{
			name:   "custom clause",
			filter: `tag = "security"`,
			want: SQLCondition{
				Clause: "EXISTS (SELECT 1 FROM rule_tags t WHERE t.rule_uuid = r.uuid AND t.tag = ?)",
				Params: []any{"security"},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.filter, testSchema)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.filter, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("condition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	if _, err := Parse(`owner = "me"`, testSchema); err == nil {
		t.Fatal("expected error for undeclared field")
	}
}

func TestParseRejectsInequalityOnClauseField(t *testing.T) {
	if _, err := Parse(`tag != "security"`, testSchema); err == nil {
		t.Fatal("expected error for non-equality on clause field")
	}
}
