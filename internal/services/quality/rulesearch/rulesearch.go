// Package rulesearch selects catalog rules with AIP-160 filters such as
// `language = "go" AND severity = "MAJOR"`.
package rulesearch

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/filter"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Schema declares the filterable rule fields. Columns reference the rules
// table through the alias r.
var Schema = filter.Schema{
	{Name: "language", Type: filter.String, Column: "r.language"},
	{Name: "repository", Type: filter.String, Column: "r.repository"},
	{Name: "severity", Type: filter.String, Column: "r.severity"},
	{Name: "type", Type: filter.String, Column: "r.rule_type"},
	{Name: "status", Type: filter.String, Column: "r.status"},
	{Name: "key", Type: filter.String, Column: "r.rule_key"},
	{Name: "name", Type: filter.String, Column: "r.name"},
	{Name: "tag", Type: filter.String, Clause: "EXISTS (SELECT 1 FROM rule_tags t WHERE t.rule_uuid = r.uuid AND t.tag = ?)"},
	{Name: "is_template", Type: filter.String, Column: "(CASE WHEN r.is_template = 1 THEN 'true' ELSE 'false' END)"},
}

// Parse translates a rule filter into a SQL condition.
func Parse(filterStr string) (filter.SQLCondition, error) {
	cond, err := filter.Parse(filterStr, Schema)
	if err != nil {
		return filter.SQLCondition{}, apperrors.Wrap(apperrors.CodeFilterInvalid, "Invalid rule filter: "+err.Error(), err)
	}
	return cond, nil
}

// Search returns the rules matching filterStr. An empty filter matches every
// rule.
func Search(ctx context.Context, store storage.RuleStore, filterStr string) ([]storage.Rule, error) {
	cond, err := Parse(filterStr)
	if err != nil {
		return nil, err
	}
	rules, err := store.SearchRules(ctx, cond)
	if err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}
	return rules, nil
}
