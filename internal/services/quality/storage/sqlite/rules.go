package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/qualityhub/internal/platform/filter"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

const ruleColumns = `r.uuid, r.repository, r.rule_key, r.name, r.language, r.severity, r.rule_type, r.status,
	r.is_template, r.template_uuid, r.is_external, r.description, r.clean_code_attribute, r.impacts,
	r.created_at, r.updated_at`

// PutRule upserts a rule and replaces its params and tags.
func (s *Store) PutRule(ctx context.Context, rule storage.Rule) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(rule.UUID) == "" {
		return fmt.Errorf("rule uuid is required")
	}
	if strings.TrimSpace(rule.Repository) == "" || strings.TrimSpace(rule.Key) == "" {
		return fmt.Errorf("rule repository and key are required")
	}
	impacts, err := encodeMap(rule.Impacts)
	if err != nil {
		return fmt.Errorf("encode rule impacts: %w", err)
	}
	now := time.Now()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rule.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return s.inTransaction(ctx, func(tx *Store) error {
		q := tx.q
		_, err := q.ExecContext(ctx,
			`INSERT INTO rules (uuid, repository, rule_key, name, language, severity, rule_type, status, is_template,
			   template_uuid, is_external, description, clean_code_attribute, impacts, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET
			   repository = excluded.repository, rule_key = excluded.rule_key, name = excluded.name,
			   language = excluded.language, severity = excluded.severity, rule_type = excluded.rule_type,
			   status = excluded.status, is_template = excluded.is_template, template_uuid = excluded.template_uuid,
			   is_external = excluded.is_external, description = excluded.description,
			   clean_code_attribute = excluded.clean_code_attribute, impacts = excluded.impacts,
			   updated_at = excluded.updated_at`,
			rule.UUID, rule.Repository, rule.Key, rule.Name, rule.Language, rule.Severity, rule.Type, rule.Status,
			boolToInt(rule.IsTemplate), rule.TemplateUUID, boolToInt(rule.IsExternal), rule.Description,
			rule.CleanCodeAttribute, impacts, toMillis(createdAt), toMillis(updatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("put rule %s: %w", rule.RuleKey(), storage.ErrAlreadyExists)
			}
			return fmt.Errorf("put rule: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM rule_params WHERE rule_uuid = ?`, rule.UUID); err != nil {
			return fmt.Errorf("clear rule params: %w", err)
		}
		for _, p := range rule.Params {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO rule_params (rule_uuid, name, param_type, default_value, description) VALUES (?, ?, ?, ?, ?)`,
				rule.UUID, p.Name, p.Type, p.DefaultValue, p.Description,
			); err != nil {
				return fmt.Errorf("put rule param %s: %w", p.Name, err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM rule_tags WHERE rule_uuid = ?`, rule.UUID); err != nil {
			return fmt.Errorf("clear rule tags: %w", err)
		}
		for _, tag := range rule.Tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO rule_tags (rule_uuid, tag) VALUES (?, ?) ON CONFLICT DO NOTHING`, rule.UUID, tag,
			); err != nil {
				return fmt.Errorf("put rule tag %s: %w", tag, err)
			}
		}
		return nil
	})
}

func scanRule(row rowScanner) (storage.Rule, error) {
	var r storage.Rule
	var isTemplate, isExternal int
	var impacts string
	var createdAt, updatedAt int64
	if err := row.Scan(&r.UUID, &r.Repository, &r.Key, &r.Name, &r.Language, &r.Severity, &r.Type, &r.Status,
		&isTemplate, &r.TemplateUUID, &isExternal, &r.Description, &r.CleanCodeAttribute, &impacts,
		&createdAt, &updatedAt); err != nil {
		return storage.Rule{}, err
	}
	r.IsTemplate = isTemplate == 1
	r.IsExternal = isExternal == 1
	decoded, err := decodeMap(impacts)
	if err != nil {
		return storage.Rule{}, fmt.Errorf("decode rule impacts: %w", err)
	}
	r.Impacts = decoded
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

// queryRules runs query and loads params and tags for every row.
func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]storage.Rule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var rules []storage.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadRuleDetails(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) loadRuleDetails(ctx context.Context, rules []storage.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	index := make(map[string]int, len(rules))
	uuids := make([]string, len(rules))
	for i, r := range rules {
		index[r.UUID] = i
		uuids[i] = r.UUID
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT rule_uuid, name, param_type, default_value, description FROM rule_params
		 WHERE rule_uuid IN (`+placeholders(len(uuids))+`) ORDER BY rule_uuid, name`,
		stringArgs(uuids)...)
	if err != nil {
		return fmt.Errorf("list rule params: %w", err)
	}
	for rows.Next() {
		var ruleUUID string
		var p storage.RuleParam
		if err := rows.Scan(&ruleUUID, &p.Name, &p.Type, &p.DefaultValue, &p.Description); err != nil {
			rows.Close()
			return fmt.Errorf("scan rule param: %w", err)
		}
		i := index[ruleUUID]
		rules[i].Params = append(rules[i].Params, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.q.QueryContext(ctx,
		`SELECT rule_uuid, tag FROM rule_tags WHERE rule_uuid IN (`+placeholders(len(uuids))+`) ORDER BY rule_uuid, tag`,
		stringArgs(uuids)...)
	if err != nil {
		return fmt.Errorf("list rule tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ruleUUID, tag string
		if err := rows.Scan(&ruleUUID, &tag); err != nil {
			return fmt.Errorf("scan rule tag: %w", err)
		}
		i := index[ruleUUID]
		rules[i].Tags = append(rules[i].Tags, tag)
	}
	return rows.Err()
}

func (s *Store) getRule(ctx context.Context, where string, args ...any) (storage.Rule, error) {
	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules r WHERE `+where, args...)
	if err != nil {
		return storage.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	if len(rules) == 0 {
		return storage.Rule{}, storage.ErrNotFound
	}
	return rules[0], nil
}

// GetRule returns a rule by uuid.
func (s *Store) GetRule(ctx context.Context, uuid string) (storage.Rule, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Rule{}, err
	}
	return s.getRule(ctx, `r.uuid = ?`, strings.TrimSpace(uuid))
}

// GetRuleByKey returns a rule by repository and key.
func (s *Store) GetRuleByKey(ctx context.Context, repository string, key string) (storage.Rule, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Rule{}, err
	}
	return s.getRule(ctx, `r.repository = ? AND r.rule_key = ?`, repository, key)
}

// ListRulesByUUIDs returns the rules matching uuids ordered by rule key.
func (s *Store) ListRulesByUUIDs(ctx context.Context, uuids []string) ([]storage.Rule, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	rules, err := s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules r WHERE r.uuid IN (`+placeholders(len(uuids))+`)
		 ORDER BY r.repository, r.rule_key`,
		stringArgs(uuids)...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// SearchRules returns the rules matching cond ordered by rule key. The
// condition may reference the rules table through the alias r.
func (s *Store) SearchRules(ctx context.Context, cond filter.SQLCondition) ([]storage.Rule, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	query := `SELECT ` + ruleColumns + ` FROM rules r`
	if !cond.Empty() {
		query += ` WHERE ` + cond.Clause
	}
	query += ` ORDER BY r.repository, r.rule_key`
	rules, err := s.queryRules(ctx, query, cond.Params...)
	if err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}
	return rules, nil
}

// PutDeprecatedRuleKey records a retired key for a rule.
func (s *Store) PutDeprecatedRuleKey(ctx context.Context, key storage.DeprecatedRuleKey) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO deprecated_rule_keys (old_repository, old_key, rule_uuid) VALUES (?, ?, ?)
		 ON CONFLICT(old_repository, old_key) DO UPDATE SET rule_uuid = excluded.rule_uuid`,
		key.OldRepository, key.OldKey, key.RuleUUID,
	)
	if err != nil {
		return fmt.Errorf("put deprecated rule key: %w", err)
	}
	return nil
}

// ListDeprecatedRuleKeys returns every retired rule key.
func (s *Store) ListDeprecatedRuleKeys(ctx context.Context) ([]storage.DeprecatedRuleKey, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT old_repository, old_key, rule_uuid FROM deprecated_rule_keys ORDER BY old_repository, old_key`)
	if err != nil {
		return nil, fmt.Errorf("list deprecated rule keys: %w", err)
	}
	defer rows.Close()
	var keys []storage.DeprecatedRuleKey
	for rows.Next() {
		var k storage.DeprecatedRuleKey
		if err := rows.Scan(&k.OldRepository, &k.OldKey, &k.RuleUUID); err != nil {
			return nil, fmt.Errorf("scan deprecated rule key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
