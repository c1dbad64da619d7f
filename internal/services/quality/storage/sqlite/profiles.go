package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

const profileColumns = `kee, name, language, parent_kee, is_built_in, is_default, rules_updated_at, user_updated_at, last_used, created_at`

// PutProfile upserts a profile. Default flags are managed by SetDefaultProfile.
func (s *Store) PutProfile(ctx context.Context, profile storage.Profile) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(profile.Kee) == "" {
		return fmt.Errorf("profile kee is required")
	}
	if strings.TrimSpace(profile.Name) == "" || strings.TrimSpace(profile.Language) == "" {
		return fmt.Errorf("profile name and language are required")
	}
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		 ON CONFLICT(kee) DO UPDATE SET
		   name = excluded.name, parent_kee = excluded.parent_kee, is_built_in = excluded.is_built_in,
		   rules_updated_at = excluded.rules_updated_at, user_updated_at = excluded.user_updated_at,
		   last_used = excluded.last_used`,
		profile.Kee, profile.Name, profile.Language, profile.ParentKee, boolToInt(profile.BuiltIn),
		toMillis(profile.RulesUpdatedAt), toMillis(profile.UserUpdatedAt), toMillis(profile.LastUsed), toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("put profile %s: %w", profile.Name, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func scanProfile(row rowScanner) (storage.Profile, error) {
	var p storage.Profile
	var builtIn, isDefault int
	var rulesUpdatedAt, userUpdatedAt, lastUsed, createdAt int64
	if err := row.Scan(&p.Kee, &p.Name, &p.Language, &p.ParentKee, &builtIn, &isDefault,
		&rulesUpdatedAt, &userUpdatedAt, &lastUsed, &createdAt); err != nil {
		return storage.Profile{}, err
	}
	p.BuiltIn = builtIn == 1
	p.IsDefault = isDefault == 1
	p.RulesUpdatedAt = fromMillis(rulesUpdatedAt)
	p.UserUpdatedAt = fromMillis(userUpdatedAt)
	p.LastUsed = fromMillis(lastUsed)
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

func (s *Store) queryProfiles(ctx context.Context, query string, args ...any) ([]storage.Profile, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []storage.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile returns a profile by key.
func (s *Store) GetProfile(ctx context.Context, kee string) (storage.Profile, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Profile{}, err
	}
	p, err := scanProfile(s.q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE kee = ?`, kee))
	if err != nil {
		return storage.Profile{}, notFound(err)
	}
	return p, nil
}

// GetProfileByName returns a profile by language and name.
func (s *Store) GetProfileByName(ctx context.Context, language string, name string) (storage.Profile, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Profile{}, err
	}
	p, err := scanProfile(s.q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE language = ? AND name = ?`, language, name))
	if err != nil {
		return storage.Profile{}, notFound(err)
	}
	return p, nil
}

// ListProfiles returns profiles ordered by language then name.
func (s *Store) ListProfiles(ctx context.Context, query storage.ProfileQuery) ([]storage.Profile, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var where []string
	var args []any
	if query.Language != "" {
		where = append(where, "language = ?")
		args = append(args, query.Language)
	}
	if query.DefaultsOnly {
		where = append(where, "is_default = 1")
	}
	stmt := `SELECT ` + profileColumns + ` FROM profiles`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY language, lower(name), kee`
	profiles, err := s.queryProfiles(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// ListChildProfiles returns the direct children of a profile.
func (s *Store) ListChildProfiles(ctx context.Context, parentKee string) ([]storage.Profile, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if parentKee == "" {
		return nil, nil
	}
	profiles, err := s.queryProfiles(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE parent_kee = ? ORDER BY lower(name), kee`, parentKee)
	if err != nil {
		return nil, fmt.Errorf("list child profiles: %w", err)
	}
	return profiles, nil
}

// DeleteProfile removes a profile with its active rules and changelog.
func (s *Store) DeleteProfile(ctx context.Context, kee string) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		for _, stmt := range []string{
			`DELETE FROM active_rule_params WHERE profile_kee = ?`,
			`DELETE FROM active_rules WHERE profile_kee = ?`,
			`DELETE FROM profile_changes WHERE profile_kee = ?`,
		} {
			if _, err := tx.q.ExecContext(ctx, stmt, kee); err != nil {
				return fmt.Errorf("delete profile data: %w", err)
			}
		}
		result, err := tx.q.ExecContext(ctx, `DELETE FROM profiles WHERE kee = ?`, kee)
		if err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// SetDefaultProfile makes kee the only default profile of language.
func (s *Store) SetDefaultProfile(ctx context.Context, language string, kee string) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx,
			`UPDATE profiles SET is_default = 0 WHERE language = ? AND is_default = 1`, language,
		); err != nil {
			return fmt.Errorf("clear default profile: %w", err)
		}
		result, err := tx.q.ExecContext(ctx,
			`UPDATE profiles SET is_default = 1 WHERE language = ? AND kee = ?`, language, kee)
		if err != nil {
			return fmt.Errorf("set default profile: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func scanActiveRule(row rowScanner) (storage.ActiveRule, error) {
	var a storage.ActiveRule
	var impacts string
	var prioritized int
	var createdAt, updatedAt int64
	if err := row.Scan(&a.ProfileKee, &a.RuleUUID, &a.Severity, &impacts, &prioritized, &a.Inheritance,
		&createdAt, &updatedAt); err != nil {
		return storage.ActiveRule{}, err
	}
	decoded, err := decodeMap(impacts)
	if err != nil {
		return storage.ActiveRule{}, fmt.Errorf("decode active rule impacts: %w", err)
	}
	a.Impacts = decoded
	a.Prioritized = prioritized == 1
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

const activeRuleColumns = `profile_kee, rule_uuid, severity, impacts, prioritized, inheritance, created_at, updated_at`

// listActiveRules loads active rules and their params.
func (s *Store) listActiveRules(ctx context.Context, where string, args ...any) ([]storage.ActiveRule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+activeRuleColumns+` FROM active_rules WHERE `+where+` ORDER BY rule_uuid`, args...)
	if err != nil {
		return nil, err
	}
	var rules []storage.ActiveRule
	for rows.Next() {
		a, err := scanActiveRule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan active rule: %w", err)
		}
		rules = append(rules, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(rules))
	for i, a := range rules {
		index[a.RuleUUID] = i
	}
	paramRows, err := s.q.QueryContext(ctx,
		`SELECT rule_uuid, name, value FROM active_rule_params WHERE profile_kee = ? ORDER BY rule_uuid, name`,
		rules[0].ProfileKee)
	if err != nil {
		return nil, fmt.Errorf("list active rule params: %w", err)
	}
	defer paramRows.Close()
	for paramRows.Next() {
		var ruleUUID, name, value string
		if err := paramRows.Scan(&ruleUUID, &name, &value); err != nil {
			return nil, fmt.Errorf("scan active rule param: %w", err)
		}
		i, ok := index[ruleUUID]
		if !ok {
			continue
		}
		if rules[i].Params == nil {
			rules[i].Params = make(map[string]string)
		}
		rules[i].Params[name] = value
	}
	return rules, paramRows.Err()
}

// GetActiveRule returns the activation of a rule in a profile.
func (s *Store) GetActiveRule(ctx context.Context, profileKee string, ruleUUID string) (storage.ActiveRule, error) {
	if err := s.ready(ctx); err != nil {
		return storage.ActiveRule{}, err
	}
	rules, err := s.listActiveRules(ctx, `profile_kee = ? AND rule_uuid = ?`, profileKee, ruleUUID)
	if err != nil {
		return storage.ActiveRule{}, fmt.Errorf("get active rule: %w", err)
	}
	if len(rules) == 0 {
		return storage.ActiveRule{}, storage.ErrNotFound
	}
	return rules[0], nil
}

// ListActiveRules returns every active rule of a profile.
func (s *Store) ListActiveRules(ctx context.Context, profileKee string) ([]storage.ActiveRule, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rules, err := s.listActiveRules(ctx, `profile_kee = ?`, profileKee)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return rules, nil
}

// PutActiveRule upserts an activation and replaces its params.
func (s *Store) PutActiveRule(ctx context.Context, rule storage.ActiveRule) error {
	if strings.TrimSpace(rule.ProfileKee) == "" || strings.TrimSpace(rule.RuleUUID) == "" {
		return fmt.Errorf("active rule profile and rule are required")
	}
	impacts, err := encodeMap(rule.Impacts)
	if err != nil {
		return fmt.Errorf("encode active rule impacts: %w", err)
	}
	inheritance := rule.Inheritance
	if inheritance == "" {
		inheritance = "NONE"
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
		_, err := tx.q.ExecContext(ctx,
			`INSERT INTO active_rules (`+activeRuleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(profile_kee, rule_uuid) DO UPDATE SET
			   severity = excluded.severity, impacts = excluded.impacts, prioritized = excluded.prioritized,
			   inheritance = excluded.inheritance, updated_at = excluded.updated_at`,
			rule.ProfileKee, rule.RuleUUID, rule.Severity, impacts, boolToInt(rule.Prioritized), inheritance,
			toMillis(createdAt), toMillis(updatedAt),
		)
		if err != nil {
			return fmt.Errorf("put active rule: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM active_rule_params WHERE profile_kee = ? AND rule_uuid = ?`, rule.ProfileKee, rule.RuleUUID,
		); err != nil {
			return fmt.Errorf("clear active rule params: %w", err)
		}
		for _, name := range sortedKeys(rule.Params) {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO active_rule_params (profile_kee, rule_uuid, name, value) VALUES (?, ?, ?, ?)`,
				rule.ProfileKee, rule.RuleUUID, name, rule.Params[name],
			); err != nil {
				return fmt.Errorf("put active rule param %s: %w", name, err)
			}
		}
		return nil
	})
}

// DeleteActiveRule removes an activation and its params.
func (s *Store) DeleteActiveRule(ctx context.Context, profileKee string, ruleUUID string) error {
	return s.inTransaction(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM active_rule_params WHERE profile_kee = ? AND rule_uuid = ?`, profileKee, ruleUUID,
		); err != nil {
			return fmt.Errorf("delete active rule params: %w", err)
		}
		result, err := tx.q.ExecContext(ctx,
			`DELETE FROM active_rules WHERE profile_kee = ? AND rule_uuid = ?`, profileKee, ruleUUID)
		if err != nil {
			return fmt.Errorf("delete active rule: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// CountActiveRules returns the number of active rules of a profile and how
// many of them override an inherited activation.
func (s *Store) CountActiveRules(ctx context.Context, profileKee string) (int, int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, 0, err
	}
	var active, overriding int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN inheritance = 'OVERRIDES' THEN 1 ELSE 0 END), 0)
		 FROM active_rules WHERE profile_kee = ?`, profileKee,
	).Scan(&active, &overriding)
	if err != nil {
		return 0, 0, fmt.Errorf("count active rules: %w", err)
	}
	return active, overriding, nil
}

// AppendChange records a changelog entry.
func (s *Store) AppendChange(ctx context.Context, change storage.Change) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(change.UUID) == "" || strings.TrimSpace(change.ProfileKee) == "" {
		return fmt.Errorf("change uuid and profile are required")
	}
	data, err := encodeMap(change.Data)
	if err != nil {
		return fmt.Errorf("encode change data: %w", err)
	}
	createdAt := change.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO profile_changes (uuid, profile_kee, rule_uuid, change_type, user_uuid, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.UUID, change.ProfileKee, change.RuleUUID, change.Type, change.UserUUID, data, toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

// ListChanges returns one page of changelog entries, newest first, and the
// total number of matches. Since is inclusive and To exclusive.
func (s *Store) ListChanges(ctx context.Context, query storage.ChangeQuery) ([]storage.Change, int, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := []string{"profile_kee = ?"}
	args := []any{query.ProfileKee}
	if !query.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(query.Since))
	}
	if !query.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(query.To))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM profile_changes WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count changes: %w", err)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT uuid, profile_kee, rule_uuid, change_type, user_uuid, data, created_at FROM profile_changes
		 WHERE `+whereClause+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, limit, query.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()
	var changes []storage.Change
	for rows.Next() {
		var c storage.Change
		var data string
		var createdAt int64
		if err := rows.Scan(&c.UUID, &c.ProfileKee, &c.RuleUUID, &c.Type, &c.UserUUID, &data, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan change: %w", err)
		}
		decoded, err := decodeMap(data)
		if err != nil {
			return nil, 0, fmt.Errorf("decode change data: %w", err)
		}
		c.Data = decoded
		c.CreatedAt = fromMillis(createdAt)
		changes = append(changes, c)
	}
	return changes, total, rows.Err()
}
