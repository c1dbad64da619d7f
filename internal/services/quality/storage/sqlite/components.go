package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

const componentColumns = `uuid, kee, name, qualifier, path, language, description, parent_uuid, root_uuid, private, enabled, tags, created_at`

var leafQualifiers = []string{"FIL", "UTS"}

var treeSortColumns = map[string]string{
	"name":      "name",
	"path":      "path",
	"qualifier": "qualifier",
}

// PutMetric upserts one metric definition.
func (s *Store) PutMetric(ctx context.Context, metric storage.Metric) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	key := strings.TrimSpace(metric.Key)
	if key == "" {
		return fmt.Errorf("metric key is required")
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO metrics (metric_key, name, value_type, hidden) VALUES (?, ?, ?, ?)
		 ON CONFLICT(metric_key) DO UPDATE SET
		   name = excluded.name, value_type = excluded.value_type, hidden = excluded.hidden`,
		key, metric.Name, metric.ValueType, boolToInt(metric.Hidden),
	)
	if err != nil {
		return fmt.Errorf("put metric: %w", err)
	}
	return nil
}

// ListMetrics returns every metric ordered by key.
func (s *Store) ListMetrics(ctx context.Context) ([]storage.Metric, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, `SELECT metric_key, name, value_type, hidden FROM metrics ORDER BY metric_key`)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []storage.Metric
	for rows.Next() {
		var m storage.Metric
		var hidden int
		if err := rows.Scan(&m.Key, &m.Name, &m.ValueType, &hidden); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Hidden = hidden == 1
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// PutComponent upserts one component. The parent must already exist.
func (s *Store) PutComponent(ctx context.Context, component storage.Component) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	uuid := strings.TrimSpace(component.UUID)
	key := strings.TrimSpace(component.Key)
	if uuid == "" {
		return fmt.Errorf("component uuid is required")
	}
	if key == "" {
		return fmt.Errorf("component key is required")
	}
	if strings.TrimSpace(component.Qualifier) == "" {
		return fmt.Errorf("component qualifier is required")
	}

	uuidPath := "."
	rootUUID := uuid
	if parentUUID := strings.TrimSpace(component.ParentUUID); parentUUID != "" {
		var parentPath, parentRoot string
		err := s.q.QueryRowContext(ctx,
			`SELECT uuid_path, root_uuid FROM components WHERE uuid = ?`, parentUUID,
		).Scan(&parentPath, &parentRoot)
		if err != nil {
			return fmt.Errorf("load parent component %s: %w", parentUUID, notFound(err))
		}
		uuidPath = parentPath + parentUUID + "."
		rootUUID = parentRoot
	}
	createdAt := component.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO components (uuid, kee, name, qualifier, path, language, description, parent_uuid, root_uuid, uuid_path, private, enabled, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
		   kee = excluded.kee, name = excluded.name, qualifier = excluded.qualifier, path = excluded.path,
		   language = excluded.language, description = excluded.description, private = excluded.private,
		   enabled = excluded.enabled, tags = excluded.tags`,
		uuid, key, component.Name, component.Qualifier, component.Path, component.Language, component.Description,
		strings.TrimSpace(component.ParentUUID), rootUUID, uuidPath,
		boolToInt(component.Private), boolToInt(component.Enabled), strings.Join(component.Tags, ","), toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("put component %s: %w", key, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("put component: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (storage.Component, error) {
	var c storage.Component
	var private, enabled int
	var tags string
	var createdAt int64
	if err := row.Scan(&c.UUID, &c.Key, &c.Name, &c.Qualifier, &c.Path, &c.Language, &c.Description,
		&c.ParentUUID, &c.RootUUID, &private, &enabled, &tags, &createdAt); err != nil {
		return storage.Component{}, err
	}
	c.Private = private == 1
	c.Enabled = enabled == 1
	c.Tags = splitTags(tags)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (s *Store) queryComponents(ctx context.Context, query string, args ...any) ([]storage.Component, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var components []storage.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// GetComponent returns one component by uuid.
func (s *Store) GetComponent(ctx context.Context, uuid string) (storage.Component, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Component{}, err
	}
	c, err := scanComponent(s.q.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE uuid = ?`, strings.TrimSpace(uuid)))
	if err != nil {
		return storage.Component{}, notFound(err)
	}
	return c, nil
}

// GetComponentByKey returns one component by key.
func (s *Store) GetComponentByKey(ctx context.Context, key string) (storage.Component, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Component{}, err
	}
	c, err := scanComponent(s.q.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE kee = ?`, strings.TrimSpace(key)))
	if err != nil {
		return storage.Component{}, notFound(err)
	}
	return c, nil
}

// ListComponentsByKeys returns the components matching keys, in no order.
func (s *Store) ListComponentsByKeys(ctx context.Context, keys []string) ([]storage.Component, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	components, err := s.queryComponents(ctx,
		`SELECT `+componentColumns+` FROM components WHERE kee IN (`+placeholders(len(keys))+`)`, stringArgs(keys)...)
	if err != nil {
		return nil, fmt.Errorf("list components by keys: %w", err)
	}
	return components, nil
}

// ListComponentsByUUIDs returns the components matching uuids, in no order.
func (s *Store) ListComponentsByUUIDs(ctx context.Context, uuids []string) ([]storage.Component, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	components, err := s.queryComponents(ctx,
		`SELECT `+componentColumns+` FROM components WHERE uuid IN (`+placeholders(len(uuids))+`)`, stringArgs(uuids)...)
	if err != nil {
		return nil, fmt.Errorf("list components by uuids: %w", err)
	}
	return components, nil
}

// ListRoots returns enabled root components with one of qualifiers.
func (s *Store) ListRoots(ctx context.Context, qualifiers []string) ([]storage.Component, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(qualifiers) == 0 {
		return nil, nil
	}
	components, err := s.queryComponents(ctx,
		`SELECT `+componentColumns+` FROM components
		 WHERE uuid = root_uuid AND enabled = 1 AND qualifier IN (`+placeholders(len(qualifiers))+`)
		 ORDER BY kee`,
		stringArgs(qualifiers)...)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	return components, nil
}

// ListDescendants returns one page of enabled components below base and the
// total number of matches.
func (s *Store) ListDescendants(ctx context.Context, base storage.Component, query storage.DescendantQuery) ([]storage.Component, int, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(base.UUID) == "" {
		return nil, 0, fmt.Errorf("base component uuid is required")
	}

	var basePath string
	if err := s.q.QueryRowContext(ctx, `SELECT uuid_path FROM components WHERE uuid = ?`, base.UUID).Scan(&basePath); err != nil {
		return nil, 0, fmt.Errorf("load base component: %w", notFound(err))
	}

	where := []string{"enabled = 1"}
	var args []any
	switch query.Strategy {
	case "children":
		where = append(where, "parent_uuid = ?")
		args = append(args, base.UUID)
	case "all", "leaves", "":
		prefix := basePath + base.UUID + "."
		where = append(where, "substr(uuid_path, 1, ?) = ?")
		args = append(args, len(prefix), prefix)
		if query.Strategy == "leaves" {
			where = append(where, "qualifier IN ("+placeholders(len(leafQualifiers))+")")
			args = append(args, stringArgs(leafQualifiers)...)
		}
	default:
		return nil, 0, fmt.Errorf("unknown strategy %q", query.Strategy)
	}
	if len(query.Qualifiers) > 0 {
		where = append(where, "qualifier IN ("+placeholders(len(query.Qualifiers))+")")
		args = append(args, stringArgs(query.Qualifiers)...)
	}
	if text := strings.TrimSpace(query.Text); text != "" {
		where = append(where, "(instr(lower(name), lower(?)) > 0 OR instr(lower(kee), lower(?)) > 0)")
		args = append(args, text, text)
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM components WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count descendants: %w", err)
	}

	direction := "ASC"
	if !query.Asc {
		direction = "DESC"
	}
	var order []string
	for _, field := range query.Sort {
		column, ok := treeSortColumns[field]
		if !ok {
			return nil, 0, fmt.Errorf("unknown sort field %q", field)
		}
		order = append(order, column+" "+direction)
	}
	order = append(order, "kee "+direction)

	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}
	pageArgs := append(append([]any{}, args...), limit, query.Offset)
	components, err := s.queryComponents(ctx,
		`SELECT `+componentColumns+` FROM components WHERE `+whereClause+
			` ORDER BY `+strings.Join(order, ", ")+` LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list descendants: %w", err)
	}
	return components, total, nil
}

// PutAnalysis stores an analysis. A Last analysis clears the flag on older
// analyses of the same project.
func (s *Store) PutAnalysis(ctx context.Context, analysis storage.Analysis) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(analysis.UUID) == "" {
		return fmt.Errorf("analysis uuid is required")
	}
	if strings.TrimSpace(analysis.ProjectUUID) == "" {
		return fmt.Errorf("analysis project uuid is required")
	}
	if analysis.Last {
		if _, err := s.q.ExecContext(ctx,
			`UPDATE analyses SET is_last = 0 WHERE project_uuid = ? AND uuid != ?`,
			analysis.ProjectUUID, analysis.UUID,
		); err != nil {
			return fmt.Errorf("reset last analysis: %w", err)
		}
	}
	var periodDate any
	if !analysis.PeriodDate.IsZero() {
		periodDate = toMillis(analysis.PeriodDate)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO analyses (uuid, project_uuid, analyzed_at, period_date, is_last) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
		   analyzed_at = excluded.analyzed_at, period_date = excluded.period_date, is_last = excluded.is_last`,
		analysis.UUID, analysis.ProjectUUID, toMillis(analysis.AnalyzedAt), periodDate, boolToInt(analysis.Last),
	)
	if err != nil {
		return fmt.Errorf("put analysis: %w", err)
	}
	return nil
}

// ListLastAnalyses returns the last analysis of each project, keyed by
// project uuid.
func (s *Store) ListLastAnalyses(ctx context.Context, projectUUIDs []string) (map[string]storage.Analysis, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	result := make(map[string]storage.Analysis, len(projectUUIDs))
	if len(projectUUIDs) == 0 {
		return result, nil
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT uuid, project_uuid, analyzed_at, period_date FROM analyses
		 WHERE is_last = 1 AND project_uuid IN (`+placeholders(len(projectUUIDs))+`)`,
		stringArgs(projectUUIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list last analyses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a storage.Analysis
		var analyzedAt int64
		var periodDate sql.NullInt64
		if err := rows.Scan(&a.UUID, &a.ProjectUUID, &analyzedAt, &periodDate); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.AnalyzedAt = fromMillis(analyzedAt)
		if periodDate.Valid {
			a.PeriodDate = fromMillis(periodDate.Int64)
		}
		a.Last = true
		result[a.ProjectUUID] = a
	}
	return result, rows.Err()
}

// PutMeasure upserts the live value of a metric on a component.
func (s *Store) PutMeasure(ctx context.Context, measure storage.Measure) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(measure.ComponentUUID) == "" {
		return fmt.Errorf("measure component uuid is required")
	}
	if strings.TrimSpace(measure.MetricKey) == "" {
		return fmt.Errorf("measure metric key is required")
	}
	var value any
	if measure.Value != nil {
		value = *measure.Value
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO live_measures (component_uuid, metric_key, value, text_value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(component_uuid, metric_key) DO UPDATE SET
		   value = excluded.value, text_value = excluded.text_value`,
		measure.ComponentUUID, measure.MetricKey, value, measure.Text,
	)
	if err != nil {
		return fmt.Errorf("put measure: %w", err)
	}
	return nil
}

// ListMeasures returns measures of components for the given metric keys.
// An empty metricKeys selects every metric.
func (s *Store) ListMeasures(ctx context.Context, componentUUIDs []string, metricKeys []string) ([]storage.Measure, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(componentUUIDs) == 0 {
		return nil, nil
	}
	query := `SELECT component_uuid, metric_key, value, text_value FROM live_measures
		WHERE component_uuid IN (` + placeholders(len(componentUUIDs)) + `)`
	args := stringArgs(componentUUIDs)
	if len(metricKeys) > 0 {
		query += ` AND metric_key IN (` + placeholders(len(metricKeys)) + `)`
		args = append(args, stringArgs(metricKeys)...)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list measures: %w", err)
	}
	defer rows.Close()

	var measures []storage.Measure
	for rows.Next() {
		var m storage.Measure
		var value sql.NullFloat64
		if err := rows.Scan(&m.ComponentUUID, &m.MetricKey, &value, &m.Text); err != nil {
			return nil, fmt.Errorf("scan measure: %w", err)
		}
		if value.Valid {
			v := value.Float64
			m.Value = &v
		}
		measures = append(measures, m)
	}
	return measures, rows.Err()
}

// AddFavorite marks a component as a favorite of a user.
func (s *Store) AddFavorite(ctx context.Context, userUUID string, componentUUID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userUUID) == "" || strings.TrimSpace(componentUUID) == "" {
		return fmt.Errorf("user uuid and component uuid are required")
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO favorites (user_uuid, component_uuid, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_uuid, component_uuid) DO NOTHING`,
		userUUID, componentUUID, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite drops a favorite. Removing a missing favorite returns
// ErrNotFound.
func (s *Store) RemoveFavorite(ctx context.Context, userUUID string, componentUUID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.q.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_uuid = ? AND component_uuid = ?`, userUUID, componentUUID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListFavorites returns the component uuids a user marked as favorite.
func (s *Store) ListFavorites(ctx context.Context, userUUID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT component_uuid FROM favorites WHERE user_uuid = ? ORDER BY created_at, component_uuid`, userUUID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()
	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		uuids = append(uuids, uuid)
	}
	return uuids, rows.Err()
}
