// Package storage defines persistence contracts for quality service state:
// the component tree with its measures, the rule catalog, and quality
// profiles with their active rules and changelog.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/qualityhub/internal/platform/filter"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a unique constraint rejected a write.
var ErrAlreadyExists = errors.New("record already exists")

// Metric describes a measurable quantity.
type Metric struct {
	Key       string
	Name      string
	ValueType string
	Hidden    bool
}

// Component is a node of a project tree or a portfolio.
type Component struct {
	UUID        string
	Key         string
	Name        string
	Qualifier   string
	Path        string
	Language    string
	Description string
	ParentUUID  string
	// RootUUID is the project, application or portfolio the component
	// belongs to. Roots point to themselves.
	RootUUID  string
	Private   bool
	Enabled   bool
	Tags      []string
	CreatedAt time.Time
}

// IsRoot reports whether the component is a project, application or portfolio.
func (c Component) IsRoot() bool {
	return c.UUID == c.RootUUID
}

// Analysis is one analysis of a root component.
type Analysis struct {
	UUID        string
	ProjectUUID string
	AnalyzedAt  time.Time
	// PeriodDate starts the new code period. Zero when there is none.
	PeriodDate time.Time
	Last       bool
}

// Measure is the live value of a metric on a component.
type Measure struct {
	ComponentUUID string
	MetricKey     string
	Value         *float64
	Text          string
}

// RuleParam declares a rule parameter.
type RuleParam struct {
	Name         string
	Type         string
	DefaultValue string
	Description  string
}

// Rule is a coding rule of the catalog.
type Rule struct {
	UUID               string
	Repository         string
	Key                string
	Name               string
	Language           string
	Severity           string
	Type               string
	Status             string
	IsTemplate         bool
	TemplateUUID       string
	IsExternal         bool
	Description        string
	CleanCodeAttribute string
	// Impacts maps software quality to default impact severity.
	Impacts   map[string]string
	Tags      []string
	Params    []RuleParam
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleKey returns the "repository:key" form of the rule key.
func (r Rule) RuleKey() string {
	return r.Repository + ":" + r.Key
}

// Param returns the declared param by name.
func (r Rule) Param(name string) (RuleParam, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return RuleParam{}, false
}

// DeprecatedRuleKey maps a retired rule key onto its current rule.
type DeprecatedRuleKey struct {
	OldRepository string
	OldKey        string
	RuleUUID      string
}

// Profile is a quality profile.
type Profile struct {
	Kee            string
	Name           string
	Language       string
	ParentKee      string
	BuiltIn        bool
	IsDefault      bool
	RulesUpdatedAt time.Time
	UserUpdatedAt  time.Time
	LastUsed       time.Time
	CreatedAt      time.Time
}

// ActiveRule is a rule enabled in a profile.
type ActiveRule struct {
	ProfileKee  string
	RuleUUID    string
	Severity    string
	Impacts     map[string]string
	Prioritized bool
	Inheritance string
	Params      map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Change is one quality profile changelog entry.
type Change struct {
	UUID       string
	ProfileKee string
	RuleUUID   string
	Type       string
	UserUUID   string
	Data       map[string]string
	CreatedAt  time.Time
}

// DescendantQuery selects components below a base component.
type DescendantQuery struct {
	// Strategy is "children", "all" or "leaves".
	Strategy   string
	Qualifiers []string
	// Text matches name or key, case-insensitively.
	Text   string
	Sort   []string
	Asc    bool
	Offset int
	Limit  int
}

// ProfileQuery filters profile listings.
type ProfileQuery struct {
	Language     string
	DefaultsOnly bool
}

// ChangeQuery selects changelog entries, newest first.
type ChangeQuery struct {
	ProfileKee string
	Since      time.Time
	To         time.Time
	Offset     int
	Limit      int
}

// MetricStore persists metric definitions.
type MetricStore interface {
	PutMetric(ctx context.Context, metric Metric) error
	ListMetrics(ctx context.Context) ([]Metric, error)
}

// ComponentStore persists the component tree and analyses.
type ComponentStore interface {
	PutComponent(ctx context.Context, component Component) error
	GetComponent(ctx context.Context, uuid string) (Component, error)
	GetComponentByKey(ctx context.Context, key string) (Component, error)
	ListComponentsByKeys(ctx context.Context, keys []string) ([]Component, error)
	ListComponentsByUUIDs(ctx context.Context, uuids []string) ([]Component, error)
	// ListRoots returns enabled root components with one of qualifiers.
	ListRoots(ctx context.Context, qualifiers []string) ([]Component, error)
	ListDescendants(ctx context.Context, base Component, query DescendantQuery) ([]Component, int, error)
	PutAnalysis(ctx context.Context, analysis Analysis) error
	ListLastAnalyses(ctx context.Context, projectUUIDs []string) (map[string]Analysis, error)
}

// MeasureStore persists live measures.
type MeasureStore interface {
	PutMeasure(ctx context.Context, measure Measure) error
	ListMeasures(ctx context.Context, componentUUIDs []string, metricKeys []string) ([]Measure, error)
}

// FavoriteStore persists user favorites.
type FavoriteStore interface {
	AddFavorite(ctx context.Context, userUUID string, componentUUID string) error
	RemoveFavorite(ctx context.Context, userUUID string, componentUUID string) error
	ListFavorites(ctx context.Context, userUUID string) ([]string, error)
}

// RuleStore persists the rule catalog.
type RuleStore interface {
	PutRule(ctx context.Context, rule Rule) error
	GetRule(ctx context.Context, uuid string) (Rule, error)
	GetRuleByKey(ctx context.Context, repository string, key string) (Rule, error)
	ListRulesByUUIDs(ctx context.Context, uuids []string) ([]Rule, error)
	SearchRules(ctx context.Context, cond filter.SQLCondition) ([]Rule, error)
	PutDeprecatedRuleKey(ctx context.Context, key DeprecatedRuleKey) error
	ListDeprecatedRuleKeys(ctx context.Context) ([]DeprecatedRuleKey, error)
}

// ProfileStore persists quality profiles, active rules and changelog.
type ProfileStore interface {
	PutProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, kee string) (Profile, error)
	GetProfileByName(ctx context.Context, language string, name string) (Profile, error)
	ListProfiles(ctx context.Context, query ProfileQuery) ([]Profile, error)
	ListChildProfiles(ctx context.Context, parentKee string) ([]Profile, error)
	DeleteProfile(ctx context.Context, kee string) error
	SetDefaultProfile(ctx context.Context, language string, kee string) error

	GetActiveRule(ctx context.Context, profileKee string, ruleUUID string) (ActiveRule, error)
	ListActiveRules(ctx context.Context, profileKee string) ([]ActiveRule, error)
	PutActiveRule(ctx context.Context, rule ActiveRule) error
	DeleteActiveRule(ctx context.Context, profileKee string, ruleUUID string) error
	CountActiveRules(ctx context.Context, profileKee string) (active int, overriding int, err error)

	AppendChange(ctx context.Context, change Change) error
	ListChanges(ctx context.Context, query ChangeQuery) ([]Change, int, error)
}

// Store combines every quality store contract.
type Store interface {
	MetricStore
	ComponentStore
	MeasureStore
	FavoriteStore
	RuleStore
	ProfileStore
	// Transact runs fn atomically against a transactional view of the store.
	Transact(ctx context.Context, fn func(Store) error) error
}
