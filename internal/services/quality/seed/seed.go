// Package seed loads a YAML catalog into the quality store: metrics, rules,
// the component tree with its measures and analyses, favorites, and the
// built-in quality profiles. Loading the same file twice is a no-op.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/id"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"gopkg.in/yaml.v3"
)

// File is the seed document.
type File struct {
	Metrics    []Metric    `yaml:"metrics"`
	Rules      []Rule      `yaml:"rules"`
	Components []Component `yaml:"components"`
	Measures   []Measure   `yaml:"measures"`
	Analyses   []Analysis  `yaml:"analyses"`
	Favorites  []Favorite  `yaml:"favorites"`
	Profiles   []Profile   `yaml:"profiles"`
}

// Metric declares a metric.
type Metric struct {
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Hidden bool   `yaml:"hidden"`
}

// Rule declares a catalog rule. Key is "repository:key". A rule with a
// template key is a custom rule built from that template.
type Rule struct {
	Key                string            `yaml:"key"`
	Name               string            `yaml:"name"`
	Language           string            `yaml:"language"`
	Severity           string            `yaml:"severity"`
	Type               string            `yaml:"type"`
	Status             string            `yaml:"status"`
	Template           bool              `yaml:"template"`
	TemplateKey        string            `yaml:"templateKey"`
	External           bool              `yaml:"external"`
	Description        string            `yaml:"description"`
	CleanCodeAttribute string            `yaml:"cleanCodeAttribute"`
	Impacts            map[string]string `yaml:"impacts"`
	Tags               []string          `yaml:"tags"`
	Params             []Param           `yaml:"params"`
	DeprecatedKeys     []string          `yaml:"deprecatedKeys"`
}

// Param declares a rule param.
type Param struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Default     string `yaml:"default"`
	Description string `yaml:"description"`
}

// Component declares a component. Parents must be declared first.
type Component struct {
	Key         string    `yaml:"key"`
	Name        string    `yaml:"name"`
	Qualifier   string    `yaml:"qualifier"`
	Parent      string    `yaml:"parent"`
	Path        string    `yaml:"path"`
	Language    string    `yaml:"language"`
	Description string    `yaml:"description"`
	Private     bool      `yaml:"private"`
	Disabled    bool      `yaml:"disabled"`
	Tags        []string  `yaml:"tags"`
	CreatedAt   time.Time `yaml:"createdAt"`
}

// Measure declares a live measure. Value is numeric; Text holds data
// measures such as language distributions and quality gate statuses.
type Measure struct {
	Component string   `yaml:"component"`
	Metric    string   `yaml:"metric"`
	Value     *float64 `yaml:"value"`
	Text      string   `yaml:"text"`
}

// Analysis declares the last analysis of a root component.
type Analysis struct {
	Project    string    `yaml:"project"`
	Date       time.Time `yaml:"date"`
	PeriodDate time.Time `yaml:"periodDate"`
}

// Favorite declares a user favorite.
type Favorite struct {
	User      string `yaml:"user"`
	Component string `yaml:"component"`
}

// Profile declares a built-in quality profile.
type Profile struct {
	Name     string        `yaml:"name"`
	Language string        `yaml:"language"`
	Default  bool          `yaml:"default"`
	Rules    []ProfileRule `yaml:"rules"`
}

// ProfileRule activates a rule in a built-in profile. Severity and params
// default to the rule's.
type ProfileRule struct {
	Key      string            `yaml:"key"`
	Severity string            `yaml:"severity"`
	Params   map[string]string `yaml:"params"`
}

// Summary counts what a load wrote.
type Summary struct {
	Metrics    int
	Rules      int
	Components int
	Measures   int
	Analyses   int
	Favorites  int
	Profiles   int
	Changes    int
}

// Parse decodes a seed document, rejecting unknown fields.
func Parse(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return f, nil
}

// LoadFile parses and applies the seed file at path.
func LoadFile(ctx context.Context, store storage.Store, profiles *qualityprofile.Service, path string) (Summary, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return Summary{}, err
	}
	return Apply(ctx, store, profiles, f)
}

// ComponentUUID is the uuid seeded components get for key.
func ComponentUUID(key string) string {
	return id.DerivedID("component", key)
}

// RuleUUID is the uuid seeded rules get for a "repository:key" key.
func RuleUUID(ruleKey string) string {
	return id.DerivedID("rule", ruleKey)
}

// Apply writes f to store. The catalog and component data go in one
// transaction; built-in profiles are then synced through profiles.
func Apply(ctx context.Context, store storage.Store, profiles *qualityprofile.Service, f File) (Summary, error) {
	if store == nil || profiles == nil {
		return Summary{}, fmt.Errorf("seed store is not configured")
	}
	var summary Summary
	err := store.Transact(ctx, func(tx storage.Store) error {
		summary = Summary{}
		if err := applyMetrics(ctx, tx, f.Metrics, &summary); err != nil {
			return err
		}
		if err := applyRules(ctx, tx, f.Rules, &summary); err != nil {
			return err
		}
		if err := applyComponents(ctx, tx, f.Components, &summary); err != nil {
			return err
		}
		return applyProjectData(ctx, tx, f, &summary)
	})
	if err != nil {
		return Summary{}, err
	}
	if err := applyProfiles(ctx, store, profiles, f.Profiles, &summary); err != nil {
		return Summary{}, err
	}
	log.Printf("seeded %d metrics, %d rules, %d components, %d profiles (%d rule changes)",
		summary.Metrics, summary.Rules, summary.Components, summary.Profiles, summary.Changes)
	return summary, nil
}

func applyMetrics(ctx context.Context, tx storage.Store, metrics []Metric, summary *Summary) error {
	for _, m := range metrics {
		if strings.TrimSpace(m.Key) == "" {
			return fmt.Errorf("metric key is required")
		}
		err := tx.PutMetric(ctx, storage.Metric{Key: m.Key, Name: m.Name, ValueType: m.Type, Hidden: m.Hidden})
		if err != nil {
			return fmt.Errorf("put metric %s: %w", m.Key, err)
		}
		summary.Metrics++
	}
	return nil
}

func applyRules(ctx context.Context, tx storage.Store, rules []Rule, summary *Summary) error {
	for _, decl := range rules {
		r, err := ruleOf(ctx, tx, decl)
		if err != nil {
			return err
		}
		if err := tx.PutRule(ctx, r); err != nil {
			return fmt.Errorf("put rule %s: %w", decl.Key, err)
		}
		for _, old := range decl.DeprecatedKeys {
			repository, key, err := rule.ParseKey(old)
			if err != nil {
				return fmt.Errorf("deprecated key of %s: %w", decl.Key, err)
			}
			err = tx.PutDeprecatedRuleKey(ctx, storage.DeprecatedRuleKey{OldRepository: repository, OldKey: key, RuleUUID: r.UUID})
			if err != nil {
				return fmt.Errorf("put deprecated key %s: %w", old, err)
			}
		}
		summary.Rules++
	}
	return nil
}

func ruleOf(ctx context.Context, tx storage.Store, decl Rule) (storage.Rule, error) {
	repository, key, err := rule.ParseKey(decl.Key)
	if err != nil {
		return storage.Rule{}, err
	}
	uuid := RuleUUID(rule.FormatKey(repository, key))

	if decl.TemplateKey != "" {
		templateRepository, templateKey, err := rule.ParseKey(decl.TemplateKey)
		if err != nil {
			return storage.Rule{}, fmt.Errorf("template of %s: %w", decl.Key, err)
		}
		template, err := tx.GetRuleByKey(ctx, templateRepository, templateKey)
		if err != nil {
			return storage.Rule{}, fmt.Errorf("template %s of %s: %w", decl.TemplateKey, decl.Key, err)
		}
		params := make(map[string]string, len(decl.Params))
		for _, p := range decl.Params {
			params[p.Name] = p.Default
		}
		r, err := rule.NewCustomRule(template, rule.CustomRule{
			TemplateKey: decl.TemplateKey,
			CustomKey:   key,
			Name:        decl.Name,
			Description: decl.Description,
			Severity:    decl.Severity,
			Type:        decl.Type,
			Status:      decl.Status,
			Params:      params,
		}, time.Now().UTC())
		if err != nil {
			return storage.Rule{}, fmt.Errorf("custom rule %s: %w", decl.Key, err)
		}
		r.UUID = uuid
		return r, nil
	}

	r := storage.Rule{
		UUID:               uuid,
		Repository:         repository,
		Key:                key,
		Name:               decl.Name,
		Language:           decl.Language,
		Severity:           decl.Severity,
		Type:               decl.Type,
		Status:             decl.Status,
		IsTemplate:         decl.Template,
		IsExternal:         decl.External,
		Description:        decl.Description,
		CleanCodeAttribute: decl.CleanCodeAttribute,
		Impacts:            decl.Impacts,
		Tags:               decl.Tags,
	}
	if r.Status == "" {
		r.Status = rule.StatusReady
	}
	for _, check := range []func() error{
		func() error { return rule.ValidateSeverity(r.Severity) },
		func() error { return rule.ValidateType(r.Type) },
		func() error { return rule.ValidateStatus(r.Status) },
		func() error { return rule.ValidateImpacts(r.Impacts) },
	} {
		if err := check(); err != nil {
			return storage.Rule{}, fmt.Errorf("rule %s: %w", decl.Key, err)
		}
	}
	for _, p := range decl.Params {
		if err := rule.ValidateParam(p.Type, p.Default); err != nil {
			return storage.Rule{}, fmt.Errorf("rule %s param %s: %w", decl.Key, p.Name, err)
		}
		r.Params = append(r.Params, storage.RuleParam{Name: p.Name, Type: p.Type, DefaultValue: p.Default, Description: p.Description})
	}
	return r, nil
}

func applyComponents(ctx context.Context, tx storage.Store, components []Component, summary *Summary) error {
	for _, decl := range components {
		if strings.TrimSpace(decl.Key) == "" {
			return fmt.Errorf("component key is required")
		}
		c := storage.Component{
			UUID:        ComponentUUID(decl.Key),
			Key:         decl.Key,
			Name:        decl.Name,
			Qualifier:   decl.Qualifier,
			Path:        decl.Path,
			Language:    decl.Language,
			Description: decl.Description,
			Private:     decl.Private,
			Enabled:     !decl.Disabled,
			Tags:        decl.Tags,
			CreatedAt:   decl.CreatedAt,
		}
		if c.Name == "" {
			c.Name = c.Key
		}
		if decl.Parent != "" {
			c.ParentUUID = ComponentUUID(decl.Parent)
		}
		if err := tx.PutComponent(ctx, c); err != nil {
			return fmt.Errorf("put component %s: %w", decl.Key, err)
		}
		summary.Components++
	}
	return nil
}

func applyProjectData(ctx context.Context, tx storage.Store, f File, summary *Summary) error {
	for _, m := range f.Measures {
		err := tx.PutMeasure(ctx, storage.Measure{
			ComponentUUID: ComponentUUID(m.Component),
			MetricKey:     m.Metric,
			Value:         m.Value,
			Text:          m.Text,
		})
		if err != nil {
			return fmt.Errorf("put measure %s on %s: %w", m.Metric, m.Component, err)
		}
		summary.Measures++
	}
	for _, a := range f.Analyses {
		if a.Date.IsZero() {
			return fmt.Errorf("analysis of %s needs a date", a.Project)
		}
		err := tx.PutAnalysis(ctx, storage.Analysis{
			UUID:        id.DerivedID("analysis", a.Project, a.Date.UTC().Format(time.RFC3339Nano)),
			ProjectUUID: ComponentUUID(a.Project),
			AnalyzedAt:  a.Date,
			PeriodDate:  a.PeriodDate,
			Last:        true,
		})
		if err != nil {
			return fmt.Errorf("put analysis of %s: %w", a.Project, err)
		}
		summary.Analyses++
	}
	for _, fav := range f.Favorites {
		if err := tx.AddFavorite(ctx, fav.User, ComponentUUID(fav.Component)); err != nil {
			return fmt.Errorf("add favorite %s for %s: %w", fav.Component, fav.User, err)
		}
		summary.Favorites++
	}
	return nil
}

func applyProfiles(ctx context.Context, store storage.Store, profiles *qualityprofile.Service, decls []Profile, summary *Summary) error {
	var languages []string
	firstByLanguage := map[string]string{}
	preferred := map[string]string{}
	for _, decl := range decls {
		p, err := builtInProfile(ctx, profiles, decl)
		if err != nil {
			return err
		}
		if _, ok := firstByLanguage[p.Language]; !ok {
			firstByLanguage[p.Language] = p.Kee
			languages = append(languages, p.Language)
		}
		if decl.Default && preferred[p.Language] == "" {
			preferred[p.Language] = p.Kee
		}

		activations := make([]qualityprofile.RuleActivation, 0, len(decl.Rules))
		for _, pr := range decl.Rules {
			repository, key, err := rule.ParseKey(pr.Key)
			if err != nil {
				return fmt.Errorf("profile %s: %w", decl.Name, err)
			}
			r, err := rule.Resolve(ctx, store, repository, key)
			if err != nil {
				return fmt.Errorf("profile %s: %w", decl.Name, err)
			}
			activations = append(activations, qualityprofile.RuleActivation{RuleUUID: r.UUID, Severity: pr.Severity, Params: pr.Params})
		}
		changes, err := profiles.ActivateBuiltIn(ctx, p.Kee, activations...)
		if err != nil {
			return fmt.Errorf("activate rules of %s: %w", decl.Name, err)
		}
		summary.Profiles++
		summary.Changes += len(changes)
	}

	for _, language := range languages {
		defaults, err := store.ListProfiles(ctx, storage.ProfileQuery{Language: language, DefaultsOnly: true})
		if err != nil {
			return fmt.Errorf("list default profiles: %w", err)
		}
		if len(defaults) > 0 {
			continue
		}
		kee := preferred[language]
		if kee == "" {
			kee = firstByLanguage[language]
		}
		if err := store.SetDefaultProfile(ctx, language, kee); err != nil {
			return fmt.Errorf("set default %s profile: %w", language, err)
		}
	}
	return nil
}

// builtInProfile returns the built-in profile named by decl, creating it
// when missing.
func builtInProfile(ctx context.Context, profiles *qualityprofile.Service, decl Profile) (storage.Profile, error) {
	p, err := profiles.GetByName(ctx, decl.Language, decl.Name)
	switch {
	case err == nil:
		if !p.BuiltIn {
			return storage.Profile{}, fmt.Errorf("profile %s of %s exists and is not built-in", decl.Name, decl.Language)
		}
		return p, nil
	case !apperrors.IsCode(err, apperrors.CodeProfileNotFound):
		return storage.Profile{}, err
	}
	return profiles.Create(ctx, qualityprofile.CreateRequest{Name: decl.Name, Language: decl.Language, BuiltIn: true})
}
