package rule

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/id"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

var customKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Service reads the rule catalog and creates custom rules.
type Service struct {
	store storage.RuleStore
	clock func() time.Time
}

// NewService creates a rule service over store.
func NewService(store storage.RuleStore) *Service {
	return &Service{store: store, clock: time.Now}
}

// Get resolves a "repository:key" rule key, following deprecated keys.
func (s *Service) Get(ctx context.Context, ruleKey string) (storage.Rule, error) {
	if s == nil || s.store == nil {
		return storage.Rule{}, fmt.Errorf("rule store is not configured")
	}
	repository, key, err := ParseKey(ruleKey)
	if err != nil {
		return storage.Rule{}, err
	}
	r, err := Resolve(ctx, s.store, repository, key)
	if err != nil {
		return storage.Rule{}, err
	}
	return r, nil
}

// ByUUID returns a stored rule by uuid.
func (s *Service) ByUUID(ctx context.Context, uuid string) (storage.Rule, error) {
	if s == nil || s.store == nil {
		return storage.Rule{}, fmt.Errorf("rule store is not configured")
	}
	r, err := s.store.GetRule(ctx, uuid)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Rule{}, apperrors.Newf(apperrors.CodeRuleNotFound, "Rule with uuid '%s' not found", uuid)
	}
	if err != nil {
		return storage.Rule{}, fmt.Errorf("get rule %s: %w", uuid, err)
	}
	return r, nil
}

// Resolve finds a rule by key, falling back to deprecated keys.
func Resolve(ctx context.Context, store storage.RuleStore, repository, key string) (storage.Rule, error) {
	r, err := store.GetRuleByKey(ctx, repository, key)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Rule{}, fmt.Errorf("get rule %s:%s: %w", repository, key, err)
	}
	deprecated, err := store.ListDeprecatedRuleKeys(ctx)
	if err != nil {
		return storage.Rule{}, fmt.Errorf("list deprecated rule keys: %w", err)
	}
	for _, d := range deprecated {
		if d.OldRepository == repository && d.OldKey == key {
			r, err := store.GetRule(ctx, d.RuleUUID)
			if err != nil {
				return storage.Rule{}, fmt.Errorf("get rule %s: %w", d.RuleUUID, err)
			}
			return r, nil
		}
	}
	return storage.Rule{}, apperrors.Newf(apperrors.CodeRuleNotFound, "Rule with key '%s:%s' not found", repository, key)
}

// CustomRule describes a rule to create from a template.
type CustomRule struct {
	TemplateKey string
	CustomKey   string
	Name        string
	Description string
	// Severity, Type and Status default to the template's values.
	Severity string
	Type     string
	Status   string
	// Params override template defaults by name.
	Params map[string]string
}

// NewCustomRule builds a custom rule from template. The custom rule copies
// the template language, repository, type and params.
func NewCustomRule(template storage.Rule, req CustomRule, now time.Time) (storage.Rule, error) {
	if !template.IsTemplate {
		return storage.Rule{}, apperrors.Newf(apperrors.CodeInvalidArgument, "This rule is not a template rule: %s", template.RuleKey())
	}
	if template.Status == StatusRemoved {
		return storage.Rule{}, apperrors.Newf(apperrors.CodeRuleRemoved, "The template key doesn't exist: %s", template.RuleKey())
	}
	key := strings.TrimSpace(req.CustomKey)
	if key == "" {
		return storage.Rule{}, apperrors.New(apperrors.CodeMissingParameter, "The 'custom_key' parameter is missing")
	}
	if !customKeyPattern.MatchString(key) {
		return storage.Rule{}, apperrors.Newf(apperrors.CodeInvalidArgument,
			`The rule key "%s" is invalid, it should only contain: a-z, 0-9, "_"`, key)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return storage.Rule{}, apperrors.New(apperrors.CodeMissingParameter, "The name is missing")
	}

	r := storage.Rule{
		UUID:               id.MustNewID(),
		Repository:         template.Repository,
		Key:                key,
		Name:               name,
		Language:           template.Language,
		Severity:           firstNonEmpty(req.Severity, template.Severity),
		Type:               firstNonEmpty(req.Type, template.Type),
		Status:             firstNonEmpty(req.Status, StatusReady),
		TemplateUUID:       template.UUID,
		Description:        firstNonEmpty(strings.TrimSpace(req.Description), template.Description),
		CleanCodeAttribute: template.CleanCodeAttribute,
		Impacts:            template.Impacts,
		Tags:               template.Tags,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := ValidateSeverity(r.Severity); err != nil {
		return storage.Rule{}, err
	}
	if err := ValidateType(r.Type); err != nil {
		return storage.Rule{}, err
	}
	if err := ValidateStatus(r.Status); err != nil {
		return storage.Rule{}, err
	}
	for _, p := range template.Params {
		value := p.DefaultValue
		if v, ok := req.Params[p.Name]; ok && v != "" {
			value = v
		}
		if err := ValidateParam(p.Type, value); err != nil {
			return storage.Rule{}, err
		}
		r.Params = append(r.Params, storage.RuleParam{
			Name:         p.Name,
			Type:         p.Type,
			DefaultValue: value,
			Description:  p.Description,
		})
	}
	return r, nil
}

// CreateCustom creates and stores a custom rule.
func (s *Service) CreateCustom(ctx context.Context, req CustomRule) (storage.Rule, error) {
	if s == nil || s.store == nil {
		return storage.Rule{}, fmt.Errorf("rule store is not configured")
	}
	template, err := s.Get(ctx, req.TemplateKey)
	if err != nil {
		return storage.Rule{}, err
	}
	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock().UTC()
	}
	r, err := NewCustomRule(template, req, now)
	if err != nil {
		return storage.Rule{}, err
	}
	if err := s.store.PutRule(ctx, r); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.Rule{}, apperrors.Newf(apperrors.CodeInvalidArgument, "A rule with the key '%s' already exists", r.RuleKey())
		}
		return storage.Rule{}, fmt.Errorf("put custom rule: %w", err)
	}
	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
