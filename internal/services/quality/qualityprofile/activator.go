package qualityprofile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/id"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"go.opentelemetry.io/otel/attribute"
)

// RuleActivation requests a rule to be activated, updated or reset in a
// profile. Empty fields fall back to the profile's current, inherited or
// default values.
type RuleActivation struct {
	RuleUUID string
	Severity string
	Impacts  map[string]string
	// Prioritized is nil when the caller leaves it unchanged.
	Prioritized *bool
	// Params holds requested values. A present but empty value resets the
	// param to its parent or default value.
	Params map[string]string
	// Reset restores the parent's values, else the rule defaults.
	Reset bool
}

// Change is one active rule change applied to a profile.
type Change struct {
	Type        string
	ProfileKee  string
	RuleUUID    string
	RuleKey     string
	Severity    string
	Impacts     map[string]string
	Prioritized bool
	Inheritance string
	Params      map[string]string
}

// values is the configurable state of an active rule.
type values struct {
	severity    string
	impacts     map[string]string
	prioritized bool
	params      map[string]string
}

func valuesOf(ar storage.ActiveRule) values {
	return values{severity: ar.Severity, impacts: ar.Impacts, prioritized: ar.Prioritized, params: ar.Params}
}

func (v values) equal(o values) bool {
	return v.severity == o.severity && v.prioritized == o.prioritized &&
		maps.Equal(v.impacts, o.impacts) && maps.Equal(v.params, o.params)
}

func defaultValues(r storage.Rule) values {
	v := values{severity: r.Severity, impacts: maps.Clone(r.Impacts), params: map[string]string{}}
	for _, p := range r.Params {
		if p.DefaultValue != "" {
			v.params[p.Name] = p.DefaultValue
		}
	}
	return v
}

// checkActivation runs the rule-level checks, in the order users see them.
func checkActivation(p storage.Profile, r storage.Rule, builtIn bool) error {
	if r.Status == rule.StatusRemoved {
		return apperrors.Newf(apperrors.CodeRuleRemoved, "Rule was removed: %s", r.RuleKey())
	}
	if r.IsTemplate {
		return apperrors.Newf(apperrors.CodeRuleTemplate, "Rule template can't be activated on a Quality profile: %s", r.RuleKey())
	}
	if r.Language != p.Language {
		return apperrors.Newf(apperrors.CodeRuleLanguageMismatch, "%s rule %s cannot be activated on %s profile %s",
			r.Language, r.RuleKey(), p.Language, p.Name)
	}
	if !builtIn {
		if err := checkWritable(p); err != nil {
			return err
		}
	}
	return nil
}

// Activate activates or updates rules in a profile and cascades the
// result to its descendants. It returns every change applied.
func (s *Service) Activate(ctx context.Context, profileKee string, activations ...RuleActivation) ([]Change, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "Activate", attribute.String("profile", profileKee), attribute.Int("rules", len(activations)))
	defer span.End()
	return s.activateAll(ctx, profileKee, false, activations)
}

// ActivateBuiltIn activates rules in a built-in profile. Values come from
// the activation, else the rule defaults. It is meant for catalog loading.
func (s *Service) ActivateBuiltIn(ctx context.Context, profileKee string, activations ...RuleActivation) ([]Change, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.activateAll(ctx, profileKee, true, activations)
}

func (s *Service) activateAll(ctx context.Context, profileKee string, builtIn bool, activations []RuleActivation) ([]Change, error) {
	var changes []Change
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		op := s.newOperation(ctx, tx)
		op.builtIn = builtIn
		profile, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if builtIn && !profile.BuiltIn {
			return fmt.Errorf("profile %s is not built-in", profile.Kee)
		}
		for _, a := range activations {
			r, err := loadRule(ctx, tx, a.RuleUUID)
			if err != nil {
				return err
			}
			if err := checkActivation(profile, r, builtIn); err != nil {
				return err
			}
			if err := s.activate(ctx, op, profile, r, a, false); err != nil {
				return err
			}
		}
		if err := op.finish(ctx); err != nil {
			return err
		}
		changes = op.changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (op *operation) activeRule(ctx context.Context, profileKee, ruleUUID string) (storage.ActiveRule, bool, error) {
	ar, err := op.tx.GetActiveRule(ctx, profileKee, ruleUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ActiveRule{}, false, nil
		}
		return storage.ActiveRule{}, false, fmt.Errorf("get active rule: %w", err)
	}
	return ar, true, nil
}

// parentValues returns the values the parent profile activates the rule
// with, nil when the profile has no parent or the parent lacks the rule.
func (op *operation) parentValues(ctx context.Context, p storage.Profile, ruleUUID string) (*values, error) {
	if p.ParentKee == "" {
		return nil, nil
	}
	ar, ok, err := op.activeRule(ctx, p.ParentKee, ruleUUID)
	if err != nil || !ok {
		return nil, err
	}
	v := valuesOf(ar)
	return &v, nil
}

func (s *Service) activate(ctx context.Context, op *operation, p storage.Profile, r storage.Rule, req RuleActivation, cascading bool) error {
	active, found, err := op.activeRule(ctx, p.Kee, r.UUID)
	if err != nil {
		return err
	}
	parent, err := op.parentValues(ctx, p, r.UUID)
	if err != nil {
		return err
	}
	if cascading && parent == nil {
		return nil
	}

	if !found {
		if req.Reset && !cascading {
			return nil
		}
		var next values
		if cascading {
			next = *parent
		} else {
			next, err = resolve(r, req, nil, parent, op.builtIn)
			if err != nil {
				return err
			}
		}
		inheritance := InheritanceNone
		if parent != nil && next.equal(*parent) {
			inheritance = Inherited
		}
		if err := op.persist(ctx, ChangeActivated, p, r, next, inheritance, nil); err != nil {
			return err
		}
		return s.cascade(ctx, op, p, r, req)
	}

	current := valuesOf(active)
	next := current
	inheritance := active.Inheritance
	stop := false
	switch {
	case cascading && active.Inheritance == Overrides:
		if current.equal(*parent) {
			inheritance = Inherited
		}
		stop = true
	case cascading && active.Inheritance == InheritanceNone:
		// The child had the rule before the parent activated it.
		if current.equal(*parent) {
			inheritance = Inherited
		} else {
			inheritance = Overrides
			stop = true
		}
	case cascading:
		next = *parent
		inheritance = Inherited
	default:
		next, err = resolve(r, req, &active, parent, op.builtIn)
		if err != nil {
			return err
		}
		inheritance = InheritanceNone
		if parent != nil {
			inheritance = Overrides
			if next.equal(*parent) {
				inheritance = Inherited
			}
		}
	}

	if next.equal(current) && inheritance == active.Inheritance {
		return nil
	}
	if err := op.persist(ctx, ChangeUpdated, p, r, next, inheritance, &active); err != nil {
		return err
	}
	if stop {
		return nil
	}
	return s.cascade(ctx, op, p, r, req)
}

func (s *Service) cascade(ctx context.Context, op *operation, p storage.Profile, r storage.Rule, req RuleActivation) error {
	children, err := op.tx.ListChildProfiles(ctx, p.Kee)
	if err != nil {
		return fmt.Errorf("list child profiles: %w", err)
	}
	for _, child := range children {
		if err := s.activate(ctx, op, child, r, req, true); err != nil {
			return err
		}
	}
	return nil
}

// resolve computes the values of an activation request. For each field the
// requested value wins, then the overriding value of the active rule, then
// the parent's value, then the rule default.
func resolve(r storage.Rule, req RuleActivation, active *storage.ActiveRule, parent *values, builtIn bool) (values, error) {
	defaults := defaultValues(r)
	if req.Reset {
		if parent != nil {
			return *parent, nil
		}
		return defaults, nil
	}

	var overriding, inherited *values
	if active != nil {
		cur := valuesOf(*active)
		if active.Inheritance == Overrides {
			overriding = &cur
		}
		if parent == nil {
			inherited = &cur
		}
	}
	if parent != nil {
		inherited = parent
	}
	if builtIn {
		overriding, inherited = nil, nil
	}

	next := values{params: map[string]string{}}
	next.severity = firstNonEmpty(req.Severity, severityOf(overriding), severityOf(inherited), defaults.severity)
	switch {
	case len(req.Impacts) > 0:
		next.impacts = maps.Clone(req.Impacts)
	case overriding != nil && len(overriding.impacts) > 0:
		next.impacts = maps.Clone(overriding.impacts)
	case inherited != nil && len(inherited.impacts) > 0:
		next.impacts = maps.Clone(inherited.impacts)
	default:
		next.impacts = defaults.impacts
	}
	alignSeverityAndImpacts(r, req, &next)
	if err := rule.ValidateSeverity(next.severity); err != nil {
		return values{}, err
	}
	if err := rule.ValidateImpacts(next.impacts); err != nil {
		return values{}, err
	}

	switch {
	case req.Prioritized != nil:
		next.prioritized = *req.Prioritized
	case overriding != nil:
		next.prioritized = overriding.prioritized
	case inherited != nil:
		next.prioritized = inherited.prioritized
	}

	for _, param := range r.Params {
		var value string
		requested, ok := req.Params[param.Name]
		switch {
		case r.TemplateUUID != "":
			// custom rules carry the values chosen at creation
			value = defaults.params[param.Name]
		case ok:
			value = firstNonEmpty(strings.TrimSpace(requested), paramOf(parent, param.Name), defaults.params[param.Name])
		default:
			value = firstNonEmpty(paramOf(overriding, param.Name), paramOf(inherited, param.Name), defaults.params[param.Name])
		}
		if err := rule.ValidateParam(param.Type, value); err != nil {
			return values{}, err
		}
		if value != "" {
			next.params[param.Name] = value
		}
	}
	return next, nil
}

// alignSeverityAndImpacts keeps the legacy severity and the impact on the
// rule type's software quality in step when only one of them is requested.
func alignSeverityAndImpacts(r storage.Rule, req RuleActivation, v *values) {
	quality := rule.QualityOf(r.Type)
	if quality == "" {
		return
	}
	requestedImpact := req.Impacts[quality]
	switch {
	case req.Severity != "" && requestedImpact == "":
		if _, ok := v.impacts[quality]; ok || len(v.impacts) == 0 {
			if v.impacts == nil {
				v.impacts = map[string]string{}
			} else {
				v.impacts = maps.Clone(v.impacts)
			}
			v.impacts[quality] = rule.ImpactSeverity(req.Severity)
		}
	case req.Severity == "" && requestedImpact != "":
		if severity := rule.Severity(requestedImpact); severity != "" {
			v.severity = severity
		}
	}
}

func severityOf(v *values) string {
	if v == nil {
		return ""
	}
	return v.severity
}

func paramOf(v *values, name string) string {
	if v == nil {
		return ""
	}
	return v.params[name]
}

func firstNonEmpty(candidates ...string) string {
	for _, v := range candidates {
		if v != "" {
			return v
		}
	}
	return ""
}

// persist writes an activation change and records it in the changelog.
func (op *operation) persist(ctx context.Context, changeType string, p storage.Profile, r storage.Rule, v values, inheritance string, previous *storage.ActiveRule) error {
	ar := storage.ActiveRule{
		ProfileKee:  p.Kee,
		RuleUUID:    r.UUID,
		Severity:    v.severity,
		Impacts:     v.impacts,
		Prioritized: v.prioritized,
		Inheritance: inheritance,
		Params:      v.params,
		CreatedAt:   op.now,
		UpdatedAt:   op.now,
	}
	if previous != nil {
		ar.CreatedAt = previous.CreatedAt
	}
	if err := op.tx.PutActiveRule(ctx, ar); err != nil {
		return fmt.Errorf("put active rule %s: %w", r.RuleKey(), err)
	}
	return op.record(ctx, Change{
		Type:        changeType,
		ProfileKee:  p.Kee,
		RuleUUID:    r.UUID,
		RuleKey:     r.RuleKey(),
		Severity:    v.severity,
		Impacts:     v.impacts,
		Prioritized: v.prioritized,
		Inheritance: inheritance,
		Params:      v.params,
	})
}

func (op *operation) record(ctx context.Context, c Change) error {
	err := op.tx.AppendChange(ctx, storage.Change{
		UUID:       id.MustNewID(),
		ProfileKee: c.ProfileKee,
		RuleUUID:   c.RuleUUID,
		Type:       c.Type,
		UserUUID:   op.user,
		Data:       changeData(c),
		CreatedAt:  op.now,
	})
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	op.touched[c.ProfileKee] = true
	op.changes = append(op.changes, c)
	return nil
}

// changeData flattens a change for the changelog. Params are stored as
// "param_<name>" entries.
func changeData(c Change) map[string]string {
	if c.Type == ChangeDeactivated {
		return nil
	}
	data := map[string]string{
		"severity":    c.Severity,
		"inheritance": c.Inheritance,
	}
	if c.Prioritized {
		data["prioritizedRule"] = strconv.FormatBool(true)
	}
	if len(c.Impacts) > 0 {
		qualities := make([]string, 0, len(c.Impacts))
		for q := range c.Impacts {
			qualities = append(qualities, q)
		}
		sort.Strings(qualities)
		pairs := make([]string, len(qualities))
		for i, q := range qualities {
			pairs[i] = q + "=" + c.Impacts[q]
		}
		data["impacts"] = strings.Join(pairs, ";")
	}
	for name, value := range c.Params {
		data["param_"+name] = value
	}
	return data
}

// Deactivate removes rules from a profile and from every descendant that
// has them active. force allows deactivating inherited rules.
func (s *Service) Deactivate(ctx context.Context, profileKee string, ruleUUIDs []string, force bool) ([]Change, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "Deactivate", attribute.String("profile", profileKee), attribute.Int("rules", len(ruleUUIDs)))
	defer span.End()

	var changes []Change
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		op := s.newOperation(ctx, tx)
		profile, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if err := checkWritable(profile); err != nil {
			return err
		}
		for _, ruleUUID := range ruleUUIDs {
			r, err := loadRule(ctx, tx, ruleUUID)
			if err != nil {
				return err
			}
			if err := s.deactivate(ctx, op, profile, r, force, false); err != nil {
				return err
			}
		}
		if err := op.finish(ctx); err != nil {
			return err
		}
		changes = op.changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Service) deactivate(ctx context.Context, op *operation, p storage.Profile, r storage.Rule, force, cascading bool) error {
	active, found, err := op.activeRule(ctx, p.Kee, r.UUID)
	if err != nil || !found {
		return err
	}
	if !force && !cascading && active.Inheritance != InheritanceNone && !s.cfg.AllowDisableInheritedRules {
		return apperrors.Newf(apperrors.CodeInheritedRuleDisabled, "Cannot deactivate inherited rule '%s'", r.RuleKey())
	}
	if err := op.tx.DeleteActiveRule(ctx, p.Kee, r.UUID); err != nil {
		return fmt.Errorf("delete active rule %s: %w", r.RuleKey(), err)
	}
	if err := op.record(ctx, Change{
		Type:       ChangeDeactivated,
		ProfileKee: p.Kee,
		RuleUUID:   r.UUID,
		RuleKey:    r.RuleKey(),
	}); err != nil {
		return err
	}
	children, err := op.tx.ListChildProfiles(ctx, p.Kee)
	if err != nil {
		return fmt.Errorf("list child profiles: %w", err)
	}
	for _, child := range children {
		if err := s.deactivate(ctx, op, child, r, force, true); err != nil {
			return err
		}
	}
	return nil
}
