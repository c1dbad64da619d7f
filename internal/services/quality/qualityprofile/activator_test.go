package qualityprofile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage/sqlite"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, cfg Config) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "quality.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, r := range []storage.Rule{
		{
			UUID: "r1", Repository: "go", Key: "S1", Name: "Functions too long", Language: "go",
			Severity: "MAJOR", Type: "CODE_SMELL", Status: "READY",
			Impacts: map[string]string{"MAINTAINABILITY": "MEDIUM"},
			Params:  []storage.RuleParam{{Name: "max", Type: "INTEGER", DefaultValue: "10"}, {Name: "format", Type: "STRING"}},
		},
		{UUID: "r2", Repository: "go", Key: "S2", Name: "Unused result", Language: "go", Severity: "MINOR", Type: "BUG", Status: "READY"},
		{UUID: "tpl", Repository: "go", Key: "T1", Name: "Template", Language: "go", Severity: "MAJOR", Type: "CODE_SMELL", Status: "READY", IsTemplate: true},
		{UUID: "gone", Repository: "go", Key: "S9", Name: "Removed", Language: "go", Severity: "MAJOR", Type: "CODE_SMELL", Status: "REMOVED"},
		{UUID: "j1", Repository: "java", Key: "S1", Name: "Java rule", Language: "java", Severity: "MAJOR", Type: "BUG", Status: "READY"},
	} {
		if err := store.PutRule(context.Background(), r); err != nil {
			t.Fatalf("put rule %s: %v", r.UUID, err)
		}
	}
	svc := NewService(store, cfg)
	svc.clock = func() time.Time { return fixedNow }
	return svc, store
}

func createProfile(t *testing.T, svc *Service, name, language string) storage.Profile {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateRequest{Name: name, Language: language})
	if err != nil {
		t.Fatalf("create profile %s: %v", name, err)
	}
	return p
}

func activeRule(t *testing.T, store *sqlite.Store, profileKee, ruleUUID string) storage.ActiveRule {
	t.Helper()
	ar, err := store.GetActiveRule(context.Background(), profileKee, ruleUUID)
	if err != nil {
		t.Fatalf("get active rule %s/%s: %v", profileKee, ruleUUID, err)
	}
	return ar
}

func TestActivateChecks(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{})
	ctx := context.Background()
	p := createProfile(t, svc, "Mine", "go")
	builtIn := storage.Profile{Kee: "go-way", Name: "Go way", Language: "go", BuiltIn: true, CreatedAt: fixedNow}
	if err := store.PutProfile(ctx, builtIn); err != nil {
		t.Fatalf("put built-in profile: %v", err)
	}

	tests := []struct {
		name    string
		profile string
		rule    string
		params  map[string]string
		code    apperrors.Code
		msg     string
	}{
		{"removed", p.Kee, "gone", nil, apperrors.CodeRuleRemoved, "Rule was removed: go:S9"},
		{"template", p.Kee, "tpl", nil, apperrors.CodeRuleTemplate, "Rule template can't be activated on a Quality profile: go:T1"},
		{"language", p.Kee, "j1", nil, apperrors.CodeRuleLanguageMismatch, "java rule java:S1 cannot be activated on go profile Mine"},
		{"built-in", builtIn.Kee, "r1", nil, apperrors.CodeProfileBuiltIn, "The built-in profile Go way is read-only and can't be updated"},
		{"param", p.Kee, "r1", map[string]string{"max": "ten"}, apperrors.CodeRuleParamInvalid, "Value 'ten' must be an integer."},
		{"unknown rule", p.Kee, "nope", nil, apperrors.CodeRuleNotFound, "Rule with uuid 'nope' not found"},
	}
	for _, tt := range tests {
		_, err := svc.Activate(ctx, tt.profile, RuleActivation{RuleUUID: tt.rule, Params: tt.params})
		if !apperrors.IsCode(err, tt.code) {
			t.Fatalf("%s: error = %v, want code %s", tt.name, err, tt.code)
		}
		if got := apperrors.PublicMessage(err); got != tt.msg {
			t.Fatalf("%s: message = %q, want %q", tt.name, got, tt.msg)
		}
	}
}

func TestActivateResolvesValues(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{})
	ctx := context.Background()
	p := createProfile(t, svc, "Mine", "go")

	changes, err := svc.Activate(ctx, p.Kee, RuleActivation{RuleUUID: "r1", Params: map[string]string{"unknown": "x"}})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(changes) != 1 || changes[0].Type != ChangeActivated {
		t.Fatalf("changes = %+v, want one activation", changes)
	}
	ar := activeRule(t, store, p.Kee, "r1")
	want := storage.ActiveRule{
		ProfileKee:  p.Kee,
		RuleUUID:    "r1",
		Severity:    "MAJOR",
		Impacts:     map[string]string{"MAINTAINABILITY": "MEDIUM"},
		Inheritance: InheritanceNone,
		Params:      map[string]string{"max": "10"},
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
	if diff := cmp.Diff(want, ar); diff != "" {
		t.Fatalf("active rule mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Activate(ctx, p.Kee, RuleActivation{RuleUUID: "r1", Severity: "BLOCKER", Params: map[string]string{"max": "20", "format": "^[a-z]+$"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	ar = activeRule(t, store, p.Kee, "r1")
	if ar.Severity != "BLOCKER" {
		t.Fatalf("severity = %q, want %q", ar.Severity, "BLOCKER")
	}
	if diff := cmp.Diff(map[string]string{"MAINTAINABILITY": "BLOCKER"}, ar.Impacts); diff != "" {
		t.Fatalf("impacts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"max": "20", "format": "^[a-z]+$"}, ar.Params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}

	// an empty requested value falls back to the default
	if _, err := svc.Activate(ctx, p.Kee, RuleActivation{RuleUUID: "r1", Params: map[string]string{"max": ""}}); err != nil {
		t.Fatalf("reset param: %v", err)
	}
	if got := activeRule(t, store, p.Kee, "r1").Params["max"]; got != "10" {
		t.Fatalf("max = %q, want %q", got, "10")
	}

	changes, err = svc.Activate(ctx, p.Kee, RuleActivation{RuleUUID: "r1"})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("unchanged activation produced %d changes", len(changes))
	}
}

func TestActivateCascadesToChildren(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{})
	ctx := context.Background()
	parent := createProfile(t, svc, "Parent", "go")
	child := createProfile(t, svc, "Child", "go")
	grandchild := createProfile(t, svc, "Grandchild", "go")
	if _, err := svc.SetParent(ctx, child.Kee, parent.Kee); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if _, err := svc.SetParent(ctx, grandchild.Kee, child.Kee); err != nil {
		t.Fatalf("set grandparent: %v", err)
	}

	if _, err := svc.Activate(ctx, parent.Kee, RuleActivation{RuleUUID: "r1", Severity: "CRITICAL"}); err != nil {
		t.Fatalf("activate on parent: %v", err)
	}
	for _, kee := range []string{child.Kee, grandchild.Kee} {
		ar := activeRule(t, store, kee, "r1")
		if ar.Inheritance != Inherited || ar.Severity != "CRITICAL" {
			t.Fatalf("%s: active rule = %s/%s, want INHERITED/CRITICAL", kee, ar.Inheritance, ar.Severity)
		}
	}

	if _, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r1", Severity: "MINOR"}); err != nil {
		t.Fatalf("override on child: %v", err)
	}
	if ar := activeRule(t, store, child.Kee, "r1"); ar.Inheritance != Overrides {
		t.Fatalf("child inheritance = %s, want %s", ar.Inheritance, Overrides)
	}
	if ar := activeRule(t, store, grandchild.Kee, "r1"); ar.Severity != "MINOR" || ar.Inheritance != Inherited {
		t.Fatalf("grandchild = %s/%s, want INHERITED/MINOR", ar.Inheritance, ar.Severity)
	}

	// the override survives a parent update
	if _, err := svc.Activate(ctx, parent.Kee, RuleActivation{RuleUUID: "r1", Severity: "BLOCKER"}); err != nil {
		t.Fatalf("update parent: %v", err)
	}
	if ar := activeRule(t, store, child.Kee, "r1"); ar.Severity != "MINOR" || ar.Inheritance != Overrides {
		t.Fatalf("child after parent update = %s/%s, want OVERRIDES/MINOR", ar.Inheritance, ar.Severity)
	}

	// matching the parent again turns the override back into inheritance
	if _, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r1", Severity: "BLOCKER"}); err != nil {
		t.Fatalf("align child: %v", err)
	}
	if ar := activeRule(t, store, child.Kee, "r1"); ar.Inheritance != Inherited {
		t.Fatalf("child inheritance = %s, want %s", ar.Inheritance, Inherited)
	}
}

func TestReactivatedInheritedRuleHasNoInheritance(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{AllowDisableInheritedRules: true})
	ctx := context.Background()
	parent := createProfile(t, svc, "Parent", "go")
	child := createProfile(t, svc, "Child", "go")
	if _, err := svc.SetParent(ctx, child.Kee, parent.Kee); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if _, err := svc.Activate(ctx, parent.Kee, RuleActivation{RuleUUID: "r1"}); err != nil {
		t.Fatalf("activate on parent: %v", err)
	}
	if _, err := svc.Deactivate(ctx, child.Kee, []string{"r1"}, false); err != nil {
		t.Fatalf("deactivate on child: %v", err)
	}

	if _, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r1", Severity: "MINOR"}); err != nil {
		t.Fatalf("reactivate on child: %v", err)
	}
	if ar := activeRule(t, store, child.Kee, "r1"); ar.Inheritance != InheritanceNone || ar.Severity != "MINOR" {
		t.Fatalf("child = %s/%s, want %s/MINOR", ar.Inheritance, ar.Severity, InheritanceNone)
	}
}

func TestResetRestoresParentValues(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{})
	ctx := context.Background()
	parent := createProfile(t, svc, "Parent", "go")
	child := createProfile(t, svc, "Child", "go")
	if _, err := svc.SetParent(ctx, child.Kee, parent.Kee); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if _, err := svc.Activate(ctx, parent.Kee, RuleActivation{RuleUUID: "r1", Params: map[string]string{"max": "30"}}); err != nil {
		t.Fatalf("activate on parent: %v", err)
	}
	if _, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r1", Params: map[string]string{"max": "5"}}); err != nil {
		t.Fatalf("override: %v", err)
	}

	if _, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r1", Reset: true}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ar := activeRule(t, store, child.Kee, "r1")
	if ar.Inheritance != Inherited || ar.Params["max"] != "30" {
		t.Fatalf("after reset = %s max=%s, want INHERITED max=30", ar.Inheritance, ar.Params["max"])
	}

	// resetting a rule that is not active does nothing
	changes, err := svc.Activate(ctx, child.Kee, RuleActivation{RuleUUID: "r2", Reset: true})
	if err != nil {
		t.Fatalf("reset inactive: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("reset inactive produced %d changes", len(changes))
	}
}

func TestDeactivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	setup := func(cfg Config) (*Service, *sqlite.Store, storage.Profile, storage.Profile) {
		svc, store := newTestService(t, cfg)
		parent := createProfile(t, svc, "Parent", "go")
		child := createProfile(t, svc, "Child", "go")
		if _, err := svc.SetParent(ctx, child.Kee, parent.Kee); err != nil {
			t.Fatalf("set parent: %v", err)
		}
		if _, err := svc.Activate(ctx, parent.Kee, RuleActivation{RuleUUID: "r1"}); err != nil {
			t.Fatalf("activate: %v", err)
		}
		return svc, store, parent, child
	}

	svc, store, parent, child := setup(Config{AllowDisableInheritedRules: false})
	_, err := svc.Deactivate(ctx, child.Kee, []string{"r1"}, false)
	if !apperrors.IsCode(err, apperrors.CodeInheritedRuleDisabled) {
		t.Fatalf("deactivate inherited = %v, want %s", err, apperrors.CodeInheritedRuleDisabled)
	}
	if got := apperrors.PublicMessage(err); got != "Cannot deactivate inherited rule 'go:S1'" {
		t.Fatalf("message = %q", got)
	}
	if _, err := svc.Deactivate(ctx, child.Kee, []string{"r1"}, true); err != nil {
		t.Fatalf("forced deactivate: %v", err)
	}
	if _, err := store.GetActiveRule(ctx, child.Kee, "r1"); err == nil {
		t.Fatal("expected child rule to be removed")
	}
	if _, err := store.GetActiveRule(ctx, parent.Kee, "r1"); err != nil {
		t.Fatalf("parent rule should stay active: %v", err)
	}

	svc, _, _, child = setup(Config{AllowDisableInheritedRules: true})
	if _, err := svc.Deactivate(ctx, child.Kee, []string{"r1"}, false); err != nil {
		t.Fatalf("allowed deactivate: %v", err)
	}

	svc, store, parent, child = setup(Config{})
	changes, err := svc.Deactivate(ctx, parent.Kee, []string{"r1"}, false)
	if err != nil {
		t.Fatalf("deactivate on parent: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if _, err := store.GetActiveRule(ctx, child.Kee, "r1"); err == nil {
		t.Fatal("expected cascade to remove child rule")
	}
}

func TestChangesAreRecordedWithUser(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, Config{})
	ctx := requestctx.WithUser(context.Background(), requestctx.User{UUID: "user-1", Login: "ada"})
	p := createProfile(t, svc, "Mine", "go")

	if _, err := svc.Activate(ctx, p.Kee, RuleActivation{RuleUUID: "r1", Severity: "CRITICAL"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.Deactivate(ctx, p.Kee, []string{"r1"}, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	log, err := svc.Changelog(ctx, ChangelogRequest{ProfileKee: p.Kee})
	if err != nil {
		t.Fatalf("changelog: %v", err)
	}
	if log.Total != 2 {
		t.Fatalf("total = %d, want 2", log.Total)
	}
	got := []string{log.Entries[0].Type, log.Entries[1].Type}
	if diff := cmp.Diff([]string{ChangeDeactivated, ChangeActivated}, got); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}
	activated := log.Entries[1]
	if activated.UserUUID != "user-1" || activated.RuleKey != "go:S1" || activated.Data["severity"] != "CRITICAL" {
		t.Fatalf("activated entry = %+v", activated)
	}
	if activated.Data["param_max"] != "10" {
		t.Fatalf("param_max = %q, want %q", activated.Data["param_max"], "10")
	}

	updated, err := store.GetProfile(ctx, p.Kee)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if !updated.RulesUpdatedAt.Equal(fixedNow) || !updated.UserUpdatedAt.Equal(fixedNow) {
		t.Fatalf("profile dates = %v/%v, want %v", updated.RulesUpdatedAt, updated.UserUpdatedAt, fixedNow)
	}
}

func TestBulkActivate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Config{})
	ctx := context.Background()
	p := createProfile(t, svc, "Mine", "go")

	result, err := svc.BulkActivate(ctx, p.Kee, `language = "go"`, "")
	if err != nil {
		t.Fatalf("bulk activate: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 2 {
		t.Fatalf("result = %d succeeded / %d failed, want 2/2", result.Succeeded, result.Failed)
	}
	want := []string{
		"Rule was removed: go:S9",
		"Rule template can't be activated on a Quality profile: go:T1",
	}
	if diff := cmp.Diff(want, result.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}

	result, err = svc.BulkDeactivate(ctx, p.Kee, `type = "BUG"`)
	if err != nil {
		t.Fatalf("bulk deactivate: %v", err)
	}
	// the java bug is not active, so only the go bug changes
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("deactivate result = %d/%d, want 1/0", result.Succeeded, result.Failed)
	}

	if _, err := svc.BulkActivate(ctx, p.Kee, `bogus = "x"`, ""); !apperrors.IsCode(err, apperrors.CodeFilterInvalid) {
		t.Fatalf("bad filter = %v, want %s", err, apperrors.CodeFilterInvalid)
	}
}
