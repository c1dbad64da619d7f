package seed

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage/sqlite"
)

const catalogYAML = `
metrics:
  - {key: ncloc, name: Lines of code, type: INT}
  - {key: alert_status, name: Quality Gate Status, type: LEVEL}
rules:
  - key: go:S1
    name: Long functions
    language: go
    severity: MAJOR
    type: CODE_SMELL
    impacts: {MAINTAINABILITY: MEDIUM}
    params:
      - {name: max, type: INTEGER, default: "10"}
    deprecatedKeys: ["golint:S1"]
  - key: go:T1
    name: Banned pattern
    language: go
    severity: MAJOR
    type: CODE_SMELL
    template: true
    params:
      - {name: regex, type: STRING}
  - key: go:C1
    name: No panics
    templateKey: go:T1
    params:
      - {name: regex, default: panic}
components:
  - {key: shop, name: Shop, qualifier: TRK, language: go, tags: [web]}
  - {key: "shop:cmd", name: cmd, qualifier: DIR, parent: shop, path: cmd}
  - {key: "shop:cmd/main.go", name: main.go, qualifier: FIL, parent: "shop:cmd", path: cmd/main.go, language: go}
measures:
  - {component: shop, metric: ncloc, value: 1200}
  - {component: shop, metric: alert_status, text: OK}
analyses:
  - {project: shop, date: 2026-01-02T10:00:00Z, periodDate: 2025-12-01T00:00:00Z}
favorites:
  - {user: u1, component: shop}
profiles:
  - name: Go way
    language: go
    rules:
      - key: golint:S1
        severity: BLOCKER
      - key: go:C1
`

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "quality.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	profiles := qualityprofile.NewService(store, qualityprofile.Config{})

	f, err := Parse(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, err := Apply(ctx, store, profiles, f)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	want := Summary{Metrics: 2, Rules: 3, Components: 3, Measures: 2, Analyses: 1, Favorites: 1, Profiles: 1, Changes: 2}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("first summary mismatch (-want +got):\n%s", diff)
	}
	second, err := Apply(ctx, store, profiles, f)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if second.Changes != 0 {
		t.Fatalf("second apply changed %d rules, want 0", second.Changes)
	}

	file, err := store.GetComponentByKey(ctx, "shop:cmd/main.go")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if file.RootUUID != ComponentUUID("shop") || file.ParentUUID != ComponentUUID("shop:cmd") {
		t.Fatalf("file root/parent = %s/%s", file.RootUUID, file.ParentUUID)
	}

	custom, err := store.GetRuleByKey(ctx, "go", "C1")
	if err != nil {
		t.Fatalf("get custom rule: %v", err)
	}
	if custom.TemplateUUID != RuleUUID("go:T1") || custom.Language != "go" {
		t.Fatalf("custom rule = %+v", custom)
	}
	if p, _ := custom.Param("regex"); p.DefaultValue != "panic" {
		t.Fatalf("custom regex default = %q, want panic", p.DefaultValue)
	}

	defaults, err := store.ListProfiles(ctx, storage.ProfileQuery{Language: "go", DefaultsOnly: true})
	if err != nil {
		t.Fatalf("list defaults: %v", err)
	}
	if len(defaults) != 1 || defaults[0].Name != "Go way" || !defaults[0].BuiltIn {
		t.Fatalf("defaults = %+v, want built-in Go way", defaults)
	}
	ar, err := store.GetActiveRule(ctx, defaults[0].Kee, RuleUUID("go:S1"))
	if err != nil {
		t.Fatalf("get active rule through deprecated key: %v", err)
	}
	if ar.Severity != "BLOCKER" || ar.Params["max"] != "10" {
		t.Fatalf("active rule = %s max=%s, want BLOCKER max=10", ar.Severity, ar.Params["max"])
	}

	favorites, err := store.ListFavorites(ctx, "u1")
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if diff := cmp.Diff([]string{ComponentUUID("shop")}, favorites); diff != "" {
		t.Fatalf("favorites mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyRejectsUserProfileWithBuiltInName(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "quality.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	profiles := qualityprofile.NewService(store, qualityprofile.Config{})
	if _, err := profiles.Create(ctx, qualityprofile.CreateRequest{Name: "Go way", Language: "go"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = Apply(ctx, store, profiles, File{Profiles: []Profile{{Name: "Go way", Language: "go"}}})
	if err == nil || !strings.Contains(err.Error(), "is not built-in") {
		t.Fatalf("apply = %v, want not built-in error", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	if _, err := Parse(strings.NewReader("metrics:\n  - {key: a, unit: b}\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
	f, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if diff := cmp.Diff(File{}, f); diff != "" {
		t.Fatalf("empty file mismatch (-want +got):\n%s", diff)
	}
}
