package component

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

func newSuggestFixture(t *testing.T, projects int) *Service {
	t.Helper()
	store := openStore(t)
	for i := 1; i <= projects; i++ {
		put(t, store, storage.Component{
			UUID:      fmt.Sprintf("p%02d", i),
			Key:       fmt.Sprintf("project-%02d", i),
			Name:      fmt.Sprintf("Project %02d", i),
			Qualifier: "TRK",
		})
	}
	put(t, store, storage.Component{UUID: "app", Key: "app-key", Name: "Sonar App", Qualifier: "APP"})
	put(t, store, storage.Component{UUID: "vw", Key: "view-key", Name: "Sonar View", Qualifier: "VW"})
	put(t, store, storage.Component{UUID: "secret", Key: "secret-key", Name: "Sonar Secret", Qualifier: "TRK", Private: true})
	if err := store.AddFavorite(context.Background(), "u1", "p05"); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	index := projectindex.New(store)
	if err := index.Load(context.Background()); err != nil {
		t.Fatalf("load index: %v", err)
	}
	return NewService(store, index)
}

func category(t *testing.T, result SuggestResult, qualifier string) SuggestCategory {
	t.Helper()
	for _, c := range result.Categories {
		if c.Qualifier == qualifier {
			return c
		}
	}
	t.Fatalf("category %s missing", qualifier)
	return SuggestCategory{}
}

func itemKeys(items []Suggestion) []string {
	keys := make([]string, len(items))
	for i, s := range items {
		keys[i] = s.Key
	}
	return keys
}

func TestSuggestAlwaysReturnsEveryCategory(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 2)
	result, err := svc.Suggest(context.Background(), SuggestRequest{Query: "sonar"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	var qualifiers []string
	for _, c := range result.Categories {
		qualifiers = append(qualifiers, c.Qualifier)
	}
	if diff := cmp.Diff([]string{"VW", "SVW", "APP", "TRK"}, qualifiers); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"app-key"}, itemKeys(category(t, result, "APP").Items)); diff != "" {
		t.Fatalf("APP mismatch (-want +got):\n%s", diff)
	}
	if got := len(category(t, result, "TRK").Items); got != 0 {
		t.Fatalf("TRK items = %d, want 0 (private project hidden)", got)
	}
}

func TestSuggestRanksFavoritesThenRecentThenName(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 10)
	ctx := requestctx.WithUser(context.Background(), requestctx.User{UUID: "u1"})
	result, err := svc.Suggest(ctx, SuggestRequest{Query: "project", RecentlyBrowsed: []string{"project-09"}})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	trk := category(t, result, "TRK")
	want := []string{"project-05", "project-09", "project-01", "project-02", "project-03", "project-04"}
	if diff := cmp.Diff(want, itemKeys(trk.Items)); diff != "" {
		t.Fatalf("TRK mismatch (-want +got):\n%s", diff)
	}
	if trk.More != 4 {
		t.Fatalf("more = %d, want 4", trk.More)
	}
	if !trk.Items[0].IsFavorite || !trk.Items[1].IsRecentlyBrowsed {
		t.Fatalf("flags = %+v", trk.Items[:2])
	}
	if trk.Items[2].Match != "<mark>Project</mark> 01" {
		t.Fatalf("match = %q", trk.Items[2].Match)
	}
}

func TestSuggestMoreReturnsNextPageOfOneCategory(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 10)
	result, err := svc.Suggest(context.Background(), SuggestRequest{Query: "project", More: "TRK"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(result.Categories) != 1 {
		t.Fatalf("categories = %d, want 1", len(result.Categories))
	}
	want := []string{"project-07", "project-08", "project-09", "project-10"}
	if diff := cmp.Diff(want, itemKeys(result.Categories[0].Items)); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if _, err := svc.Suggest(context.Background(), SuggestRequest{Query: "project", More: "DIR"}); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("more DIR = %v, want invalid argument", err)
	}
}

func TestSuggestShortInput(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 2)
	result, err := svc.Suggest(context.Background(), SuggestRequest{Query: "S o"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if result.Warning != WarningShortInput {
		t.Fatalf("warning = %q, want %q", result.Warning, WarningShortInput)
	}
	for _, c := range result.Categories {
		if len(c.Items) != 0 {
			t.Fatalf("category %s has items, want none", c.Qualifier)
		}
	}

	result, err = svc.Suggest(context.Background(), SuggestRequest{Query: "Sonar A"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if result.Warning != WarningShortInput {
		t.Fatalf("warning = %q, want %q", result.Warning, WarningShortInput)
	}
	if diff := cmp.Diff([]string{"app-key"}, itemKeys(category(t, result, "APP").Items)); diff != "" {
		t.Fatalf("APP mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestMatchesKeys(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 2)
	result, err := svc.Suggest(context.Background(), SuggestRequest{Query: "view-key"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if diff := cmp.Diff([]string{"view-key"}, itemKeys(category(t, result, "VW").Items)); diff != "" {
		t.Fatalf("VW mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestWithoutQueryListsFavoritesAndRecent(t *testing.T) {
	t.Parallel()

	svc := newSuggestFixture(t, 10)
	ctx := requestctx.WithUser(context.Background(), requestctx.User{UUID: "u1"})
	result, err := svc.Suggest(ctx, SuggestRequest{RecentlyBrowsed: []string{"project-02", "secret-key", "view-key"}})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if diff := cmp.Diff([]string{"project-05", "project-02"}, itemKeys(category(t, result, "TRK").Items)); diff != "" {
		t.Fatalf("TRK mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"view-key"}, itemKeys(category(t, result, "VW").Items)); diff != "" {
		t.Fatalf("VW mismatch (-want +got):\n%s", diff)
	}
}

func TestHighlight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tokens []string
		want   string
	}{
		{"SonarQube", []string{"sonar"}, "<mark>Sonar</mark>Qube"},
		{"Sonar <Qube>", []string{"qube"}, "Sonar &lt;<mark>Qube</mark>&gt;"},
		{"abab", []string{"ab"}, "<mark>abab</mark>"},
		{"plain", nil, "plain"},
	}
	for _, tt := range tests {
		if got := highlight(tt.name, tt.tokens); got != tt.want {
			t.Fatalf("highlight(%q, %v) = %q, want %q", tt.name, tt.tokens, got, tt.want)
		}
	}
}
