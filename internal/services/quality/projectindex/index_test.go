package projectindex

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/qualityhub/internal/platform/pagination"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectfilter"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

type fakeSource struct {
	components map[string]storage.Component
	analyses   map[string]storage.Analysis
	measures   []storage.Measure
	err        error
}

func (f *fakeSource) GetComponent(_ context.Context, uuid string) (storage.Component, error) {
	c, ok := f.components[uuid]
	if !ok {
		return storage.Component{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) ListRoots(_ context.Context, qualifiers []string) ([]storage.Component, error) {
	if f.err != nil {
		return nil, f.err
	}
	var roots []storage.Component
	for _, c := range f.components {
		if c.IsRoot() && c.Enabled {
			roots = append(roots, c)
		}
	}
	return roots, nil
}

func (f *fakeSource) ListLastAnalyses(_ context.Context, uuids []string) (map[string]storage.Analysis, error) {
	return f.analyses, nil
}

func (f *fakeSource) ListMeasures(_ context.Context, uuids []string, _ []string) ([]storage.Measure, error) {
	return f.measures, nil
}

func (f *fakeSource) addProject(uuid, key, name, qualifier string, private bool, tags ...string) {
	if f.components == nil {
		f.components = map[string]storage.Component{}
	}
	f.components[uuid] = storage.Component{
		UUID: uuid, Key: key, Name: name, Qualifier: qualifier, RootUUID: uuid,
		Private: private, Enabled: true, Tags: tags,
		CreatedAt: time.Date(2026, time.January, len(f.components)+1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeSource) addMeasure(uuid, metric string, value float64) {
	v := value
	f.measures = append(f.measures, storage.Measure{ComponentUUID: uuid, MetricKey: metric, Value: &v})
}

func (f *fakeSource) addText(uuid, metric, text string) {
	f.measures = append(f.measures, storage.Measure{ComponentUUID: uuid, MetricKey: metric, Text: text})
}

func newFixture(t *testing.T) (*Index, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	src.addProject("p1", "alpha", "Alpha", "TRK", false, "finance")
	src.addProject("p2", "beta", "Beta", "TRK", false, "finance", "platform")
	src.addProject("p3", "gamma", "Gamma", "APP", false)
	src.addProject("p4", "secret", "Secret", "TRK", true)
	src.addProject("v1", "view", "View", "VW", false)

	src.addMeasure("p1", "ncloc", 500)
	src.addMeasure("p2", "ncloc", 20000)
	src.addMeasure("p3", "ncloc", 600000)
	src.addMeasure("p1", "coverage", 85)
	src.addMeasure("p2", "coverage", 40)
	src.addMeasure("p1", "sqale_rating", 1)
	src.addMeasure("p2", "sqale_rating", 3)
	src.addText("p1", "alert_status", "OK")
	src.addText("p2", "alert_status", "ERROR")
	src.addText("p1", "ncloc_language_distribution", "go=400;java=100")
	src.addText("p2", "ncloc_language_distribution", "java=20000")

	analyzed := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	src.analyses = map[string]storage.Analysis{
		"p2": {UUID: "a2", ProjectUUID: "p2", AnalyzedAt: analyzed, PeriodDate: analyzed.Add(-24 * time.Hour)},
	}

	idx := New(src)
	if err := idx.Load(context.Background()); err != nil {
		t.Fatalf("load index: %v", err)
	}
	return idx, src
}

func search(t *testing.T, idx *Index, filter string, opts Options) Result {
	t.Helper()
	criteria, err := projectfilter.Parse(filter)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	q, err := projectfilter.Build(criteria)
	if err != nil {
		t.Fatalf("build query: %v", err)
	}
	result, err := idx.Search(q, opts)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	return result
}

func keys(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out
}

func TestLoadBuildsDocuments(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	if idx.Len() != 5 {
		t.Fatalf("len = %d, want 5", idx.Len())
	}
	doc, ok := idx.Get("p2")
	if !ok {
		t.Fatal("expected p2 document")
	}
	if doc.QualityGate != "ERROR" {
		t.Fatalf("quality gate = %q, want ERROR", doc.QualityGate)
	}
	if diff := cmp.Diff([]string{"java"}, doc.Languages); diff != "" {
		t.Fatalf("languages mismatch (-want +got):\n%s", diff)
	}
	if doc.LeakPeriodDate.IsZero() {
		t.Fatal("expected leak period date")
	}
}

func TestLoadPropagatesSourceErrors(t *testing.T) {
	t.Parallel()

	idx := New(&fakeSource{err: errors.New("boom")})
	if err := idx.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
}

func TestRefreshDropsDisabledProjects(t *testing.T) {
	t.Parallel()

	idx, src := newFixture(t)
	c := src.components["p1"]
	c.Enabled = false
	src.components["p1"] = c
	if err := idx.Refresh(context.Background(), "p1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := idx.Get("p1"); ok {
		t.Fatal("disabled project must be dropped")
	}

	src.addProject("p9", "new", "New", "TRK", false)
	if err := idx.Refresh(context.Background(), "p9"); err != nil {
		t.Fatalf("refresh new: %v", err)
	}
	if _, ok := idx.Get("p9"); !ok {
		t.Fatal("new project must be indexed")
	}
}

func TestSearchDefaultsToProjectsAndApplicationsByName(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	result := search(t, idx, "", Options{Asc: true})
	if diff := cmp.Diff([]string{"alpha", "beta", "gamma"}, keys(result.Documents)); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d, want 3", result.Total)
	}
}

func TestSearchPrivateProjectsNeedPermission(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	user := requestctx.User{UUID: "u1", Projects: []string{"secret"}}
	result := search(t, idx, "query = sec", Options{User: user, Asc: true})
	if diff := cmp.Diff([]string{"secret"}, keys(result.Documents)); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	anonymous := search(t, idx, "query = sec", Options{Asc: true})
	if anonymous.Total != 0 {
		t.Fatalf("anonymous total = %d, want 0", anonymous.Total)
	}
}

func TestSearchCriteria(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	tests := []struct {
		filter string
		opts   Options
		want   []string
	}{
		{filter: "ncloc > 1000", want: []string{"beta", "gamma"}},
		{filter: "coverage = NO_DATA", want: []string{"gamma"}},
		{filter: "alert_status = OK", want: []string{"alpha"}},
		{filter: "languages = go", want: []string{"alpha"}},
		{filter: "languages in (<null>, go)", want: []string{"alpha", "gamma"}},
		{filter: "tags in (platform)", want: []string{"beta"}},
		{filter: "qualifier = APP", want: []string{"gamma"}},
		{filter: "query = ALP", want: []string{"alpha"}},
		{filter: "isFavorite", opts: Options{Favorites: []string{"p2"}}, want: []string{"beta"}},
	}
	for _, tt := range tests {
		tt.opts.Asc = true
		result := search(t, idx, tt.filter, tt.opts)
		if diff := cmp.Diff(tt.want, keys(result.Documents)); diff != "" {
			t.Fatalf("filter %q mismatch (-want +got):\n%s", tt.filter, diff)
		}
	}
}

func TestSearchSorts(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	tests := []struct {
		sort string
		asc  bool
		want []string
	}{
		{sort: "ncloc", asc: false, want: []string{"gamma", "beta", "alpha"}},
		{sort: "coverage", asc: true, want: []string{"beta", "alpha", "gamma"}},
		{sort: "coverage", asc: false, want: []string{"alpha", "beta", "gamma"}},
		{sort: "alert_status", asc: false, want: []string{"beta", "alpha", "gamma"}},
		{sort: "analysisDate", asc: true, want: []string{"beta", "alpha", "gamma"}},
		{sort: "creationDate", asc: false, want: []string{"gamma", "beta", "alpha"}},
		{sort: "name", asc: false, want: []string{"gamma", "beta", "alpha"}},
	}
	for _, tt := range tests {
		result := search(t, idx, "", Options{Sort: tt.sort, Asc: tt.asc})
		if diff := cmp.Diff(tt.want, keys(result.Documents)); diff != "" {
			t.Fatalf("sort %s asc=%v mismatch (-want +got):\n%s", tt.sort, tt.asc, diff)
		}
	}
}

func TestSearchRejectsUnknownSortAndFacet(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	if _, err := idx.Search(projectfilter.Query{}, Options{Sort: "unknown"}); err == nil {
		t.Fatal("expected sort error")
	}
	if _, err := idx.Search(projectfilter.Query{}, Options{Facets: []string{"unknown"}}); err == nil {
		t.Fatal("expected facet error")
	}
}

func TestSearchPaging(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	result := search(t, idx, "", Options{Asc: true, Paging: pagination.Paging{Page: 2, PageSize: 2}})
	if diff := cmp.Diff([]string{"gamma"}, keys(result.Documents)); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d, want 3", result.Total)
	}

	result = search(t, idx, "", Options{Paging: pagination.Paging{Page: math.MaxInt / 100, PageSize: 500}})
	if len(result.Documents) != 0 || result.Total != 3 {
		t.Fatalf("far page = %d documents of %d, want 0 of 3", len(result.Documents), result.Total)
	}
}

func facetByName(t *testing.T, result Result, name string) []FacetValue {
	t.Helper()
	for _, f := range result.Facets {
		if f.Property == name {
			return f.Values
		}
	}
	t.Fatalf("facet %s missing", name)
	return nil
}

func TestFacetsAreSticky(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	result := search(t, idx, "ncloc < 1000 and languages = java", Options{
		Asc:    true,
		Facets: []string{"ncloc", "coverage", "sqale_rating", "alert_status", "languages", "tags", "qualifier"},
	})
	if diff := cmp.Diff([]string{"alpha"}, keys(result.Documents)); diff != "" {
		t.Fatalf("documents mismatch (-want +got):\n%s", diff)
	}

	// ncloc ignores its own criterion but keeps languages = java.
	wantNcloc := []FacetValue{
		{Val: "*-1000.0", Count: 1},
		{Val: "1000.0-10000.0", Count: 0},
		{Val: "10000.0-100000.0", Count: 1},
		{Val: "100000.0-500000.0", Count: 0},
		{Val: "500000.0-*", Count: 0},
	}
	if diff := cmp.Diff(wantNcloc, facetByName(t, result, "ncloc")); diff != "" {
		t.Fatalf("ncloc facet mismatch (-want +got):\n%s", diff)
	}

	wantCoverage := []FacetValue{
		{Val: "NO_DATA", Count: 0},
		{Val: "*-30.0", Count: 0},
		{Val: "30.0-50.0", Count: 0},
		{Val: "50.0-70.0", Count: 0},
		{Val: "70.0-80.0", Count: 0},
		{Val: "80.0-*", Count: 1},
	}
	if diff := cmp.Diff(wantCoverage, facetByName(t, result, "coverage")); diff != "" {
		t.Fatalf("coverage facet mismatch (-want +got):\n%s", diff)
	}

	wantRating := []FacetValue{{"1", 1}, {"2", 0}, {"3", 0}, {"4", 0}, {"5", 0}}
	if diff := cmp.Diff(wantRating, facetByName(t, result, "sqale_rating")); diff != "" {
		t.Fatalf("rating facet mismatch (-want +got):\n%s", diff)
	}

	wantGate := []FacetValue{{"OK", 1}, {"ERROR", 0}}
	if diff := cmp.Diff(wantGate, facetByName(t, result, "alert_status")); diff != "" {
		t.Fatalf("alert_status facet mismatch (-want +got):\n%s", diff)
	}

	// languages ignores languages = java but keeps ncloc < 1000.
	wantLanguages := []FacetValue{{"go", 1}, {"java", 1}}
	if diff := cmp.Diff(wantLanguages, facetByName(t, result, "languages")); diff != "" {
		t.Fatalf("languages facet mismatch (-want +got):\n%s", diff)
	}

	wantQualifier := []FacetValue{{"APP", 0}, {"TRK", 1}}
	if diff := cmp.Diff(wantQualifier, facetByName(t, result, "qualifier")); diff != "" {
		t.Fatalf("qualifier facet mismatch (-want +got):\n%s", diff)
	}
}

func TestTermFacetKeepsSelectedValues(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	result := search(t, idx, "tags in (finance, unused)", Options{Asc: true, Facets: []string{"tags"}})
	want := []FacetValue{{"finance", 2}, {"platform", 1}, {"unused", 0}}
	if diff := cmp.Diff(want, facetByName(t, result, "tags")); diff != "" {
		t.Fatalf("tags facet mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	idx, _ := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx, time.Millisecond) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
