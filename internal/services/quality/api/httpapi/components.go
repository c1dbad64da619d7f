package httpapi

import (
	"net/http"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/component"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Optional search_projects fields.
const (
	fieldAll            = "_all"
	fieldAnalysisDate   = "analysisDate"
	fieldLeakPeriodDate = "leakPeriodDate"
)

var searchProjectFields = []string{fieldAll, fieldAnalysisDate, fieldLeakPeriodDate}

type projectJSON struct {
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	Qualifier      string   `json:"qualifier"`
	Visibility     string   `json:"visibility"`
	Tags           []string `json:"tags"`
	IsFavorite     *bool    `json:"isFavorite,omitempty"`
	AnalysisDate   string   `json:"analysisDate,omitempty"`
	LeakPeriodDate string   `json:"leakPeriodDate,omitempty"`
}

type facetValueJSON struct {
	Val   string `json:"val"`
	Count int    `json:"count"`
}

type facetJSON struct {
	Property string           `json:"property"`
	Values   []facetValueJSON `json:"values"`
}

type searchProjectsResponse struct {
	Paging     pagingJSON    `json:"paging"`
	Components []projectJSON `json:"components"`
	Facets     []facetJSON   `json:"facets"`
}

func (h *Handler) searchProjects(w http.ResponseWriter, r *http.Request) {
	fields := listParam(r, "f")
	for _, f := range fields {
		if !slices.Contains(searchProjectFields, f) {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument,
				"Value of parameter 'f' (%s) must be one of: [%s]", f, strings.Join(searchProjectFields, ", ")))
			return
		}
	}
	asc, err := boolParam(r, "asc", true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	paging, err := pagingParam(r, projectindex.PageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sort := trimmed(r, "s")
	if sort == "" {
		sort = projectindex.SortName
	}

	res, err := h.svc.Components.SearchProjects(r.Context(), component.SearchProjectsRequest{
		Filter: r.FormValue("filter"),
		Facets: listParam(r, "facets"),
		Sort:   sort,
		Asc:    asc,
		Paging: paging,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	withField := func(name string) bool {
		return slices.Contains(fields, fieldAll) || slices.Contains(fields, name)
	}
	out := searchProjectsResponse{
		Paging:     toPaging(res.Paging, res.Total),
		Components: make([]projectJSON, 0, len(res.Documents)),
		Facets:     make([]facetJSON, 0, len(res.Facets)),
	}
	for _, d := range res.Documents {
		p := projectJSON{
			Key:        d.Key,
			Name:       d.Name,
			Qualifier:  d.Qualifier,
			Visibility: visibility(d.Private),
			Tags:       nonNil(d.Tags),
		}
		if res.Favorites != nil {
			favorite := res.Favorites[d.UUID]
			p.IsFavorite = &favorite
		}
		if withField(fieldAnalysisDate) {
			p.AnalysisDate = formatDateTime(d.AnalysisDate)
		}
		if withField(fieldLeakPeriodDate) {
			p.LeakPeriodDate = formatDateTime(d.LeakPeriodDate)
		}
		out.Components = append(out.Components, p)
	}
	for _, f := range res.Facets {
		facet := facetJSON{Property: f.Property, Values: make([]facetValueJSON, 0, len(f.Values))}
		for _, v := range f.Values {
			facet.Values = append(facet.Values, facetValueJSON{Val: v.Val, Count: v.Count})
		}
		out.Facets = append(out.Facets, facet)
	}
	writeJSON(w, out)
}

type componentJSON struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Qualifier   string   `json:"qualifier"`
	Path        string   `json:"path,omitempty"`
	Language    string   `json:"language,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
}

// toComponent adds the project-only fields to roots.
func toComponent(c storage.Component) componentJSON {
	out := componentJSON{
		Key:       c.Key,
		Name:      c.Name,
		Qualifier: c.Qualifier,
		Path:      c.Path,
		Language:  c.Language,
	}
	if c.IsRoot() {
		out.Description = c.Description
		out.Tags = nonNil(c.Tags)
		out.Visibility = visibility(c.Private)
	}
	return out
}

type treeResponse struct {
	Paging        pagingJSON      `json:"paging"`
	BaseComponent componentJSON   `json:"baseComponent"`
	Components    []componentJSON `json:"components"`
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	asc, err := boolParam(r, "asc", true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	paging, err := pagingParam(r, component.TreePageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Components.Tree(r.Context(), component.TreeRequest{
		Component:  trimmed(r, "component"),
		Strategy:   trimmed(r, "strategy"),
		Qualifiers: listParam(r, "qualifiers"),
		Query:      trimmed(r, "q"),
		Sort:       listParam(r, "s"),
		Asc:        asc,
		Paging:     paging,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := treeResponse{
		Paging:        toPaging(res.Paging, res.Total),
		BaseComponent: toComponent(res.Base),
		Components:    make([]componentJSON, 0, len(res.Components)),
	}
	for _, c := range res.Components {
		out.Components = append(out.Components, toComponent(c))
	}
	writeJSON(w, out)
}

type suggestionJSON struct {
	Key               string `json:"key"`
	Name              string `json:"name"`
	Match             string `json:"match"`
	IsFavorite        bool   `json:"isFavorite"`
	IsRecentlyBrowsed bool   `json:"isRecentlyBrowsed"`
}

type suggestionCategoryJSON struct {
	Q     string           `json:"q"`
	Items []suggestionJSON `json:"items"`
	More  int              `json:"more"`
}

type suggestionsResponse struct {
	Results []suggestionCategoryJSON `json:"results"`
	Warning string                   `json:"warning,omitempty"`
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Components.Suggest(r.Context(), component.SuggestRequest{
		Query:           r.FormValue("s"),
		RecentlyBrowsed: listParam(r, "recentlyBrowsed"),
		More:            trimmed(r, "more"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := suggestionsResponse{Results: make([]suggestionCategoryJSON, 0, len(res.Categories)), Warning: res.Warning}
	for _, c := range res.Categories {
		category := suggestionCategoryJSON{Q: c.Qualifier, Items: make([]suggestionJSON, 0, len(c.Items)), More: c.More}
		for _, s := range c.Items {
			category.Items = append(category.Items, suggestionJSON(s))
		}
		out.Results = append(out.Results, category)
	}
	writeJSON(w, out)
}

type showResponse struct {
	Component componentJSON   `json:"component"`
	Ancestors []componentJSON `json:"ancestors"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	key, err := required(r, "component")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Components.Show(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := showResponse{Component: toComponent(res.Component), Ancestors: make([]componentJSON, 0, len(res.Ancestors))}
	for _, c := range res.Ancestors {
		out.Ancestors = append(out.Ancestors, toComponent(c))
	}
	writeJSON(w, out)
}
