package projectindex

import (
	"cmp"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/pagination"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectfilter"
)

// Sort fields other than metric keys.
const (
	SortName         = "name"
	SortQualityGate  = "alert_status"
	SortAnalysisDate = "analysisDate"
	SortCreationDate = "creationDate"
)

// NullLanguage matches projects without any language.
const NullLanguage = "<null>"

// PageSize bounds search pages.
var PageSize = pagination.PageSizeConfig{Default: 100, Max: 500}

// FilterableMetrics lists the metric keys usable in filters and sorts.
var FilterableMetrics = []string{
	"alert_status",
	"bugs",
	"code_smells",
	"coverage",
	"duplicated_lines_density",
	"lines",
	"ncloc",
	"new_coverage",
	"new_duplicated_lines_density",
	"new_lines",
	"new_maintainability_rating",
	"new_reliability_rating",
	"new_security_hotspots_reviewed",
	"new_security_rating",
	"new_security_review_rating",
	"reliability_rating",
	"security_hotspots_reviewed",
	"security_rating",
	"security_review_rating",
	"sqale_index",
	"sqale_rating",
	"vulnerabilities",
}

// Options controls a search beyond its filter.
type Options struct {
	User requestctx.User
	// Favorites holds the uuids of the caller's favorite components.
	Favorites []string
	Sort      string
	Asc       bool
	Paging    pagination.Paging
	Facets    []string
}

// FacetValue is one facet bucket.
type FacetValue struct {
	Val   string
	Count int
}

// Facet counts the matching projects per bucket of a property.
type Facet struct {
	Property string
	Values   []FacetValue
}

// Result is one page of matching documents.
type Result struct {
	Documents []Document
	Total     int
	Paging    pagination.Paging
	Facets    []Facet
}

// Search filters, sorts and pages the indexed projects the user can browse.
// Facets are sticky: a facet ignores the criteria on its own property.
func (i *Index) Search(q projectfilter.Query, opts Options) (Result, error) {
	if err := validateSort(opts.Sort); err != nil {
		return Result{}, err
	}
	for _, f := range opts.Facets {
		if _, ok := facetBuilders[f]; !ok {
			return Result{}, apperrors.Newf(apperrors.CodeInvalidArgument,
				"Value of parameter 'facets' (%s) must be one of: [%s]", f, strings.Join(FacetNames(), ", "))
		}
	}
	paging := opts.Paging
	if paging.PageSize <= 0 {
		paging.PageSize = PageSize.Default
	}
	if paging.Page <= 0 {
		paging.Page = 1
	}

	m := matcher{query: q, user: opts.User, favorites: opts.Favorites}
	var visible, matched []Document
	for _, d := range i.All() {
		if !m.visible(d) {
			continue
		}
		visible = append(visible, d)
		if m.match(d, "") {
			matched = append(matched, d)
		}
	}
	sortDocuments(matched, opts.Sort, opts.Asc)

	start, end := paging.Window(len(matched))
	result := Result{
		Documents: matched[start:end],
		Total:     len(matched),
		Paging:    paging,
	}
	for _, name := range opts.Facets {
		var docs []Document
		for _, d := range visible {
			if m.match(d, name) {
				docs = append(docs, d)
			}
		}
		result.Facets = append(result.Facets, Facet{Property: name, Values: facetBuilders[name](docs, q)})
	}
	return result, nil
}

type matcher struct {
	query     projectfilter.Query
	user      requestctx.User
	favorites []string
}

// visible keeps projects and applications the user may browse.
func (m matcher) visible(d Document) bool {
	if d.Qualifier != QualifierProject && d.Qualifier != QualifierApplication {
		return false
	}
	return m.user.CanBrowse(d.Key, d.Private)
}

// match applies every criterion except those on skip.
func (m matcher) match(d Document, skip string) bool {
	q := m.query
	if skip != "qualifier" && len(q.Qualifiers) > 0 && !slices.Contains(q.Qualifiers, d.Qualifier) {
		return false
	}
	for _, c := range q.Metrics {
		if c.MetricKey == skip {
			continue
		}
		value, present := d.Measure(c.MetricKey)
		if !c.Match(value, present) {
			return false
		}
	}
	if skip != qualityGateKey && q.QualityGateStatus != "" && d.QualityGate != q.QualityGateStatus {
		return false
	}
	if skip != "languages" && len(q.Languages) > 0 && !matchLanguages(d.Languages, q.Languages) {
		return false
	}
	if skip != "tags" && len(q.Tags) > 0 && !containsAny(d.Tags, q.Tags) {
		return false
	}
	if q.Text != "" && !matchText(d, q.Text) {
		return false
	}
	if q.OnlyFavorites && !slices.Contains(m.favorites, d.UUID) {
		return false
	}
	return true
}

func matchLanguages(languages []string, wanted []string) bool {
	if len(languages) == 0 {
		return slices.Contains(wanted, NullLanguage)
	}
	return containsAny(languages, wanted)
}

func containsAny(values []string, wanted []string) bool {
	for _, v := range values {
		if slices.Contains(wanted, v) {
			return true
		}
	}
	return false
}

func matchText(d Document, text string) bool {
	text = strings.ToLower(text)
	return strings.Contains(strings.ToLower(d.Name), text) || strings.Contains(strings.ToLower(d.Key), text)
}

func validateSort(field string) error {
	switch field {
	case "", SortName, SortQualityGate, SortAnalysisDate, SortCreationDate:
		return nil
	}
	if slices.Contains(FilterableMetrics, field) {
		return nil
	}
	return apperrors.Newf(apperrors.CodeInvalidArgument,
		"Value of parameter 's' (%s) must be one of: [%s, %s, %s, <metric key>]", field, SortName, SortAnalysisDate, SortCreationDate)
}

var qualityGateRank = map[string]int{
	projectfilter.QualityGateOK:    1,
	projectfilter.QualityGateWarn:  2,
	projectfilter.QualityGateError: 3,
}

// sortDocuments orders docs by field. Missing values sort last whatever the
// direction; ties break by name then key ascending.
func sortDocuments(docs []Document, field string, asc bool) {
	direction := func(c int) int {
		if asc {
			return c
		}
		return -c
	}
	tiebreak := func(a, b Document) int {
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	}
	missingLast := func(aOK, bOK bool) (int, bool) {
		switch {
		case aOK && !bOK:
			return -1, true
		case !aOK && bOK:
			return 1, true
		case !aOK && !bOK:
			return 0, false
		}
		return 0, false
	}

	slices.SortStableFunc(docs, func(a, b Document) int {
		switch field {
		case "", SortName:
			if c := direction(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))); c != 0 {
				return c
			}
			return cmp.Compare(a.Key, b.Key)
		case SortQualityGate:
			ar, aOK := qualityGateRank[a.QualityGate]
			br, bOK := qualityGateRank[b.QualityGate]
			if c, done := missingLast(aOK, bOK); done {
				return c
			}
			if c := direction(cmp.Compare(ar, br)); c != 0 {
				return c
			}
		case SortAnalysisDate:
			if c, done := missingLast(!a.AnalysisDate.IsZero(), !b.AnalysisDate.IsZero()); done {
				return c
			}
			if c := direction(a.AnalysisDate.Compare(b.AnalysisDate)); c != 0 {
				return c
			}
		case SortCreationDate:
			if c := direction(a.CreatedAt.Compare(b.CreatedAt)); c != 0 {
				return c
			}
		default:
			av, aOK := a.Measure(field)
			bv, bOK := b.Measure(field)
			if c, done := missingLast(aOK, bOK); done {
				return c
			}
			if c := direction(cmp.Compare(av, bv)); c != 0 {
				return c
			}
		}
		return tiebreak(a, b)
	})
}
