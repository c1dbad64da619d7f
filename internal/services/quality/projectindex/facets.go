package projectindex

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/louisbranch/qualityhub/internal/services/quality/projectfilter"
)

const termFacetSize = 10

type facetBuilder func(docs []Document, q projectfilter.Query) []FacetValue

var facetBuilders = map[string]facetBuilder{}

func init() {
	sizeRanges := []float64{1000, 10000, 100000, 500000}
	coverageRanges := []float64{30, 50, 70, 80}
	duplicationRanges := []float64{3, 5, 10, 20}

	for _, key := range []string{"ncloc", "new_lines"} {
		facetBuilders[key] = rangeFacet(key, sizeRanges, false)
	}
	for _, key := range []string{"coverage", "new_coverage"} {
		facetBuilders[key] = rangeFacet(key, coverageRanges, true)
	}
	for _, key := range []string{"duplicated_lines_density", "new_duplicated_lines_density"} {
		facetBuilders[key] = rangeFacet(key, duplicationRanges, true)
	}
	for _, key := range []string{
		"sqale_rating", "new_maintainability_rating",
		"reliability_rating", "new_reliability_rating",
		"security_rating", "new_security_rating",
		"security_review_rating", "new_security_review_rating",
	} {
		facetBuilders[key] = ratingFacet(key)
	}
	facetBuilders["alert_status"] = qualityGateFacet
	facetBuilders["languages"] = languagesFacet
	facetBuilders["tags"] = tagsFacet
	facetBuilders["qualifier"] = qualifierFacet
}

// FacetNames returns the supported facets, sorted.
func FacetNames() []string {
	names := make([]string, 0, len(facetBuilders))
	for name := range facetBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rangeFacet buckets a metric into [from,to) ranges bounded by bounds, with
// open ends. noData prepends a NO_DATA bucket for projects lacking the metric.
func rangeFacet(key string, bounds []float64, noData bool) facetBuilder {
	return func(docs []Document, _ projectfilter.Query) []FacetValue {
		var values []FacetValue
		if noData {
			count := 0
			for _, d := range docs {
				if _, ok := d.Measure(key); !ok {
					count++
				}
			}
			values = append(values, FacetValue{Val: projectfilter.NoData, Count: count})
		}
		edges := append([]float64{math.Inf(-1)}, bounds...)
		edges = append(edges, math.Inf(1))
		for n := 0; n+1 < len(edges); n++ {
			from, to := edges[n], edges[n+1]
			count := 0
			for _, d := range docs {
				v, ok := d.Measure(key)
				if ok && v >= from && v < to {
					count++
				}
			}
			values = append(values, FacetValue{Val: rangeLabel(from, to), Count: count})
		}
		return values
	}
}

func rangeLabel(from, to float64) string {
	lower, upper := "*", "*"
	if !math.IsInf(from, 0) {
		lower = formatBound(from)
	}
	if !math.IsInf(to, 0) {
		upper = formatBound(to)
	}
	return lower + "-" + upper
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func ratingFacet(key string) facetBuilder {
	return func(docs []Document, _ projectfilter.Query) []FacetValue {
		values := make([]FacetValue, 5)
		for n := range values {
			values[n].Val = strconv.Itoa(n + 1)
		}
		for _, d := range docs {
			v, ok := d.Measure(key)
			if !ok {
				continue
			}
			if n := int(v); float64(n) == v && n >= 1 && n <= 5 {
				values[n-1].Count++
			}
		}
		return values
	}
}

func qualityGateFacet(docs []Document, _ projectfilter.Query) []FacetValue {
	counts := map[string]int{}
	for _, d := range docs {
		counts[d.QualityGate]++
	}
	values := []FacetValue{
		{Val: projectfilter.QualityGateOK, Count: counts[projectfilter.QualityGateOK]},
		{Val: projectfilter.QualityGateError, Count: counts[projectfilter.QualityGateError]},
	}
	if counts[projectfilter.QualityGateWarn] > 0 {
		values = append(values, FacetValue{Val: projectfilter.QualityGateWarn, Count: counts[projectfilter.QualityGateWarn]})
	}
	return values
}

func languagesFacet(docs []Document, q projectfilter.Query) []FacetValue {
	return termFacet(docs, func(d Document) []string { return d.Languages }, q.Languages)
}

func tagsFacet(docs []Document, q projectfilter.Query) []FacetValue {
	return termFacet(docs, func(d Document) []string { return d.Tags }, q.Tags)
}

// termFacet counts terms, keeps the most frequent ones, then appends the
// selected terms that did not make the cut.
func termFacet(docs []Document, terms func(Document) []string, selected []string) []FacetValue {
	counts := map[string]int{}
	for _, d := range docs {
		for _, term := range terms(d) {
			counts[term]++
		}
	}
	values := make([]FacetValue, 0, len(counts))
	for term, count := range counts {
		values = append(values, FacetValue{Val: term, Count: count})
	}
	slices.SortFunc(values, func(a, b FacetValue) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Val, b.Val)
	})
	if len(values) > termFacetSize {
		values = values[:termFacetSize]
	}
	for _, term := range selected {
		if term == NullLanguage {
			continue
		}
		if !slices.ContainsFunc(values, func(v FacetValue) bool { return v.Val == term }) {
			values = append(values, FacetValue{Val: term, Count: counts[term]})
		}
	}
	return values
}

func qualifierFacet(docs []Document, _ projectfilter.Query) []FacetValue {
	values := []FacetValue{{Val: QualifierApplication}, {Val: QualifierProject}}
	for _, d := range docs {
		switch d.Qualifier {
		case QualifierApplication:
			values[0].Count++
		case QualifierProject:
			values[1].Count++
		}
	}
	return values
}
