package component

import (
	"cmp"
	"context"
	"fmt"
	"html"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
)

// WarningShortInput flags query tokens too short to search on.
const WarningShortInput = "short_input"

const (
	minTokenLength         = 2
	defaultSuggestionLimit = 6
	extendedSuggestionSize = 20
	maxRecentlyBrowsed     = 50
)

// SuggestionQualifiers lists suggestion categories in display order.
var SuggestionQualifiers = []string{
	projectindex.QualifierPortfolio,
	projectindex.QualifierSubPortfolio,
	projectindex.QualifierApplication,
	projectindex.QualifierProject,
}

// SuggestRequest asks for components matching a free-text query.
type SuggestRequest struct {
	Query           string
	RecentlyBrowsed []string
	// More restricts the answer to one qualifier, past the first page.
	More string
}

// Suggestion is one suggested component.
type Suggestion struct {
	Key               string
	Name              string
	Match             string
	IsFavorite        bool
	IsRecentlyBrowsed bool
}

// SuggestCategory groups suggestions of one qualifier.
type SuggestCategory struct {
	Qualifier string
	Items     []Suggestion
	// More is the number of matches not returned.
	More int
}

// SuggestResult holds every category, even empty ones.
type SuggestResult struct {
	Categories []SuggestCategory
	Warning    string
}

type candidate struct {
	doc       projectindex.Document
	favorite  bool
	recent    bool
	nameLower string
}

// Suggest returns root components matching req.Query, favorites first, then
// recently browsed ones, then by name. Without a query it returns the
// caller's favorites and recently browsed components.
func (s *Service) Suggest(ctx context.Context, req SuggestRequest) (SuggestResult, error) {
	if err := s.ready(); err != nil {
		return SuggestResult{}, err
	}
	if s.index == nil {
		return SuggestResult{}, fmt.Errorf("project index is not configured")
	}
	if req.More != "" && !slices.Contains(SuggestionQualifiers, req.More) {
		return SuggestResult{}, apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'more' (%s) must be one of: [%s]", req.More, strings.Join(SuggestionQualifiers, ", "))
	}
	user := requestctx.UserFromContext(ctx)
	favorites, err := s.favoriteUUIDs(ctx, user)
	if err != nil {
		return SuggestResult{}, err
	}
	recent := req.RecentlyBrowsed
	if len(recent) > maxRecentlyBrowsed {
		recent = recent[:maxRecentlyBrowsed]
	}

	tokens, short := tokenize(req.Query)
	result := SuggestResult{}
	if short {
		result.Warning = WarningShortInput
	}
	hasQuery := strings.TrimSpace(req.Query) != ""

	var candidates []candidate
	if !hasQuery || len(tokens) > 0 {
		for _, d := range s.index.All() {
			if !user.CanBrowse(d.Key, d.Private) {
				continue
			}
			c := candidate{
				doc:       d,
				favorite:  slices.Contains(favorites, d.UUID),
				recent:    slices.Contains(recent, d.Key),
				nameLower: strings.ToLower(d.Name),
			}
			if hasQuery {
				if !matchTokens(d, tokens) {
					continue
				}
			} else if !c.favorite && !c.recent {
				continue
			}
			candidates = append(candidates, c)
		}
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		if a.favorite != b.favorite {
			return boolRank(a.favorite)
		}
		if a.recent != b.recent {
			return boolRank(a.recent)
		}
		if c := cmp.Compare(a.nameLower, b.nameLower); c != 0 {
			return c
		}
		return cmp.Compare(a.doc.Key, b.doc.Key)
	})

	offset, limit := 0, defaultSuggestionLimit
	if req.More != "" {
		offset, limit = defaultSuggestionLimit, extendedSuggestionSize
	}
	for _, qualifier := range SuggestionQualifiers {
		if req.More != "" && qualifier != req.More {
			continue
		}
		category := SuggestCategory{Qualifier: qualifier}
		var matched []candidate
		for _, c := range candidates {
			if c.doc.Qualifier == qualifier {
				matched = append(matched, c)
			}
		}
		start := min(offset, len(matched))
		end := min(start+limit, len(matched))
		for _, c := range matched[start:end] {
			category.Items = append(category.Items, Suggestion{
				Key:               c.doc.Key,
				Name:              c.doc.Name,
				Match:             highlight(c.doc.Name, tokens),
				IsFavorite:        c.favorite,
				IsRecentlyBrowsed: c.recent,
			})
		}
		if hasQuery {
			category.More = len(matched) - end
		}
		result.Categories = append(result.Categories, category)
	}
	return result, nil
}

func (s *Service) favoriteUUIDs(ctx context.Context, user requestctx.User) ([]string, error) {
	if !user.LoggedIn() {
		return nil, nil
	}
	uuids, err := s.store.ListFavorites(ctx, user.UUID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return uuids, nil
}

// boolRank sorts true before false.
func boolRank(v bool) int {
	if v {
		return -1
	}
	return 1
}

// tokenize splits a query on whitespace, dropping tokens shorter than two
// characters. short reports whether any token was dropped.
func tokenize(query string) (tokens []string, short bool) {
	for _, field := range strings.Fields(query) {
		if len([]rune(field)) < minTokenLength {
			short = true
			continue
		}
		tokens = append(tokens, strings.ToLower(field))
	}
	return tokens, short
}

// matchTokens requires every token in the name, or the whole query in the
// key.
func matchTokens(d projectindex.Document, tokens []string) bool {
	name := strings.ToLower(d.Name)
	all := true
	for _, t := range tokens {
		if !strings.Contains(name, t) {
			all = false
			break
		}
	}
	if all {
		return true
	}
	return strings.Contains(strings.ToLower(d.Key), strings.Join(tokens, " "))
}

// highlight escapes name and wraps every token occurrence in <mark>.
func highlight(name string, tokens []string) string {
	if len(tokens) == 0 {
		return html.EscapeString(name)
	}
	lower := strings.ToLower(name)
	marked := make([]bool, len(lower))
	for _, t := range tokens {
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], t)
			if i < 0 {
				break
			}
			for j := from + i; j < from+i+len(t); j++ {
				marked[j] = true
			}
			from += i + len(t)
		}
	}
	if len(lower) != len(name) {
		// Case folding changed byte offsets; fall back to the plain name.
		return html.EscapeString(name)
	}
	var b strings.Builder
	open := false
	for i := 0; i < len(name); i++ {
		if marked[i] && !open {
			b.WriteString("<mark>")
			open = true
		}
		if !marked[i] && open {
			b.WriteString("</mark>")
			open = false
		}
		b.WriteString(html.EscapeString(name[i : i+1]))
	}
	if open {
		b.WriteString("</mark>")
	}
	return b.String()
}
