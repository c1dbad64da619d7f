package component

import (
	"context"
	"fmt"

	"github.com/louisbranch/qualityhub/internal/platform/pagination"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectfilter"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
)

// SearchProjectsRequest is a project search with a filter expression.
type SearchProjectsRequest struct {
	Filter string
	Facets []string
	Sort   string
	Asc    bool
	Paging pagination.Paging
}

// SearchProjectsResult is one page of projects. Favorites is nil for
// anonymous callers.
type SearchProjectsResult struct {
	projectindex.Result
	Favorites map[string]bool
}

// SearchProjects parses filter and searches the project index as the caller.
func (s *Service) SearchProjects(ctx context.Context, req SearchProjectsRequest) (SearchProjectsResult, error) {
	if s == nil || s.index == nil {
		return SearchProjectsResult{}, fmt.Errorf("project index is not configured")
	}
	criteria, err := projectfilter.Parse(req.Filter)
	if err != nil {
		return SearchProjectsResult{}, err
	}
	q, err := projectfilter.Build(criteria)
	if err != nil {
		return SearchProjectsResult{}, err
	}
	if err := projectfilter.Validate(q, projectindex.FilterableMetrics); err != nil {
		return SearchProjectsResult{}, err
	}

	user := requestctx.UserFromContext(ctx)
	var favorites []string
	if s.store != nil {
		favorites, err = s.favoriteUUIDs(ctx, user)
		if err != nil {
			return SearchProjectsResult{}, err
		}
	}
	res, err := s.index.Search(q, projectindex.Options{
		User:      user,
		Favorites: favorites,
		Sort:      req.Sort,
		Asc:       req.Asc,
		Paging:    req.Paging,
		Facets:    req.Facets,
	})
	if err != nil {
		return SearchProjectsResult{}, err
	}
	out := SearchProjectsResult{Result: res}
	if user.LoggedIn() {
		out.Favorites = make(map[string]bool, len(favorites))
		for _, uuid := range favorites {
			out.Favorites[uuid] = true
		}
	}
	return out, nil
}
