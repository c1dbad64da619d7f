package component

import (
	"context"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/pagination"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Tree strategies.
const (
	StrategyAll      = "all"
	StrategyChildren = "children"
	StrategyLeaves   = "leaves"
)

const minTreeQueryLength = 3

// TreePageSize bounds tree pages.
var TreePageSize = pagination.PageSizeConfig{Default: 100, Max: 500}

var (
	treeStrategies = []string{StrategyAll, StrategyChildren, StrategyLeaves}
	treeQualifiers = []string{"UTS", "FIL", "DIR", "TRK"}
	treeSorts      = []string{"name", "path", "qualifier"}
)

// TreeRequest selects the components below a base component.
type TreeRequest struct {
	Component  string
	Strategy   string
	Qualifiers []string
	Query      string
	Sort       []string
	Asc        bool
	Paging     pagination.Paging
}

// TreeResult is one page of a component tree.
type TreeResult struct {
	Base       storage.Component
	Components []storage.Component
	Total      int
	Paging     pagination.Paging
}

func validateTree(req *TreeRequest) error {
	if strings.TrimSpace(req.Component) == "" {
		return apperrors.New(apperrors.CodeMissingParameter, "The 'component' parameter is missing")
	}
	if req.Strategy == "" {
		req.Strategy = StrategyAll
	}
	if !slices.Contains(treeStrategies, req.Strategy) {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'strategy' (%s) must be one of: [%s]", req.Strategy, strings.Join(treeStrategies, ", "))
	}
	for _, q := range req.Qualifiers {
		if !slices.Contains(treeQualifiers, q) {
			return apperrors.Newf(apperrors.CodeInvalidArgument,
				"Value of parameter 'qualifiers' (%s) must be one of: [%s]", q, strings.Join(treeQualifiers, ", "))
		}
	}
	if req.Query != "" && len([]rune(req.Query)) < minTreeQueryLength {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"'q' length (%d) is shorter than the minimum authorized (%d)", len([]rune(req.Query)), minTreeQueryLength)
	}
	if len(req.Sort) == 0 {
		req.Sort = []string{"name"}
	}
	for _, s := range req.Sort {
		if !slices.Contains(treeSorts, s) {
			return apperrors.Newf(apperrors.CodeInvalidArgument,
				"Value of parameter 's' (%s) must be one of: [%s]", s, strings.Join(treeSorts, ", "))
		}
	}
	if req.Paging.PageSize > TreePageSize.Max {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"'ps' value (%d) must be less than %d", req.Paging.PageSize, TreePageSize.Max)
	}
	if req.Paging.PageSize <= 0 {
		req.Paging.PageSize = TreePageSize.Default
	}
	if req.Paging.Page <= 0 {
		req.Paging.Page = 1
	}
	return nil
}

// Tree lists components below req.Component. Sorting applies to every
// requested field, then path, then key.
func (s *Service) Tree(ctx context.Context, req TreeRequest) (TreeResult, error) {
	if err := s.ready(); err != nil {
		return TreeResult{}, err
	}
	if err := validateTree(&req); err != nil {
		return TreeResult{}, err
	}
	base, err := s.loadComponent(ctx, req.Component)
	if err != nil {
		return TreeResult{}, err
	}
	if err := s.checkBrowse(ctx, requestctx.UserFromContext(ctx), base); err != nil {
		return TreeResult{}, err
	}

	sortFields := append([]string{}, req.Sort...)
	if !slices.Contains(sortFields, "path") {
		sortFields = append(sortFields, "path")
	}
	components, total, err := s.store.ListDescendants(ctx, base, storage.DescendantQuery{
		Strategy:   req.Strategy,
		Qualifiers: req.Qualifiers,
		Text:       req.Query,
		Sort:       sortFields,
		Asc:        req.Asc,
		Offset:     req.Paging.Offset(),
		Limit:      req.Paging.PageSize,
	})
	if err != nil {
		return TreeResult{}, err
	}
	return TreeResult{Base: base, Components: components, Total: total, Paging: req.Paging}, nil
}
